// Package stripe creates crypto deposit intents through the Stripe
// PaymentIntents API and reads back the deposit address Stripe assigns.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	stripeapi "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentintent"

	"github.com/mark3labs/x402-paygate"
	"github.com/mark3labs/x402-paygate/deposit"
)

// DefaultBaseURL is the Stripe API endpoint.
const DefaultBaseURL = stripeapi.APIURL

// ErrUnavailable marks transport failures and 5xx or 429 answers from Stripe
// that remained after the SDK's retries.
var ErrUnavailable = errors.New("stripe: service unavailable")

// defaultNetworkKeys maps CAIP-2 networks to the keys Stripe uses under deposit_addresses.
var defaultNetworkKeys = map[string]string{
	x402.BaseMainnet.NetworkID:    "base",
	x402.BaseSepolia.NetworkID:    "base",
	x402.PolygonMainnet.NetworkID: "polygon",
	x402.PolygonAmoy.NetworkID:    "polygon",
	x402.SolanaMainnet.NetworkID:  "solana",
	x402.SolanaDevnet.NetworkID:   "solana",
}

// Config configures the Stripe processor.
type Config struct {
	// SecretKey is the Stripe secret API key. Required.
	SecretKey string

	// BaseURL defaults to DefaultBaseURL.
	BaseURL string

	// Client defaults to a client with a 30 second timeout.
	Client *http.Client

	// MaxRetries is the number of network retries the SDK makes. Each retry
	// reuses the idempotency key of the first attempt, so Stripe creates at
	// most one intent.
	MaxRetries int64

	// NetworkKeys overrides the CAIP-2 to deposit_addresses key mapping.
	NetworkKeys map[string]string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Processor implements deposit.Processor with Stripe crypto PaymentIntents.
type Processor struct {
	client paymentintent.Client
	keys   map[string]string
	newKey func() string
}

var _ deposit.Processor = (*Processor)(nil)

// New creates a Stripe processor.
func New(cfg Config) (*Processor, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("stripe: secret key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	backend := stripeapi.GetBackendWithConfig(stripeapi.APIBackend, &stripeapi.BackendConfig{
		URL:               stripeapi.String(cfg.BaseURL),
		HTTPClient:        cfg.Client,
		MaxNetworkRetries: stripeapi.Int64(cfg.MaxRetries),
		LeveledLogger:     leveledLogger{cfg.Logger},
		EnableTelemetry:   stripeapi.Bool(false),
	})

	keys := make(map[string]string, len(defaultNetworkKeys)+len(cfg.NetworkKeys))
	for k, v := range defaultNetworkKeys {
		keys[k] = v
	}
	for k, v := range cfg.NetworkKeys {
		keys[x402.CanonicalNetwork(k)] = v
	}

	return &Processor{
		client: paymentintent.Client{B: backend, Key: cfg.SecretKey},
		keys:   keys,
		newKey: uuid.NewString,
	}, nil
}

// cryptoNextAction is the part of a crypto PaymentIntent the typed SDK
// struct does not model.
type cryptoNextAction struct {
	NextAction *struct {
		CryptoCollectDepositDetails *struct {
			DepositAddresses map[string]struct {
				Address string `json:"address"`
			} `json:"deposit_addresses"`
		} `json:"crypto_collect_deposit_details"`
	} `json:"next_action"`
}

// CreateDepositIntent creates and confirms a crypto PaymentIntent and returns
// the deposit address for the requested network.
func (p *Processor) CreateDepositIntent(ctx context.Context, req deposit.IntentRequest) (*deposit.Intent, error) {
	key, ok := p.keys[x402.CanonicalNetwork(req.Network)]
	if !ok {
		return nil, fmt.Errorf("stripe: no deposit address mapping for network %s", req.Network)
	}
	if req.AmountMinor <= 0 {
		return nil, fmt.Errorf("stripe: amount must be positive, got %d", req.AmountMinor)
	}
	currency := req.Currency
	if currency == "" {
		currency = "usd"
	}

	params := &stripeapi.PaymentIntentParams{
		Amount:             stripeapi.Int64(req.AmountMinor),
		Currency:           stripeapi.String(currency),
		PaymentMethodTypes: stripeapi.StringSlice([]string{"crypto"}),
		PaymentMethodData: &stripeapi.PaymentIntentPaymentMethodDataParams{
			Type: stripeapi.String("crypto"),
		},
		Confirm: stripeapi.Bool(true),
	}
	// crypto deposits are a beta surface the typed params do not cover
	params.AddExtra("payment_method_options[crypto][mode]", "custom")
	params.SetIdempotencyKey(p.newKey())
	params.Context = ctx

	pi, err := p.client.New(params)
	if err != nil {
		return nil, classify(err)
	}
	if pi.LastResponse == nil {
		return nil, fmt.Errorf("stripe: payment intent %s has no response body", pi.ID)
	}

	var details cryptoNextAction
	if err := json.Unmarshal(pi.LastResponse.RawJSON, &details); err != nil {
		return nil, fmt.Errorf("stripe: failed to decode payment intent %s: %w", pi.ID, err)
	}
	if details.NextAction == nil || details.NextAction.CryptoCollectDepositDetails == nil {
		return nil, fmt.Errorf("stripe: payment intent %s did not return crypto deposit details", pi.ID)
	}
	addr := details.NextAction.CryptoCollectDepositDetails.DepositAddresses[key].Address
	if addr == "" {
		return nil, fmt.Errorf("stripe: payment intent %s has no %s deposit address", pi.ID, key)
	}

	return &deposit.Intent{ID: pi.ID, Address: addr, Network: x402.CanonicalNetwork(req.Network)}, nil
}

// classify maps SDK errors onto ErrUnavailable or a descriptive API error.
func classify(err error) error {
	var se *stripeapi.Error
	if !errors.As(err, &se) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if se.HTTPStatusCode >= http.StatusInternalServerError || se.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, se.HTTPStatusCode, se.Msg)
	}
	return fmt.Errorf("stripe: status %d: %s (%s)", se.HTTPStatusCode, se.Msg, se.Type)
}

// leveledLogger routes SDK log lines to slog.
type leveledLogger struct {
	l *slog.Logger
}

func (l leveledLogger) Debugf(format string, v ...interface{}) { l.l.Debug(fmt.Sprintf(format, v...)) }
func (l leveledLogger) Infof(format string, v ...interface{})  { l.l.Info(fmt.Sprintf(format, v...)) }
func (l leveledLogger) Warnf(format string, v ...interface{})  { l.l.Warn(fmt.Sprintf(format, v...)) }
func (l leveledLogger) Errorf(format string, v ...interface{}) { l.l.Error(fmt.Sprintf(format, v...)) }
