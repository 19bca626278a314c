// Package deposit resolves payTo addresses backed by a payment processor that
// issues a fresh deposit address per challenge.
package deposit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mark3labs/x402-paygate"
	"github.com/mark3labs/x402-paygate/encoding"
	"github.com/mark3labs/x402-paygate/validation"
)

// IntentRequest describes the deposit a processor must prepare.
type IntentRequest struct {
	// AmountMinor is the amount in fiat minor units (cents).
	AmountMinor int64

	// Currency is the ISO currency code (e.g., "usd").
	Currency string

	// Network is the CAIP-2 network the deposit must arrive on.
	Network string

	// Asset is the token the payer transfers.
	Asset string
}

// Intent is a processor-side deposit intent.
type Intent struct {
	ID      string
	Address string
	Network string
}

// Processor creates deposit intents.
type Processor interface {
	CreateDepositIntent(ctx context.Context, req IntentRequest) (*Intent, error)
}

// Resolver resolves payTo addresses through a Processor.
//
// Without a proof header each call creates exactly one intent; calls are never
// coalesced or cached. With a proof header the address is read from the proof
// and the processor is not contacted.
type Resolver struct {
	processor Processor
	currency  string
	timeout   time.Duration
	logger    *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCurrency sets the fiat currency intents are created in (default "usd").
func WithCurrency(currency string) Option {
	return func(r *Resolver) { r.currency = currency }
}

// WithTimeout bounds each processor call (default x402.DefaultTimeouts.ResolveTimeout).
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// NewResolver creates a processor-backed resolver.
func NewResolver(p Processor, opts ...Option) *Resolver {
	r := &Resolver{
		processor: p,
		currency:  "usd",
		timeout:   x402.DefaultTimeouts.ResolveTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ x402.PayToResolver = (*Resolver)(nil)

// ResolvePayTo implements x402.PayToResolver.
func (r *Resolver) ResolvePayTo(ctx context.Context, req x402.ResolveRequest) (x402.DepositAddress, error) {
	if req.HasProof() {
		return AddressFromProof(req.ProofHeader, req.Requirement.Network)
	}
	return r.fresh(ctx, req)
}

func (r *Resolver) fresh(ctx context.Context, req x402.ResolveRequest) (x402.DepositAddress, error) {
	atomic, err := x402.ParseAtomicAmount(req.Requirement.Amount)
	if err != nil {
		return x402.DepositAddress{}, x402.ResolutionError(x402.ErrCodeProcessorResponseInvalid, "requirement amount is invalid", err)
	}
	minor, err := x402.ToMinorUnits(atomic, req.Decimals)
	if err != nil {
		return x402.DepositAddress{}, x402.ResolutionError(x402.ErrCodeProcessorResponseInvalid, "requirement amount cannot be charged in minor units", err)
	}

	ctx, cancel := x402.WithDeadline(ctx, r.timeout)
	defer cancel()

	intent, err := r.processor.CreateDepositIntent(ctx, IntentRequest{
		AmountMinor: minor,
		Currency:    r.currency,
		Network:     req.Requirement.Network,
		Asset:       req.Requirement.Asset,
	})
	if err != nil {
		r.logger.Error("failed to create deposit intent", "network", req.Requirement.Network, "error", err)
		return x402.DepositAddress{}, x402.ResolutionError(x402.ErrCodeProcessorResponseInvalid, "payment processor did not return deposit details", err)
	}
	if intent == nil {
		return x402.DepositAddress{}, x402.ResolutionError(x402.ErrCodeProcessorResponseInvalid, "payment processor did not return deposit details", nil)
	}
	if err := validation.ValidateAddress(intent.Address, req.Requirement.Network); err != nil {
		return x402.DepositAddress{}, x402.ResolutionError(x402.ErrCodeProcessorResponseInvalid, "payment processor returned an invalid deposit address", err).
			WithDetails("intent", intent.ID)
	}

	r.logger.Info("created deposit intent",
		"intent", intent.ID,
		"amount", x402.FormatPrice(atomic, req.Decimals),
		"minor", minor,
		"currency", r.currency,
		"payTo", intent.Address,
		"network", req.Requirement.Network)

	return x402.DepositAddress{Address: intent.Address, Network: req.Requirement.Network, IntentID: intent.ID}, nil
}

// AddressFromProof extracts payload.authorization.to from a raw payment header.
//
// Only that field is read, so a proof that would fail full decoding can still
// be answered with the address it was made out to. The address is returned
// exactly as it appears in the proof.
func AddressFromProof(header, network string) (x402.DepositAddress, error) {
	data, err := encoding.DecodeBase64(header)
	if err != nil {
		return x402.DepositAddress{}, x402.ResolutionError(x402.ErrCodeMalformedProof, "payment header is not valid base64", err)
	}

	var doc struct {
		Payload struct {
			Authorization map[string]interface{} `json:"authorization"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return x402.DepositAddress{}, x402.ResolutionError(x402.ErrCodeMalformedProof, "payment header is not a JSON object", err)
	}

	to, ok := doc.Payload.Authorization["to"].(string)
	if !ok || to == "" {
		return x402.DepositAddress{}, x402.ResolutionError(x402.ErrCodeMalformedProof, "payment proof carries no payload.authorization.to", nil)
	}
	if err := validation.ValidateAddress(to, network); err != nil {
		return x402.DepositAddress{}, x402.ResolutionError(x402.ErrCodeMalformedProof, "payment proof recipient is not a valid address", err).
			WithDetails("to", to)
	}

	return x402.DepositAddress{Address: to, Network: network}, nil
}
