// Package http provides HTTP middleware for x402 payment gating.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mark3labs/x402-paygate"
	"github.com/mark3labs/x402-paygate/gate"
	"github.com/mark3labs/x402-paygate/http/internal/helpers"
	"github.com/mark3labs/x402-paygate/metrics"
	"github.com/mark3labs/x402-paygate/reconcile"
)

// Config holds the configuration for the x402 middleware.
type Config struct {
	// FacilitatorURL is the primary facilitator endpoint
	FacilitatorURL string

	// FallbackFacilitatorURL is the optional backup facilitator
	FallbackFacilitatorURL string

	// Routes maps "METHOD /path" keys to the payment options they accept
	Routes map[string]x402.RouteConfig

	// VerifyOnly skips settlement if true (only verifies payments)
	VerifyOnly bool

	// Timeouts bound resolution and facilitator calls. Zero means x402.DefaultTimeouts.
	Timeouts x402.TimeoutConfig

	// Recorder receives settlement failures of responses already served.
	Recorder reconcile.Recorder

	// Metrics receives gate counters and latencies
	Metrics metrics.Recorder

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// FacilitatorAuthorization is a static Authorization header value for the primary facilitator.
	// Example: "Bearer your-api-key" or "Basic base64-encoded-credentials"
	FacilitatorAuthorization string

	// FacilitatorAuthorizationProvider is a function that returns an Authorization header value
	// for the primary facilitator. Useful for dynamic tokens that may need to be refreshed.
	// If set, this takes precedence over FacilitatorAuthorization.
	FacilitatorAuthorizationProvider AuthorizationProvider

	// Facilitator hooks for custom logic before/after verify and settle operations
	FacilitatorOnBeforeVerify OnBeforeFunc
	FacilitatorOnAfterVerify  OnAfterVerifyFunc
	FacilitatorOnBeforeSettle OnBeforeFunc
	FacilitatorOnAfterSettle  OnAfterSettleFunc

	// FallbackFacilitatorAuthorization is a static Authorization header value for the fallback facilitator.
	FallbackFacilitatorAuthorization string

	// FallbackFacilitatorAuthorizationProvider is a function that returns an Authorization header value
	// for the fallback facilitator. If set, this takes precedence over FallbackFacilitatorAuthorization.
	FallbackFacilitatorAuthorizationProvider AuthorizationProvider
}

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// PaymentContextKey is the context key for storing the verified *gate.Authorization.
const PaymentContextKey = contextKey("x402_payment")

// AuthorizationFromContext returns the payment verified for the current request.
func AuthorizationFromContext(ctx context.Context) (*gate.Authorization, bool) {
	auth, ok := ctx.Value(PaymentContextKey).(*gate.Authorization)
	return auth, ok
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Config) timeouts() x402.TimeoutConfig {
	if c.Timeouts == (x402.TimeoutConfig{}) {
		return x402.DefaultTimeouts
	}
	return c.Timeouts
}

// NewGate builds the facilitator clients, the route registry and the gate
// described by config.
//
// Requirements are enriched from the facilitator's /supported endpoint (for
// example with an SVM feePayer). A failed enrichment is logged and the
// configured requirements are used as they are.
func NewGate(config *Config) (*gate.Gate, error) {
	if config.FacilitatorURL == "" {
		return nil, errors.New("x402: facilitator URL is required")
	}
	logger := config.logger()

	primary := NewFacilitatorClient(config.FacilitatorURL)
	primary.Timeouts = config.timeouts()
	primary.Authorization = config.FacilitatorAuthorization
	primary.AuthorizationProvider = config.FacilitatorAuthorizationProvider
	primary.OnBeforeVerify = config.FacilitatorOnBeforeVerify
	primary.OnAfterVerify = config.FacilitatorOnAfterVerify
	primary.OnBeforeSettle = config.FacilitatorOnBeforeSettle
	primary.OnAfterSettle = config.FacilitatorOnAfterSettle
	primary.Logger = logger

	cfg := gate.Config{
		Facilitator: primary,
		Timeouts:    config.timeouts(),
		VerifyOnly:  config.VerifyOnly,
		Recorder:    config.Recorder,
		Metrics:     config.Metrics,
		Logger:      logger,
	}

	if config.FallbackFacilitatorURL != "" {
		fallback := NewFacilitatorClient(config.FallbackFacilitatorURL)
		fallback.Timeouts = config.timeouts()
		fallback.Authorization = config.FallbackFacilitatorAuthorization
		fallback.AuthorizationProvider = config.FallbackFacilitatorAuthorizationProvider
		fallback.Logger = logger
		cfg.Fallback = fallback
	}

	registry, err := x402.NewRegistry(config.Routes)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.timeouts().RequestTimeout)
	defer cancel()
	enriched, err := primary.EnrichRequirements(ctx, registry.Requirements())
	if err != nil {
		logger.Warn("failed to enrich payment requirements from facilitator", "error", err)
	} else if next, err := registry.WithRequirements(enriched); err != nil {
		logger.Warn("failed to apply enriched payment requirements", "error", err)
	} else {
		registry = next
		logger.Info("payment requirements enriched from facilitator", "count", len(enriched))
	}
	cfg.Registry = registry

	g, err := gate.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("x402: %w", err)
	}
	return g, nil
}

// NewX402Middleware creates a new x402 payment middleware.
// It returns a middleware function that wraps HTTP handlers with payment gating.
// Requests to routes that are not configured pass through untouched.
func NewX402Middleware(config *Config) (func(http.Handler) http.Handler, error) {
	g, err := NewGate(config)
	if err != nil {
		return nil, err
	}
	return Middleware(g, config.logger()), nil
}

// Middleware gates handlers with an existing gate.
//
// A verified payment is settled when the handler commits a non-error
// response, before the headers are sent, so the PAYMENT-RESPONSE header can
// be attached. A failed settlement does not alter the response.
func Middleware(g *gate.Gate, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := helpers.Decide(r.Context(), g, r, logger)
			if !d.Allowed() {
				helpers.WriteDecision(w, d)
				return
			}
			if d.Pass {
				next.ServeHTTP(w, r)
				return
			}

			r = r.WithContext(context.WithValue(r.Context(), PaymentContextKey, d.Authorization))
			cw := helpers.NewCommitWriter(w, helpers.Settler(r.Context(), g, d.Authorization, w.Header, logger))
			next.ServeHTTP(cw, r)
			cw.Finish()
		})
	}
}
