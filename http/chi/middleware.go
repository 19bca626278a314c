// Package chi provides Chi-compatible middleware for x402 payment gating.
// This package is a thin adapter that uses stdlib http.Handler interface
// and delegates all payment verification and settlement logic to the gate.
package chi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mark3labs/x402-paygate/gate"
	httpx402 "github.com/mark3labs/x402-paygate/http"
)

// NewChiX402Middleware creates a new x402 payment middleware for Chi.
//
// The middleware:
//   - Bypasses OPTIONS requests for CORS preflight support
//   - Answers requests without PAYMENT-SIGNATURE (or X-PAYMENT) with a 402 challenge
//   - Denies invalid payments with a machine-readable reason
//   - Verifies payments with the facilitator
//   - Settles payments once the handler commits a successful response (unless VerifyOnly=true)
//   - Stores the *gate.Authorization in request context via httpx402.PaymentContextKey
//
// Example usage:
//
//	config := &httpx402.Config{
//	    FacilitatorURL: "https://x402.org/facilitator",
//	    Routes: map[string]x402.RouteConfig{
//	        "GET /paid": {Accepts: []x402.PaymentOption{{
//	            Scheme: "exact", Price: "$0.01", Network: "eip155:84532", PayTo: resolver,
//	        }}},
//	    },
//	}
//	mw, err := NewChiX402Middleware(config)
//	r := chi.NewRouter()
//	r.Use(mw)
func NewChiX402Middleware(config *httpx402.Config) (func(http.Handler) http.Handler, error) {
	return httpx402.NewX402Middleware(config)
}

// Middleware gates a chi router with an existing gate.
func Middleware(g *gate.Gate, logger *slog.Logger) func(http.Handler) http.Handler {
	return httpx402.Middleware(g, logger)
}

// Mount registers handler for method and pattern on r behind the gate.
func Mount(r chi.Router, g *gate.Gate, method, pattern string, handler http.HandlerFunc, logger *slog.Logger) {
	r.With(Middleware(g, logger)).Method(method, pattern, handler)
}
