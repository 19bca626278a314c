// Package helpers provides shared helper functions for x402 HTTP middleware implementations.
// These helpers are used by stdlib, Gin, Echo, PocketBase, and Chi middleware to ensure consistent behavior.
package helpers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mark3labs/x402-paygate"
	"github.com/mark3labs/x402-paygate/encoding"
	"github.com/mark3labs/x402-paygate/gate"
)

// Header names.
const (
	HeaderPaymentSignature  = "PAYMENT-SIGNATURE"
	HeaderPaymentRequired   = "PAYMENT-REQUIRED"
	HeaderPaymentResponse   = "PAYMENT-RESPONSE"
	HeaderLegacyPayment     = "X-PAYMENT"
	HeaderLegacyPaymentResp = "X-PAYMENT-RESPONSE"
)

// ProofHeader returns the payment header of a request, preferring
// PAYMENT-SIGNATURE over the legacy X-PAYMENT.
func ProofHeader(h http.Header) string {
	if v := h.Get(HeaderPaymentSignature); v != "" {
		return v
	}
	return h.Get(HeaderLegacyPayment)
}

// ResourceURL builds the absolute URL of the requested resource.
func ResourceURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// GateRequest extracts the gating input from r.
func GateRequest(r *http.Request) gate.Request {
	return gate.Request{
		Method:      r.Method,
		Path:        r.URL.Path,
		ResourceURL: ResourceURL(r),
		ProofHeader: ProofHeader(r.Header),
	}
}

// Decision is the outcome of gating a request before its handler runs.
type Decision struct {
	// Pass is true when the route is not gated or the request is a CORS preflight.
	Pass bool

	// Authorization is set when a payment was verified.
	Authorization *gate.Authorization

	// Status and Body answer the request when neither Pass nor Authorization is set.
	Status int
	Body   *x402.PaymentRequired
}

// Allowed reports whether the handler may run.
func (d Decision) Allowed() bool {
	return d.Pass || d.Authorization != nil
}

// Decide runs the gate for r.
func Decide(ctx context.Context, g *gate.Gate, r *http.Request, logger *slog.Logger) Decision {
	if r.Method == http.MethodOptions {
		logger.Debug("bypassing OPTIONS request")
		return Decision{Pass: true}
	}
	if !g.Gated(r.Method, r.URL.Path) {
		return Decision{Pass: true}
	}

	req := GateRequest(r)
	if req.ProofHeader == "" {
		logger.Info("no payment header provided", "path", req.Path)
		challenge, err := g.Challenge(ctx, req)
		if err != nil {
			status, body := g.Denial(ctx, req, err)
			return Decision{Status: status, Body: body}
		}
		return Decision{Status: http.StatusPaymentRequired, Body: challenge}
	}

	auth, err := g.Authorize(ctx, req)
	if err != nil {
		status, body := g.Denial(ctx, req, err)
		return Decision{Status: status, Body: body}
	}
	return Decision{Authorization: auth}
}

// SetChallengeHeader sets PAYMENT-REQUIRED when body lists requirements.
func SetChallengeHeader(h http.Header, body *x402.PaymentRequired) {
	if body == nil || len(body.Accepts) == 0 {
		return
	}
	encoded, err := encoding.EncodeChallenge(*body)
	if err != nil {
		return
	}
	h.Set(HeaderPaymentRequired, encoded)
}

// WriteDecision writes a denial or challenge as JSON.
func WriteDecision(w http.ResponseWriter, d Decision) {
	SetChallengeHeader(w.Header(), d.Body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(d.Status)
	// Ignore encoding errors - headers are already sent
	_ = json.NewEncoder(w).Encode(d.Body)
}

// SetSettlementHeaders adds PAYMENT-RESPONSE and X-PAYMENT-RESPONSE with the
// base64-encoded settlement.
func SetSettlementHeaders(h http.Header, settlement *x402.SettlementResponse) error {
	encoded, err := encoding.EncodeSettlement(*settlement)
	if err != nil {
		return err
	}
	h.Set(HeaderPaymentResponse, encoded)
	h.Set(HeaderLegacyPaymentResp, encoded)
	return nil
}

// Settler returns the callback to run when the handler commits its response.
// Error statuses skip settlement. A failed settlement leaves the response
// untouched; the gate has already recorded it for reconciliation.
func Settler(ctx context.Context, g *gate.Gate, auth *gate.Authorization, header func() http.Header, logger *slog.Logger) func(status int) {
	return func(status int) {
		if status >= 400 {
			logger.Warn("handler returned non-success, skipping payment settlement", "status", status)
			return
		}
		settlement, err := g.Settle(ctx, auth)
		if err != nil {
			logger.Error("settlement failed after response", "payer", auth.Payer, "error", err)
			return
		}
		if settlement == nil {
			return
		}
		if err := SetSettlementHeaders(header(), settlement); err != nil {
			logger.Warn("failed to add payment response header", "error", err)
		}
	}
}
