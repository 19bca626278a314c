package gate

import (
	"context"
	"errors"
	"net/http"

	"github.com/mark3labs/x402-paygate"
)

// StatusOf maps a gating error to the HTTP status of its denial.
func StatusOf(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotGated):
		return http.StatusNotFound
	case errors.Is(err, x402.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, x402.ErrResolution):
		if x402.CodeOf(err) == x402.ErrCodeMalformedProof {
			return http.StatusBadRequest
		}
		return http.StatusBadGateway
	case errors.Is(err, x402.ErrVerification), errors.Is(err, x402.ErrSettlementFailed):
		return http.StatusPaymentRequired
	case errors.Is(err, x402.ErrFacilitatorUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Denial builds the status and body answering a failed Challenge or Authorize.
// Verification failures carry the requirements resolved from the proof so
// the client can correct its payment without a new deposit address.
func (g *Gate) Denial(ctx context.Context, req Request, err error) (int, *x402.PaymentRequired) {
	body := &x402.PaymentRequired{
		X402Version: x402.ProtocolVersion,
		Error:       err.Error(),
	}
	var pe *x402.PaymentError
	if errors.As(err, &pe) {
		body.Error = pe.Message
		body.Reason = pe.Code
		body.Details = pe.Details
	}

	if errors.Is(err, x402.ErrVerification) && req.ProofHeader != "" {
		if retry, rerr := g.RetryChallenge(ctx, req); rerr == nil {
			body.Resource = retry.Resource
			body.Accepts = retry.Accepts
		}
	}
	return StatusOf(err), body
}
