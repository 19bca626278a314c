// Package facilitator defines the contract of the remote service that verifies
// and settles payment proofs.
package facilitator

import (
	"context"

	"github.com/mark3labs/x402-paygate"
)

// Interface defines the facilitator contract for payment verification and settlement.
//
// Implementations return errors of kind x402.ErrFacilitatorUnavailable when the
// service cannot be reached in time, so callers can tell an outage apart from
// a rejected payment.
type Interface interface {
	// Verify checks a proof against a requirement without executing the transfer.
	Verify(ctx context.Context, proof x402.PaymentProof, requirement x402.PaymentRequirement) (*VerifyResponse, error)

	// Settle executes a verified payment on chain.
	Settle(ctx context.Context, proof x402.PaymentProof, requirement x402.PaymentRequirement) (*x402.SettlementResponse, error)

	// Supported queries the facilitator for supported payment kinds.
	Supported(ctx context.Context) (*SupportedResponse, error)
}

// VerifyResponse contains the payment verification result from the facilitator.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SupportedKind describes a supported payment type with its configuration.
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     string                 `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse lists all payment types supported by the facilitator.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// Lookup returns the kind matching scheme and network. Legacy network names
// reported by older facilitators match their CAIP-2 id.
func (s *SupportedResponse) Lookup(scheme, network string) (SupportedKind, bool) {
	network = x402.CanonicalNetwork(network)
	for _, k := range s.Kinds {
		if k.Scheme == scheme && x402.CanonicalNetwork(k.Network) == network {
			return k, true
		}
	}
	return SupportedKind{}, false
}
