// Package exact implements local verification of "exact" scheme proofs on EVM
// networks: an EIP-3009 transferWithAuthorization for exactly the required amount.
package exact

import (
	"math/big"
	"strconv"
	"time"

	"github.com/mark3labs/x402-paygate"
	"github.com/mark3labs/x402-paygate/validation"
)

// Verifier checks exact-scheme proofs. The zero value is ready to use.
type Verifier struct{}

// New returns an exact-scheme verifier.
func New() *Verifier {
	return &Verifier{}
}

// Scheme returns "exact".
func (v *Verifier) Scheme() string {
	return x402.SchemeExact
}

// Check verifies the proof against a requirement whose payTo is resolved.
// Signature validity is left to the facilitator.
func (v *Verifier) Check(proof x402.PaymentProof, req x402.PaymentRequirement, now time.Time) error {
	if proof.Scheme != x402.SchemeExact || req.Scheme != x402.SchemeExact {
		return x402.VerificationFailure(x402.ErrCodeSchemeMismatch, "proof scheme does not match requirement").
			WithDetails("expected", req.Scheme).
			WithDetails("actual", proof.Scheme)
	}

	network := x402.CanonicalNetwork(req.Network)
	if x402.CanonicalNetwork(proof.Network) != network {
		return x402.VerificationFailure(x402.ErrCodeNetworkMismatch, "proof network does not match requirement").
			WithDetails("expected", network).
			WithDetails("actual", proof.Network)
	}
	if t, err := x402.ValidateNetwork(network); err != nil || t != x402.NetworkTypeEVM {
		return x402.VerificationFailure(x402.ErrCodeNetworkMismatch, "exact verification supports EVM networks only").
			WithDetails("network", network)
	}

	auth := proof.Payload.Authorization

	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return x402.VerificationFailure(x402.ErrCodeInvalidAuthorization, "authorization value is not an integer").
			WithDetails("value", auth.Value)
	}
	required, err := x402.ParseAtomicAmount(req.Amount)
	if err != nil {
		return x402.VerificationFailure(x402.ErrCodeAmountMismatch, "requirement amount is invalid").
			WithDetails("expected", req.Amount)
	}
	if value.Cmp(required) != 0 {
		return x402.VerificationFailure(x402.ErrCodeAmountMismatch, "authorization value does not equal the required amount").
			WithDetails("expected", required.String()).
			WithDetails("actual", value.String())
	}

	if proof.Accepted != nil && proof.Accepted.Asset != "" && !validation.SameAddress(proof.Accepted.Asset, req.Asset, network) {
		return x402.VerificationFailure(x402.ErrCodeAssetMismatch, "proof asset does not match requirement").
			WithDetails("expected", req.Asset).
			WithDetails("actual", proof.Accepted.Asset)
	}

	if !validation.SameAddress(auth.To, req.PayTo, network) {
		return x402.VerificationFailure(x402.ErrCodeRecipientMismatch, "authorization recipient does not match payTo").
			WithDetails("expected", req.PayTo).
			WithDetails("actual", auth.To)
	}

	if err := validation.ValidateAddress(auth.From, network); err != nil {
		return x402.VerificationFailure(x402.ErrCodeInvalidAuthorization, "authorization payer is not a valid address").
			WithDetails("from", auth.From)
	}

	validAfter, err := strconv.ParseInt(auth.ValidAfter, 10, 64)
	if err != nil {
		return x402.VerificationFailure(x402.ErrCodeInvalidAuthorization, "validAfter is not a unix timestamp").
			WithDetails("validAfter", auth.ValidAfter)
	}
	validBefore, err := strconv.ParseInt(auth.ValidBefore, 10, 64)
	if err != nil {
		return x402.VerificationFailure(x402.ErrCodeInvalidAuthorization, "validBefore is not a unix timestamp").
			WithDetails("validBefore", auth.ValidBefore)
	}

	// Valid on [validAfter, validBefore)
	ts := now.Unix()
	if ts < validAfter {
		return x402.VerificationFailure(x402.ErrCodeNotYetValid, "authorization is not yet valid").
			WithDetails("validAfter", validAfter).
			WithDetails("now", ts)
	}
	if ts >= validBefore {
		return x402.VerificationFailure(x402.ErrCodeExpired, "authorization has expired").
			WithDetails("validBefore", validBefore).
			WithDetails("now", ts)
	}

	if err := validation.ValidateNonce(auth.Nonce); err != nil {
		return x402.VerificationFailure(x402.ErrCodeInvalidAuthorization, "authorization nonce must be 32 bytes of hex").
			WithDetails("nonce", auth.Nonce)
	}

	if proof.Payload.Signature == "" {
		return x402.VerificationFailure(x402.ErrCodeInvalidAuthorization, "proof carries no signature")
	}

	return nil
}
