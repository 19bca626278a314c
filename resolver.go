package x402

import "context"

// ResolveRequest is the input to a payTo resolution.
type ResolveRequest struct {
	// ProofHeader is the raw payment header of the request, or "" for a fresh challenge.
	ProofHeader string

	// Requirement is the template requirement the address is resolved for.
	Requirement PaymentRequirement

	// Decimals is the number of decimals of the requirement's asset.
	Decimals uint8
}

// HasProof reports whether the resolution is for a retry carrying a proof.
func (r ResolveRequest) HasProof() bool {
	return r.ProofHeader != ""
}

// PayToResolver produces the address a payment must be sent to.
//
// With an empty ProofHeader the resolver may create external state (a deposit
// intent) and must return a fresh address. With a ProofHeader it must be side
// effect free and return the address embedded in the proof.
type PayToResolver interface {
	ResolvePayTo(ctx context.Context, req ResolveRequest) (DepositAddress, error)
}

// PayToFunc adapts a function to the PayToResolver interface.
type PayToFunc func(ctx context.Context, req ResolveRequest) (DepositAddress, error)

// ResolvePayTo calls f(ctx, req).
func (f PayToFunc) ResolvePayTo(ctx context.Context, req ResolveRequest) (DepositAddress, error) {
	return f(ctx, req)
}

// StaticPayTo always resolves to the same configured address.
type StaticPayTo string

// ResolvePayTo returns the configured address for the requirement's network.
func (s StaticPayTo) ResolvePayTo(_ context.Context, req ResolveRequest) (DepositAddress, error) {
	if s == "" {
		return DepositAddress{}, ResolutionError(ErrCodeProcessorResponseInvalid, "no static payTo address configured", nil)
	}
	return DepositAddress{Address: string(s), Network: req.Requirement.Network}, nil
}

// String returns the configured address.
func (s StaticPayTo) String() string {
	return string(s)
}
