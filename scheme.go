package x402

import "time"

// SchemeVerifier performs the local, scheme-specific checks of a proof against
// a requirement whose payTo has been resolved. It never contacts the network.
type SchemeVerifier interface {
	// Scheme returns the scheme identifier the verifier handles.
	Scheme() string

	// Check returns nil when the proof satisfies the requirement at now, or a
	// PaymentError of kind ErrVerification naming the failed check.
	Check(proof PaymentProof, requirement PaymentRequirement, now time.Time) error
}
