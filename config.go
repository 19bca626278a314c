package x402

import (
	"context"
	"fmt"
	"time"
)

// TimeoutConfig bounds every blocking call the gate makes to a collaborator.
type TimeoutConfig struct {
	// VerifyTimeout is the maximum time to wait for facilitator verification.
	VerifyTimeout time.Duration

	// SettleTimeout is the maximum time to wait for facilitator settlement.
	SettleTimeout time.Duration

	// ResolveTimeout is the maximum time to wait for the payment processor
	// to create a deposit intent.
	ResolveTimeout time.Duration

	// RequestTimeout is the overall timeout applied to outbound HTTP clients.
	RequestTimeout time.Duration
}

// DefaultTimeouts provides sensible defaults for payment operations.
var DefaultTimeouts = TimeoutConfig{
	VerifyTimeout:  5 * time.Second,
	SettleTimeout:  60 * time.Second,
	ResolveTimeout: 10 * time.Second,
	RequestTimeout: 120 * time.Second,
}

// WithVerifyTimeout returns a new TimeoutConfig with updated verify timeout.
func (tc TimeoutConfig) WithVerifyTimeout(d time.Duration) TimeoutConfig {
	tc.VerifyTimeout = d
	return tc
}

// WithSettleTimeout returns a new TimeoutConfig with updated settle timeout.
func (tc TimeoutConfig) WithSettleTimeout(d time.Duration) TimeoutConfig {
	tc.SettleTimeout = d
	return tc
}

// WithResolveTimeout returns a new TimeoutConfig with updated resolve timeout.
func (tc TimeoutConfig) WithResolveTimeout(d time.Duration) TimeoutConfig {
	tc.ResolveTimeout = d
	return tc
}

// WithRequestTimeout returns a new TimeoutConfig with updated request timeout.
func (tc TimeoutConfig) WithRequestTimeout(d time.Duration) TimeoutConfig {
	tc.RequestTimeout = d
	return tc
}

// Validate ensures timeout values are usable.
func (tc TimeoutConfig) Validate() error {
	if tc.VerifyTimeout <= 0 {
		return fmt.Errorf("verify timeout must be positive, got %v", tc.VerifyTimeout)
	}
	if tc.SettleTimeout <= 0 {
		return fmt.Errorf("settle timeout must be positive, got %v", tc.SettleTimeout)
	}
	if tc.ResolveTimeout <= 0 {
		return fmt.Errorf("resolve timeout must be positive, got %v", tc.ResolveTimeout)
	}
	if tc.RequestTimeout < 0 {
		return fmt.Errorf("request timeout cannot be negative, got %v", tc.RequestTimeout)
	}
	if tc.SettleTimeout < tc.VerifyTimeout {
		return fmt.Errorf("settle timeout (%v) should be >= verify timeout (%v)",
			tc.SettleTimeout, tc.VerifyTimeout)
	}
	return nil
}

// WithDeadline applies d to ctx unless ctx already carries an earlier deadline.
// A non-positive d leaves ctx untouched.
func WithDeadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= d {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
