// Package retry retries idempotent calls on transient failures with
// exponential backoff. It respects context cancellation.
//
// Only calls whose repetition cannot change external state belong here: the
// facilitator's supported-kinds lookup, and deposit intent creation guarded by
// an idempotency key. Payment verification and settlement are never retried.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts  int           // Maximum number of attempts (including initial attempt)
	InitialDelay time.Duration // Initial delay between retries
	MaxDelay     time.Duration // Maximum delay between retries
	Multiplier   float64       // Multiplier for exponential backoff

	// OnRetry, if set, is called before each retry with the failed attempt number (1-based).
	OnRetry func(attempt int, err error)
}

// DefaultConfig provides sensible defaults for retry operations.
var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     5 * time.Second,
	Multiplier:   2.0,
}

// Backoff builds a Config allowing maxRetries retries after the first attempt,
// starting at delay (100ms when unset) and doubling up to four times delay.
func Backoff(maxRetries int, delay time.Duration) Config {
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return Config{
		MaxAttempts:  maxRetries + 1,
		InitialDelay: delay,
		MaxDelay:     delay * 4,
		Multiplier:   2.0,
	}
}

// IsRetryable determines if an error should trigger a retry.
type IsRetryable func(error) bool

// WithRetry executes fn until it succeeds, returns a non-retryable error, or
// the attempts are exhausted.
func WithRetry[T any](
	ctx context.Context,
	config Config,
	isRetryable IsRetryable,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	var zero T
	var lastErr error
	delay := config.InitialDelay

	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("context cancelled: %w", err)
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		if config.OnRetry != nil {
			config.OnRetry(attempt, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
			delay = time.Duration(float64(delay) * config.Multiplier)
			if config.MaxDelay > 0 && delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		}
	}

	if attempts == 1 {
		return zero, lastErr
	}
	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}
