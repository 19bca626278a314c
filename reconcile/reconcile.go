// Package reconcile records payments whose resource was served but whose
// settlement did not complete. Such events need out-of-band follow-up: the
// response cannot be recalled.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Event describes one unsettled, already-served payment.
type Event struct {
	Time     time.Time
	Method   string
	Path     string
	Scheme   string
	Network  string
	Asset    string
	Amount   string
	PayTo    string
	Payer    string
	Nonce    string
	IntentID string
	Reason   string
}

// Recorder persists reconciliation events.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// LogRecorder writes events to a logger at error level under the message
// "reconciliation".
type LogRecorder struct {
	Logger *slog.Logger
}

// Record implements Recorder.
func (r LogRecorder) Record(ctx context.Context, ev Event) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.ErrorContext(ctx, "reconciliation",
		"method", ev.Method,
		"path", ev.Path,
		"scheme", ev.Scheme,
		"network", ev.Network,
		"amount", ev.Amount,
		"payTo", ev.PayTo,
		"payer", ev.Payer,
		"nonce", ev.Nonce,
		"intent", ev.IntentID,
		"reason", ev.Reason,
	)
	return nil
}

// Multi fans an event out to every recorder and joins their errors.
func Multi(recorders ...Recorder) Recorder {
	return multi(recorders)
}

type multi []Recorder

func (m multi) Record(ctx context.Context, ev Event) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
