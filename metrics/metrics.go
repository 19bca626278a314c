// Package metrics counts gate outcomes and times facilitator calls.
package metrics

import "time"

// Event names passed to IncCounter.
const (
	EventChallenged   = "challenged"
	EventRejected     = "rejected"
	EventVerified     = "verified"
	EventSettled      = "settled"
	EventSettleFailed = "settle_failed"
)

// Operation names passed to ObserveLatency.
const (
	OpResolve = "resolve"
	OpVerify  = "verify"
	OpSettle  = "settle"
)

// Label keys understood by the recorders.
const (
	LabelNetwork = "network"
	LabelReason  = "reason"
)

// Recorder receives gate metrics. Implementations must be safe for concurrent use.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// NoopRecorder drops everything.
type NoopRecorder struct{}

func (NoopRecorder) IncCounter(string, map[string]string)                    {}
func (NoopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}
