// Package gatetest provides a gate wired to in-memory collaborators for
// adapter tests.
package gatetest

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/x402-paygate"
	"github.com/mark3labs/x402-paygate/encoding"
	"github.com/mark3labs/x402-paygate/facilitator"
	"github.com/mark3labs/x402-paygate/gate"
	"github.com/mark3labs/x402-paygate/reconcile"
)

const (
	PayTo   = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
	Payer   = "0x857b06519E91e3A54538791bDbb0E22373e36b66"
	Nonce   = "0xf3746613c2d920b5fdabc0856f2aeb2d4f88ee6037b8cc5d04a71a4462f13480"
	Network = "eip155:84532"
	Tx      = "0x1234567890abcdef"
)

// Now is the clock of every fixture gate, inside the proof validity window.
var Now = time.Unix(1740672100, 0)

// Facilitator is an in-memory facilitator.
type Facilitator struct {
	mu          sync.Mutex
	verifyCalls int
	settleCalls int

	// VerifyErr makes Verify fail.
	VerifyErr error
	// Reject makes Verify return isValid false with this reason.
	Reject string
	// SettleErr makes Settle fail.
	SettleErr error
}

var _ facilitator.Interface = (*Facilitator)(nil)

func (f *Facilitator) Verify(context.Context, x402.PaymentProof, x402.PaymentRequirement) (*facilitator.VerifyResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	if f.VerifyErr != nil {
		return nil, f.VerifyErr
	}
	if f.Reject != "" {
		return &facilitator.VerifyResponse{IsValid: false, InvalidReason: f.Reject}, nil
	}
	return &facilitator.VerifyResponse{IsValid: true, Payer: Payer}, nil
}

func (f *Facilitator) Settle(_ context.Context, _ x402.PaymentProof, req x402.PaymentRequirement) (*x402.SettlementResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settleCalls++
	if f.SettleErr != nil {
		return nil, f.SettleErr
	}
	return &x402.SettlementResponse{Success: true, Transaction: Tx, Network: req.Network, Payer: Payer}, nil
}

func (f *Facilitator) Supported(context.Context) (*facilitator.SupportedResponse, error) {
	return &facilitator.SupportedResponse{Kinds: []facilitator.SupportedKind{{X402Version: 2, Scheme: "exact", Network: Network}}}, nil
}

// Calls returns the number of verify and settle calls.
func (f *Facilitator) Calls() (verify, settle int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verifyCalls, f.settleCalls
}

// Recorder keeps reconciliation events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []reconcile.Event
}

func (r *Recorder) Record(_ context.Context, ev reconcile.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns the recorded events.
func (r *Recorder) Events() []reconcile.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reconcile.Event(nil), r.events...)
}

// Fixture is a gate protecting "GET /paid" at $0.01 on Base Sepolia.
type Fixture struct {
	Gate        *gate.Gate
	Facilitator *Facilitator
	Recorder    *Recorder
}

// New builds a fixture. Options adjust the gate configuration.
func New(t testing.TB, opts ...func(*gate.Config)) *Fixture {
	t.Helper()
	registry, err := x402.NewRegistry(map[string]x402.RouteConfig{
		"GET /paid": {
			Accepts: []x402.PaymentOption{{
				Scheme:  "exact",
				Price:   "$0.01",
				Network: Network,
				PayTo:   x402.StaticPayTo(PayTo),
			}},
			Description: "Data retrieval endpoint",
			MimeType:    "application/json",
		},
	})
	if err != nil {
		t.Fatalf("gatetest: registry: %v", err)
	}

	f := &Fixture{Facilitator: &Facilitator{}, Recorder: &Recorder{}}
	cfg := gate.Config{
		Registry:    registry,
		Facilitator: f.Facilitator,
		Recorder:    f.Recorder,
		Logger:      Logger(),
		Now:         func() time.Time { return Now },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if f.Gate, err = gate.New(cfg); err != nil {
		t.Fatalf("gatetest: gate: %v", err)
	}
	return f
}

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Proof returns a proof paying value atomic units to PayTo, valid at Now.
func Proof(value string) x402.PaymentProof {
	return x402.PaymentProof{
		X402Version: 2,
		Scheme:      "exact",
		Network:     Network,
		Payload: x402.ExactPayload{
			Signature: "0x2d6a7588d6acca505cbf0d9a4a227e0c52c6c34008c8e8986a1283259764173608a2ce6496642e377d6da8dbbf5836e9bd15092f9ecab05ded3d6293af148b571c",
			Authorization: x402.Authorization{
				From:        Payer,
				To:          PayTo,
				Value:       value,
				ValidAfter:  "1740672089",
				ValidBefore: "1740672154",
				Nonce:       Nonce,
			},
		},
	}
}

// ProofHeader returns Proof(value) encoded as a payment header.
func ProofHeader(t testing.TB, value string) string {
	t.Helper()
	header, err := encoding.EncodeProof(Proof(value))
	if err != nil {
		t.Fatalf("gatetest: encode proof: %v", err)
	}
	return header
}
