package deposit

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/x402-paygate"
)

const depositAddr = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"

type fakeProcessor struct {
	mu       sync.Mutex
	calls    []IntentRequest
	intent   *Intent
	err      error
	sequence int
}

func (f *fakeProcessor) CreateDepositIntent(_ context.Context, req IntentRequest) (*Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	f.sequence++
	if f.err != nil {
		return nil, f.err
	}
	return f.intent, nil
}

func resolveRequest(header string) x402.ResolveRequest {
	return x402.ResolveRequest{
		ProofHeader: header,
		Requirement: x402.PaymentRequirement{
			Scheme:  "exact",
			Network: "eip155:84532",
			Amount:  "10000",
			Asset:   x402.BaseSepolia.USDCAddress,
		},
		Decimals: 6,
	}
}

func proofHeader(to interface{}) string {
	auth := `"from":"0x857b06519E91e3A54538791bDbb0E22373e36b66"`
	switch v := to.(type) {
	case string:
		auth += `,"to":"` + v + `"`
	case int:
		auth += `,"to":123`
	}
	return base64.StdEncoding.EncodeToString([]byte(`{"x402Version":2,"payload":{"authorization":{` + auth + `}}}`))
}

func TestResolver_FreshIntent(t *testing.T) {
	var logs bytes.Buffer
	p := &fakeProcessor{intent: &Intent{ID: "pi_123", Address: depositAddr}}
	r := NewResolver(p, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	got, err := r.ResolvePayTo(context.Background(), resolveRequest(""))
	if err != nil {
		t.Fatalf("ResolvePayTo failed: %v", err)
	}
	if got.Address != depositAddr || got.IntentID != "pi_123" || got.Network != "eip155:84532" {
		t.Errorf("unexpected address: %+v", got)
	}

	if len(p.calls) != 1 {
		t.Fatalf("expected 1 processor call, got %d", len(p.calls))
	}
	call := p.calls[0]
	if call.AmountMinor != 1 || call.Currency != "usd" || call.Network != "eip155:84532" {
		t.Errorf("unexpected intent request: %+v", call)
	}

	for _, want := range []string{"pi_123", depositAddr, "amount=$0.01", "currency=usd"} {
		if !strings.Contains(logs.String(), want) {
			t.Errorf("log %q missing %q", logs.String(), want)
		}
	}
}

func TestResolver_OneIntentPerCall(t *testing.T) {
	p := &fakeProcessor{intent: &Intent{ID: "pi", Address: depositAddr}}
	r := NewResolver(p)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.ResolvePayTo(context.Background(), resolveRequest(""))
		}()
	}
	wg.Wait()

	if len(p.calls) != 5 {
		t.Errorf("expected 5 intents, got %d", len(p.calls))
	}
}

func TestResolver_ProcessorFailures(t *testing.T) {
	tests := []struct {
		name string
		p    *fakeProcessor
	}{
		{"processor error", &fakeProcessor{err: errors.New("stripe down")}},
		{"nil intent", &fakeProcessor{}},
		{"empty address", &fakeProcessor{intent: &Intent{ID: "pi"}}},
		{"malformed address", &fakeProcessor{intent: &Intent{ID: "pi", Address: "0x1234"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResolver(tt.p).ResolvePayTo(context.Background(), resolveRequest(""))
			if !errors.Is(err, x402.ErrResolution) {
				t.Fatalf("expected ErrResolution, got %v", err)
			}
			if code := x402.CodeOf(err); code != x402.ErrCodeProcessorResponseInvalid {
				t.Errorf("code = %s, want processor_response_invalid", code)
			}
		})
	}
}

func TestResolver_InexactAmount(t *testing.T) {
	p := &fakeProcessor{intent: &Intent{ID: "pi", Address: depositAddr}}
	req := resolveRequest("")
	req.Requirement.Amount = "15000"

	_, err := NewResolver(p).ResolvePayTo(context.Background(), req)
	if !errors.Is(err, x402.ErrResolution) {
		t.Errorf("expected ErrResolution, got %v", err)
	}
	if len(p.calls) != 0 {
		t.Error("processor must not be called for an amount it cannot charge")
	}
}

func TestResolver_FromProof(t *testing.T) {
	p := &fakeProcessor{intent: &Intent{ID: "pi", Address: "0x857b06519E91e3A54538791bDbb0E22373e36b66"}}
	r := NewResolver(p)

	mixedCase := "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
	got, err := r.ResolvePayTo(context.Background(), resolveRequest(proofHeader(mixedCase)))
	if err != nil {
		t.Fatalf("ResolvePayTo failed: %v", err)
	}
	if got.Address != mixedCase {
		t.Errorf("address must be returned as it appears in the proof, got %s", got.Address)
	}
	if len(p.calls) != 0 {
		t.Errorf("processor must not be called on retry, got %d calls", len(p.calls))
	}
}

func TestResolver_FromProofFailures(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"not base64", "%%%"},
		{"not json", base64.StdEncoding.EncodeToString([]byte("plain"))},
		{"missing to", proofHeader(nil)},
		{"numeric to", proofHeader(1)},
		{"malformed to", proofHeader("0x1234")},
		{"payload not an object", base64.StdEncoding.EncodeToString([]byte(`{"payload":"x"}`))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProcessor{intent: &Intent{ID: "pi", Address: depositAddr}}
			_, err := NewResolver(p).ResolvePayTo(context.Background(), resolveRequest(tt.header))
			if !errors.Is(err, x402.ErrResolution) {
				t.Fatalf("expected ErrResolution, got %v", err)
			}
			if code := x402.CodeOf(err); code != x402.ErrCodeMalformedProof {
				t.Errorf("code = %s, want malformed_proof", code)
			}
			if len(p.calls) != 0 {
				t.Error("processor must not be called for a malformed retry")
			}
		})
	}
}
