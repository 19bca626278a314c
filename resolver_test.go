package x402

import (
	"context"
	"errors"
	"testing"
)

func TestStaticPayTo(t *testing.T) {
	addr := "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
	req := ResolveRequest{Requirement: PaymentRequirement{Network: BaseSepolia.NetworkID}}

	got, err := StaticPayTo(addr).ResolvePayTo(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Address != addr || got.Network != BaseSepolia.NetworkID {
		t.Errorf("unexpected address: %+v", got)
	}

	// A proof header does not change a static address
	req.ProofHeader = "ignored"
	got, err = StaticPayTo(addr).ResolvePayTo(context.Background(), req)
	if err != nil || got.Address != addr {
		t.Errorf("expected static address with proof, got %+v, %v", got, err)
	}
}

func TestStaticPayTo_Empty(t *testing.T) {
	_, err := StaticPayTo("").ResolvePayTo(context.Background(), ResolveRequest{})
	if !errors.Is(err, ErrResolution) {
		t.Errorf("expected ErrResolution, got %v", err)
	}
}

func TestPayToFunc(t *testing.T) {
	called := false
	f := PayToFunc(func(_ context.Context, req ResolveRequest) (DepositAddress, error) {
		called = true
		if !req.HasProof() {
			return DepositAddress{Address: "fresh"}, nil
		}
		return DepositAddress{Address: "from-proof"}, nil
	})

	got, _ := f.ResolvePayTo(context.Background(), ResolveRequest{})
	if !called || got.Address != "fresh" {
		t.Errorf("unexpected result %+v", got)
	}
	got, _ = f.ResolvePayTo(context.Background(), ResolveRequest{ProofHeader: "abc"})
	if got.Address != "from-proof" {
		t.Errorf("unexpected result %+v", got)
	}
}
