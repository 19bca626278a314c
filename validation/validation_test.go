package validation

import (
	"strings"
	"testing"

	"github.com/mark3labs/x402-paygate"
)

func TestValidateAmount(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		wantErr bool
	}{
		{"valid amount", "10000", false},
		{"large amount", "1000000000000000000000000", false},
		{"empty", "", true},
		{"zero", "0", true},
		{"negative", "-100", true},
		{"decimal", "100.5", true},
		{"letters", "abc", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAmount(tt.amount)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAmount() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		network string
		wantErr bool
	}{
		{"valid EVM address", "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913", "eip155:8453", false},
		{"valid EVM address uppercase", "0x833589FCD6EDB6E08F4C7C32D4F71B54BDA02913", "base-sepolia", false},
		{"valid Solana address", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", "solana", false},
		{"valid Solana address devnet", "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU", x402.SolanaDevnet.NetworkID, false},
		{"empty address", "", "eip155:8453", true},
		{"invalid EVM address - missing 0x", "833589fcd6edb6e08f4c7c32d4f71b54bda02913", "eip155:8453", true},
		{"invalid EVM address - wrong length", "0x833589fcd6edb6e08f4c7c32d4f71b54bda029", "eip155:8453", true},
		{"invalid EVM address - non-hex chars", "0x833589fcd6edb6e08f4c7c32d4f71b54bda0291g", "eip155:8453", true},
		{"invalid Solana address - too short", "ABC123", "solana", true},
		{"invalid Solana address - invalid chars", "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913", "solana", true},
		{"invalid network", "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913", "unknown-network", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.address, tt.network)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAddress() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSameAddress(t *testing.T) {
	lower := "0x209693bc6afc0c5328ba36faf03c514ef312287c"
	mixed := "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"

	if !SameAddress(lower, mixed, "eip155:84532") {
		t.Error("EVM addresses should compare case-insensitively")
	}
	if SameAddress(lower, "0x857b06519E91e3A54538791bDbb0E22373e36b66", "eip155:84532") {
		t.Error("different EVM addresses compared equal")
	}
	if SameAddress("not-an-address", "not-an-address", "eip155:84532") {
		t.Error("malformed EVM addresses must not compare equal")
	}
	if SameAddress("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", "epjfwdd5aufqssqem2qn1xzybapc8g4wegGkZwyTDt1v", "solana") {
		t.Error("Solana addresses are case-sensitive")
	}
}

func TestValidateNonce(t *testing.T) {
	tests := []struct {
		name    string
		nonce   string
		wantErr bool
	}{
		{"valid", "0xf3746613c2d920b5fdabc0856f2aeb2d4f88ee6037b8cc5d04a71a4462f13480", false},
		{"missing prefix", "f3746613c2d920b5fdabc0856f2aeb2d4f88ee6037b8cc5d04a71a4462f13480", true},
		{"short", "0x1234", true},
		{"not hex", "0xzz746613c2d920b5fdabc0856f2aeb2d4f88ee6037b8cc5d04a71a4462f13480", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNonce(tt.nonce)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateNonce(%q) error = %v, wantErr %v", tt.nonce, err, tt.wantErr)
			}
		})
	}
}

func validRequirement() x402.PaymentRequirement {
	return x402.PaymentRequirement{
		Scheme:            "exact",
		Network:           "eip155:84532",
		Amount:            "10000",
		Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		MaxTimeoutSeconds: 60,
		Extra:             map[string]interface{}{"name": "USDC", "version": "2"},
	}
}

func TestValidateRequirement(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*x402.PaymentRequirement)
		errMsg string
	}{
		{"valid", func(r *x402.PaymentRequirement) {}, ""},
		{"zero amount", func(r *x402.PaymentRequirement) { r.Amount = "0" }, "amount must be greater than 0"},
		{"empty network", func(r *x402.PaymentRequirement) { r.Network = "" }, "network cannot be empty"},
		{"bad network", func(r *x402.PaymentRequirement) { r.Network = "cosmos:hub" }, "invalid or unsupported network"},
		{"empty asset", func(r *x402.PaymentRequirement) { r.Asset = "" }, "asset address cannot be empty"},
		{"empty scheme", func(r *x402.PaymentRequirement) { r.Scheme = "" }, "scheme cannot be empty"},
		{"negative timeout", func(r *x402.PaymentRequirement) { r.MaxTimeoutSeconds = -1 }, "timeout cannot be negative"},
		{"empty EIP-3009 name", func(r *x402.PaymentRequirement) { r.Extra["name"] = "" }, "EIP-3009 name"},
		{"missing payTo", func(r *x402.PaymentRequirement) { r.PayTo = "" }, "payTo"},
		{"bad payTo", func(r *x402.PaymentRequirement) { r.PayTo = "0x1234" }, "payTo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequirement()
			tt.mutate(&req)
			err := ValidateRequirement(req)
			if tt.errMsg == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.errMsg)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestValidateTemplate_AllowsMissingPayTo(t *testing.T) {
	req := validRequirement()
	req.PayTo = ""
	if err := ValidateTemplate(req); err != nil {
		t.Errorf("template without payTo should be valid: %v", err)
	}
}

func TestValidateProof(t *testing.T) {
	tests := []struct {
		name    string
		proof   x402.PaymentProof
		wantErr bool
	}{
		{"v2", x402.PaymentProof{X402Version: 2, Scheme: "exact", Network: "eip155:84532"}, false},
		{"v1 legacy network", x402.PaymentProof{X402Version: 1, Scheme: "exact", Network: "base-sepolia"}, false},
		{"bad version", x402.PaymentProof{X402Version: 3, Scheme: "exact", Network: "eip155:84532"}, true},
		{"no scheme", x402.PaymentProof{X402Version: 2, Network: "eip155:84532"}, true},
		{"no network", x402.PaymentProof{X402Version: 2, Scheme: "exact"}, true},
		{"unknown network", x402.PaymentProof{X402Version: 2, Scheme: "exact", Network: "ethereum"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProof(tt.proof)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateProof() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
