package validation

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gagliardetto/solana-go"

	"github.com/mark3labs/x402-paygate"
)

// ValidateAmount validates that an amount string is a valid positive integer.
// Returns an error if the amount is empty, malformed, or not greater than zero.
func ValidateAmount(amount string) error {
	if amount == "" {
		return fmt.Errorf("amount cannot be empty")
	}

	// Parse as big.Int to handle large values
	amt, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return fmt.Errorf("invalid amount format: %s", amount)
	}

	if amt.Sign() <= 0 {
		return fmt.Errorf("amount must be greater than 0, got: %s", amount)
	}

	return nil
}

// ValidateAddress validates an address based on the network type.
func ValidateAddress(address string, network string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	networkType, err := x402.ValidateNetwork(network)
	if err != nil {
		return fmt.Errorf("cannot validate address: %w", err)
	}

	switch networkType {
	case x402.NetworkTypeEVM:
		if !strings.HasPrefix(address, "0x") || !common.IsHexAddress(address) {
			return fmt.Errorf("invalid EVM address format: %s (expected 0x followed by 40 hex characters)", address)
		}
		return nil

	case x402.NetworkTypeSVM:
		if _, err := solana.PublicKeyFromBase58(address); err != nil {
			return fmt.Errorf("invalid Solana address format: %s: %v", address, err)
		}
		return nil

	default:
		return fmt.Errorf("unsupported network type for address validation: %s", networkType)
	}
}

// SameAddress reports whether a and b denote the same account on network.
// EVM addresses compare case-insensitively; other networks compare exactly.
func SameAddress(a, b, network string) bool {
	if t, err := x402.ValidateNetwork(network); err == nil && t == x402.NetworkTypeEVM {
		if !common.IsHexAddress(a) || !common.IsHexAddress(b) {
			return false
		}
		return common.HexToAddress(a) == common.HexToAddress(b)
	}
	return a == b
}

// ValidateNonce checks that nonce is a 0x-prefixed 32-byte hex value.
func ValidateNonce(nonce string) error {
	b, err := hexutil.Decode(nonce)
	if err != nil {
		return fmt.Errorf("invalid nonce %q: %w", nonce, err)
	}
	if len(b) != 32 {
		return fmt.Errorf("invalid nonce length: got %d bytes, want 32", len(b))
	}
	return nil
}

// ValidateTemplate validates a registered requirement before its payTo is known.
func ValidateTemplate(req x402.PaymentRequirement) error {
	if err := ValidateAmount(req.Amount); err != nil {
		return fmt.Errorf("invalid requirement: %w", err)
	}

	if req.Network == "" {
		return fmt.Errorf("invalid requirement: network cannot be empty")
	}

	networkType, err := x402.ValidateNetwork(req.Network)
	if err != nil {
		return fmt.Errorf("invalid requirement: %w", err)
	}

	if req.Asset == "" {
		return fmt.Errorf("invalid requirement: asset address cannot be empty")
	}

	if err := ValidateAddress(req.Asset, req.Network); err != nil {
		return fmt.Errorf("invalid requirement: asset %w", err)
	}

	if req.Scheme == "" {
		return fmt.Errorf("invalid requirement: scheme cannot be empty")
	}

	if req.MaxTimeoutSeconds < 0 {
		return fmt.Errorf("invalid requirement: timeout cannot be negative: %d", req.MaxTimeoutSeconds)
	}

	// EIP-3009 domain parameters, when present, must be non-empty
	if networkType == x402.NetworkTypeEVM && req.Extra != nil {
		if name, ok := req.Extra["name"].(string); ok && name == "" {
			return fmt.Errorf("invalid requirement: EIP-3009 name cannot be empty")
		}
		if version, ok := req.Extra["version"].(string); ok && version == "" {
			return fmt.Errorf("invalid requirement: EIP-3009 version cannot be empty")
		}
	}

	return nil
}

// ValidateRequirement validates a requirement with its payTo resolved.
func ValidateRequirement(req x402.PaymentRequirement) error {
	if err := ValidateTemplate(req); err != nil {
		return err
	}
	if err := ValidateAddress(req.PayTo, req.Network); err != nil {
		return fmt.Errorf("invalid requirement: payTo %w", err)
	}
	return nil
}

// ValidateProof checks the envelope of a decoded payment proof.
func ValidateProof(proof x402.PaymentProof) error {
	if proof.X402Version != 1 && proof.X402Version != 2 {
		return fmt.Errorf("unsupported x402 version: %d", proof.X402Version)
	}

	if proof.Scheme == "" {
		return fmt.Errorf("scheme cannot be empty")
	}

	if proof.Network == "" {
		return fmt.Errorf("network cannot be empty")
	}

	if _, err := x402.ValidateNetwork(proof.Network); err != nil {
		return fmt.Errorf("invalid network: %w", err)
	}

	return nil
}
