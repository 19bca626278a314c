package x402

import (
	"fmt"
	"strings"
)

// NetworkType represents the blockchain virtual machine type.
type NetworkType int

const (
	// NetworkTypeUnknown represents an unrecognized network.
	NetworkTypeUnknown NetworkType = iota
	// NetworkTypeEVM represents Ethereum Virtual Machine chains.
	NetworkTypeEVM
	// NetworkTypeSVM represents Solana Virtual Machine chains.
	NetworkTypeSVM
)

func (t NetworkType) String() string {
	switch t {
	case NetworkTypeEVM:
		return "evm"
	case NetworkTypeSVM:
		return "svm"
	default:
		return "unknown"
	}
}

// ChainConfig contains chain-specific configuration for the default USDC asset.
type ChainConfig struct {
	// NetworkID is the CAIP-2 network identifier (e.g., "eip155:84532").
	NetworkID string

	// LegacyName is the x402 v1 network name (e.g., "base-sepolia").
	LegacyName string

	// Type is the virtual machine family.
	Type NetworkType

	// USDCAddress is the official Circle USDC contract address or mint address.
	USDCAddress string

	// Decimals is the number of decimal places for USDC (always 6).
	Decimals uint8

	// EIP3009Name is the EIP-712 domain "name" (empty for non-EVM chains).
	EIP3009Name string

	// EIP3009Version is the EIP-712 domain "version" (empty for non-EVM chains).
	EIP3009Version string
}

// Mainnet chain configurations
var (
	BaseMainnet = ChainConfig{
		NetworkID:      "eip155:8453",
		LegacyName:     "base",
		Type:           NetworkTypeEVM,
		USDCAddress:    "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	PolygonMainnet = ChainConfig{
		NetworkID:      "eip155:137",
		LegacyName:     "polygon",
		Type:           NetworkTypeEVM,
		USDCAddress:    "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	AvalancheMainnet = ChainConfig{
		NetworkID:      "eip155:43114",
		LegacyName:     "avalanche",
		Type:           NetworkTypeEVM,
		USDCAddress:    "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	SolanaMainnet = ChainConfig{
		NetworkID:   "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp",
		LegacyName:  "solana",
		Type:        NetworkTypeSVM,
		USDCAddress: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		Decimals:    6,
	}
)

// Testnet chain configurations
var (
	// BaseSepolia is the network the demo server charges on.
	BaseSepolia = ChainConfig{
		NetworkID:      "eip155:84532",
		LegacyName:     "base-sepolia",
		Type:           NetworkTypeEVM,
		USDCAddress:    "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Decimals:       6,
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
	}

	PolygonAmoy = ChainConfig{
		NetworkID:      "eip155:80002",
		LegacyName:     "polygon-amoy",
		Type:           NetworkTypeEVM,
		USDCAddress:    "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582",
		Decimals:       6,
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
	}

	AvalancheFuji = ChainConfig{
		NetworkID:      "eip155:43113",
		LegacyName:     "avalanche-fuji",
		Type:           NetworkTypeEVM,
		USDCAddress:    "0x5425890298aed601595a70AB815c96711a31Bc65",
		Decimals:       6,
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	SolanaDevnet = ChainConfig{
		NetworkID:   "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1",
		LegacyName:  "solana-devnet",
		Type:        NetworkTypeSVM,
		USDCAddress: "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
		Decimals:    6,
	}
)

var knownChains = []ChainConfig{
	BaseMainnet, PolygonMainnet, AvalancheMainnet, SolanaMainnet,
	BaseSepolia, PolygonAmoy, AvalancheFuji, SolanaDevnet,
}

// LookupChain returns the configuration for a CAIP-2 id or a legacy v1 name.
func LookupChain(network string) (ChainConfig, error) {
	if network == "" {
		return ChainConfig{}, fmt.Errorf("%w: network cannot be empty", ErrInvalidNetwork)
	}
	for _, c := range knownChains {
		if c.NetworkID == network || c.LegacyName == network {
			return c, nil
		}
	}
	return ChainConfig{}, fmt.Errorf("%w: %s", ErrInvalidNetwork, network)
}

// CanonicalNetwork maps legacy names to CAIP-2 ids. Unknown ids are returned unchanged.
func CanonicalNetwork(network string) string {
	if c, err := LookupChain(network); err == nil {
		return c.NetworkID
	}
	return network
}

// ValidateNetwork validates a network identifier and returns its type.
//
// Known chains are matched by CAIP-2 id or legacy name. Other CAIP-2 ids in the
// eip155 and solana namespaces are accepted with their namespace's type so a
// route can target a chain this table does not list, provided it names its asset.
func ValidateNetwork(network string) (NetworkType, error) {
	if c, err := LookupChain(network); err == nil {
		return c.Type, nil
	}
	namespace, reference, ok := strings.Cut(network, ":")
	if !ok || reference == "" {
		return NetworkTypeUnknown, fmt.Errorf("%w: %q", ErrInvalidNetwork, network)
	}
	switch namespace {
	case "eip155":
		for _, r := range reference {
			if r < '0' || r > '9' {
				return NetworkTypeUnknown, fmt.Errorf("%w: eip155 reference must be a chain id: %q", ErrInvalidNetwork, network)
			}
		}
		return NetworkTypeEVM, nil
	case "solana":
		return NetworkTypeSVM, nil
	default:
		return NetworkTypeUnknown, fmt.Errorf("%w: unsupported namespace %q", ErrInvalidNetwork, namespace)
	}
}
