// Package hdwallet issues deposit addresses by deriving BIP-32 child public
// keys, one per intent, from a configured extended key.
//
// Only public keys are kept after construction. Sweeping funds from the
// derived addresses is outside this package.
package hdwallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	"github.com/mark3labs/x402-paygate"
	"github.com/mark3labs/x402-paygate/deposit"
)

// DerivationPath is the BIP-44 external chain the mnemonic constructor derives from.
const DerivationPath = "m/44'/60'/0'/0"

// ErrInvalidMnemonic indicates a mnemonic that fails BIP-39 validation.
var ErrInvalidMnemonic = errors.New("hdwallet: invalid mnemonic")

// Processor implements deposit.Processor for EVM networks.
type Processor struct {
	chain *bip32.Key // public key of the external chain
	path  string
	next  atomic.Uint32
}

var _ deposit.Processor = (*Processor)(nil)

// Option configures a Processor.
type Option func(*Processor)

// WithStartIndex sets the first child index handed out, e.g. to resume after a restart.
func WithStartIndex(i uint32) Option {
	return func(p *Processor) { p.next.Store(i) }
}

// FromMnemonic derives the external chain m/44'/60'/0'/0 from a BIP-39 mnemonic.
func FromMnemonic(mnemonic string, opts ...Option) (*Processor, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, "")

	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("hdwallet: %w", err)
	}
	for _, idx := range []uint32{bip32.FirstHardenedChild + 44, bip32.FirstHardenedChild + 60, bip32.FirstHardenedChild + 0, 0} {
		if key, err = key.NewChildKey(idx); err != nil {
			return nil, fmt.Errorf("hdwallet: %w", err)
		}
	}
	return newProcessor(key.PublicKey(), DerivationPath, opts), nil
}

// FromExtendedKey uses a serialized extended key (xpub or xprv) as the chain
// key. Children are derived directly below it.
func FromExtendedKey(serialized string, opts ...Option) (*Processor, error) {
	key, err := bip32.B58Deserialize(strings.TrimSpace(serialized))
	if err != nil {
		return nil, fmt.Errorf("hdwallet: invalid extended key: %w", err)
	}
	return newProcessor(key.PublicKey(), "xpub", opts), nil
}

func newProcessor(chain *bip32.Key, path string, opts []Option) *Processor {
	p := &Processor{chain: chain, path: path}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Address returns the checksummed EVM address of child index i.
func (p *Processor) Address(i uint32) (string, error) {
	if i >= bip32.FirstHardenedChild {
		return "", fmt.Errorf("hdwallet: index %d is hardened", i)
	}
	child, err := p.chain.NewChildKey(i)
	if err != nil {
		return "", fmt.Errorf("hdwallet: derive child %d: %w", i, err)
	}
	pub, err := crypto.DecompressPubkey(child.Key)
	if err != nil {
		return "", fmt.Errorf("hdwallet: child %d: %w", i, err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

// CreateDepositIntent hands out the next unused child address.
func (p *Processor) CreateDepositIntent(ctx context.Context, req deposit.IntentRequest) (*deposit.Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	network := x402.CanonicalNetwork(req.Network)
	if t, err := x402.ValidateNetwork(network); err != nil || t != x402.NetworkTypeEVM {
		return nil, fmt.Errorf("hdwallet: network %s is not an EVM network", req.Network)
	}

	i := p.next.Add(1) - 1
	addr, err := p.Address(i)
	if err != nil {
		return nil, err
	}
	return &deposit.Intent{
		ID:      fmt.Sprintf("%s/%d", p.path, i),
		Address: addr,
		Network: network,
	}, nil
}

// NextIndex returns the index the next intent will use.
func (p *Processor) NextIndex() uint32 {
	return p.next.Load()
}
