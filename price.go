package x402

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// FiatDecimals is the number of minor-unit decimals of the fiat currencies a
// deposit processor is charged in (cents).
const FiatDecimals = 2

// ParsePrice converts a display price such as "$0.01" or "0.01" into the
// asset's atomic units.
//
// The price must be positive and must not carry more fractional digits than
// the asset has decimals; such prices are rejected rather than rounded.
func ParsePrice(price string, decimals uint8) (*big.Int, error) {
	s := strings.TrimSpace(price)
	s = strings.TrimPrefix(s, "$")
	if s == "" {
		return nil, fmt.Errorf("%w: price cannot be empty", ErrInvalidAmount)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, price, err)
	}
	if !d.IsPositive() {
		return nil, fmt.Errorf("%w: price must be positive: %q", ErrInvalidAmount, price)
	}

	atomic := d.Shift(int32(decimals))
	if !atomic.IsInteger() {
		return nil, fmt.Errorf("%w: %q has more precision than %d decimals", ErrInvalidAmount, price, decimals)
	}
	return atomic.BigInt(), nil
}

// ParseAtomicAmount parses a base-10 atomic amount.
func ParseAtomicAmount(amount string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return nil, fmt.Errorf("%w: not an integer: %q", ErrInvalidAmount, amount)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative amount %q", ErrInvalidAmount, amount)
	}
	return v, nil
}

// ToMinorUnits converts an atomic asset amount to fiat minor units.
//
// With USDC (6 decimals) 10000 atomic units are 1 cent. The conversion must be
// exact: an amount that is not a whole number of minor units, or an asset with
// fewer decimals than the fiat currency, is an error.
func ToMinorUnits(atomic *big.Int, assetDecimals uint8) (int64, error) {
	if atomic == nil || atomic.Sign() <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	if assetDecimals < FiatDecimals {
		return 0, fmt.Errorf("%w: asset has %d decimals, fewer than %d", ErrInvalidAmount, assetDecimals, FiatDecimals)
	}

	minor := decimal.NewFromBigInt(atomic, -int32(assetDecimals-FiatDecimals))
	if !minor.IsInteger() {
		return 0, fmt.Errorf("%w: %s atomic units is not a whole number of minor units", ErrInvalidAmount, atomic)
	}
	if !minor.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: %s atomic units overflows", ErrInvalidAmount, atomic)
	}
	return minor.IntPart(), nil
}

// FormatPrice renders an atomic amount as a dollar display price.
func FormatPrice(atomic *big.Int, decimals uint8) string {
	return "$" + decimal.NewFromBigInt(atomic, -int32(decimals)).String()
}
