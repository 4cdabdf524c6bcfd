// Package units converts between a coin's minimal unit (satoshi, lamport, wei)
// and its display unit without floating point rounding.
package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ToMinimal converts a currency-unit amount such as "0.015" into minimal units
// for a coin with the given number of decimals. Amounts finer than the coin's
// precision are rejected rather than rounded.
func ToMinimal(amount string, decimals int32) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	minimal := d.Shift(decimals)
	if !minimal.Equal(minimal.Truncate(0)) {
		return decimal.Zero, fmt.Errorf("amount %q has more than %d decimals", amount, decimals)
	}
	return minimal, nil
}

// ToCurrency converts a minimal-unit amount into its currency-unit string
// representation, trimmed of trailing zeros.
func ToCurrency(minimal decimal.Decimal, decimals int32) string {
	return minimal.Shift(-decimals).String()
}

// ParseMinimal parses an integer minimal-unit amount. Decimal, hex (0x) and
// exponent-free integer strings are accepted.
func ParseMinimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, ok := new(big.Int).SetString(s[2:], 16)
		if !ok {
			return decimal.Zero, fmt.Errorf("invalid hex amount %q", s)
		}
		return decimal.NewFromBigInt(n, 0), nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if !d.Equal(d.Truncate(0)) {
		return decimal.Zero, fmt.Errorf("minimal-unit amount %q is not an integer", s)
	}
	return d, nil
}

// FromBig wraps a big.Int minimal-unit amount.
func FromBig(n *big.Int) decimal.Decimal {
	if n == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n, 0)
}

// FromUint64 wraps a uint64 minimal-unit amount.
func FromUint64(n uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(n), 0)
}
