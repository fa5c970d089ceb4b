package math

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// UintFromDecimal scales d by 10^decimals. The result must be a
// non-negative integer; "19.91" at 30 decimals is exact, "0.1" at 0 is not.
func UintFromDecimal(d decimal.Decimal, decimals uint8) (Uint, error) {
	if d.IsNegative() {
		return Uint{}, fmt.Errorf("negative amount %s", d)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return Uint{}, fmt.Errorf("amount %s has more than %d decimals", d, decimals)
	}
	u, ok := UintFromBig(scaled.BigInt())
	if !ok {
		return Uint{}, fmt.Errorf("amount %s overflows 256 bits", d)
	}
	return u, nil
}

// ParseUnits parses a human-readable amount such as "499.8" into base units.
func ParseUnits(s string, decimals uint8) (Uint, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Uint{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return UintFromDecimal(d, decimals)
}

// ToDecimal renders a base-unit amount back into human-readable form.
func (a Uint) ToDecimal(decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(a.BigInt(), -int32(decimals))
}

// ExpandDecimals is v * 10^decimals for small literal amounts.
func ExpandDecimals(v uint64, decimals uint8) Uint {
	return NewUint(v).Mul(Exp10(decimals))
}
