package pricing

import (
	fpmath "PerpVault/internal/math"
	"PerpVault/internal/registry"
)

var (
	// PricePrecision is 1 USD.
	PricePrecision       = fpmath.Exp10(registry.USDDecimals)
	BasisPointsDivisor   = fpmath.NewUint(registry.BasisPointsDivisor)
	FundingRatePrecision = fpmath.NewUint(1_000_000)
)

// TokenToUSD values amount native units at price.
func TokenToUSD(amount, price fpmath.Uint, decimals uint8) fpmath.Uint {
	if amount.IsZero() {
		return fpmath.Zero()
	}
	return amount.MulDiv(price, fpmath.Exp10(decimals))
}

// USDToToken converts usd into native units at price.
func USDToToken(usd, price fpmath.Uint, decimals uint8) fpmath.Uint {
	if usd.IsZero() {
		return fpmath.Zero()
	}
	return usd.MulDiv(fpmath.Exp10(decimals), price)
}

// AdjustForDecimals rescales amount from one decimal base to another.
func AdjustForDecimals(amount fpmath.Uint, from, to uint8) fpmath.Uint {
	return amount.MulDiv(fpmath.Exp10(to), fpmath.Exp10(from))
}

// BpsOf returns v * bps / 10000.
func BpsOf(v fpmath.Uint, bps uint64) fpmath.Uint {
	return v.MulDiv(fpmath.NewUint(bps), BasisPointsDivisor)
}
