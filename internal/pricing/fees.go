package pricing

import (
	fpmath "PerpVault/internal/math"
)

// PositionFee is the margin fee charged on sizeDelta of notional.
func PositionFee(sizeDelta fpmath.Uint, marginFeeBps uint64) fpmath.Uint {
	if sizeDelta.IsZero() {
		return fpmath.Zero()
	}
	afterFee := BpsOf(sizeDelta, BasisPointsDivisor.Uint64()-marginFeeBps)
	return sizeDelta.Sub(afterFee)
}

// FundingFee is the borrow fee accrued on a position's reserve since it
// last synced its entry funding rate, in the collateral asset's native
// units.
func FundingFee(reserve, entryFundingRate, cumulativeFundingRate fpmath.Uint) fpmath.Uint {
	if reserve.IsZero() {
		return fpmath.Zero()
	}
	rate := cumulativeFundingRate.SubFloor(entryFundingRate)
	if rate.IsZero() {
		return rate
	}
	return reserve.MulDiv(rate, FundingRatePrecision)
}

// MarginFees is the total USD fee owed when sizeDelta of a position is
// touched, given the funding fee it has accrued valued in USD.
func MarginFees(sizeDelta, fundingFeeUSD fpmath.Uint, marginFeeBps uint64) fpmath.Uint {
	return PositionFee(sizeDelta, marginFeeBps).Add(fundingFeeUSD)
}

// DeductFee splits amount into the part kept by the caller and the fee.
func DeductFee(amount fpmath.Uint, feeBps uint64) (afterFee, fee fpmath.Uint) {
	afterFee = BpsOf(amount, BasisPointsDivisor.Uint64()-feeBps)
	return afterFee, amount.Sub(afterFee)
}

// DynamicFee describes a mint or redeem against an asset's debt-token
// backing, for fee pricing.
type DynamicFee struct {
	// Current debt-token amount attributed to the asset.
	Current fpmath.Uint
	// Delta is the debt-token amount being minted or burned.
	Delta     fpmath.Uint
	Increment bool

	Weight       uint64
	TotalWeights uint64
	// Supply is the outstanding debt-token supply.
	Supply fpmath.Uint

	BaseBps uint64
	TaxBps  uint64
	Enabled bool
}

// TargetAmount is the asset's weighted share of the debt-token supply.
func (d DynamicFee) TargetAmount() fpmath.Uint {
	if d.Supply.IsZero() || d.TotalWeights == 0 {
		return fpmath.Zero()
	}
	return d.Supply.MulDiv(fpmath.NewUint(d.Weight), fpmath.NewUint(d.TotalWeights))
}

// FeeBasisPoints prices the action. Moves towards the target earn a
// rebate off the base fee, moves away pay a tax on top of it.
func FeeBasisPoints(d DynamicFee) uint64 {
	if !d.Enabled {
		return d.BaseBps
	}

	next := d.Current.SubFloor(d.Delta)
	if d.Increment {
		next = d.Current.Add(d.Delta)
	}

	target := d.TargetAmount()
	if target.IsZero() {
		return d.BaseBps
	}

	initialDiff, _ := d.Current.AbsDiff(target)
	nextDiff, _ := next.AbsDiff(target)
	tax := fpmath.NewUint(d.TaxBps)

	if nextDiff.LT(initialDiff) {
		rebate := tax.MulDiv(initialDiff, target).Uint64()
		if rebate > d.BaseBps {
			return 0
		}
		return d.BaseBps - rebate
	}

	avgDiff := initialDiff.Add(nextDiff).Div(fpmath.NewUint(2))
	avgDiff = fpmath.Min(avgDiff, target)
	return d.BaseBps + tax.MulDiv(avgDiff, target).Uint64()
}
