package pricing

import (
	"errors"
	"fmt"
	"time"

	fpmath "PerpVault/internal/math"
)

var ErrInvalidAveragePrice = errors.New("invalid average price")

// MinProfitBps returns the min-profit threshold in force at now: bps while
// now is within window of the last increase, zero afterwards.
func MinProfitBps(lastIncreased, now int64, window time.Duration, bps uint64) uint64 {
	if now > lastIncreased+int64(window/time.Second) {
		return 0
	}
	return bps
}

// PositionDelta returns the unrealized PnL of size opened at avg when
// marked at price. Longs profit when price > avg, shorts when price < avg.
// A zero delta reports hasProfit = true. A profit not exceeding
// minProfitBps of size is reported as zero.
func PositionDelta(price, size, avg fpmath.Uint, isLong bool, minProfitBps uint64) (bool, fpmath.Uint, error) {
	if avg.IsZero() {
		return false, fpmath.Zero(), ErrInvalidAveragePrice
	}

	priceDelta, priceAbove := price.AbsDiff(avg)
	delta := size.MulDiv(priceDelta, avg)

	hasProfit := priceAbove == isLong
	if delta.IsZero() {
		return true, delta, nil
	}

	if hasProfit && minProfitBps > 0 {
		if delta.Mul(BasisPointsDivisor).LTE(size.Mul(fpmath.NewUint(minProfitBps))) {
			delta = fpmath.Zero()
		}
	}
	return hasProfit, delta, nil
}

// GlobalShortDelta is the aggregate PnL of every short on an index asset,
// taken from the running size and average price. hasProfit is from the
// shorts' perspective. An empty book reports (false, 0).
func GlobalShortDelta(size, avg, price fpmath.Uint) (bool, fpmath.Uint) {
	if size.IsZero() || avg.IsZero() {
		return false, fpmath.Zero()
	}
	priceDelta, avgAbove := avg.AbsDiff(price)
	return avgAbove, size.MulDiv(priceDelta, avg)
}

// NextAveragePrice blends an open position with sizeDelta of new notional
// at nextPrice. (hasProfit, delta) is the position's PnL at nextPrice.
// The result is nextPrice * nextSize / (nextSize ± delta), which values
// the old units at their average and the new units at nextPrice.
func NextAveragePrice(nextPrice, size, sizeDelta fpmath.Uint, isLong, hasProfit bool, delta fpmath.Uint) fpmath.Uint {
	nextSize := size.Add(sizeDelta)
	var divisor fpmath.Uint
	if isLong == hasProfit {
		divisor = nextSize.Add(delta)
	} else {
		divisor = nextSize.Sub(delta)
	}
	return nextPrice.MulDiv(nextSize, divisor)
}

// NextGlobalShortAveragePrice folds sizeDelta of new short notional at
// nextPrice into the running global average.
func NextGlobalShortAveragePrice(size, avg, nextPrice, sizeDelta fpmath.Uint) fpmath.Uint {
	if size.IsZero() || avg.IsZero() {
		return nextPrice
	}
	priceDelta, avgAbove := avg.AbsDiff(nextPrice)
	delta := size.MulDiv(priceDelta, avg)
	return NextAveragePrice(nextPrice, size, sizeDelta, false, avgAbove, delta)
}

// Leverage returns size/collateral in basis points.
func Leverage(size, collateral fpmath.Uint) (fpmath.Uint, error) {
	if collateral.IsZero() {
		return fpmath.Zero(), fmt.Errorf("leverage of zero collateral")
	}
	return size.MulDiv(BasisPointsDivisor, collateral), nil
}
