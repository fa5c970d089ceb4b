package pricing

import (
	"time"

	fpmath "PerpVault/internal/math"
)

// FundingIntervalStart floors ts to the funding interval grid.
func FundingIntervalStart(ts int64, interval time.Duration) int64 {
	secs := int64(interval / time.Second)
	if secs <= 0 {
		return ts
	}
	return ts / secs * secs
}

// FundingUpdate is the result of advancing an asset's funding clock.
type FundingUpdate struct {
	Increment       fpmath.Uint
	LastFundingTime int64
	Changed         bool
}

// NextFunding advances the cumulative funding rate of an asset. The first
// call only anchors the clock. Afterwards the rate grows by
// factor * reserved / pool per elapsed whole interval.
func NextFunding(lastFundingTime, now int64, interval time.Duration, factor uint64, pool, reserved fpmath.Uint) FundingUpdate {
	if lastFundingTime == 0 {
		return FundingUpdate{
			Increment:       fpmath.Zero(),
			LastFundingTime: FundingIntervalStart(now, interval),
			Changed:         true,
		}
	}

	secs := int64(interval / time.Second)
	if lastFundingTime+secs > now {
		return FundingUpdate{Increment: fpmath.Zero(), LastFundingTime: lastFundingTime}
	}

	intervals := uint64((now - lastFundingTime) / secs)
	inc := fpmath.Zero()
	if !pool.IsZero() {
		inc = fpmath.NewUint(factor).Mul(reserved).MulDiv(fpmath.NewUint(intervals), pool)
	}
	return FundingUpdate{
		Increment:       inc,
		LastFundingTime: FundingIntervalStart(now, interval),
		Changed:         true,
	}
}
