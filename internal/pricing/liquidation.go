package pricing

import (
	"errors"
	"fmt"
	"time"

	fpmath "PerpVault/internal/math"
)

var (
	ErrLossesExceedCollateral          = errors.New("losses exceed collateral")
	ErrFeesExceedCollateral            = errors.New("fees exceed collateral")
	ErrLiquidationFeesExceedCollateral = errors.New("liquidation fees exceed collateral")
	ErrMaxLeverageExceeded             = errors.New("max leverage exceeded")
)

type LiquidationState uint8

const (
	Healthy LiquidationState = iota
	Liquidatable
	MaxLeverageExceeded
)

func (s LiquidationState) String() string {
	switch s {
	case Healthy:
		return "HEALTHY"
	case Liquidatable:
		return "LIQUIDATABLE"
	case MaxLeverageExceeded:
		return "MAX_LEVERAGE_EXCEEDED"
	default:
		return fmt.Sprintf("LiquidationState(%d)", uint8(s))
	}
}

// LiquidationCheck carries a position and the market it is marked against.
type LiquidationCheck struct {
	Size              fpmath.Uint
	Collateral        fpmath.Uint
	AveragePrice      fpmath.Uint
	IsLong            bool
	LastIncreasedTime int64
	// FundingFee is the USD value of the funding accrued on the reserve.
	FundingFee fpmath.Uint

	// Price is the mark: min for longs, max for shorts.
	Price fpmath.Uint
	Now   int64

	MinProfitTime     time.Duration
	MinProfitBps      uint64
	MarginFeeBps      uint64
	LiquidationFeeUSD fpmath.Uint
	MaxLeverageBps    uint64
}

// Liquidation is the outcome of a LiquidationCheck. MarginFees is capped
// at the remaining collateral when fees alone exceed it.
type Liquidation struct {
	State      LiquidationState
	MarginFees fpmath.Uint
	Reason     error
}

// EvaluateLiquidation classifies a position. Reason names the first
// failed condition and is nil for a healthy position.
func EvaluateLiquidation(c LiquidationCheck) (Liquidation, error) {
	minBps := MinProfitBps(c.LastIncreasedTime, c.Now, c.MinProfitTime, c.MinProfitBps)
	hasProfit, delta, err := PositionDelta(c.Price, c.Size, c.AveragePrice, c.IsLong, minBps)
	if err != nil {
		return Liquidation{}, err
	}

	fees := MarginFees(c.Size, c.FundingFee, c.MarginFeeBps)

	if !hasProfit && c.Collateral.LT(delta) {
		return Liquidation{State: Liquidatable, MarginFees: fees, Reason: ErrLossesExceedCollateral}, nil
	}

	remaining := c.Collateral
	if !hasProfit {
		remaining = c.Collateral.Sub(delta)
	}

	if remaining.LT(fees) {
		return Liquidation{State: Liquidatable, MarginFees: remaining, Reason: ErrFeesExceedCollateral}, nil
	}
	if remaining.LTE(fees.Add(c.LiquidationFeeUSD)) {
		return Liquidation{State: Liquidatable, MarginFees: fees, Reason: ErrLiquidationFeesExceedCollateral}, nil
	}
	if remaining.Mul(fpmath.NewUint(c.MaxLeverageBps)).LT(c.Size.Mul(BasisPointsDivisor)) {
		return Liquidation{State: MaxLeverageExceeded, MarginFees: fees, Reason: ErrMaxLeverageExceeded}, nil
	}
	return Liquidation{State: Healthy, MarginFees: fees}, nil
}
