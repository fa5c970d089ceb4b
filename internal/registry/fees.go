package registry

import (
	"fmt"
	"time"

	fpmath "PerpVault/internal/math"
)

const (
	BasisPointsDivisor = 10_000

	// MaxFeeBps caps every configurable fee rate at 5%.
	MaxFeeBps = 500

	MinFundingInterval = time.Hour
	MaxFundingFactor   = 10_000

	// MinLeverageBps is 1x; the configured maximum must exceed it.
	MinLeverageBps     = 10_000
	DefaultLeverageBps = 50 * 10_000
)

// USD amounts carry 30 decimals.
const USDDecimals = 30

var (
	MaxLiquidationFeeUSD     = fpmath.ExpandDecimals(100, USDDecimals)
	DefaultLiquidationFeeUSD = fpmath.ExpandDecimals(5, USDDecimals)
)

// FeeConfig holds the vault fee schedule in basis points.
type FeeConfig struct {
	TaxBps            uint64
	StableTaxBps      uint64
	MintBurnFeeBps    uint64
	SwapFeeBps        uint64
	StableSwapFeeBps  uint64
	MarginFeeBps      uint64
	LiquidationFeeUSD fpmath.Uint
	MinProfitTime     time.Duration
	HasDynamicFees    bool
}

func DefaultFeeConfig() FeeConfig {
	return FeeConfig{
		TaxBps:            50,
		StableTaxBps:      20,
		MintBurnFeeBps:    30,
		SwapFeeBps:        30,
		StableSwapFeeBps:  4,
		MarginFeeBps:      10,
		LiquidationFeeUSD: DefaultLiquidationFeeUSD,
	}
}

// ValidateFeeConfig checks every rate against MaxFeeBps and the flat
// liquidation fee against MaxLiquidationFeeUSD.
func ValidateFeeConfig(f FeeConfig) error {
	rates := []struct {
		name string
		bps  uint64
	}{
		{"tax_bps", f.TaxBps},
		{"stable_tax_bps", f.StableTaxBps},
		{"mint_burn_fee_bps", f.MintBurnFeeBps},
		{"swap_fee_bps", f.SwapFeeBps},
		{"stable_swap_fee_bps", f.StableSwapFeeBps},
		{"margin_fee_bps", f.MarginFeeBps},
	}
	for _, r := range rates {
		if r.bps > MaxFeeBps {
			return fmt.Errorf("%w: %s=%d exceeds %d", ErrInvalidFee, r.name, r.bps, MaxFeeBps)
		}
	}
	if f.LiquidationFeeUSD.GT(MaxLiquidationFeeUSD) {
		return fmt.Errorf("%w: liquidation_fee_usd=%s exceeds %s", ErrInvalidFee, f.LiquidationFeeUSD, MaxLiquidationFeeUSD)
	}
	if f.MinProfitTime < 0 {
		return fmt.Errorf("%w: negative min_profit_time %s", ErrInvalidFee, f.MinProfitTime)
	}
	return nil
}

// FundingConfig controls lazy funding-rate accrual.
type FundingConfig struct {
	Interval         time.Duration
	RateFactor       uint64
	StableRateFactor uint64
}

func DefaultFundingConfig() FundingConfig {
	return FundingConfig{
		Interval:         8 * time.Hour,
		RateFactor:       600,
		StableRateFactor: 600,
	}
}

func ValidateFundingConfig(f FundingConfig) error {
	if f.Interval < MinFundingInterval {
		return fmt.Errorf("%w: funding interval %s below %s", ErrInvalidConfig, f.Interval, MinFundingInterval)
	}
	if f.RateFactor > MaxFundingFactor {
		return fmt.Errorf("%w: funding rate factor %d exceeds %d", ErrInvalidConfig, f.RateFactor, MaxFundingFactor)
	}
	if f.StableRateFactor > MaxFundingFactor {
		return fmt.Errorf("%w: stable funding rate factor %d exceeds %d", ErrInvalidConfig, f.StableRateFactor, MaxFundingFactor)
	}
	return nil
}
