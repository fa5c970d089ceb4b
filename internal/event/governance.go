package event

import (
	"time"

	"PerpVault/internal/auth"
	fpmath "PerpVault/internal/math"
	"PerpVault/internal/registry"
)

type SetAssetConfig struct {
	Asset              registry.Asset `json:"asset"`
	Decimals           uint8          `json:"decimals"`
	Weight             uint64         `json:"weight"`
	MinProfitBps       uint64         `json:"min_profit_bps"`
	MaxDebtTokenAmount fpmath.Uint    `json:"max_debt_token_amount"`
	IsStable           bool           `json:"is_stable"`
	IsShortable        bool           `json:"is_shortable"`
	Added              bool           `json:"added"`
}

func (e *SetAssetConfig) EventType() EventType {
	return EventTypeSetAssetConfig
}

type ClearAssetConfig struct {
	Asset registry.Asset `json:"asset"`
}

func (e *ClearAssetConfig) EventType() EventType {
	return EventTypeClearAssetConfig
}

type SetFees struct {
	TaxBps            uint64        `json:"tax_bps"`
	StableTaxBps      uint64        `json:"stable_tax_bps"`
	MintBurnFeeBps    uint64        `json:"mint_burn_fee_bps"`
	SwapFeeBps        uint64        `json:"swap_fee_bps"`
	StableSwapFeeBps  uint64        `json:"stable_swap_fee_bps"`
	MarginFeeBps      uint64        `json:"margin_fee_bps"`
	LiquidationFeeUSD fpmath.Uint   `json:"liquidation_fee_usd"`
	MinProfitTime     time.Duration `json:"min_profit_time"`
	HasDynamicFees    bool          `json:"has_dynamic_fees"`
}

func (e *SetFees) EventType() EventType {
	return EventTypeSetFees
}

type SetFundingRate struct {
	Interval         time.Duration `json:"interval"`
	RateFactor       uint64        `json:"rate_factor"`
	StableRateFactor uint64        `json:"stable_rate_factor"`
}

func (e *SetFundingRate) EventType() EventType {
	return EventTypeSetFundingRate
}

type SetMaxLeverage struct {
	MaxLeverageBps uint64 `json:"max_leverage_bps"`
}

func (e *SetMaxLeverage) EventType() EventType {
	return EventTypeSetMaxLeverage
}

type SetMaxGlobalShortSize struct {
	Asset   registry.Asset `json:"asset"`
	MaxSize fpmath.Uint    `json:"max_size_usd"`
}

func (e *SetMaxGlobalShortSize) EventType() EventType {
	return EventTypeSetMaxGlobalShortSize
}

type SetLiquidator struct {
	Liquidator auth.Identity `json:"liquidator"`
	IsActive   bool          `json:"is_active"`
}

func (e *SetLiquidator) EventType() EventType {
	return EventTypeSetLiquidator
}

type SetPrivateLiquidationMode struct {
	Enabled bool `json:"enabled"`
}

func (e *SetPrivateLiquidationMode) EventType() EventType {
	return EventTypeSetPrivateLiquidationMode
}
