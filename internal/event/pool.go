package event

import (
	"PerpVault/internal/auth"
	fpmath "PerpVault/internal/math"
	"PerpVault/internal/registry"
)

type UpdateFundingRate struct {
	Asset                 registry.Asset `json:"asset"`
	CumulativeFundingRate fpmath.Uint    `json:"cumulative_funding_rate"`
	LastFundingTime       int64          `json:"last_funding_time"`
}

func (e *UpdateFundingRate) EventType() EventType {
	return EventTypeUpdateFundingRate
}

// CollectMarginFees records fees moved into an asset's fee reserves.
type CollectMarginFees struct {
	Asset     registry.Asset `json:"asset"`
	FeeUSD    fpmath.Uint    `json:"fee_usd"`
	FeeTokens fpmath.Uint    `json:"fee_tokens"`
}

func (e *CollectMarginFees) EventType() EventType {
	return EventTypeCollectMarginFees
}

type BuyDebtToken struct {
	Asset       registry.Asset `json:"asset"`
	Receiver    auth.Identity  `json:"receiver"`
	AssetAmount fpmath.Uint    `json:"asset_amount"`
	DebtAmount  fpmath.Uint    `json:"debt_amount"`
	FeeBps      uint64         `json:"fee_bps"`
	FeeAmount   fpmath.Uint    `json:"fee_amount"`
}

func (e *BuyDebtToken) EventType() EventType {
	return EventTypeBuyDebtToken
}

type SellDebtToken struct {
	Asset       registry.Asset `json:"asset"`
	Receiver    auth.Identity  `json:"receiver"`
	DebtAmount  fpmath.Uint    `json:"debt_amount"`
	AssetAmount fpmath.Uint    `json:"asset_amount"`
	FeeBps      uint64         `json:"fee_bps"`
	FeeAmount   fpmath.Uint    `json:"fee_amount"`
}

func (e *SellDebtToken) EventType() EventType {
	return EventTypeSellDebtToken
}

type WithdrawFees struct {
	Asset    registry.Asset `json:"asset"`
	Receiver auth.Identity  `json:"receiver"`
	Amount   fpmath.Uint    `json:"amount"`
}

func (e *WithdrawFees) EventType() EventType {
	return EventTypeWithdrawFees
}
