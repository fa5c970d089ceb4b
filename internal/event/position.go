package event

import (
	"PerpVault/internal/auth"
	fpmath "PerpVault/internal/math"
	"PerpVault/internal/registry"
)

// PositionRef identifies the position an event refers to.
type PositionRef struct {
	Owner      auth.Identity  `json:"owner"`
	Collateral registry.Asset `json:"collateral"`
	Index      registry.Asset `json:"index"`
	IsLong     bool           `json:"is_long"`
}

type IncreasePosition struct {
	PositionRef
	CollateralDelta fpmath.Uint `json:"collateral_delta_usd"`
	SizeDelta       fpmath.Uint `json:"size_delta_usd"`
	Price           fpmath.Uint `json:"price"`
	Fee             fpmath.Uint `json:"fee_usd"`
}

func (e *IncreasePosition) EventType() EventType {
	return EventTypeIncreasePosition
}

type DecreasePosition struct {
	PositionRef
	CollateralDelta fpmath.Uint `json:"collateral_delta_usd"`
	SizeDelta       fpmath.Uint `json:"size_delta_usd"`
	Price           fpmath.Uint `json:"price"`
	Fee             fpmath.Uint `json:"fee_usd"`
	// AmountOut is paid to Receiver in collateral units.
	AmountOut fpmath.Uint   `json:"amount_out"`
	Receiver  auth.Identity `json:"receiver"`
}

func (e *DecreasePosition) EventType() EventType {
	return EventTypeDecreasePosition
}

// UpdatePosition carries the position state after an increase or a
// partial decrease.
type UpdatePosition struct {
	PositionRef
	Size             fpmath.Uint `json:"size_usd"`
	Collateral       fpmath.Uint `json:"collateral_usd"`
	AveragePrice     fpmath.Uint `json:"average_price"`
	EntryFundingRate fpmath.Uint `json:"entry_funding_rate"`
	ReserveAmount    fpmath.Uint `json:"reserve_amount"`
	RealisedPnL      fpmath.Int  `json:"realised_pnl"`
	MarkPrice        fpmath.Uint `json:"mark_price"`
}

func (e *UpdatePosition) EventType() EventType {
	return EventTypeUpdatePosition
}

// ClosePosition carries the final state of a fully closed position.
type ClosePosition struct {
	PositionRef
	Size             fpmath.Uint `json:"size_usd"`
	Collateral       fpmath.Uint `json:"collateral_usd"`
	AveragePrice     fpmath.Uint `json:"average_price"`
	EntryFundingRate fpmath.Uint `json:"entry_funding_rate"`
	ReserveAmount    fpmath.Uint `json:"reserve_amount"`
	RealisedPnL      fpmath.Int  `json:"realised_pnl"`
}

func (e *ClosePosition) EventType() EventType {
	return EventTypeClosePosition
}

type LiquidatePosition struct {
	PositionRef
	Size          fpmath.Uint   `json:"size_usd"`
	Collateral    fpmath.Uint   `json:"collateral_usd"`
	ReserveAmount fpmath.Uint   `json:"reserve_amount"`
	RealisedPnL   fpmath.Int    `json:"realised_pnl"`
	MarkPrice     fpmath.Uint   `json:"mark_price"`
	FeeReceiver   auth.Identity `json:"fee_receiver"`
	// LiquidationFee is paid to FeeReceiver in collateral units.
	LiquidationFee fpmath.Uint `json:"liquidation_fee"`
}

func (e *LiquidatePosition) EventType() EventType {
	return EventTypeLiquidatePosition
}
