package event

import (
	"encoding/json"
	"time"

	"PerpVault/internal/auth"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeIncreasePosition
	EventTypeDecreasePosition
	EventTypeUpdatePosition
	EventTypeClosePosition
	EventTypeLiquidatePosition
	EventTypeUpdateFundingRate
	EventTypeCollectMarginFees
	EventTypeBuyDebtToken
	EventTypeSellDebtToken
	EventTypeWithdrawFees
	EventTypeSetAssetConfig
	EventTypeClearAssetConfig
	EventTypeSetFees
	EventTypeSetFundingRate
	EventTypeSetMaxLeverage
	EventTypeSetMaxGlobalShortSize
	EventTypeSetLiquidator
	EventTypeSetPrivateLiquidationMode
)

var eventTypeNames = map[EventType]string{
	EventTypeIncreasePosition:          "IncreasePosition",
	EventTypeDecreasePosition:          "DecreasePosition",
	EventTypeUpdatePosition:            "UpdatePosition",
	EventTypeClosePosition:             "ClosePosition",
	EventTypeLiquidatePosition:         "LiquidatePosition",
	EventTypeUpdateFundingRate:         "UpdateFundingRate",
	EventTypeCollectMarginFees:         "CollectMarginFees",
	EventTypeBuyDebtToken:              "BuyDebtToken",
	EventTypeSellDebtToken:             "SellDebtToken",
	EventTypeWithdrawFees:              "WithdrawFees",
	EventTypeSetAssetConfig:            "SetAssetConfig",
	EventTypeClearAssetConfig:          "ClearAssetConfig",
	EventTypeSetFees:                   "SetFees",
	EventTypeSetFundingRate:            "SetFundingRate",
	EventTypeSetMaxLeverage:            "SetMaxLeverage",
	EventTypeSetMaxGlobalShortSize:     "SetMaxGlobalShortSize",
	EventTypeSetLiquidator:             "SetLiquidator",
	EventTypeSetPrivateLiquidationMode: "SetPrivateLiquidationMode",
}

func (et EventType) String() string {
	if name, ok := eventTypeNames[et]; ok {
		return name
	}
	return "Unknown"
}

func (et EventType) MarshalText() ([]byte, error) {
	return []byte(et.String()), nil
}

// Event is the interface all event payloads must implement
type Event interface {
	EventType() EventType
}

// Envelope wraps the outcome of one committed vault operation.
type Envelope struct {
	// Sequence is assigned by the vault, gap-free from 1.
	Sequence int64

	EventID uuid.UUID

	// Operation names the vault call, e.g. "IncreasePosition".
	Operation string

	Caller auth.Identity

	// Vault clock at commit, not wall-clock
	Timestamp time.Time

	Events []Event

	// SHA-256 of state AFTER applying this operation
	StateHash [32]byte

	// Previous operation's state hash (chain integrity)
	PrevHash [32]byte
}

type record struct {
	Type EventType `json:"type"`
	Data Event     `json:"data"`
}

// Payload encodes the envelope's events as a JSON array of
// {"type", "data"} records.
func (e *Envelope) Payload() ([]byte, error) {
	out := make([]record, len(e.Events))
	for i, ev := range e.Events {
		out[i] = record{Type: ev.EventType(), Data: ev}
	}
	return json.Marshal(out)
}

// Types lists the distinct event types in emission order.
func (e *Envelope) Types() []EventType {
	seen := make(map[EventType]bool, len(e.Events))
	var types []EventType
	for _, ev := range e.Events {
		t := ev.EventType()
		if !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
	}
	return types
}
