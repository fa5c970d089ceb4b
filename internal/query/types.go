package query

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Amounts are rendered as decimal strings: USD values and prices at 30
// decimals, token amounts at the asset's own decimals.

// AssetResponse is the pool state of one whitelisted asset.
type AssetResponse struct {
	Asset                   string          `json:"asset"`
	Decimals                uint8           `json:"decimals"`
	IsStable                bool            `json:"is_stable"`
	IsShortable             bool            `json:"is_shortable"`
	Weight                  uint64          `json:"weight"`
	MinProfitBps            uint64          `json:"min_profit_bps"`
	PoolAmount              decimal.Decimal `json:"pool_amount"`
	ReservedAmount          decimal.Decimal `json:"reserved_amount"`
	FeeReserves             decimal.Decimal `json:"fee_reserves"`
	DebtTokenAmount         decimal.Decimal `json:"debt_token_amount"`
	MaxDebtTokenAmount      decimal.Decimal `json:"max_debt_token_amount"`
	GuaranteedUSD           decimal.Decimal `json:"guaranteed_usd"`
	GlobalShortSize         decimal.Decimal `json:"global_short_size"`
	GlobalShortAveragePrice decimal.Decimal `json:"global_short_average_price"`
	CumulativeFundingRate   string          `json:"cumulative_funding_rate"`
	LastFundingTime         int64           `json:"last_funding_time"`
	RedemptionCollateralUSD decimal.Decimal `json:"redemption_collateral_usd"`
	AsOfSequence            int64           `json:"as_of_sequence"`
}

// PositionResponse is a position with values derived at query time from
// the current oracle prices.
type PositionResponse struct {
	Owner             string          `json:"owner"`
	Collateral        string          `json:"collateral"`
	Index             string          `json:"index"`
	Side              string          `json:"side"`
	SizeUSD           decimal.Decimal `json:"size_usd"`
	CollateralUSD     decimal.Decimal `json:"collateral_usd"`
	AveragePrice      decimal.Decimal `json:"average_price"`
	EntryFundingRate  string          `json:"entry_funding_rate"`
	ReserveAmount     decimal.Decimal `json:"reserve_amount"`
	RealisedPnL       decimal.Decimal `json:"realised_pnl"`
	LastIncreasedTime int64           `json:"last_increased_time"`
	Version           int64           `json:"version"`

	// Derived at query time
	HasProfit        bool            `json:"has_profit"`
	DeltaUSD         decimal.Decimal `json:"delta_usd"`
	LeverageBps      uint64          `json:"leverage_bps"`
	LiquidationState string          `json:"liquidation_state"`
	AsOfSequence     int64           `json:"as_of_sequence"`
}

type AUMResponse struct {
	MaxUSD       decimal.Decimal `json:"max_usd"`
	MinUSD       decimal.Decimal `json:"min_usd"`
	MaxDebtToken decimal.Decimal `json:"max_debt_token"`
	MinDebtToken decimal.Decimal `json:"min_debt_token"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// ShortDeltaResponse is the aggregate PnL of open shorts on an index
// asset, from the traders' side: HasProfit means shorts are winning.
type ShortDeltaResponse struct {
	Asset        string          `json:"asset"`
	Size         decimal.Decimal `json:"size"`
	AveragePrice decimal.Decimal `json:"average_price"`
	HasProfit    bool            `json:"has_profit"`
	DeltaUSD     decimal.Decimal `json:"delta_usd"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// EventResponse is one row of the persisted event log.
type EventResponse struct {
	Sequence   int64           `json:"sequence"`
	EventID    uuid.UUID       `json:"event_id"`
	Operation  string          `json:"operation"`
	Caller     string          `json:"caller"`
	EventTypes []string        `json:"event_types"`
	Events     json.RawMessage `json:"events"`
	StateHash  string          `json:"state_hash"`
	Timestamp  time.Time       `json:"timestamp"`
}

// HistoryResponse is one step of a position's lifecycle.
type HistoryResponse struct {
	Sequence           int64            `json:"sequence"`
	Kind               string           `json:"kind"`
	Owner              string           `json:"owner"`
	Collateral         string           `json:"collateral"`
	Index              string           `json:"index"`
	Side               string           `json:"side"`
	SizeDeltaUSD       decimal.Decimal  `json:"size_delta_usd"`
	CollateralDeltaUSD decimal.Decimal  `json:"collateral_delta_usd"`
	Price              decimal.Decimal  `json:"price"`
	FeeUSD             decimal.Decimal  `json:"fee_usd"`
	RealisedPnL        *decimal.Decimal `json:"realised_pnl,omitempty"`
	Closed             bool             `json:"closed"`
	Timestamp          time.Time        `json:"timestamp"`
}
