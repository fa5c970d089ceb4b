package query

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"PerpVault/internal/auth"
	"PerpVault/internal/ledger"
	fpmath "PerpVault/internal/math"
	"PerpVault/internal/persistence"
	"PerpVault/internal/pricing"
	"PerpVault/internal/projection"
	"PerpVault/internal/registry"
	"PerpVault/internal/state"

	"github.com/shopspring/decimal"
)

// MaxEventsPage bounds one event log read.
const MaxEventsPage = 500

var (
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("not available")
)

// VaultReader is the read surface of the vault.
type VaultReader interface {
	Sequence() int64
	Asset(asset registry.Asset) ledger.AssetState
	AssetConfig(asset registry.Asset) (registry.AssetConfig, bool)
	Whitelisted() []registry.AssetConfig
	Positions() []state.Position
	Position(owner auth.Identity, collateral, index registry.Asset, isLong bool) state.Position
	PositionDelta(owner auth.Identity, collateral, index registry.Asset, isLong bool) (bool, fpmath.Uint, error)
	LiquidationState(owner auth.Identity, collateral, index registry.Asset, isLong bool) (pricing.Liquidation, error)
	GlobalShortDelta(index registry.Asset) (bool, fpmath.Uint, error)
	AUM(maximise bool) (fpmath.Uint, error)
	AUMInDebtToken(maximise bool) (fpmath.Uint, error)
	RedemptionCollateralUSD(asset registry.Asset) (fpmath.Uint, error)
	DebtTokenDecimals() uint8
}

// HistoryLog reads the position history projection.
type HistoryLog interface {
	History(ctx context.Context, owner auth.Identity, limit int) ([]projection.Entry, error)
}

// EventLog reads the persisted event log.
type EventLog interface {
	LoadEventsFrom(ctx context.Context, from int64, limit int) ([]persistence.EventRow, error)
}

// Service answers read queries from the live vault. Every response
// carries the sequence it was read at; reads that touch several fields
// take the sequence first, so a response is never older than its
// as_of_sequence.
type Service struct {
	vault VaultReader
	// events and history are nil when persistence is disabled.
	events  EventLog
	history HistoryLog
}

func NewService(vault VaultReader, events EventLog) *Service {
	return &Service{vault: vault, events: events}
}

// WithHistory enables PositionHistory.
func (s *Service) WithHistory(h HistoryLog) *Service {
	s.history = h
	return s
}

func usdDecimal(u fpmath.Uint) decimal.Decimal {
	return u.ToDecimal(registry.USDDecimals)
}

func signedUSD(i fpmath.Int) decimal.Decimal {
	d := usdDecimal(i.Mag)
	if i.IsNegative() {
		return d.Neg()
	}
	return d
}

func (s *Service) Asset(ctx context.Context, asset registry.Asset) (*AssetResponse, error) {
	asOf := s.vault.Sequence()
	cfg, ok := s.vault.AssetConfig(asset)
	if !ok {
		return nil, fmt.Errorf("%w: asset %s", ErrNotFound, asset)
	}
	st := s.vault.Asset(asset)

	redemption, err := s.vault.RedemptionCollateralUSD(asset)
	if err != nil {
		return nil, err
	}

	debtDec := s.vault.DebtTokenDecimals()
	return &AssetResponse{
		Asset:                   string(asset),
		Decimals:                cfg.Decimals,
		IsStable:                cfg.IsStable,
		IsShortable:             cfg.IsShortable,
		Weight:                  cfg.Weight,
		MinProfitBps:            cfg.MinProfitBps,
		PoolAmount:              st.PoolAmount.ToDecimal(cfg.Decimals),
		ReservedAmount:          st.ReservedAmount.ToDecimal(cfg.Decimals),
		FeeReserves:             st.FeeReserves.ToDecimal(cfg.Decimals),
		DebtTokenAmount:         st.DebtTokenAmount.ToDecimal(debtDec),
		MaxDebtTokenAmount:      cfg.MaxDebtTokenAmount.ToDecimal(debtDec),
		GuaranteedUSD:           usdDecimal(st.GuaranteedUSD),
		GlobalShortSize:         usdDecimal(st.GlobalShortSize),
		GlobalShortAveragePrice: usdDecimal(st.GlobalShortAveragePrice),
		CumulativeFundingRate:   st.CumulativeFundingRate.String(),
		LastFundingTime:         st.LastFundingTime,
		RedemptionCollateralUSD: usdDecimal(redemption),
		AsOfSequence:            asOf,
	}, nil
}

// Assets lists every whitelisted asset.
func (s *Service) Assets(ctx context.Context) ([]*AssetResponse, error) {
	configs := s.vault.Whitelisted()
	out := make([]*AssetResponse, 0, len(configs))
	for _, cfg := range configs {
		a, err := s.Asset(ctx, cfg.Asset)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Service) Position(ctx context.Context, key state.PositionKey) (*PositionResponse, error) {
	asOf := s.vault.Sequence()
	pos := s.vault.Position(key.Owner, key.Collateral, key.Index, key.IsLong)
	if !pos.IsOpen() {
		return nil, fmt.Errorf("%w: position %s", ErrNotFound, key)
	}
	return s.derive(pos, asOf)
}

// Positions lists the open positions of owner.
func (s *Service) Positions(ctx context.Context, owner auth.Identity) ([]*PositionResponse, error) {
	asOf := s.vault.Sequence()
	out := []*PositionResponse{}
	for _, pos := range s.vault.Positions() {
		if pos.Key.Owner != owner {
			continue
		}
		resp, err := s.derive(pos, asOf)
		if err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
	return out, nil
}

func (s *Service) derive(pos state.Position, asOf int64) (*PositionResponse, error) {
	k := pos.Key
	hasProfit, delta, err := s.vault.PositionDelta(k.Owner, k.Collateral, k.Index, k.IsLong)
	if err != nil {
		return nil, fmt.Errorf("position delta: %w", err)
	}
	liq, err := s.vault.LiquidationState(k.Owner, k.Collateral, k.Index, k.IsLong)
	if err != nil {
		return nil, fmt.Errorf("liquidation state: %w", err)
	}
	leverage, err := pos.Leverage()
	if err != nil {
		return nil, err
	}

	var reserve decimal.Decimal
	if cfg, ok := s.vault.AssetConfig(k.Collateral); ok {
		reserve = pos.ReserveAmount.ToDecimal(cfg.Decimals)
	} else {
		reserve = decimal.NewFromBigInt(pos.ReserveAmount.BigInt(), 0)
	}

	realised := signedUSD(pos.RealisedPnL)

	return &PositionResponse{
		Owner:             k.Owner.String(),
		Collateral:        string(k.Collateral),
		Index:             string(k.Index),
		Side:              k.Side(),
		SizeUSD:           usdDecimal(pos.SizeUSD),
		CollateralUSD:     usdDecimal(pos.CollateralUSD),
		AveragePrice:      usdDecimal(pos.AveragePrice),
		EntryFundingRate:  pos.EntryFundingRate.String(),
		ReserveAmount:     reserve,
		RealisedPnL:       realised,
		LastIncreasedTime: pos.LastIncreasedTime,
		Version:           pos.Version,
		HasProfit:         hasProfit,
		DeltaUSD:          usdDecimal(delta),
		LeverageBps:       leverage,
		LiquidationState:  liq.State.String(),
		AsOfSequence:      asOf,
	}, nil
}

func (s *Service) AUM(ctx context.Context) (*AUMResponse, error) {
	asOf := s.vault.Sequence()
	maxUSD, err := s.vault.AUM(true)
	if err != nil {
		return nil, err
	}
	minUSD, err := s.vault.AUM(false)
	if err != nil {
		return nil, err
	}
	maxDebt, err := s.vault.AUMInDebtToken(true)
	if err != nil {
		return nil, err
	}
	minDebt, err := s.vault.AUMInDebtToken(false)
	if err != nil {
		return nil, err
	}

	dec := s.vault.DebtTokenDecimals()
	return &AUMResponse{
		MaxUSD:       usdDecimal(maxUSD),
		MinUSD:       usdDecimal(minUSD),
		MaxDebtToken: maxDebt.ToDecimal(dec),
		MinDebtToken: minDebt.ToDecimal(dec),
		AsOfSequence: asOf,
	}, nil
}

func (s *Service) GlobalShortDelta(ctx context.Context, index registry.Asset) (*ShortDeltaResponse, error) {
	asOf := s.vault.Sequence()
	if _, ok := s.vault.AssetConfig(index); !ok {
		return nil, fmt.Errorf("%w: asset %s", ErrNotFound, index)
	}
	st := s.vault.Asset(index)
	hasProfit, delta, err := s.vault.GlobalShortDelta(index)
	if err != nil {
		return nil, err
	}
	return &ShortDeltaResponse{
		Asset:        string(index),
		Size:         usdDecimal(st.GlobalShortSize),
		AveragePrice: usdDecimal(st.GlobalShortAveragePrice),
		HasProfit:    hasProfit,
		DeltaUSD:     usdDecimal(delta),
		AsOfSequence: asOf,
	}, nil
}

// Events pages through the persisted event log from sequence from.
func (s *Service) Events(ctx context.Context, from int64, limit int) ([]*EventResponse, error) {
	if s.events == nil {
		return nil, fmt.Errorf("%w: event log is not configured", ErrUnavailable)
	}
	if limit <= 0 || limit > MaxEventsPage {
		limit = MaxEventsPage
	}
	rows, err := s.events.LoadEventsFrom(ctx, from, limit)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	out := make([]*EventResponse, len(rows))
	for i, r := range rows {
		out[i] = &EventResponse{
			Sequence:   r.Sequence,
			EventID:    r.EventID,
			Operation:  r.Operation,
			Caller:     r.Caller,
			EventTypes: r.EventTypes,
			Events:     r.Payload,
			StateHash:  hex.EncodeToString(r.StateHash),
			Timestamp:  r.Timestamp,
		}
	}
	return out, nil
}

// PositionHistory returns owner's position lifecycle, newest first. The
// projection trails the vault, so it carries no as_of_sequence.
func (s *Service) PositionHistory(ctx context.Context, owner auth.Identity, limit int) ([]*HistoryResponse, error) {
	if s.history == nil {
		return nil, fmt.Errorf("%w: position history is not configured", ErrUnavailable)
	}
	entries, err := s.history.History(ctx, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	out := make([]*HistoryResponse, len(entries))
	for i, e := range entries {
		side := "short"
		if e.IsLong {
			side = "long"
		}
		h := &HistoryResponse{
			Sequence:           e.Sequence,
			Kind:               e.Kind.String(),
			Owner:              e.Owner.String(),
			Collateral:         string(e.Collateral),
			Index:              string(e.Index),
			Side:               side,
			SizeDeltaUSD:       usdDecimal(e.SizeDelta),
			CollateralDeltaUSD: usdDecimal(e.CollateralDelta),
			Price:              usdDecimal(e.Price),
			FeeUSD:             usdDecimal(e.Fee),
			Closed:             e.Closed,
			Timestamp:          e.Timestamp,
		}
		if e.RealisedPnL != nil {
			pnl := signedUSD(*e.RealisedPnL)
			h.RealisedPnL = &pnl
		}
		out[i] = h
	}
	return out, nil
}
