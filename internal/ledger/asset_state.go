package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"

	fpmath "PerpVault/internal/math"
	"PerpVault/internal/registry"
)

var (
	ErrPoolExceedsBalance        = errors.New("pool amount exceeds custody balance")
	ErrPoolAmountExceeded        = errors.New("pool amount exceeded")
	ErrReserveExceedsPool        = errors.New("reserve exceeds pool")
	ErrInsufficientReserve       = errors.New("insufficient reserve")
	ErrInsufficientGuaranteedUSD = errors.New("insufficient guaranteed usd")
	ErrMaxDebtTokenExceeded      = errors.New("max debt token amount exceeded")
	ErrMaxShortsExceeded         = errors.New("max global shorts exceeded")
)

// AssetState is the pool accounting of one asset. Amounts are in the
// asset's native units unless the field name says USD.
type AssetState struct {
	Asset                   registry.Asset `json:"asset"`
	PoolAmount              fpmath.Uint    `json:"pool_amount"`
	ReservedAmount          fpmath.Uint    `json:"reserved_amount"`
	FeeReserves             fpmath.Uint    `json:"fee_reserves"`
	DebtTokenAmount         fpmath.Uint    `json:"debt_token_amount"`
	GuaranteedUSD           fpmath.Uint    `json:"guaranteed_usd"`
	GlobalShortSize         fpmath.Uint    `json:"global_short_size"`
	GlobalShortAveragePrice fpmath.Uint    `json:"global_short_average_price"`
	CumulativeFundingRate   fpmath.Uint    `json:"cumulative_funding_rate"`
	LastFundingTime         int64          `json:"last_funding_time"`
	// TokenBalance is the custody balance last accounted for; the
	// difference to the live balance is an unprocessed transfer-in.
	TokenBalance fpmath.Uint `json:"token_balance"`
}

// IncreasePool adds amount to the pool. The pool may never exceed what
// custody actually holds.
func (s *AssetState) IncreasePool(amount, custodyBalance fpmath.Uint) error {
	next := s.PoolAmount.Add(amount)
	if next.GT(custodyBalance) {
		return fmt.Errorf("%w: %s pool=%s balance=%s", ErrPoolExceedsBalance, s.Asset, next, custodyBalance)
	}
	s.PoolAmount = next
	return nil
}

func (s *AssetState) DecreasePool(amount fpmath.Uint) error {
	if amount.GT(s.PoolAmount) {
		return fmt.Errorf("%w: %s pool=%s amount=%s", ErrPoolAmountExceeded, s.Asset, s.PoolAmount, amount)
	}
	s.PoolAmount = s.PoolAmount.Sub(amount)
	if s.ReservedAmount.GT(s.PoolAmount) {
		return fmt.Errorf("%w: %s reserved=%s pool=%s", ErrReserveExceedsPool, s.Asset, s.ReservedAmount, s.PoolAmount)
	}
	return nil
}

func (s *AssetState) IncreaseReserved(amount fpmath.Uint) error {
	next := s.ReservedAmount.Add(amount)
	if next.GT(s.PoolAmount) {
		return fmt.Errorf("%w: %s reserved=%s pool=%s", ErrReserveExceedsPool, s.Asset, next, s.PoolAmount)
	}
	s.ReservedAmount = next
	return nil
}

func (s *AssetState) DecreaseReserved(amount fpmath.Uint) error {
	if amount.GT(s.ReservedAmount) {
		return fmt.Errorf("%w: %s reserved=%s amount=%s", ErrInsufficientReserve, s.Asset, s.ReservedAmount, amount)
	}
	s.ReservedAmount = s.ReservedAmount.Sub(amount)
	return nil
}

func (s *AssetState) IncreaseGuaranteedUSD(usd fpmath.Uint) {
	s.GuaranteedUSD = s.GuaranteedUSD.Add(usd)
}

func (s *AssetState) DecreaseGuaranteedUSD(usd fpmath.Uint) error {
	if usd.GT(s.GuaranteedUSD) {
		return fmt.Errorf("%w: %s guaranteed=%s amount=%s", ErrInsufficientGuaranteedUSD, s.Asset, s.GuaranteedUSD, usd)
	}
	s.GuaranteedUSD = s.GuaranteedUSD.Sub(usd)
	return nil
}

// IncreaseDebtToken records debt tokens issued against this asset. A zero
// max means uncapped.
func (s *AssetState) IncreaseDebtToken(amount, max fpmath.Uint) error {
	next := s.DebtTokenAmount.Add(amount)
	if !max.IsZero() && next.GT(max) {
		return fmt.Errorf("%w: %s amount=%s max=%s", ErrMaxDebtTokenExceeded, s.Asset, next, max)
	}
	s.DebtTokenAmount = next
	return nil
}

// DecreaseDebtToken floors at zero: debt tokens may be redeemed against an
// asset other than the one they were issued for.
func (s *AssetState) DecreaseDebtToken(amount fpmath.Uint) {
	s.DebtTokenAmount = s.DebtTokenAmount.SubFloor(amount)
}

// IncreaseGlobalShortSize adds usd to open short interest. A zero max
// means uncapped.
func (s *AssetState) IncreaseGlobalShortSize(usd, max fpmath.Uint) error {
	next := s.GlobalShortSize.Add(usd)
	if !max.IsZero() && next.GT(max) {
		return fmt.Errorf("%w: %s size=%s max=%s", ErrMaxShortsExceeded, s.Asset, next, max)
	}
	s.GlobalShortSize = next
	return nil
}

// DecreaseGlobalShortSize floors at zero. The average price is untouched.
func (s *AssetState) DecreaseGlobalShortSize(usd fpmath.Uint) {
	s.GlobalShortSize = s.GlobalShortSize.SubFloor(usd)
}

// CanonicalBytes is the deterministic encoding used by the state hash.
func (s *AssetState) CanonicalBytes() []byte {
	buf := make([]byte, 0, len(s.Asset)+2+9*32+8)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s.Asset)))
	buf = append(buf, s.Asset...)
	for _, v := range []fpmath.Uint{
		s.PoolAmount,
		s.ReservedAmount,
		s.FeeReserves,
		s.DebtTokenAmount,
		s.GuaranteedUSD,
		s.GlobalShortSize,
		s.GlobalShortAveragePrice,
		s.CumulativeFundingRate,
		s.TokenBalance,
	} {
		b := v.Bytes()
		buf = append(buf, b[:]...)
	}
	buf = binary.LittleEndian.AppendUint64(buf, uint64(s.LastFundingTime))
	return buf
}
