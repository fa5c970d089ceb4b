package state

import (
	"encoding/binary"
	"fmt"

	"PerpVault/internal/auth"
	fpmath "PerpVault/internal/math"
	"PerpVault/internal/registry"
)

// PositionKey identifies a position. One owner may hold a long and a
// short on the same index asset, and positions with different collateral
// assets are independent.
type PositionKey struct {
	Owner      auth.Identity
	Collateral registry.Asset
	Index      registry.Asset
	IsLong     bool
}

func (k PositionKey) Side() string {
	if k.IsLong {
		return "long"
	}
	return "short"
}

func (k PositionKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.Owner, k.Collateral, k.Index, k.Side())
}

// Position is a collateralized leveraged position. USD fields carry 30
// decimals; ReserveAmount is in collateral-asset native units.
type Position struct {
	Key               PositionKey `json:"key"`
	SizeUSD           fpmath.Uint `json:"size_usd"`
	CollateralUSD     fpmath.Uint `json:"collateral_usd"`
	AveragePrice      fpmath.Uint `json:"average_price"`
	EntryFundingRate  fpmath.Uint `json:"entry_funding_rate"`
	ReserveAmount     fpmath.Uint `json:"reserve_amount"`
	RealisedPnL       fpmath.Int  `json:"realised_pnl"`
	LastIncreasedTime int64       `json:"last_increased_time"`
	Version           int64       `json:"version"`
}

// IsOpen reports whether the position has exposure. A zero-size position
// is equivalent to an absent one.
func (p *Position) IsOpen() bool {
	return !p.SizeUSD.IsZero()
}

// HasProfit is the sign of realised PnL; zero counts as profit.
func (p *Position) HasProfit() bool {
	return !p.RealisedPnL.IsNegative()
}

// Leverage returns size/collateral in basis points.
func (p *Position) Leverage() (uint64, error) {
	if p.CollateralUSD.IsZero() {
		return 0, fmt.Errorf("position %s has no collateral", p.Key)
	}
	lev := p.SizeUSD.MulDiv(fpmath.NewUint(registry.BasisPointsDivisor), p.CollateralUSD)
	if !lev.IsUint64() {
		return 0, fmt.Errorf("position %s leverage overflows", p.Key)
	}
	return lev.Uint64(), nil
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 256)

	buf = append(buf, byte(p.Key.Owner.Kind))
	buf = append(buf, p.Key.Owner.ID[:]...)
	buf = appendString(buf, string(p.Key.Collateral))
	buf = appendString(buf, string(p.Key.Index))
	if p.Key.IsLong {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	for _, v := range []fpmath.Uint{
		p.SizeUSD,
		p.CollateralUSD,
		p.AveragePrice,
		p.EntryFundingRate,
		p.ReserveAmount,
		p.RealisedPnL.Mag,
	} {
		b := v.Bytes()
		buf = append(buf, b[:]...)
	}
	if p.RealisedPnL.Neg {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.LastIncreasedTime))
	return buf
}

func appendString(buf []byte, s string) []byte {
	buf = append(buf, byte(len(s)))
	return append(buf, s...)
}
