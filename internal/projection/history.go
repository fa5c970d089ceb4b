package projection

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"PerpVault/internal/event"
	fpmath "PerpVault/internal/math"
	"PerpVault/internal/persistence"
)

// Entry is one position lifecycle step: an increase, a decrease or a
// liquidation. All USD values carry 30 decimals.
type Entry struct {
	Sequence int64
	// Idx orders entries within one operation.
	Idx  int
	Kind event.EventType
	event.PositionRef
	SizeDelta       fpmath.Uint
	CollateralDelta fpmath.Uint
	Price           fpmath.Uint
	Fee             fpmath.Uint
	// RealisedPnL is the position's cumulative realised PnL after the
	// step. Nil for increases.
	RealisedPnL *fpmath.Int
	Closed      bool
	Timestamp   time.Time
}

type record struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EntriesFromRow extracts the position history of one logged operation.
// Operations that touch no position yield nothing.
func EntriesFromRow(row persistence.EventRow) ([]Entry, error) {
	var records []record
	if err := json.Unmarshal(row.Payload, &records); err != nil {
		return nil, fmt.Errorf("decode seq=%d payload: %w", row.Sequence, err)
	}

	var entries []Entry
	last := make(map[event.PositionRef]int)
	for _, r := range records {
		e := Entry{Sequence: row.Sequence, Idx: len(entries), Timestamp: row.Timestamp}
		switch r.Type {
		case event.EventTypeIncreasePosition.String():
			var ev event.IncreasePosition
			if err := json.Unmarshal(r.Data, &ev); err != nil {
				return nil, decodeErr(row, r, err)
			}
			e.Kind = event.EventTypeIncreasePosition
			e.PositionRef = ev.PositionRef
			e.SizeDelta, e.CollateralDelta, e.Price, e.Fee = ev.SizeDelta, ev.CollateralDelta, ev.Price, ev.Fee

		case event.EventTypeDecreasePosition.String():
			var ev event.DecreasePosition
			if err := json.Unmarshal(r.Data, &ev); err != nil {
				return nil, decodeErr(row, r, err)
			}
			e.Kind = event.EventTypeDecreasePosition
			e.PositionRef = ev.PositionRef
			e.SizeDelta, e.CollateralDelta, e.Price, e.Fee = ev.SizeDelta, ev.CollateralDelta, ev.Price, ev.Fee

		case event.EventTypeLiquidatePosition.String():
			var ev event.LiquidatePosition
			if err := json.Unmarshal(r.Data, &ev); err != nil {
				return nil, decodeErr(row, r, err)
			}
			pnl := ev.RealisedPnL
			e.Kind = event.EventTypeLiquidatePosition
			e.PositionRef = ev.PositionRef
			e.SizeDelta, e.CollateralDelta, e.Price = ev.Size, ev.Collateral, ev.MarkPrice
			e.RealisedPnL = &pnl
			e.Closed = true

		// Update and Close follow the decrease they describe.
		case event.EventTypeUpdatePosition.String(), event.EventTypeClosePosition.String():
			var ev struct {
				event.PositionRef
				RealisedPnL fpmath.Int `json:"realised_pnl"`
			}
			if err := json.Unmarshal(r.Data, &ev); err != nil {
				return nil, decodeErr(row, r, err)
			}
			i, ok := last[ev.PositionRef]
			if !ok || entries[i].Kind != event.EventTypeDecreasePosition {
				continue
			}
			pnl := ev.RealisedPnL
			entries[i].RealisedPnL = &pnl
			entries[i].Closed = r.Type == event.EventTypeClosePosition.String()
			continue

		default:
			continue
		}
		last[e.PositionRef] = len(entries)
		entries = append(entries, e)
	}
	return entries, nil
}

func decodeErr(row persistence.EventRow, r record, err error) error {
	return fmt.Errorf("decode seq=%d %s: %w", row.Sequence, r.Type, err)
}

func parseInt(s string) (fpmath.Int, error) {
	neg := strings.HasPrefix(s, "-")
	mag, err := fpmath.UintFromString(strings.TrimPrefix(s, "-"))
	if err != nil {
		return fpmath.Int{}, err
	}
	return fpmath.NewInt(mag, neg), nil
}
