package state

import (
	"sort"

	"PerpVault/internal/auth"
	fpmath "PerpVault/internal/math"
	"PerpVault/internal/registry"
)

// PositionBook owns every open position. Writes require a capability
// issued to the vault or its helper.
type PositionBook struct {
	positions map[PositionKey]*Position
}

func NewPositionBook() *PositionBook {
	return &PositionBook{
		positions: make(map[PositionKey]*Position),
	}
}

// Get returns a copy of the position. Absent positions come back as a
// zero position carrying the key.
func (b *PositionBook) Get(key PositionKey) (Position, bool) {
	if p, ok := b.positions[key]; ok {
		return *p, true
	}
	return Position{Key: key}, false
}

// Put stores pos, or removes it when its size is zero.
func (b *PositionBook) Put(c auth.Capability, pos Position) error {
	if err := c.Require("positions.Put"); err != nil {
		return err
	}
	if !pos.IsOpen() {
		delete(b.positions, pos.Key)
		return nil
	}
	next := pos
	b.positions[pos.Key] = &next
	return nil
}

func (b *PositionBook) Delete(c auth.Capability, key PositionKey) error {
	if err := c.Require("positions.Delete"); err != nil {
		return err
	}
	delete(b.positions, key)
	return nil
}

func (b *PositionBook) Len() int {
	return len(b.positions)
}

// All returns copies of every open position in key order.
func (b *PositionBook) All() []Position {
	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// GlobalShortSize sums open short notional on an index asset.
func (b *PositionBook) GlobalShortSize(index registry.Asset) fpmath.Uint {
	total := fpmath.Zero()
	for k, p := range b.positions {
		if !k.IsLong && k.Index == index {
			total = total.Add(p.SizeUSD)
		}
	}
	return total
}

// Restore replaces the book contents, used when loading a snapshot.
func (b *PositionBook) Restore(c auth.Capability, positions []Position) error {
	if err := c.Require("positions.Restore"); err != nil {
		return err
	}
	next := make(map[PositionKey]*Position, len(positions))
	for _, p := range positions {
		if !p.IsOpen() {
			continue
		}
		pos := p
		next[p.Key] = &pos
	}
	b.positions = next
	return nil
}
