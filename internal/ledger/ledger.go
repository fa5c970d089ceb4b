package ledger

import (
	"errors"
	"fmt"
	"sort"

	"PerpVault/internal/auth"
	"PerpVault/internal/registry"
)

var ErrUnknownAsset = errors.New("ledger entry does not exist")

// Reader gives read access to per-asset accounting. Missing assets read
// as zero state.
type Reader interface {
	Asset(asset registry.Asset) AssetState
}

// Ledger holds the accounting of every asset the vault ever whitelisted.
// Entries are created once and never removed. Writes require a capability
// issued to the vault or its helper.
type Ledger struct {
	assets map[registry.Asset]*AssetState
}

func New() *Ledger {
	return &Ledger{assets: make(map[registry.Asset]*AssetState)}
}

// Asset returns a copy of the asset's state.
func (l *Ledger) Asset(asset registry.Asset) AssetState {
	if s, ok := l.assets[asset]; ok {
		return *s
	}
	return AssetState{Asset: asset}
}

func (l *Ledger) Exists(asset registry.Asset) bool {
	_, ok := l.assets[asset]
	return ok
}

// Init creates a zero entry for asset if none exists.
func (l *Ledger) Init(c auth.Capability, asset registry.Asset) error {
	if err := c.Require("ledger.Init"); err != nil {
		return err
	}
	if _, ok := l.assets[asset]; !ok {
		l.assets[asset] = &AssetState{Asset: asset}
	}
	return nil
}

// Put overwrites existing entries with staged states. Either every state
// is written or none is.
func (l *Ledger) Put(c auth.Capability, states ...AssetState) error {
	if err := c.Require("ledger.Put"); err != nil {
		return err
	}
	for _, s := range states {
		if _, ok := l.assets[s.Asset]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownAsset, s.Asset)
		}
	}
	for _, s := range states {
		next := s
		l.assets[s.Asset] = &next
	}
	return nil
}

// Assets returns copies of every entry ordered by asset id.
func (l *Ledger) Assets() []AssetState {
	out := make([]AssetState, 0, len(l.assets))
	for _, s := range l.assets {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// Restore replaces the whole ledger, used when loading a snapshot.
func (l *Ledger) Restore(c auth.Capability, states []AssetState) error {
	if err := c.Require("ledger.Restore"); err != nil {
		return err
	}
	assets := make(map[registry.Asset]*AssetState, len(states))
	for _, s := range states {
		next := s
		assets[s.Asset] = &next
	}
	l.assets = assets
	return nil
}
