package custody

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"PerpVault/internal/auth"
	fpmath "PerpVault/internal/math"
	"PerpVault/internal/registry"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrZeroAmount          = errors.New("zero amount")
	ErrNotMinter           = errors.New("caller is not a minter")
)

// Memory is an in-process token ledger holding balances of every asset
// per holder. One asset doubles as the vault's debt token, which only
// registered minters may mint and burn.
type Memory struct {
	mu        sync.RWMutex
	balances  map[registry.Asset]map[auth.Identity]fpmath.Uint
	supply    map[registry.Asset]fpmath.Uint
	debtAsset registry.Asset
	minters   map[auth.Identity]bool
}

func NewMemory(debtAsset registry.Asset) *Memory {
	return &Memory{
		balances:  make(map[registry.Asset]map[auth.Identity]fpmath.Uint),
		supply:    make(map[registry.Asset]fpmath.Uint),
		debtAsset: debtAsset,
		minters:   make(map[auth.Identity]bool),
	}
}

// AddMinter lets who mint and burn the debt token.
func (m *Memory) AddMinter(who auth.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.minters[who] = true
}

// Credit creates amount of asset out of thin air for holder. Faucet for
// tests and local runs.
func (m *Memory) Credit(asset registry.Asset, holder auth.Identity, amount fpmath.Uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.add(asset, holder, amount)
	m.supply[asset] = m.supply[asset].Add(amount)
}

func (m *Memory) BalanceOf(asset registry.Asset, holder auth.Identity) fpmath.Uint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[asset][holder]
}

func (m *Memory) Transfer(ctx context.Context, asset registry.Asset, from, to auth.Identity, amount fpmath.Uint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount.IsZero() {
		return fmt.Errorf("%w: transfer %s", ErrZeroAmount, asset)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.sub(asset, from, amount); err != nil {
		return err
	}
	m.add(asset, to, amount)
	return nil
}

// DebtAsset is the asset name of the debt token.
func (m *Memory) DebtAsset() registry.Asset {
	return m.debtAsset
}

func (m *Memory) TotalSupply() fpmath.Uint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.supply[m.debtAsset]
}

func (m *Memory) Mint(ctx context.Context, minter, to auth.Identity, amount fpmath.Uint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.minters[minter] {
		return fmt.Errorf("%w: %s", ErrNotMinter, minter)
	}
	m.add(m.debtAsset, to, amount)
	m.supply[m.debtAsset] = m.supply[m.debtAsset].Add(amount)
	return nil
}

func (m *Memory) Burn(ctx context.Context, minter, from auth.Identity, amount fpmath.Uint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.minters[minter] {
		return fmt.Errorf("%w: %s", ErrNotMinter, minter)
	}
	if err := m.sub(m.debtAsset, from, amount); err != nil {
		return err
	}
	m.supply[m.debtAsset] = m.supply[m.debtAsset].Sub(amount)
	return nil
}

func (m *Memory) add(asset registry.Asset, holder auth.Identity, amount fpmath.Uint) {
	holders, ok := m.balances[asset]
	if !ok {
		holders = make(map[auth.Identity]fpmath.Uint)
		m.balances[asset] = holders
	}
	holders[holder] = holders[holder].Add(amount)
}

func (m *Memory) sub(asset registry.Asset, holder auth.Identity, amount fpmath.Uint) error {
	if amount.IsZero() {
		return nil
	}
	bal := m.balances[asset][holder]
	if bal.LT(amount) {
		return fmt.Errorf("%w: %s %s has %s, needs %s", ErrInsufficientBalance, holder, asset, bal, amount)
	}
	m.balances[asset][holder] = bal.Sub(amount)
	return nil
}
