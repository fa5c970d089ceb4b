package vault

import (
	"context"
	"fmt"

	"PerpVault/internal/auth"
	"PerpVault/internal/ledger"
	fpmath "PerpVault/internal/math"
	"PerpVault/internal/pricing"
	"PerpVault/internal/registry"
	"PerpVault/internal/state"
)

// view runs fn against committed state under the read lock. The txn it
// gets is discarded.
func (v *Vault) view(fn func(t *txn) error) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return fn(v.begin(context.Background()))
}

// Position returns the position under the key, or a zero position.
func (v *Vault) Position(owner auth.Identity, collateral, index registry.Asset, isLong bool) state.Position {
	v.mu.RLock()
	defer v.mu.RUnlock()
	p, _ := v.positions.Get(state.PositionKey{Owner: owner, Collateral: collateral, Index: index, IsLong: isLong})
	return p
}

// Positions returns every open position in key order.
func (v *Vault) Positions() []state.Position {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.positions.All()
}

// PositionDelta is the unrealized PnL of a position at its mark price.
func (v *Vault) PositionDelta(owner auth.Identity, collateral, index registry.Asset, isLong bool) (hasProfit bool, delta fpmath.Uint, err error) {
	err = v.view(func(t *txn) error {
		pos := t.position(state.PositionKey{Owner: owner, Collateral: collateral, Index: index, IsLong: isLong})
		hasProfit, delta, err = t.positionDelta(pos)
		return err
	})
	return hasProfit, delta, err
}

// PositionLeverage returns size/collateral in basis points.
func (v *Vault) PositionLeverage(owner auth.Identity, collateral, index registry.Asset, isLong bool) (uint64, error) {
	pos := v.Position(owner, collateral, index, isLong)
	if !pos.IsOpen() {
		return 0, fmt.Errorf("%w: %s", ErrEmptyPosition, pos.Key)
	}
	return pos.Leverage()
}

// LiquidationState classifies a position at current prices without
// changing anything.
func (v *Vault) LiquidationState(owner auth.Identity, collateral, index registry.Asset, isLong bool) (pricing.Liquidation, error) {
	var liq pricing.Liquidation
	err := v.view(func(t *txn) error {
		pos := t.position(state.PositionKey{Owner: owner, Collateral: collateral, Index: index, IsLong: isLong})
		if !pos.IsOpen() {
			return fmt.Errorf("%w: %s", ErrEmptyPosition, pos.Key)
		}
		var err error
		liq, err = t.validateLiquidation(pos, false)
		return err
	})
	return liq, err
}

// GlobalShortDelta is the aggregate PnL of shorts on index at its max
// price. hasProfit is from the traders' side.
func (v *Vault) GlobalShortDelta(index registry.Asset) (hasProfit bool, delta fpmath.Uint, err error) {
	err = v.view(func(t *txn) error {
		s := t.asset(index)
		if s.GlobalShortSize.IsZero() {
			hasProfit, delta = false, fpmath.Zero()
			return nil
		}
		price, err := t.maxPrice(index)
		if err != nil {
			return err
		}
		hasProfit, delta = pricing.GlobalShortDelta(s.GlobalShortSize, s.GlobalShortAveragePrice, price)
		return nil
	})
	return hasProfit, delta, err
}

// AUM values the pool in USD with 30 decimals.
func (v *Vault) AUM(maximise bool) (fpmath.Uint, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return pricing.AUM(v.registry.Whitelisted(), v.ledger, v.oracle, maximise)
}

// AUMInDebtToken is AUM in debt-token units.
func (v *Vault) AUMInDebtToken(maximise bool) (fpmath.Uint, error) {
	aum, err := v.AUM(maximise)
	if err != nil {
		return fpmath.Zero(), err
	}
	return pricing.ToDebtToken(aum, v.debtDecimals), nil
}

// Asset returns the ledger state of asset.
func (v *Vault) Asset(asset registry.Asset) ledger.AssetState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.ledger.Asset(asset)
}

// AssetConfig returns the whitelisting record of asset.
func (v *Vault) AssetConfig(asset registry.Asset) (registry.AssetConfig, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.registry.Asset(asset)
}

// Whitelisted returns every whitelisted asset in whitelisting order.
func (v *Vault) Whitelisted() []registry.AssetConfig {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.registry.Whitelisted()
}

// RedemptionCollateral is the native amount of asset backing its
// debt-token issuance: the pool net of what longs are owed.
func (v *Vault) RedemptionCollateral(asset registry.Asset) (fpmath.Uint, error) {
	var out fpmath.Uint
	err := v.view(func(t *txn) error {
		cfg, err := t.config(asset)
		if err != nil {
			return err
		}
		s := t.asset(asset)
		if cfg.IsStable {
			out = s.PoolAmount
			return nil
		}
		guaranteed, err := t.usdToTokenMin(asset, s.GuaranteedUSD)
		if err != nil {
			return err
		}
		out = guaranteed.Add(s.PoolAmount).SubFloor(s.ReservedAmount)
		return nil
	})
	return out, err
}

// RedemptionCollateralUSD values RedemptionCollateral at the min price.
func (v *Vault) RedemptionCollateralUSD(asset registry.Asset) (fpmath.Uint, error) {
	amount, err := v.RedemptionCollateral(asset)
	if err != nil {
		return fpmath.Zero(), err
	}
	var usd fpmath.Uint
	err = v.view(func(t *txn) error {
		var err error
		usd, err = t.tokenToUSDMin(asset, amount)
		return err
	})
	return usd, err
}

// CheckSolvency verifies that pool plus fee reserves plus offset equals
// what custody holds for the vault. offset is what the caller knows sits
// in custody outside the pool, such as short collateral.
func (v *Vault) CheckSolvency(asset registry.Asset, offset fpmath.Uint) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.validator.CheckSolvency(asset, v.custody.BalanceOf(asset, v.self), offset)
}

func (v *Vault) DebtTokenDecimals() uint8 {
	return v.debtDecimals
}

// Fees returns the active fee schedule.
func (v *Vault) Fees() registry.FeeConfig {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.registry.Fees()
}
