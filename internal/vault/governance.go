package vault

import (
	"context"
	"fmt"

	"PerpVault/internal/auth"
	"PerpVault/internal/event"
	fpmath "PerpVault/internal/math"
	"PerpVault/internal/registry"
)

// Governance setters are gated on the deploying identity and commit like
// any other operation, so configuration changes are part of the log.

var _ registry.Configurator = (*Vault)(nil)

func (v *Vault) governance(op string, caller auth.Identity, fn func(t *txn) error) error {
	_, err := v.execute(context.Background(), op, caller, func(t *txn) error {
		if err := t.v.gate.RequireDeployer(caller, op); err != nil {
			return err
		}
		return fn(t)
	})
	return err
}

func (v *Vault) SetAssetConfig(caller auth.Identity, c registry.AssetConfig) error {
	return v.governance("SetAssetConfig", caller, func(t *txn) error {
		if c.Asset == t.v.debt.DebtAsset() {
			return fmt.Errorf("%w: the debt token cannot be whitelisted", ErrInvalidConfig)
		}
		if err := registry.ValidateAssetConfig(c); err != nil {
			return err
		}
		if err := t.v.ledger.Init(t.v.capability, c.Asset); err != nil {
			return err
		}
		added, err := t.v.registry.SetAssetConfig(c)
		if err != nil {
			return err
		}
		t.emit(&event.SetAssetConfig{
			Asset:              c.Asset,
			Decimals:           c.Decimals,
			Weight:             c.Weight,
			MinProfitBps:       c.MinProfitBps,
			MaxDebtTokenAmount: c.MaxDebtTokenAmount,
			IsStable:           c.IsStable,
			IsShortable:        c.IsShortable,
			Added:              added,
		})
		return nil
	})
}

// ClearAssetConfig removes asset from the whitelist. Its ledger entry and
// any open positions on it remain.
func (v *Vault) ClearAssetConfig(caller auth.Identity, asset registry.Asset) error {
	return v.governance("ClearAssetConfig", caller, func(t *txn) error {
		if err := t.v.registry.ClearAssetConfig(asset); err != nil {
			return err
		}
		t.emit(&event.ClearAssetConfig{Asset: asset})
		return nil
	})
}

func (v *Vault) SetFees(caller auth.Identity, f registry.FeeConfig) error {
	return v.governance("SetFees", caller, func(t *txn) error {
		if err := t.v.registry.SetFees(f); err != nil {
			return err
		}
		t.emit(&event.SetFees{
			TaxBps:            f.TaxBps,
			StableTaxBps:      f.StableTaxBps,
			MintBurnFeeBps:    f.MintBurnFeeBps,
			SwapFeeBps:        f.SwapFeeBps,
			StableSwapFeeBps:  f.StableSwapFeeBps,
			MarginFeeBps:      f.MarginFeeBps,
			LiquidationFeeUSD: f.LiquidationFeeUSD,
			MinProfitTime:     f.MinProfitTime,
			HasDynamicFees:    f.HasDynamicFees,
		})
		return nil
	})
}

func (v *Vault) SetFundingRate(caller auth.Identity, f registry.FundingConfig) error {
	return v.governance("SetFundingRate", caller, func(t *txn) error {
		if err := t.v.registry.SetFunding(f); err != nil {
			return err
		}
		t.emit(&event.SetFundingRate{
			Interval:         f.Interval,
			RateFactor:       f.RateFactor,
			StableRateFactor: f.StableRateFactor,
		})
		return nil
	})
}

func (v *Vault) SetMaxLeverage(caller auth.Identity, bps uint64) error {
	return v.governance("SetMaxLeverage", caller, func(t *txn) error {
		if err := t.v.registry.SetMaxLeverage(bps); err != nil {
			return err
		}
		t.emit(&event.SetMaxLeverage{MaxLeverageBps: bps})
		return nil
	})
}

// SetMaxGlobalShortSize caps open short notional on asset. Zero removes
// the cap.
func (v *Vault) SetMaxGlobalShortSize(caller auth.Identity, asset registry.Asset, usd fpmath.Uint) error {
	return v.governance("SetMaxGlobalShortSize", caller, func(t *txn) error {
		t.v.registry.SetMaxGlobalShortSize(asset, usd)
		t.emit(&event.SetMaxGlobalShortSize{Asset: asset, MaxSize: usd})
		return nil
	})
}

func (v *Vault) SetLiquidator(caller, liquidator auth.Identity, active bool) error {
	return v.governance("SetLiquidator", caller, func(t *txn) error {
		if active {
			t.v.liquidators[liquidator] = true
		} else {
			delete(t.v.liquidators, liquidator)
		}
		t.emit(&event.SetLiquidator{Liquidator: liquidator, IsActive: active})
		return nil
	})
}

// SetPrivateLiquidationMode restricts LiquidatePosition to liquidators
// approved with SetLiquidator.
func (v *Vault) SetPrivateLiquidationMode(caller auth.Identity, enabled bool) error {
	return v.governance("SetPrivateLiquidationMode", caller, func(t *txn) error {
		t.v.privateLiquidation = enabled
		t.emit(&event.SetPrivateLiquidationMode{Enabled: enabled})
		return nil
	})
}
