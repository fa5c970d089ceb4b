package vault

import (
	"context"
	"fmt"

	"PerpVault/internal/auth"
	"PerpVault/internal/event"
	fpmath "PerpVault/internal/math"
	"PerpVault/internal/pricing"
	"PerpVault/internal/registry"
)

// BuyDebtToken adds everything transferred in of asset to the pool and
// mints debt tokens for it to receiver at the asset's min price, less
// the mint fee. It returns the amount minted.
func (v *Vault) BuyDebtToken(ctx context.Context, caller auth.Identity, asset registry.Asset, receiver auth.Identity) (fpmath.Uint, error) {
	var minted fpmath.Uint
	_, err := v.execute(ctx, "BuyDebtToken", caller, func(t *txn) error {
		cfg, err := t.config(asset)
		if err != nil {
			return err
		}
		amount, err := t.transferIn(asset)
		if err != nil {
			return err
		}
		if amount.IsZero() {
			return fmt.Errorf("%w: nothing transferred in for %s", ErrInvalidAssetAmount, asset)
		}
		if err := t.updateFunding(asset); err != nil {
			return err
		}

		price, err := t.minPrice(asset)
		if err != nil {
			return err
		}
		gross := t.v.toDebtUnits(amount, price, cfg.Decimals)
		if gross.IsZero() {
			return fmt.Errorf("%w: %s of %s is worth nothing", ErrInvalidDebtTokenAmount, amount, asset)
		}

		feeBps := t.debtTokenFeeBps(cfg, gross, true, t.v.debt.TotalSupply())
		afterFee, fee := pricing.DeductFee(amount, feeBps)
		mint := t.v.toDebtUnits(afterFee, price, cfg.Decimals)
		if mint.IsZero() {
			return fmt.Errorf("%w: mint amount is zero after fees", ErrInvalidDebtTokenAmount)
		}

		s := t.asset(asset)
		s.FeeReserves = s.FeeReserves.Add(fee)
		if err := s.IncreaseDebtToken(mint, cfg.MaxDebtTokenAmount); err != nil {
			return err
		}
		bal, err := t.custodyBalance(asset)
		if err != nil {
			return err
		}
		if err := s.IncreasePool(afterFee, bal); err != nil {
			return err
		}
		t.mintDebt(receiver, mint)

		t.emit(&event.BuyDebtToken{
			Asset:       asset,
			Receiver:    receiver,
			AssetAmount: amount,
			DebtAmount:  mint,
			FeeBps:      feeBps,
			FeeAmount:   fee,
		})
		minted = mint
		return nil
	})
	if err != nil {
		return fpmath.Zero(), err
	}
	return minted, nil
}

// SellDebtToken burns every debt token transferred in and pays receiver
// the equivalent of asset at its max price, less the burn fee. It returns
// the native amount paid.
func (v *Vault) SellDebtToken(ctx context.Context, caller auth.Identity, asset registry.Asset, receiver auth.Identity) (fpmath.Uint, error) {
	var paid fpmath.Uint
	_, err := v.execute(ctx, "SellDebtToken", caller, func(t *txn) error {
		cfg, err := t.config(asset)
		if err != nil {
			return err
		}
		debtAmount, err := t.transferIn(t.v.debt.DebtAsset())
		if err != nil {
			return err
		}
		if debtAmount.IsZero() {
			return fmt.Errorf("%w: no debt token transferred in", ErrInvalidDebtTokenAmount)
		}
		if err := t.updateFunding(asset); err != nil {
			return err
		}

		redemption, err := t.redemptionAmount(cfg, debtAmount)
		if err != nil {
			return err
		}
		if redemption.IsZero() {
			return fmt.Errorf("%w: %s debt token redeems nothing of %s", ErrInvalidRedemptionAmount, debtAmount, asset)
		}

		feeBps := t.debtTokenFeeBps(cfg, debtAmount, false, t.v.debt.TotalSupply())

		s := t.asset(asset)
		s.DecreaseDebtToken(debtAmount)
		if err := s.DecreasePool(redemption); err != nil {
			return err
		}
		if err := t.burnDebt(debtAmount); err != nil {
			return err
		}

		amountOut, fee := pricing.DeductFee(redemption, feeBps)
		if amountOut.IsZero() {
			return fmt.Errorf("%w: redemption of %s is consumed by fees", ErrInvalidAmountOut, redemption)
		}
		s.FeeReserves = s.FeeReserves.Add(fee)
		if err := t.transferOut(asset, amountOut, receiver); err != nil {
			return err
		}

		t.emit(&event.SellDebtToken{
			Asset:       asset,
			Receiver:    receiver,
			DebtAmount:  debtAmount,
			AssetAmount: amountOut,
			FeeBps:      feeBps,
			FeeAmount:   fee,
		})
		paid = amountOut
		return nil
	})
	if err != nil {
		return fpmath.Zero(), err
	}
	return paid, nil
}

// WithdrawFees pays out the accumulated fee reserves of asset. Only the
// governance identity may call it.
func (v *Vault) WithdrawFees(ctx context.Context, caller auth.Identity, asset registry.Asset, receiver auth.Identity) (fpmath.Uint, error) {
	var withdrawn fpmath.Uint
	_, err := v.execute(ctx, "WithdrawFees", caller, func(t *txn) error {
		if err := t.v.gate.RequireDeployer(caller, "WithdrawFees"); err != nil {
			return err
		}
		s := t.asset(asset)
		amount := s.FeeReserves
		if amount.IsZero() {
			return nil
		}
		s.FeeReserves = fpmath.Zero()
		if err := t.transferOut(asset, amount, receiver); err != nil {
			return err
		}
		t.emit(&event.WithdrawFees{Asset: asset, Receiver: receiver, Amount: amount})
		withdrawn = amount
		return nil
	})
	if err != nil {
		return fpmath.Zero(), err
	}
	return withdrawn, nil
}

// toDebtUnits values amount of an asset with the given decimals in debt
// token units.
func (v *Vault) toDebtUnits(amount, price fpmath.Uint, decimals uint8) fpmath.Uint {
	return pricing.AdjustForDecimals(amount.MulDiv(price, pricing.PricePrecision), decimals, v.debtDecimals)
}

// redemptionAmount is what debtAmount redeems of cfg.Asset at its max
// price, before fees.
func (t *txn) redemptionAmount(cfg registry.AssetConfig, debtAmount fpmath.Uint) (fpmath.Uint, error) {
	price, err := t.maxPrice(cfg.Asset)
	if err != nil {
		return fpmath.Zero(), err
	}
	amount := debtAmount.MulDiv(pricing.PricePrecision, price)
	return pricing.AdjustForDecimals(amount, t.v.debtDecimals, cfg.Decimals), nil
}

func (t *txn) debtTokenFeeBps(cfg registry.AssetConfig, delta fpmath.Uint, increment bool, supply fpmath.Uint) uint64 {
	fees := t.v.registry.Fees()
	return pricing.FeeBasisPoints(pricing.DynamicFee{
		Current:      t.asset(cfg.Asset).DebtTokenAmount,
		Delta:        delta,
		Increment:    increment,
		Weight:       cfg.Weight,
		TotalWeights: t.v.registry.TotalWeights(),
		Supply:       supply,
		BaseBps:      fees.MintBurnFeeBps,
		TaxBps:       fees.TaxBps,
		Enabled:      fees.HasDynamicFees,
	})
}
