package vault

import (
	"context"
	"fmt"

	"PerpVault/internal/auth"
	"PerpVault/internal/event"
	fpmath "PerpVault/internal/math"
	"PerpVault/internal/pricing"
	"PerpVault/internal/registry"
	"PerpVault/internal/state"
)

// IncreasePosition opens or grows the caller's position by sizeDelta USD.
// Collateral is whatever the owner transferred into custody since the
// vault last accounted for the collateral asset.
func (v *Vault) IncreasePosition(ctx context.Context, caller, owner auth.Identity, collateral, index registry.Asset, sizeDelta fpmath.Uint, isLong bool) error {
	_, err := v.execute(ctx, "IncreasePosition", caller, func(t *txn) error {
		if caller != owner {
			return fmt.Errorf("%w: %s cannot increase a position of %s", ErrInvalidCaller, caller, owner)
		}
		return t.increasePosition(owner, collateral, index, sizeDelta, isLong)
	})
	return err
}

func (t *txn) increasePosition(owner auth.Identity, collateral, index registry.Asset, sizeDelta fpmath.Uint, isLong bool) error {
	if err := t.validateAssets(collateral, index, isLong); err != nil {
		return err
	}
	if err := t.updateFunding(collateral); err != nil {
		return err
	}

	key := state.PositionKey{Owner: owner, Collateral: collateral, Index: index, IsLong: isLong}
	pos := t.position(key)

	var (
		price fpmath.Uint
		err   error
	)
	if isLong {
		price, err = t.maxPrice(index)
	} else {
		price, err = t.minPrice(index)
	}
	if err != nil {
		return err
	}

	if pos.SizeUSD.IsZero() {
		pos.AveragePrice = price
	}
	if !pos.SizeUSD.IsZero() && !sizeDelta.IsZero() {
		hasProfit, delta, err := t.positionDelta(pos)
		if err != nil {
			return err
		}
		pos.AveragePrice = pricing.NextAveragePrice(price, pos.SizeUSD, sizeDelta, isLong, hasProfit, delta)
	}

	funding, err := t.fundingFee(pos)
	if err != nil {
		return err
	}
	fee, err := t.collectMarginFees(collateral, sizeDelta, funding)
	if err != nil {
		return err
	}

	collateralDelta, err := t.transferIn(collateral)
	if err != nil {
		return err
	}
	collateralDeltaUSD, err := t.tokenToUSDMin(collateral, collateralDelta)
	if err != nil {
		return err
	}

	pos.CollateralUSD = pos.CollateralUSD.Add(collateralDeltaUSD)
	if pos.CollateralUSD.LT(fee) {
		return fmt.Errorf("%w: collateral=%s fee=%s", ErrInsufficientCollateralForFees, pos.CollateralUSD, fee)
	}
	pos.CollateralUSD = pos.CollateralUSD.Sub(fee)

	cs := t.asset(collateral)
	pos.EntryFundingRate = cs.CumulativeFundingRate
	pos.SizeUSD = pos.SizeUSD.Add(sizeDelta)
	pos.LastIncreasedTime = t.now

	if pos.SizeUSD.IsZero() {
		return ErrInvalidPositionSize
	}
	if err := validatePosition(pos); err != nil {
		return err
	}
	if _, err := t.validateLiquidation(pos, true); err != nil {
		return err
	}

	reserveDelta, err := t.usdToTokenMax(collateral, sizeDelta)
	if err != nil {
		return err
	}
	pos.ReserveAmount = pos.ReserveAmount.Add(reserveDelta)
	if err := cs.IncreaseReserved(reserveDelta); err != nil {
		return err
	}

	if isLong {
		// guaranteed_usd tracks size - collateral of every long.
		cs.IncreaseGuaranteedUSD(sizeDelta.Add(fee))
		if err := cs.DecreaseGuaranteedUSD(collateralDeltaUSD); err != nil {
			return err
		}
		bal, err := t.custodyBalance(collateral)
		if err != nil {
			return err
		}
		if err := cs.IncreasePool(collateralDelta, bal); err != nil {
			return err
		}
		feeTokens, err := t.usdToTokenMin(collateral, fee)
		if err != nil {
			return err
		}
		if err := cs.DecreasePool(feeTokens); err != nil {
			return err
		}
	} else {
		is := t.asset(index)
		if is.GlobalShortSize.IsZero() {
			is.GlobalShortAveragePrice = price
		} else {
			is.GlobalShortAveragePrice = pricing.NextGlobalShortAveragePrice(is.GlobalShortSize, is.GlobalShortAveragePrice, price, sizeDelta)
		}
		if err := is.IncreaseGlobalShortSize(sizeDelta, t.v.registry.MaxGlobalShortSize(index)); err != nil {
			return err
		}
	}

	pos.Version++
	ref := positionRef(key)
	t.emit(&event.IncreasePosition{
		PositionRef:     ref,
		CollateralDelta: collateralDeltaUSD,
		SizeDelta:       sizeDelta,
		Price:           price,
		Fee:             fee,
	})
	t.emit(updatePositionEvent(pos, price))
	return nil
}

// validateAssets checks the collateral/index pair is tradeable in the
// requested direction.
func (t *txn) validateAssets(collateral, index registry.Asset, isLong bool) error {
	reg := t.v.registry
	if isLong {
		if collateral != index {
			return fmt.Errorf("%w: collateral=%s index=%s", ErrMismatchedAssets, collateral, index)
		}
		cfg, ok := reg.Asset(collateral)
		if !ok {
			return fmt.Errorf("%w: %s", ErrCollateralAssetNotWhitelisted, collateral)
		}
		if cfg.IsStable {
			return fmt.Errorf("%w: %s", ErrCollateralAssetMustNotBeStableAsset, collateral)
		}
		return nil
	}

	cfg, ok := reg.Asset(collateral)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollateralAssetNotWhitelisted, collateral)
	}
	if !cfg.IsStable {
		return fmt.Errorf("%w: %s", ErrCollateralAssetMustBeStableAsset, collateral)
	}
	indexCfg, ok := reg.Asset(index)
	if ok && indexCfg.IsStable {
		return fmt.Errorf("%w: %s", ErrIndexAssetMustNotBeStableAsset, index)
	}
	if !ok || !indexCfg.IsShortable {
		return fmt.Errorf("%w: %s", ErrIndexAssetNotShortable, index)
	}
	return nil
}

func validatePosition(pos *state.Position) error {
	if pos.SizeUSD.LTE(pos.CollateralUSD) {
		return fmt.Errorf("%w: size=%s collateral=%s", ErrSizeMustBeMoreThanCollateral, pos.SizeUSD, pos.CollateralUSD)
	}
	return nil
}

// positionDelta is the unrealized PnL of pos at its mark price.
func (t *txn) positionDelta(pos *state.Position) (bool, fpmath.Uint, error) {
	price, err := t.markPrice(pos.Key.Index, pos.Key.IsLong)
	if err != nil {
		return false, fpmath.Zero(), err
	}
	minBps := pricing.MinProfitBps(pos.LastIncreasedTime, t.now, t.v.registry.Fees().MinProfitTime, t.minProfitBps(pos.Key.Index))
	return pricing.PositionDelta(price, pos.SizeUSD, pos.AveragePrice, pos.Key.IsLong, minBps)
}

// minProfitBps of a delisted asset is zero.
func (t *txn) minProfitBps(index registry.Asset) uint64 {
	if cfg, ok := t.v.registry.Asset(index); ok {
		return cfg.MinProfitBps
	}
	return 0
}

// fundingFee values the funding pos has accrued on its reserve since its
// entry funding rate, at the collateral's min price.
func (t *txn) fundingFee(pos *state.Position) (fpmath.Uint, error) {
	collateral := pos.Key.Collateral
	tokens := pricing.FundingFee(pos.ReserveAmount, pos.EntryFundingRate, t.asset(collateral).CumulativeFundingRate)
	return t.tokenToUSDMin(collateral, tokens)
}

// collectMarginFees charges the position fee on sizeDelta plus the
// accrued funding fee and books both as fee reserves.
func (t *txn) collectMarginFees(collateral registry.Asset, sizeDelta, fundingFee fpmath.Uint) (fpmath.Uint, error) {
	fee := pricing.MarginFees(sizeDelta, fundingFee, t.v.registry.Fees().MarginFeeBps)
	if _, err := t.collectFeeTokens(collateral, fee); err != nil {
		return fpmath.Zero(), err
	}
	return fee, nil
}

// validateLiquidation classifies pos. With raise set, any state other
// than healthy is returned as an error.
func (t *txn) validateLiquidation(pos *state.Position, raise bool) (pricing.Liquidation, error) {
	price, err := t.markPrice(pos.Key.Index, pos.Key.IsLong)
	if err != nil {
		return pricing.Liquidation{}, err
	}
	funding, err := t.fundingFee(pos)
	if err != nil {
		return pricing.Liquidation{}, err
	}
	fees := t.v.registry.Fees()
	liq, err := pricing.EvaluateLiquidation(pricing.LiquidationCheck{
		Size:              pos.SizeUSD,
		Collateral:        pos.CollateralUSD,
		AveragePrice:      pos.AveragePrice,
		IsLong:            pos.Key.IsLong,
		LastIncreasedTime: pos.LastIncreasedTime,
		FundingFee:        funding,
		Price:             price,
		Now:               t.now,
		MinProfitTime:     fees.MinProfitTime,
		MinProfitBps:      t.minProfitBps(pos.Key.Index),
		MarginFeeBps:      fees.MarginFeeBps,
		LiquidationFeeUSD: fees.LiquidationFeeUSD,
		MaxLeverageBps:    t.v.registry.MaxLeverage(),
	})
	if err != nil {
		return pricing.Liquidation{}, err
	}
	if raise && liq.Reason != nil {
		return liq, fmt.Errorf("%w: %s size=%s collateral=%s", liq.Reason, pos.Key, pos.SizeUSD, pos.CollateralUSD)
	}
	return liq, nil
}

func positionRef(key state.PositionKey) event.PositionRef {
	return event.PositionRef{
		Owner:      key.Owner,
		Collateral: key.Collateral,
		Index:      key.Index,
		IsLong:     key.IsLong,
	}
}

func updatePositionEvent(pos *state.Position, price fpmath.Uint) *event.UpdatePosition {
	return &event.UpdatePosition{
		PositionRef:      positionRef(pos.Key),
		Size:             pos.SizeUSD,
		Collateral:       pos.CollateralUSD,
		AveragePrice:     pos.AveragePrice,
		EntryFundingRate: pos.EntryFundingRate,
		ReserveAmount:    pos.ReserveAmount,
		RealisedPnL:      pos.RealisedPnL,
		MarkPrice:        price,
	}
}
