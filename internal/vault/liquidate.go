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

// LiquidatePosition closes an unhealthy position. A position that is only
// over max leverage is closed in full to its owner; otherwise the
// collateral is seized and feeReceiver is paid the liquidation fee.
func (v *Vault) LiquidatePosition(ctx context.Context, caller, owner auth.Identity, collateral, index registry.Asset, isLong bool, feeReceiver auth.Identity) (pricing.LiquidationState, error) {
	var result pricing.LiquidationState
	_, err := v.execute(ctx, "LiquidatePosition", caller, func(t *txn) error {
		if t.v.privateLiquidation && !t.v.liquidators[caller] {
			return fmt.Errorf("%w: %s", ErrInvalidLiquidator, caller)
		}
		if err := t.updateFunding(collateral); err != nil {
			return err
		}

		key := state.PositionKey{Owner: owner, Collateral: collateral, Index: index, IsLong: isLong}
		pos := t.position(key)
		if !pos.IsOpen() {
			return fmt.Errorf("%w: %s", ErrEmptyPosition, key)
		}

		liq, err := t.validateLiquidation(pos, false)
		if err != nil {
			return err
		}
		result = liq.State

		switch liq.State {
		case pricing.Healthy:
			return fmt.Errorf("%w: %s", ErrPositionCannotBeLiquidated, key)
		case pricing.MaxLeverageExceeded:
			_, err := t.decreasePosition(owner, collateral, index, fpmath.Zero(), pos.SizeUSD, isLong, owner)
			return err
		}
		return t.seize(pos, liq.MarginFees, feeReceiver)
	})
	if v.metrics != nil && err == nil {
		v.metrics.Liquidations.WithLabelValues(string(index), result.String()).Inc()
	}
	if err != nil {
		return pricing.Healthy, err
	}
	return result, nil
}

// seize closes pos without paying its owner. Remaining collateral of a
// short stays in the pool.
func (t *txn) seize(pos *state.Position, marginFees fpmath.Uint, feeReceiver auth.Identity) error {
	key := pos.Key
	cs := t.asset(key.Collateral)

	feeTokens, err := t.collectFeeTokens(key.Collateral, marginFees)
	if err != nil {
		return err
	}
	if err := cs.DecreaseReserved(pos.ReserveAmount); err != nil {
		return err
	}
	if key.IsLong {
		if err := cs.DecreaseGuaranteedUSD(pos.SizeUSD.Sub(pos.CollateralUSD)); err != nil {
			return err
		}
		if err := cs.DecreasePool(feeTokens); err != nil {
			return err
		}
	}

	markPrice, err := t.markPrice(key.Index, key.IsLong)
	if err != nil {
		return err
	}

	if !key.IsLong {
		if marginFees.LT(pos.CollateralUSD) {
			remaining, err := t.usdToTokenMin(key.Collateral, pos.CollateralUSD.Sub(marginFees))
			if err != nil {
				return err
			}
			bal, err := t.custodyBalance(key.Collateral)
			if err != nil {
				return err
			}
			if err := cs.IncreasePool(remaining, bal); err != nil {
				return err
			}
		}
		t.asset(key.Index).DecreaseGlobalShortSize(pos.SizeUSD)
	}

	liqFeeUSD := t.v.registry.Fees().LiquidationFeeUSD
	liqFee, err := t.usdToTokenMin(key.Collateral, liqFeeUSD)
	if err != nil {
		return err
	}
	if err := cs.DecreasePool(liqFee); err != nil {
		return err
	}
	if err := t.transferOut(key.Collateral, liqFee, feeReceiver); err != nil {
		return err
	}

	t.emit(&event.LiquidatePosition{
		PositionRef:    positionRef(key),
		Size:           pos.SizeUSD,
		Collateral:     pos.CollateralUSD,
		ReserveAmount:  pos.ReserveAmount,
		RealisedPnL:    pos.RealisedPnL,
		MarkPrice:      markPrice,
		FeeReceiver:    feeReceiver,
		LiquidationFee: liqFee,
	})
	*pos = state.Position{Key: key}
	return nil
}
