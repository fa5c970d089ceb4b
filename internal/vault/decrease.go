package vault

import (
	"context"
	"fmt"

	"PerpVault/internal/auth"
	"PerpVault/internal/event"
	fpmath "PerpVault/internal/math"
	"PerpVault/internal/registry"
	"PerpVault/internal/state"
)

// DecreasePosition withdraws collateralDelta USD of collateral and closes
// sizeDelta USD of the position, paying out to receiver. It returns the
// native amount of collateral asset paid.
func (v *Vault) DecreasePosition(ctx context.Context, caller, owner auth.Identity, collateral, index registry.Asset, collateralDelta, sizeDelta fpmath.Uint, isLong bool, receiver auth.Identity) (fpmath.Uint, error) {
	var out fpmath.Uint
	_, err := v.execute(ctx, "DecreasePosition", caller, func(t *txn) error {
		if caller != owner {
			return fmt.Errorf("%w: %s cannot decrease a position of %s", ErrInvalidCaller, caller, owner)
		}
		amount, err := t.decreasePosition(owner, collateral, index, collateralDelta, sizeDelta, isLong, receiver)
		out = amount
		return err
	})
	if err != nil {
		return fpmath.Zero(), err
	}
	return out, nil
}

func (t *txn) decreasePosition(owner auth.Identity, collateral, index registry.Asset, collateralDelta, sizeDelta fpmath.Uint, isLong bool, receiver auth.Identity) (fpmath.Uint, error) {
	if err := t.updateFunding(collateral); err != nil {
		return fpmath.Zero(), err
	}

	key := state.PositionKey{Owner: owner, Collateral: collateral, Index: index, IsLong: isLong}
	pos := t.position(key)
	if !pos.IsOpen() {
		return fpmath.Zero(), fmt.Errorf("%w: %s", ErrEmptyPosition, key)
	}
	if sizeDelta.GT(pos.SizeUSD) {
		return fpmath.Zero(), fmt.Errorf("%w: size=%s delta=%s", ErrPositionSizeExceeded, pos.SizeUSD, sizeDelta)
	}
	if collateralDelta.GT(pos.CollateralUSD) {
		return fpmath.Zero(), fmt.Errorf("%w: collateral=%s delta=%s", ErrPositionCollateralExceeded, pos.CollateralUSD, collateralDelta)
	}

	// Funding accrues on the reserve held before this decrease.
	funding, err := t.fundingFee(pos)
	if err != nil {
		return fpmath.Zero(), err
	}

	cs := t.asset(collateral)
	reserveDelta := pos.ReserveAmount.MulDiv(sizeDelta, pos.SizeUSD)
	pos.ReserveAmount = pos.ReserveAmount.Sub(reserveDelta)
	if err := cs.DecreaseReserved(reserveDelta); err != nil {
		return fpmath.Zero(), err
	}

	oldCollateral := pos.CollateralUSD
	usdOut, usdOutAfterFee, fee, err := t.reduceCollateral(pos, collateralDelta, sizeDelta, funding)
	if err != nil {
		return fpmath.Zero(), err
	}

	price, err := t.markPrice(index, isLong)
	if err != nil {
		return fpmath.Zero(), err
	}

	closing := pos.SizeUSD.EQ(sizeDelta)
	if !closing {
		pos.EntryFundingRate = cs.CumulativeFundingRate
		pos.SizeUSD = pos.SizeUSD.Sub(sizeDelta)
		if err := validatePosition(pos); err != nil {
			return fpmath.Zero(), err
		}
		if _, err := t.validateLiquidation(pos, true); err != nil {
			return fpmath.Zero(), err
		}
		if isLong {
			cs.IncreaseGuaranteedUSD(oldCollateral.Sub(pos.CollateralUSD))
			if err := cs.DecreaseGuaranteedUSD(sizeDelta); err != nil {
				return fpmath.Zero(), err
			}
		}
	} else if isLong {
		cs.IncreaseGuaranteedUSD(oldCollateral)
		if err := cs.DecreaseGuaranteedUSD(sizeDelta); err != nil {
			return fpmath.Zero(), err
		}
	}

	if !isLong {
		t.asset(index).DecreaseGlobalShortSize(sizeDelta)
	}

	amountOut := fpmath.Zero()
	if !usdOut.IsZero() {
		if isLong {
			tokens, err := t.usdToTokenMin(collateral, usdOut)
			if err != nil {
				return fpmath.Zero(), err
			}
			if err := cs.DecreasePool(tokens); err != nil {
				return fpmath.Zero(), err
			}
		}
		if amountOut, err = t.usdToTokenMin(collateral, usdOutAfterFee); err != nil {
			return fpmath.Zero(), err
		}
		if err := t.transferOut(collateral, amountOut, receiver); err != nil {
			return fpmath.Zero(), err
		}
	}

	ref := positionRef(key)
	t.emit(&event.DecreasePosition{
		PositionRef:     ref,
		CollateralDelta: collateralDelta,
		SizeDelta:       sizeDelta,
		Price:           price,
		Fee:             fee,
		AmountOut:       amountOut,
		Receiver:        receiver,
	})
	if closing {
		t.emit(&event.ClosePosition{
			PositionRef:      ref,
			Size:             pos.SizeUSD,
			Collateral:       pos.CollateralUSD,
			AveragePrice:     pos.AveragePrice,
			EntryFundingRate: pos.EntryFundingRate,
			ReserveAmount:    pos.ReserveAmount,
			RealisedPnL:      pos.RealisedPnL,
		})
		*pos = state.Position{Key: key}
	} else {
		pos.Version++
		t.emit(updatePositionEvent(pos, price))
	}
	return amountOut, nil
}

// reduceCollateral settles the PnL and fees of closing sizeDelta, plus the
// funding already accrued, and takes collateralDelta out of the position.
// usdOut is what leaves the position, usdOutAfterFee what reaches the
// receiver.
func (t *txn) reduceCollateral(pos *state.Position, collateralDelta, sizeDelta, funding fpmath.Uint) (usdOut, usdOutAfterFee, fee fpmath.Uint, err error) {
	collateral := pos.Key.Collateral
	isLong := pos.Key.IsLong
	cs := t.asset(collateral)

	fee, err = t.collectMarginFees(collateral, sizeDelta, funding)
	if err != nil {
		return
	}

	hasProfit, delta, err := t.positionDelta(pos)
	if err != nil {
		return
	}
	adjustedDelta := sizeDelta.MulDiv(delta, pos.SizeUSD)

	usdOut = fpmath.Zero()
	if !adjustedDelta.IsZero() {
		tokens, terr := t.usdToTokenMin(collateral, adjustedDelta)
		if terr != nil {
			err = terr
			return
		}
		if hasProfit {
			usdOut = adjustedDelta
			pos.RealisedPnL = pos.RealisedPnL.Add(adjustedDelta)
			// Short profits are paid from the stable pool.
			if !isLong {
				if err = cs.DecreasePool(tokens); err != nil {
					return
				}
			}
		} else {
			if pos.CollateralUSD.LT(adjustedDelta) {
				err = fmt.Errorf("%w: collateral=%s loss=%s", ErrLossesExceedCollateral, pos.CollateralUSD, adjustedDelta)
				return
			}
			pos.CollateralUSD = pos.CollateralUSD.Sub(adjustedDelta)
			// Short losses are kept by the stable pool.
			if !isLong {
				bal, berr := t.custodyBalance(collateral)
				if berr != nil {
					err = berr
					return
				}
				if err = cs.IncreasePool(tokens, bal); err != nil {
					return
				}
			}
			pos.RealisedPnL = pos.RealisedPnL.Sub(adjustedDelta)
		}
	}

	if !collateralDelta.IsZero() {
		if pos.CollateralUSD.LT(collateralDelta) {
			err = fmt.Errorf("%w: collateral=%s delta=%s", ErrPositionCollateralExceeded, pos.CollateralUSD, collateralDelta)
			return
		}
		usdOut = usdOut.Add(collateralDelta)
		pos.CollateralUSD = pos.CollateralUSD.Sub(collateralDelta)
	}

	if pos.SizeUSD.EQ(sizeDelta) {
		usdOut = usdOut.Add(pos.CollateralUSD)
		pos.CollateralUSD = fpmath.Zero()
	}

	usdOutAfterFee = usdOut
	if usdOut.GT(fee) {
		usdOutAfterFee = usdOut.Sub(fee)
		return
	}

	if pos.CollateralUSD.LT(fee) {
		err = fmt.Errorf("%w: collateral=%s fee=%s", ErrFeesExceedCollateral, pos.CollateralUSD, fee)
		return
	}
	pos.CollateralUSD = pos.CollateralUSD.Sub(fee)
	if isLong {
		feeTokens, terr := t.usdToTokenMin(collateral, fee)
		if terr != nil {
			err = terr
			return
		}
		err = cs.DecreasePool(feeTokens)
	}
	return
}
