package vault_test

import (
	"testing"

	fpmath "PerpVault/internal/math"
	"PerpVault/internal/pricing"
	"PerpVault/internal/vault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var lp = user2

// newLongHarness whitelists DAI and BTC at 1 and 40000 USD and seeds the
// BTC pool with 0.997 BTC bought by lp.
func newLongHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := newHarness(t, opts...)
	h.setPrice(DAI, "1")
	h.configure(DAI, true, false)
	for i := 0; i < 3; i++ {
		h.setPrice(BTC, "40000")
	}
	h.configure(BTC, false, true)

	h.deposit(BTC, lp, "1")
	minted, err := h.vault.BuyDebtToken(h.ctx, lp, BTC, lp)
	require.NoError(t, err)
	require.Equal(t, "3988000000000", minted.String())
	return h
}

func TestDecreaseFullCloseAtFlatPrice(t *testing.T) {
	h := newLongHarness(t)

	h.deposit(BTC, user0, "0.0025")
	require.NoError(t, h.increase(user0, BTC, BTC, "1000", true))

	out, err := h.vault.DecreasePosition(h.ctx, user0, user0, BTC, BTC, fpmath.Zero(), usd("1000"), true, user0)
	require.NoError(t, err)

	// Collateral back, less the opening and the closing fee.
	assert.Equal(t, "245000", out.String())
	assert.Equal(t, "245000", h.tokens.BalanceOf(BTC, user0).String())

	pos := h.vault.Position(user0, BTC, BTC, true)
	assert.False(t, pos.IsOpen())
	assert.Empty(t, h.vault.Positions())

	btc := h.vault.Asset(BTC)
	assert.True(t, btc.GuaranteedUSD.IsZero())
	assert.True(t, btc.ReservedAmount.IsZero())
	assert.Equal(t, "99700000", btc.PoolAmount.String())
	assert.Equal(t, "305000", btc.FeeReserves.String())
	require.NoError(t, h.vault.CheckSolvency(BTC, fpmath.Zero()))
}

func TestDecreaseRejectsOversizedDeltas(t *testing.T) {
	h := newLongHarness(t)

	_, err := h.vault.DecreasePosition(h.ctx, user0, user0, BTC, BTC, fpmath.Zero(), usd("10"), true, user0)
	require.ErrorIs(t, err, vault.ErrEmptyPosition)

	h.deposit(BTC, user0, "0.0025")
	require.NoError(t, h.increase(user0, BTC, BTC, "1000", true))

	_, err = h.vault.DecreasePosition(h.ctx, user0, user0, BTC, BTC, fpmath.Zero(), usd("1001"), true, user0)
	require.ErrorIs(t, err, vault.ErrPositionSizeExceeded)

	_, err = h.vault.DecreasePosition(h.ctx, user0, user0, BTC, BTC, usd("100"), usd("10"), true, user0)
	require.ErrorIs(t, err, vault.ErrPositionCollateralExceeded)

	_, err = h.vault.DecreasePosition(h.ctx, user1, user0, BTC, BTC, fpmath.Zero(), usd("10"), true, user1)
	require.ErrorIs(t, err, vault.ErrInvalidCaller)

	// Withdrawing most of the collateral would leave the position over
	// max leverage.
	_, err = h.vault.DecreasePosition(h.ctx, user0, user0, BTC, BTC, usd("90"), fpmath.Zero(), true, user0)
	require.ErrorIs(t, err, vault.ErrMaxLeverageExceeded)

	assert.Equal(t, usd("1000"), h.vault.Position(user0, BTC, BTC, true).SizeUSD)
}

func TestDecreaseLongInProfitPaysFromPool(t *testing.T) {
	h := newLongHarness(t)

	h.deposit(BTC, user0, "0.0025")
	require.NoError(t, h.increase(user0, BTC, BTC, "1000", true))

	for i := 0; i < 3; i++ {
		h.setPrice(BTC, "50000")
	}
	hasProfit, delta, err := h.vault.PositionDelta(user0, BTC, BTC, true)
	require.NoError(t, err)
	assert.True(t, hasProfit)
	assert.Equal(t, usd("250"), delta)

	out, err := h.vault.DecreasePosition(h.ctx, user0, user0, BTC, BTC, fpmath.Zero(), usd("1000"), true, user0)
	require.NoError(t, err)

	// 250 profit + 99 collateral - 1 fee = 348 USD at 50000.
	assert.Equal(t, "696000", out.String())
	assert.True(t, h.vault.Asset(BTC).GuaranteedUSD.IsZero())
	require.NoError(t, h.vault.CheckSolvency(BTC, fpmath.Zero()))
}

func TestLiquidateSeizesCollateral(t *testing.T) {
	h := newLongHarness(t)

	h.deposit(BTC, user0, "0.0025")
	require.NoError(t, h.increase(user0, BTC, BTC, "1000", true))

	_, err := h.vault.LiquidatePosition(h.ctx, user1, user0, BTC, BTC, true, user1)
	require.ErrorIs(t, err, vault.ErrPositionCannotBeLiquidated)

	for i := 0; i < 3; i++ {
		h.setPrice(BTC, "36000")
	}
	liq, err := h.vault.LiquidationState(user0, BTC, BTC, true)
	require.NoError(t, err)
	assert.Equal(t, pricing.Liquidatable, liq.State)
	assert.ErrorIs(t, liq.Reason, vault.ErrLossesExceedCollateral)

	state, err := h.vault.LiquidatePosition(h.ctx, user1, user0, BTC, BTC, true, user1)
	require.NoError(t, err)
	assert.Equal(t, pricing.Liquidatable, state)

	closedPos := h.vault.Position(user0, BTC, BTC, true)
	assert.False(t, closedPos.IsOpen())
	assert.Equal(t, "13888", h.tokens.BalanceOf(BTC, user1).String())

	btc := h.vault.Asset(BTC)
	assert.True(t, btc.GuaranteedUSD.IsZero())
	assert.True(t, btc.ReservedAmount.IsZero())
	assert.Equal(t, "99930835", btc.PoolAmount.String())
	assert.Equal(t, "305277", btc.FeeReserves.String())
	require.NoError(t, h.vault.CheckSolvency(BTC, fpmath.Zero()))
}

func TestLiquidateOverLeveragedClosesToOwner(t *testing.T) {
	h := newLongHarness(t)

	h.deposit(BTC, user0, "0.0025")
	require.NoError(t, h.increase(user0, BTC, BTC, "1000", true))
	require.NoError(t, h.vault.SetMaxLeverage(gov, 5*10000))

	state, err := h.vault.LiquidatePosition(h.ctx, user1, user0, BTC, BTC, true, user1)
	require.NoError(t, err)
	assert.Equal(t, pricing.MaxLeverageExceeded, state)

	closedPos := h.vault.Position(user0, BTC, BTC, true)
	assert.False(t, closedPos.IsOpen())
	assert.Equal(t, "245000", h.tokens.BalanceOf(BTC, user0).String())
	assert.True(t, h.tokens.BalanceOf(BTC, user1).IsZero())
}

func TestPrivateLiquidationMode(t *testing.T) {
	h := newLongHarness(t)

	h.deposit(BTC, user0, "0.0025")
	require.NoError(t, h.increase(user0, BTC, BTC, "1000", true))
	for i := 0; i < 3; i++ {
		h.setPrice(BTC, "36000")
	}

	require.NoError(t, h.vault.SetPrivateLiquidationMode(gov, true))
	_, err := h.vault.LiquidatePosition(h.ctx, user1, user0, BTC, BTC, true, user1)
	require.ErrorIs(t, err, vault.ErrInvalidLiquidator)
	assert.Equal(t, vault.ClassAuthorization, vault.ClassOf(err))

	require.NoError(t, h.vault.SetLiquidator(gov, user1, true))
	_, err = h.vault.LiquidatePosition(h.ctx, user1, user0, BTC, BTC, true, user1)
	require.NoError(t, err)
}

func TestShortCloseRestoresGlobalShort(t *testing.T) {
	h := newLongHarness(t)

	h.deposit(DAI, lp, "2000")
	_, err := h.vault.BuyDebtToken(h.ctx, lp, DAI, lp)
	require.NoError(t, err)

	h.deposit(DAI, user0, "100")
	require.NoError(t, h.increase(user0, DAI, BTC, "1000", false))
	assert.Equal(t, usd("1000"), h.vault.Asset(BTC).GlobalShortSize)
	avg := h.vault.Asset(BTC).GlobalShortAveragePrice

	_, err = h.vault.DecreasePosition(h.ctx, user0, user0, DAI, BTC, fpmath.Zero(), usd("400"), false, user0)
	require.NoError(t, err)
	btc := h.vault.Asset(BTC)
	assert.Equal(t, usd("600"), btc.GlobalShortSize)
	assert.Equal(t, avg, btc.GlobalShortAveragePrice)

	_, err = h.vault.DecreasePosition(h.ctx, user0, user0, DAI, BTC, fpmath.Zero(), usd("600"), false, user0)
	require.NoError(t, err)
	assert.True(t, h.vault.Asset(BTC).GlobalShortSize.IsZero())
	assert.True(t, h.vault.Asset(DAI).ReservedAmount.IsZero())

	hasProfit, delta, err := h.vault.GlobalShortDelta(BTC)
	require.NoError(t, err)
	assert.False(t, hasProfit)
	assert.True(t, delta.IsZero())
}
