package vault_test

import (
	"testing"

	"PerpVault/internal/auth"
	fpmath "PerpVault/internal/math"
	"PerpVault/internal/registry"
	"PerpVault/internal/vault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncreaseShortValidationOrder(t *testing.T) {
	h := newHarness(t)

	h.setPrice(BNB, "300")
	h.configure(BNB, false, true)

	err := h.vault.IncreasePosition(h.ctx, user1, user0, DAI, BTC, usd("0"), false)
	require.ErrorIs(t, err, vault.ErrInvalidCaller)

	require.ErrorIs(t, h.increase(user0, DAI, BTC, "1000", false), vault.ErrCollateralAssetNotWhitelisted)
	require.ErrorIs(t, h.increase(user0, BNB, BNB, "1000", false), vault.ErrCollateralAssetMustBeStableAsset)

	h.setPrice(DAI, "1")
	h.configure(DAI, true, false)
	require.ErrorIs(t, h.increase(user0, DAI, DAI, "1000", false), vault.ErrIndexAssetMustNotBeStableAsset)

	require.ErrorIs(t, h.increase(user0, DAI, BTC, "1000", false), vault.ErrIndexAssetNotShortable)

	h.setPrice(BTC, "60000")
	h.configure(BTC, false, false)
	require.ErrorIs(t, h.increase(user0, DAI, BTC, "1000", false), vault.ErrIndexAssetNotShortable)

	h.configure(BTC, false, true)
	h.setPrice(BTC, "40000")
	h.setPrice(BTC, "50000")
	require.ErrorIs(t, h.increase(user0, DAI, BTC, "1000", false), vault.ErrInsufficientCollateralForFees)
	require.ErrorIs(t, h.increase(user0, DAI, BTC, "0", false), vault.ErrInvalidPositionSize)

	h.deposit(DAI, user0, "0.9")
	require.ErrorIs(t, h.increase(user0, DAI, BTC, "1000", false), vault.ErrInsufficientCollateralForFees)

	h.deposit(DAI, user0, "4")
	require.ErrorIs(t, h.increase(user0, DAI, BTC, "1000", false), vault.ErrLossesExceedCollateral)

	h.setPrice(BTC, "40000")
	h.setPrice(BTC, "41000")
	h.setPrice(BTC, "40000")
	require.ErrorIs(t, h.increase(user0, DAI, BTC, "100", false), vault.ErrLiquidationFeesExceedCollateral)

	h.deposit(DAI, user0, "6")
	require.ErrorIs(t, h.increase(user0, DAI, BTC, "8", false), vault.ErrSizeMustBeMoreThanCollateral)

	h.setPrice(BTC, "40000")
	h.setPrice(BTC, "40000")
	h.setPrice(BTC, "40000")
	require.ErrorIs(t, h.increase(user0, DAI, BTC, "600", false), vault.ErrMaxLeverageExceeded)
	require.ErrorIs(t, h.increase(user0, DAI, BTC, "100", false), vault.ErrReserveExceedsPool)

	// Nothing above committed: the deposits are still unaccounted for.
	assert.True(t, h.vault.Asset(DAI).TokenBalance.IsZero())
	assert.Equal(t, units("10.9"), h.tokens.BalanceOf(DAI, self))
	assert.Empty(t, h.vault.Positions())
}

func TestIncreaseLongValidation(t *testing.T) {
	h := newHarness(t)
	h.setPrice(DAI, "1")
	h.configure(DAI, true, false)
	h.setPrice(BTC, "40000")
	h.configure(BTC, false, true)

	require.ErrorIs(t, h.increase(user0, DAI, BTC, "100", true), vault.ErrMismatchedAssets)
	require.ErrorIs(t, h.increase(user0, BNB, BNB, "100", true), vault.ErrCollateralAssetNotWhitelisted)
	require.ErrorIs(t, h.increase(user0, DAI, DAI, "100", true), vault.ErrCollateralAssetMustNotBeStableAsset)
}

func TestIncreaseShortPosition(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.vault.SetMaxGlobalShortSize(gov, BTC, usd("300")))

	hasProfit, delta, err := h.vault.GlobalShortDelta(BTC)
	require.NoError(t, err)
	assert.False(t, hasProfit)
	assert.True(t, delta.IsZero())
	assert.True(t, h.aum(true).IsZero())
	assert.True(t, h.aum(false).IsZero())

	fees := registry.DefaultFeeConfig()
	fees.StableTaxBps = 10
	fees.MintBurnFeeBps = 4
	require.NoError(t, h.vault.SetFees(gov, fees))

	h.setPrice(BTC, "60000")
	h.configure(BTC, false, true)
	h.setPrice(BNB, "1000")
	h.configure(BNB, false, true)
	h.setPrice(DAI, "1")
	h.configure(DAI, true, false)
	h.setPrice(BTC, "40000")
	h.setPrice(BTC, "40000")
	h.setPrice(BTC, "40000")

	h.tokens.Credit(DAI, user0, units("1000"))
	require.NoError(t, h.tokens.Transfer(h.ctx, DAI, user0, self, units("500")))

	require.ErrorIs(t, h.increase(user0, DAI, BTC, "99", false), vault.ErrSizeMustBeMoreThanCollateral)
	require.ErrorIs(t, h.increase(user0, DAI, BTC, "501", false), vault.ErrReserveExceedsPool)

	dai := h.vault.Asset(DAI)
	assert.True(t, dai.FeeReserves.IsZero())
	assert.True(t, dai.DebtTokenAmount.IsZero())
	assert.True(t, dai.PoolAmount.IsZero())
	redemption, err := h.vault.RedemptionCollateralUSD(DAI)
	require.NoError(t, err)
	assert.True(t, redemption.IsZero())

	minted, err := h.vault.BuyDebtToken(h.ctx, user1, DAI, user1)
	require.NoError(t, err)
	assert.Equal(t, "49980000000", minted.String())

	redemption, err = h.vault.RedemptionCollateralUSD(DAI)
	require.NoError(t, err)
	assert.Equal(t, "499800000000000000000000000000000", redemption.String())

	dai = h.vault.Asset(DAI)
	assert.Equal(t, "20000000", dai.FeeReserves.String())
	assert.Equal(t, "49980000000", dai.DebtTokenAmount.String())
	assert.Equal(t, "49980000000", dai.PoolAmount.String())

	hasProfit, delta, err = h.vault.GlobalShortDelta(BTC)
	require.NoError(t, err)
	assert.False(t, hasProfit)
	assert.True(t, delta.IsZero())
	assert.Equal(t, "49980000000", h.aum(true).String())
	assert.Equal(t, "49980000000", h.aum(false).String())

	require.NoError(t, h.tokens.Transfer(h.ctx, DAI, user0, self, units("20")))
	require.ErrorIs(t, h.increase(user0, DAI, BTC, "501", false), vault.ErrReserveExceedsPool)

	btc := h.vault.Asset(BTC)
	assert.True(t, btc.ReservedAmount.IsZero())
	assert.True(t, btc.GuaranteedUSD.IsZero())

	pos := h.vault.Position(user0, DAI, BTC, false)
	assert.False(t, pos.IsOpen())
	assert.True(t, pos.CollateralUSD.IsZero())
	assert.True(t, pos.AveragePrice.IsZero())
	assert.True(t, pos.ReserveAmount.IsZero())
	assert.True(t, pos.HasProfit())

	h.setPrice(BTC, "41000")
	require.NoError(t, h.increase(user0, DAI, BTC, "90", false))

	dai = h.vault.Asset(DAI)
	assert.Equal(t, "49980000000", dai.PoolAmount.String())
	assert.Equal(t, units("90"), dai.ReservedAmount)
	assert.True(t, dai.GuaranteedUSD.IsZero())
	redemption, err = h.vault.RedemptionCollateralUSD(DAI)
	require.NoError(t, err)
	assert.Equal(t, "499800000000000000000000000000000", redemption.String())

	pos = h.vault.Position(user0, DAI, BTC, false)
	assert.Equal(t, usd("90"), pos.SizeUSD)
	assert.Equal(t, usd("19.91"), pos.CollateralUSD)
	assert.Equal(t, usd("40000"), pos.AveragePrice)
	assert.True(t, pos.EntryFundingRate.IsZero())
	assert.Equal(t, units("90"), pos.ReserveAmount)
	assert.True(t, pos.RealisedPnL.IsZero())
	assert.True(t, pos.HasProfit())
	assert.Equal(t, h.now.Unix(), pos.LastIncreasedTime)

	assert.Equal(t, "29000000", dai.FeeReserves.String())
	assert.Equal(t, "49980000000", dai.DebtTokenAmount.String())

	btc = h.vault.Asset(BTC)
	assert.Equal(t, usd("90"), btc.GlobalShortSize)
	assert.Equal(t, usd("40000"), btc.GlobalShortAveragePrice)

	assertGlobalDelta(t, h, false, usd("2.25"))
	assert.Equal(t, "50205000000", h.aum(true).String())
	assert.Equal(t, "49980000000", h.aum(false).String())
	assertPositionDelta(t, h, user0, false, usd("2.25"))

	h.setPrice(BTC, "42000")
	h.setPrice(BTC, "42000")
	h.setPrice(BTC, "42000")

	assertPositionDelta(t, h, user0, false, usd("4.5"))
	assertGlobalDelta(t, h, false, usd("4.5"))
	assert.Equal(t, "50430000000", h.aum(true).String())
	assert.Equal(t, "50430000000", h.aum(false).String())

	out, err := h.vault.DecreasePosition(h.ctx, user0, user0, DAI, BTC, usd("3"), usd("50"), false, user2)
	require.NoError(t, err)
	assert.Equal(t, "295000000", out.String())

	pos = h.vault.Position(user0, DAI, BTC, false)
	assert.Equal(t, usd("40"), pos.SizeUSD)
	assert.Equal(t, usd("14.41"), pos.CollateralUSD)
	assert.Equal(t, usd("40000"), pos.AveragePrice)
	assert.True(t, pos.EntryFundingRate.IsZero())
	assert.Equal(t, units("40"), pos.ReserveAmount)
	assert.Equal(t, fpmath.NewInt(usd("2.5"), true), pos.RealisedPnL)
	assert.False(t, pos.HasProfit())

	assertPositionDelta(t, h, user0, false, usd("2"))

	dai = h.vault.Asset(DAI)
	assert.Equal(t, "34000000", dai.FeeReserves.String())
	assert.Equal(t, "49980000000", dai.DebtTokenAmount.String())
	assert.Equal(t, "50230000000", dai.PoolAmount.String())

	btc = h.vault.Asset(BTC)
	assert.Equal(t, usd("40"), btc.GlobalShortSize)
	assert.Equal(t, usd("40000"), btc.GlobalShortAveragePrice)
	assertGlobalDelta(t, h, false, usd("2"))
	assert.Equal(t, "50430000000", h.aum(true).String())
	assert.Equal(t, "50430000000", h.aum(false).String())

	assert.Equal(t, "295000000", h.tokens.BalanceOf(DAI, user2).String())

	h.tokens.Credit(DAI, self, units("50"))
	require.NoError(t, h.increase(user1, DAI, BTC, "200", false))

	btc = h.vault.Asset(BTC)
	assert.Equal(t, usd("240"), btc.GlobalShortSize)
	assert.Equal(t, "41652892561983471074380165289256198", btc.GlobalShortAveragePrice.String())
	assertGlobalDelta(t, h, false, usd("2"))
	assert.Equal(t, "50430000000", h.aum(true).String())
	assert.Equal(t, "50430000000", h.aum(false).String())

	h.setPrice(BTC, "40000")
	h.setPrice(BTC, "40000")
	h.setPrice(BTC, "41000")

	assertPositionDelta(t, h, user0, false, usd("1"))
	assertPositionDelta(t, h, user1, true, fpmath.MustUint("4761904761904761904761904761904"))
	assertGlobalDelta(t, h, true, fpmath.MustUint("3761904761904761904761904761904"))
	assert.Equal(t, "49853809523", h.aum(true).String())
	assert.Equal(t, "49277619047", h.aum(false).String())

	h.tokens.Credit(DAI, self, units("20"))
	require.NoError(t, h.increase(user2, DAI, BTC, "60", false))

	btc = h.vault.Asset(BTC)
	assert.Equal(t, usd("300"), btc.GlobalShortSize)
	assert.Equal(t, "41311475409836065573770491803278614", btc.GlobalShortAveragePrice.String())
	assertGlobalDelta(t, h, true, fpmath.MustUint("2261904761904761904761904761904"))
	assert.Equal(t, "50003809523", h.aum(true).String())
	assert.Equal(t, "49277619047", h.aum(false).String())

	h.tokens.Credit(DAI, self, units("20"))
	require.ErrorIs(t, h.increase(user2, DAI, BTC, "60", false), vault.ErrMaxShortsExceeded)

	require.NoError(t, h.increase(user2, DAI, BNB, "60", false))
	assert.Equal(t, usd("60"), h.vault.Asset(BNB).GlobalShortSize)
}

func TestIncreaseLongTracksGuaranteedUSD(t *testing.T) {
	h := newLongHarness(t)

	h.deposit(BTC, user0, "0.0025")
	require.NoError(t, h.increase(user0, BTC, BTC, "1000", true))

	pos := h.vault.Position(user0, BTC, BTC, true)
	assert.Equal(t, usd("1000"), pos.SizeUSD)
	assert.Equal(t, usd("99"), pos.CollateralUSD)
	assert.Equal(t, usd("40000"), pos.AveragePrice)
	assert.Equal(t, units("0.025"), pos.ReserveAmount)

	btc := h.vault.Asset(BTC)
	assert.Equal(t, usd("901"), btc.GuaranteedUSD)
	assert.Equal(t, units("0.025"), btc.ReservedAmount)
	assert.Equal(t, "99947500", btc.PoolAmount.String())
	assert.Equal(t, "302500", btc.FeeReserves.String())
	assert.True(t, btc.GlobalShortSize.IsZero())

	require.NoError(t, h.vault.CheckSolvency(BTC, fpmath.Zero()))

	lev, err := h.vault.PositionLeverage(user0, BTC, BTC, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(101010), lev)
}

func TestIncreaseAveragesEntryPrice(t *testing.T) {
	h := newLongHarness(t)

	h.deposit(BTC, user0, "0.0025")
	require.NoError(t, h.increase(user0, BTC, BTC, "1000", true))

	h.setPrice(BTC, "50000")
	h.setPrice(BTC, "50000")
	h.setPrice(BTC, "50000")
	h.deposit(BTC, user0, "0.002")
	require.NoError(t, h.increase(user0, BTC, BTC, "1000", true))

	// 1000 USD at 40000 is worth 1250 at 50000; adding 1000 more values
	// 2000 USD of size at 2250 USD.
	pos := h.vault.Position(user0, BTC, BTC, true)
	assert.Equal(t, usd("2000"), pos.SizeUSD)
	assert.Equal(t, "44444444444444444444444444444444444", pos.AveragePrice.String())
}

func assertPositionDelta(t *testing.T, h *harness, owner auth.Identity, hasProfit bool, delta fpmath.Uint) {
	t.Helper()
	gotProfit, got, err := h.vault.PositionDelta(owner, DAI, BTC, false)
	require.NoError(t, err)
	assert.Equal(t, hasProfit, gotProfit)
	assert.Equal(t, delta, got)
}

func assertGlobalDelta(t *testing.T, h *harness, hasProfit bool, delta fpmath.Uint) {
	t.Helper()
	gotProfit, got, err := h.vault.GlobalShortDelta(BTC)
	require.NoError(t, err)
	assert.Equal(t, hasProfit, gotProfit)
	assert.Equal(t, delta, got)
}
