package vault_test

import (
	"testing"
	"time"

	"PerpVault/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFundingHarness funds a 499.8 DAI pool and opens a 90 USD short for
// user0 with 20 DAI at a flat 40000 BTC.
func newFundingHarness(t *testing.T) *harness {
	h := newHarness(t)

	fees := registry.DefaultFeeConfig()
	fees.StableTaxBps = 10
	fees.MintBurnFeeBps = 4
	require.NoError(t, h.vault.SetFees(gov, fees))

	h.setPrice(DAI, "1")
	h.configure(DAI, true, false)
	h.setPrice(BTC, "40000")
	h.setPrice(BTC, "40000")
	h.setPrice(BTC, "40000")
	h.configure(BTC, false, true)

	h.deposit(DAI, user1, "500")
	_, err := h.vault.BuyDebtToken(h.ctx, user1, DAI, user1)
	require.NoError(t, err)

	h.deposit(DAI, user0, "20")
	require.NoError(t, h.increase(user0, DAI, BTC, "90", false))
	return h
}

func TestFundingAccruesLazilyOnTouch(t *testing.T) {
	h := newFundingHarness(t)

	dai := h.vault.Asset(DAI)
	assert.True(t, dai.CumulativeFundingRate.IsZero())
	assert.Equal(t, int64(1_699_977_600), dai.LastFundingTime)
	assert.Equal(t, "29000000", dai.FeeReserves.String())

	// Time alone moves nothing.
	h.now = h.now.Add(16 * time.Hour)
	assert.True(t, h.vault.Asset(DAI).CumulativeFundingRate.IsZero())

	// Two whole intervals: 600 * 90 / 499.8 * 2 = 216 per 1e6.
	h.deposit(DAI, user0, "1")
	require.NoError(t, h.increase(user0, DAI, BTC, "10", false))

	dai = h.vault.Asset(DAI)
	assert.Equal(t, "216", dai.CumulativeFundingRate.String())
	assert.Equal(t, int64(1_700_035_200), dai.LastFundingTime)

	// 0.01 position fee plus 90 DAI * 216 / 1e6 = 0.01944 funding.
	pos := h.vault.Position(user0, DAI, BTC, false)
	assert.Equal(t, usd("100"), pos.SizeUSD)
	assert.Equal(t, usd("20.88056"), pos.CollateralUSD)
	assert.Equal(t, "216", pos.EntryFundingRate.String())
	assert.Equal(t, units("100"), pos.ReserveAmount)
	assert.Equal(t, "31944000", dai.FeeReserves.String())

	// One more interval: 600 * 100 / 499.8 = 120.
	h.now = h.now.Add(8 * time.Hour)
	out, err := h.vault.DecreasePosition(h.ctx, user0, user0, DAI, BTC, usd("0"), usd("50"), false, user0)
	require.NoError(t, err)
	assert.True(t, out.IsZero())

	dai = h.vault.Asset(DAI)
	assert.Equal(t, "336", dai.CumulativeFundingRate.String())

	// 0.05 position fee plus the funding on the full 100 DAI reserve held
	// before the decrease: 0.012.
	pos = h.vault.Position(user0, DAI, BTC, false)
	assert.Equal(t, usd("50"), pos.SizeUSD)
	assert.Equal(t, usd("20.81856"), pos.CollateralUSD)
	assert.Equal(t, "336", pos.EntryFundingRate.String())
	assert.Equal(t, units("50"), pos.ReserveAmount)
	assert.Equal(t, "38144000", dai.FeeReserves.String())
	assert.Equal(t, units("50"), dai.ReservedAmount)
}

func TestFundingWithinIntervalChargesNothing(t *testing.T) {
	h := newFundingHarness(t)

	h.now = h.now.Add(time.Hour)
	h.deposit(DAI, user0, "1")
	require.NoError(t, h.increase(user0, DAI, BTC, "10", false))

	dai := h.vault.Asset(DAI)
	assert.True(t, dai.CumulativeFundingRate.IsZero())
	pos := h.vault.Position(user0, DAI, BTC, false)
	assert.Equal(t, usd("20.9"), pos.CollateralUSD)
	assert.Equal(t, "30000000", dai.FeeReserves.String())
}

func TestFundingFeeCountsTowardsLiquidation(t *testing.T) {
	h := newFundingHarness(t)

	liq, err := h.vault.LiquidationState(user0, DAI, BTC, false)
	require.NoError(t, err)
	assert.Equal(t, usd("0.09"), liq.MarginFees)

	// Accrual only lands when DAI is touched; a pool action does that
	// without touching the position.
	h.now = h.now.Add(16 * time.Hour)
	h.deposit(DAI, user1, "1")
	_, err = h.vault.BuyDebtToken(h.ctx, user1, DAI, user1)
	require.NoError(t, err)

	rate := h.vault.Asset(DAI).CumulativeFundingRate
	require.False(t, rate.IsZero())

	liq, err = h.vault.LiquidationState(user0, DAI, BTC, false)
	require.NoError(t, err)
	assert.True(t, liq.MarginFees.GT(usd("0.09")))
	assert.Equal(t, "0", h.vault.Position(user0, DAI, BTC, false).EntryFundingRate.String())
}
