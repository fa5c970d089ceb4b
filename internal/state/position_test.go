package state_test

import (
	"testing"

	"PerpVault/internal/auth"
	fpmath "PerpVault/internal/math"
	"PerpVault/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usd(v uint64) fpmath.Uint {
	return fpmath.ExpandDecimals(v, 30)
}

func newBook(t *testing.T) (*state.PositionBook, auth.Capability) {
	t.Helper()
	gov := auth.AddressIdentity([32]byte{1})
	helper := auth.ContractIdentity([32]byte{3})
	g := auth.NewGate(gov)
	require.NoError(t, g.Authorize(gov, helper, auth.RoleVaultHelper))
	return state.NewPositionBook(), g.Capability(helper)
}

func shortKey(owner byte) state.PositionKey {
	return state.PositionKey{
		Owner:      auth.AddressIdentity([32]byte{owner}),
		Collateral: "DAI",
		Index:      "BTC",
	}
}

func TestZeroSizeEqualsAbsence(t *testing.T) {
	b, c := newBook(t)
	key := shortKey(1)

	require.NoError(t, b.Put(c, state.Position{Key: key, SizeUSD: usd(90), CollateralUSD: usd(20)}))
	_, ok := b.Get(key)
	assert.True(t, ok)

	require.NoError(t, b.Put(c, state.Position{Key: key}))
	got, ok := b.Get(key)
	assert.False(t, ok)
	assert.Equal(t, key, got.Key)
	assert.True(t, got.SizeUSD.IsZero())
	assert.Equal(t, 0, b.Len())
}

func TestPutRequiresCapability(t *testing.T) {
	b := state.NewPositionBook()
	var none auth.Capability
	err := b.Put(none, state.Position{Key: shortKey(1), SizeUSD: usd(1)})
	require.ErrorIs(t, err, auth.ErrUnauthorized)
	require.ErrorIs(t, b.Delete(none, shortKey(1)), auth.ErrUnauthorized)
}

func TestGlobalShortSizeSumsShortsOnIndex(t *testing.T) {
	b, c := newBook(t)
	require.NoError(t, b.Put(c, state.Position{Key: shortKey(1), SizeUSD: usd(40)}))
	require.NoError(t, b.Put(c, state.Position{Key: shortKey(2), SizeUSD: usd(200)}))

	long := state.PositionKey{Owner: auth.AddressIdentity([32]byte{1}), Collateral: "BTC", Index: "BTC", IsLong: true}
	require.NoError(t, b.Put(c, state.Position{Key: long, SizeUSD: usd(500)}))

	other := shortKey(3)
	other.Index = "BNB"
	require.NoError(t, b.Put(c, state.Position{Key: other, SizeUSD: usd(60)}))

	assert.Equal(t, usd(240), b.GlobalShortSize("BTC"))
	assert.Equal(t, usd(60), b.GlobalShortSize("BNB"))
	assert.Len(t, b.All(), 4)
}

func TestHasProfitFollowsRealisedSign(t *testing.T) {
	p := state.Position{}
	assert.True(t, p.HasProfit())

	p.RealisedPnL = p.RealisedPnL.Sub(usd(2))
	assert.False(t, p.HasProfit())
}

func TestLeverage(t *testing.T) {
	p := state.Position{Key: shortKey(1), SizeUSD: usd(90), CollateralUSD: usd(18)}
	lev, err := p.Leverage()
	require.NoError(t, err)
	assert.Equal(t, uint64(50000), lev)

	p.CollateralUSD = fpmath.Zero()
	_, err = p.Leverage()
	require.Error(t, err)
}
