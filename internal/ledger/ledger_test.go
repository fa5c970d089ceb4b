package ledger_test

import (
	"testing"

	"PerpVault/internal/auth"
	"PerpVault/internal/ledger"
	fpmath "PerpVault/internal/math"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vaultCap(t *testing.T) auth.Capability {
	t.Helper()
	gov := auth.AddressIdentity([32]byte{1})
	vault := auth.ContractIdentity([32]byte{2})
	g := auth.NewGate(gov)
	require.NoError(t, g.Authorize(gov, vault, auth.RoleVault))
	return g.Capability(vault)
}

func n(v uint64) fpmath.Uint {
	return fpmath.NewUint(v)
}

// === Authorization ===

func TestPutRequiresPrivilegedCapability(t *testing.T) {
	l := ledger.New()
	require.NoError(t, l.Init(vaultCap(t), "DAI"))

	var unprivileged auth.Capability
	err := l.Put(unprivileged, ledger.AssetState{Asset: "DAI", PoolAmount: n(1)})
	require.ErrorIs(t, err, auth.ErrUnauthorized)
	assert.True(t, l.Asset("DAI").PoolAmount.IsZero())

	require.ErrorIs(t, l.Init(unprivileged, "BTC"), auth.ErrUnauthorized)
	assert.False(t, l.Exists("BTC"))
}

func TestPutIsAllOrNothing(t *testing.T) {
	l := ledger.New()
	c := vaultCap(t)
	require.NoError(t, l.Init(c, "DAI"))

	err := l.Put(c,
		ledger.AssetState{Asset: "DAI", PoolAmount: n(10)},
		ledger.AssetState{Asset: "BTC", PoolAmount: n(10)},
	)
	require.ErrorIs(t, err, ledger.ErrUnknownAsset)
	assert.True(t, l.Asset("DAI").PoolAmount.IsZero())
}

func TestAssetReturnsCopy(t *testing.T) {
	l := ledger.New()
	c := vaultCap(t)
	require.NoError(t, l.Init(c, "DAI"))

	s := l.Asset("DAI")
	s.PoolAmount = n(99)
	assert.True(t, l.Asset("DAI").PoolAmount.IsZero())
}

// === Pool guards ===

func TestIncreasePoolBoundedByCustody(t *testing.T) {
	s := ledger.AssetState{Asset: "DAI"}
	require.NoError(t, s.IncreasePool(n(100), n(100)))
	require.ErrorIs(t, s.IncreasePool(n(1), n(100)), ledger.ErrPoolExceedsBalance)
	assert.Equal(t, n(100), s.PoolAmount)
}

func TestDecreasePoolKeepsReserveCovered(t *testing.T) {
	s := ledger.AssetState{Asset: "DAI", PoolAmount: n(100), ReservedAmount: n(60)}
	require.ErrorIs(t, s.DecreasePool(n(101)), ledger.ErrPoolAmountExceeded)
	require.ErrorIs(t, s.DecreasePool(n(50)), ledger.ErrReserveExceedsPool)
}

func TestReservedBounds(t *testing.T) {
	s := ledger.AssetState{Asset: "DAI", PoolAmount: n(100)}
	require.NoError(t, s.IncreaseReserved(n(100)))
	require.ErrorIs(t, s.IncreaseReserved(n(1)), ledger.ErrReserveExceedsPool)
	require.ErrorIs(t, s.DecreaseReserved(n(101)), ledger.ErrInsufficientReserve)
	require.NoError(t, s.DecreaseReserved(n(100)))
}

func TestCapsTreatZeroAsUnlimited(t *testing.T) {
	s := ledger.AssetState{Asset: "BTC"}
	require.NoError(t, s.IncreaseGlobalShortSize(n(1_000_000), fpmath.Zero()))
	require.ErrorIs(t, s.IncreaseGlobalShortSize(n(1), n(1_000_000)), ledger.ErrMaxShortsExceeded)

	require.NoError(t, s.IncreaseDebtToken(n(5), fpmath.Zero()))
	require.ErrorIs(t, s.IncreaseDebtToken(n(6), n(10)), ledger.ErrMaxDebtTokenExceeded)
}

func TestDecreasesThatFloor(t *testing.T) {
	s := ledger.AssetState{Asset: "BTC", GlobalShortSize: n(5), DebtTokenAmount: n(5), GlobalShortAveragePrice: n(40000)}
	s.DecreaseGlobalShortSize(n(9))
	s.DecreaseDebtToken(n(9))
	assert.True(t, s.GlobalShortSize.IsZero())
	assert.True(t, s.DebtTokenAmount.IsZero())
	assert.Equal(t, n(40000), s.GlobalShortAveragePrice)

	require.ErrorIs(t, s.DecreaseGuaranteedUSD(n(1)), ledger.ErrInsufficientGuaranteedUSD)
}

// === Invariants ===

func TestSolvencyAndPostState(t *testing.T) {
	l := ledger.New()
	c := vaultCap(t)
	require.NoError(t, l.Init(c, "DAI"))
	require.NoError(t, l.Put(c, ledger.AssetState{Asset: "DAI", PoolAmount: n(998), FeeReserves: n(2)}))

	v := ledger.NewInvariantValidator(l)
	require.NoError(t, v.CheckSolvency("DAI", n(1000), fpmath.Zero()))
	require.NoError(t, v.CheckSolvency("DAI", n(1020), n(20)))
	require.ErrorIs(t, v.CheckSolvency("DAI", n(1001), fpmath.Zero()), ledger.ErrSolvencyViolated)

	require.NoError(t, v.ValidateAsset("DAI", n(1000)))
	require.ErrorIs(t, v.ValidateAsset("DAI", n(999)), ledger.ErrInvariantViolated)
}

func TestCanonicalBytesChangeWithState(t *testing.T) {
	a := ledger.AssetState{Asset: "DAI", PoolAmount: n(1)}
	b := a
	b.FeeReserves = n(1)
	assert.NotEqual(t, a.CanonicalBytes(), b.CanonicalBytes())
	assert.Equal(t, a.CanonicalBytes(), a.CanonicalBytes())
}
