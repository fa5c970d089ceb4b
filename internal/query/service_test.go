package query_test

import (
	"context"
	"errors"
	"testing"

	"PerpVault/internal/auth"
	"PerpVault/internal/event"
	fpmath "PerpVault/internal/math"
	"PerpVault/internal/persistence"
	"PerpVault/internal/projection"
	"PerpVault/internal/query"
	"PerpVault/internal/state"
	"PerpVault/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shortKey() state.PositionKey {
	return state.PositionKey{Owner: testutil.Trader, Collateral: testutil.DAI, Index: testutil.BTC, IsLong: false}
}

func TestAssetRendersDecimals(t *testing.T) {
	f := testutil.NewVaultFixture(t)
	f.OpenShort()
	svc := query.NewService(f.Vault, nil)

	dai, err := svc.Asset(context.Background(), testutil.DAI)
	require.NoError(t, err)
	assert.Equal(t, "499.8", dai.PoolAmount.String())
	assert.Equal(t, "0.29", dai.FeeReserves.String())
	assert.Equal(t, "90", dai.ReservedAmount.String())
	assert.Equal(t, "499.8", dai.DebtTokenAmount.String())
	assert.Equal(t, "499.8", dai.RedemptionCollateralUSD.String())
	assert.True(t, dai.IsStable)
	assert.Equal(t, f.Vault.Sequence(), dai.AsOfSequence)

	btc, err := svc.Asset(context.Background(), testutil.BTC)
	require.NoError(t, err)
	assert.Equal(t, "90", btc.GlobalShortSize.String())
	assert.Equal(t, "40000", btc.GlobalShortAveragePrice.String())

	_, err = svc.Asset(context.Background(), "ETH")
	require.ErrorIs(t, err, query.ErrNotFound)

	all, err := svc.Assets(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPositionDerivesAtCurrentPrices(t *testing.T) {
	f := testutil.NewVaultFixture(t)
	f.OpenShort()
	svc := query.NewService(f.Vault, nil)

	pos, err := svc.Position(context.Background(), shortKey())
	require.NoError(t, err)
	assert.Equal(t, "short", pos.Side)
	assert.Equal(t, "90", pos.SizeUSD.String())
	assert.Equal(t, "19.91", pos.CollateralUSD.String())
	assert.Equal(t, "40000", pos.AveragePrice.String())
	assert.Equal(t, "90", pos.ReserveAmount.String())
	assert.Equal(t, "0", pos.RealisedPnL.String())
	assert.False(t, pos.HasProfit)
	assert.Equal(t, "4.5", pos.DeltaUSD.String())
	assert.Equal(t, uint64(45203), pos.LeverageBps)
	assert.Equal(t, "HEALTHY", pos.LiquidationState)

	list, err := svc.Positions(context.Background(), testutil.Trader)
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = svc.Positions(context.Background(), testutil.LP)
	require.NoError(t, err)
	assert.Empty(t, list)

	missing := shortKey()
	missing.IsLong = true
	_, err = svc.Position(context.Background(), missing)
	require.ErrorIs(t, err, query.ErrNotFound)
}

func TestAUMAndShortDelta(t *testing.T) {
	f := testutil.NewVaultFixture(t)
	f.OpenShort()
	svc := query.NewService(f.Vault, nil)

	aum, err := svc.AUM(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "504.3", aum.MaxUSD.String())
	assert.Equal(t, "504.3", aum.MinUSD.String())
	assert.Equal(t, "504.3", aum.MaxDebtToken.String())

	delta, err := svc.GlobalShortDelta(context.Background(), testutil.BTC)
	require.NoError(t, err)
	assert.False(t, delta.HasProfit)
	assert.Equal(t, "4.5", delta.DeltaUSD.String())
	assert.Equal(t, "90", delta.Size.String())
}

type stubLog struct {
	rows []persistence.EventRow
	err  error
	from int64
	n    int
}

func (s *stubLog) LoadEventsFrom(ctx context.Context, from int64, limit int) ([]persistence.EventRow, error) {
	s.from, s.n = from, limit
	return s.rows, s.err
}

func TestEventsPaging(t *testing.T) {
	f := testutil.NewVaultFixture(t)

	_, err := query.NewService(f.Vault, nil).Events(context.Background(), 1, 10)
	require.ErrorIs(t, err, query.ErrUnavailable)

	log := &stubLog{rows: []persistence.EventRow{{Sequence: 4, Operation: "SetFees", StateHash: []byte{0xab}, Payload: []byte(`[]`)}}}
	events, err := query.NewService(f.Vault, log).Events(context.Background(), 4, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ab", events[0].StateHash)
	assert.Equal(t, int64(4), log.from)
	assert.Equal(t, query.MaxEventsPage, log.n)

	log.err = errors.New("connection refused")
	_, err = query.NewService(f.Vault, log).Events(context.Background(), 1, 10)
	require.Error(t, err)
}

type stubHistory struct {
	entries []projection.Entry
	owner   auth.Identity
}

func (s *stubHistory) History(ctx context.Context, owner auth.Identity, limit int) ([]projection.Entry, error) {
	s.owner = owner
	return s.entries, nil
}

func TestPositionHistory(t *testing.T) {
	f := testutil.NewVaultFixture(t)

	_, err := query.NewService(f.Vault, nil).PositionHistory(context.Background(), testutil.Trader, 10)
	require.ErrorIs(t, err, query.ErrUnavailable)

	pnl := fpmath.NewInt(testutil.USD("4.5"), true)
	h := &stubHistory{entries: []projection.Entry{{
		Sequence:    9,
		Kind:        event.EventTypeDecreasePosition,
		PositionRef: event.PositionRef{Owner: testutil.Trader, Collateral: testutil.DAI, Index: testutil.BTC},
		SizeDelta:   testutil.USD("90"),
		Price:       testutil.USD("42000"),
		Fee:         testutil.USD("0.09"),
		RealisedPnL: &pnl,
		Closed:      true,
	}}}
	out, err := query.NewService(f.Vault, nil).WithHistory(h).PositionHistory(context.Background(), testutil.Trader, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, testutil.Trader, h.owner)
	assert.Equal(t, "DecreasePosition", out[0].Kind)
	assert.Equal(t, "short", out[0].Side)
	assert.Equal(t, "42000", out[0].Price.String())
	assert.Equal(t, "0.09", out[0].FeeUSD.String())
	require.NotNil(t, out[0].RealisedPnL)
	assert.Equal(t, "-4.5", out[0].RealisedPnL.String())
	assert.True(t, out[0].Closed)
}
