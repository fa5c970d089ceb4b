package projection_test

import (
	"testing"

	"PerpVault/internal/event"
	fpmath "PerpVault/internal/math"
	"PerpVault/internal/persistence"
	"PerpVault/internal/projection"
	"PerpVault/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rows drains every envelope the fixture has persisted so far.
func rows(t *testing.T, f *testutil.VaultFixture) map[string][]persistence.EventRow {
	t.Helper()
	out := make(map[string][]persistence.EventRow)
	for {
		select {
		case env := <-f.Persist:
			row, err := persistence.RowFromEnvelope(env)
			require.NoError(t, err)
			out[env.Operation] = append(out[env.Operation], row)
		default:
			return out
		}
	}
}

func TestEntriesFromIncrease(t *testing.T) {
	f := testutil.NewVaultFixture(t)
	f.OpenShort()

	logged := rows(t, f)
	require.Len(t, logged["IncreasePosition"], 1)

	entries, err := projection.EntriesFromRow(logged["IncreasePosition"][0])
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, event.EventTypeIncreasePosition, e.Kind)
	assert.Equal(t, testutil.Trader, e.Owner)
	assert.Equal(t, testutil.DAI, e.Collateral)
	assert.Equal(t, testutil.BTC, e.Index)
	assert.False(t, e.IsLong)
	assert.True(t, testutil.USD("90").EQ(e.SizeDelta))
	assert.True(t, testutil.USD("20").EQ(e.CollateralDelta))
	assert.True(t, testutil.USD("40000").EQ(e.Price))
	assert.Nil(t, e.RealisedPnL)
	assert.False(t, e.Closed)
}

func TestEntriesFromClosingDecrease(t *testing.T) {
	f := testutil.NewVaultFixture(t)
	f.OpenShort()
	rows(t, f)

	_, err := f.Vault.DecreasePosition(f.Ctx, testutil.Trader, testutil.Trader, testutil.DAI, testutil.BTC,
		fpmath.Zero(), testutil.USD("90"), false, testutil.Trader)
	require.NoError(t, err)

	logged := rows(t, f)
	require.Len(t, logged["DecreasePosition"], 1)
	entries, err := projection.EntriesFromRow(logged["DecreasePosition"][0])
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, event.EventTypeDecreasePosition, e.Kind)
	assert.True(t, testutil.USD("90").EQ(e.SizeDelta))
	assert.True(t, testutil.USD("42000").EQ(e.Price))
	require.NotNil(t, e.RealisedPnL)
	assert.True(t, e.RealisedPnL.IsNegative())
	assert.True(t, testutil.USD("4.5").EQ(e.RealisedPnL.Mag))
	assert.True(t, e.Closed)
}

func TestEntriesSkipPoolOperations(t *testing.T) {
	f := testutil.NewVaultFixture(t)
	f.OpenShort()

	logged := rows(t, f)
	for _, op := range []string{"SetFees", "SetAssetConfig", "BuyDebtToken"} {
		require.NotEmpty(t, logged[op], op)
		entries, err := projection.EntriesFromRow(logged[op][0])
		require.NoError(t, err)
		assert.Empty(t, entries, op)
	}
}

func TestEntriesFromMalformedPayload(t *testing.T) {
	_, err := projection.EntriesFromRow(persistence.EventRow{Sequence: 4, Payload: []byte(`{"type":`)})
	require.Error(t, err)
}
