package ingestion_test

import (
	"testing"

	"PerpVault/internal/ingestion"
	fpmath "PerpVault/internal/math"
	"PerpVault/internal/observability"
	"PerpVault/internal/oracle"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSubscriber(t *testing.T) (*ingestion.PriceSubscriber, *oracle.PriceFeed, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	feeds := oracle.NewPriceFeed()
	return ingestion.NewPriceSubscriber(nil, feeds, observability.NewMetricsWith(reg), zerolog.Nop()), feeds, reg
}

func counter(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestHandleCreatesFeedAndAppendsRounds(t *testing.T) {
	sub, feeds, reg := newSubscriber(t)

	require.NoError(t, sub.Handle("vault.prices.BTC", []byte(`{"answer":"40000"}`)))
	require.NoError(t, sub.Handle("vault.prices.BTC", []byte(`{"answer":"41000"}`)))

	feed, ok := feeds.Feed("BTC")
	require.True(t, ok)
	assert.Equal(t, uint8(8), feed.Decimals())
	assert.Equal(t, uint64(2), feed.LatestRound())

	// Max over the sample space, normalised to 30 decimals.
	maxPrice, err := feeds.MaxPrice("BTC")
	require.NoError(t, err)
	assert.Equal(t, fpmath.ExpandDecimals(41000, 30), maxPrice)
	minPrice, err := feeds.MinPrice("BTC")
	require.NoError(t, err)
	assert.Equal(t, fpmath.ExpandDecimals(40000, 30), minPrice)

	assert.Equal(t, float64(2), counter(t, reg, "perp_ingest_price_updates_total", "asset", "BTC"))
}

func TestHandleRejectsDecimalsChange(t *testing.T) {
	sub, feeds, reg := newSubscriber(t)
	feeds.SetFeed("DAI", oracle.NewFeed(8))

	err := sub.Handle("vault.prices.DAI", []byte(`{"answer":"1","decimals":18}`))
	require.ErrorIs(t, err, ingestion.ErrDecimalsMismatch)

	feed, _ := feeds.Feed("DAI")
	assert.Equal(t, uint64(0), feed.LatestRound())
	assert.Equal(t, float64(1), counter(t, reg, "perp_ingest_price_updates_invalid_total", "reason", "decimals"))
}

func TestHandleCountsMalformedPayloads(t *testing.T) {
	sub, feeds, reg := newSubscriber(t)

	require.Error(t, sub.Handle("vault.prices.BTC", []byte(`not json`)))
	_, ok := feeds.Feed("BTC")
	assert.False(t, ok)
	assert.Equal(t, float64(1), counter(t, reg, "perp_ingest_price_updates_invalid_total", "reason", "malformed"))
}
