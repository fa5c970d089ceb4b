package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"PerpVault/internal/observability"
	"PerpVault/internal/query"
	"PerpVault/internal/server"
	"PerpVault/internal/testutil"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *prometheus.Registry) {
	t.Helper()
	f := testutil.NewVaultFixture(t)
	f.OpenShort()

	reg := prometheus.NewRegistry()
	hc := observability.NewHealthChecker()
	hc.SetReady(true)
	srv, err := server.New("127.0.0.1:0", "127.0.0.1:0", server.Deps{
		Query:         query.NewService(f.Vault, nil),
		HealthChecker: hc,
		Metrics:       observability.NewMetricsWith(reg),
		Gatherer:      reg,
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, reg
}

func getJSON(t *testing.T, ts *httptest.Server, path string, out any) int {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestGetAsset(t *testing.T) {
	ts, _ := newTestServer(t)

	var body map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, ts, "/v1/assets/DAI", &body))
	assert.Equal(t, "DAI", body["asset"])
	assert.Equal(t, "499.8", body["pool_amount"])
	assert.Equal(t, "0.29", body["fee_reserves"])

	var errBody map[string]string
	require.Equal(t, http.StatusNotFound, getJSON(t, ts, "/v1/assets/ETH", &errBody))
	assert.Equal(t, "NotFound", errBody["code"])
}

func TestGetPosition(t *testing.T) {
	ts, _ := newTestServer(t)
	owner := url.PathEscape(testutil.Trader.String())

	var body map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, ts, "/v1/positions/"+owner+"/DAI/BTC/short", &body))
	assert.Equal(t, "19.91", body["collateral_usd"])
	assert.Equal(t, "4.5", body["delta_usd"])
	assert.Equal(t, false, body["has_profit"])

	require.Equal(t, http.StatusNotFound, getJSON(t, ts, "/v1/positions/"+owner+"/DAI/BTC/long", nil))
	require.Equal(t, http.StatusBadRequest, getJSON(t, ts, "/v1/positions/"+owner+"/DAI/BTC/sideways", nil))
	require.Equal(t, http.StatusBadRequest, getJSON(t, ts, "/v1/positions/nobody/DAI/BTC/short", nil))

	var list []map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, ts, "/v1/positions?owner="+url.QueryEscape(testutil.Trader.String()), &list))
	assert.Len(t, list, 1)
}

func TestAUMAndShortDelta(t *testing.T) {
	ts, _ := newTestServer(t)

	var aum map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, ts, "/v1/aum", &aum))
	assert.Equal(t, "504.3", aum["max_usd"])

	var delta map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, ts, "/v1/shorts/BTC/delta", &delta))
	assert.Equal(t, "4.5", delta["delta_usd"])
	assert.Equal(t, false, delta["has_profit"])
}

func TestEventsUnavailableWithoutEventLog(t *testing.T) {
	ts, _ := newTestServer(t)
	require.Equal(t, http.StatusServiceUnavailable, getJSON(t, ts, "/v1/events?from=1", nil))
	require.Equal(t, http.StatusBadRequest, getJSON(t, ts, "/v1/events?from=-1", nil))

	owner := url.QueryEscape(testutil.Trader.String())
	require.Equal(t, http.StatusServiceUnavailable, getJSON(t, ts, "/v1/history?owner="+owner, nil))
	require.Equal(t, http.StatusBadRequest, getJSON(t, ts, "/v1/history?owner=nobody", nil))
}

func TestHealthAndMetrics(t *testing.T) {
	ts, reg := newTestServer(t)

	var body map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, ts, "/readyz", &body))
	assert.Equal(t, "ready", body["status"])

	getJSON(t, ts, "/v1/assets/ETH", nil)

	families, err := reg.Gather()
	require.NoError(t, err)
	var notFound float64
	for _, mf := range families {
		if mf.GetName() != "perp_query_errors_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			notFound += m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(1), notFound)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
