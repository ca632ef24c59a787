// SPDX-License-Identifier: MIT

package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nholm/ballast/internal/metrics"
)

type fakeProvider struct {
	name  string
	stats metrics.PoolStats
}

func (f *fakeProvider) Name() string                 { return f.name }
func (f *fakeProvider) PoolStats() metrics.PoolStats { return f.stats }

func gatherGauges(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	got := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			got[mf.GetName()] = m.GetGauge().GetValue()
			assertPoolLabel(t, m)
		}
	}
	return got
}

func TestPoolCollectorSnapshotsProvider(t *testing.T) {
	provider := &fakeProvider{
		name: "primary",
		stats: metrics.PoolStats{
			Size:          5,
			InUse:         3,
			Idle:          2,
			OverflowInUse: 1,
			Waiters:       4,
			Capacity:      15,
		},
	}

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(metrics.NewPoolCollector(provider)))

	got := gatherGauges(t, reg)
	assert.Equal(t, 5.0, got["ballast_pool_size"])
	assert.Equal(t, 3.0, got["ballast_pool_in_use"])
	assert.Equal(t, 2.0, got["ballast_pool_idle"])
	assert.Equal(t, 1.0, got["ballast_pool_overflow_in_use"])
	assert.Equal(t, 4.0, got["ballast_pool_waiters"])
	assert.Equal(t, 15.0, got["ballast_pool_capacity"])
}

func TestPoolCollectorReadsLiveValues(t *testing.T) {
	provider := &fakeProvider{name: "primary", stats: metrics.PoolStats{InUse: 1}}

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(metrics.NewPoolCollector(provider)))

	assert.Equal(t, 1.0, gatherGauges(t, reg)["ballast_pool_in_use"])

	provider.stats.InUse = 7
	assert.Equal(t, 7.0, gatherGauges(t, reg)["ballast_pool_in_use"],
		"collector must reflect provider state at scrape time")
}

func TestPromhttpExposure(t *testing.T) {
	metrics.IncPoolAcquire("primary", "hit")
	metrics.SetReady(true)

	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	body := string(data)
	assert.Contains(t, body, "ballast_pool_acquires_total")
	assert.Contains(t, body, "ballast_ready 1")
}

func assertPoolLabel(t *testing.T, m *dto.Metric) {
	t.Helper()
	for _, lp := range m.GetLabel() {
		if lp.GetName() == "pool" {
			assert.Equal(t, "primary", lp.GetValue())
			return
		}
	}
	t.Fatalf("metric missing pool label")
}
