package exporter

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/cacheload/internal/load"
	"github.com/wesleyorama2/cacheload/internal/load/executor"
	"github.com/wesleyorama2/cacheload/internal/load/metrics"
)

type fakeSource struct {
	stats []*executor.Stats
	snap  *metrics.Snapshot
}

func (f *fakeSource) GetScenarioStats() []*executor.Stats { return f.stats }
func (f *fakeSource) Metrics() *metrics.Snapshot          { return f.snap }

func newFakeSource(t *testing.T) *fakeSource {
	t.Helper()
	reg := metrics.NewRegistry()
	b := metrics.RegisterBuiltin(reg)
	hit := reg.MustMetric("cache_hit_rate", metrics.Rate)

	read := metrics.Tags{"scenario": "read", "method": "GET"}
	for i := 0; i < 8; i++ {
		require.NoError(t, reg.Add(b.HTTPReqs, 1, read))
		require.NoError(t, reg.Add(b.HTTPReqDuration, float64(10+i), read))
		require.NoError(t, reg.Add(hit, float64(i%2), metrics.Tags{"scenario": "read"}))
	}
	// A series with a tag key the others lack.
	require.NoError(t, reg.Add(b.HTTPReqs, 1, metrics.Tags{"scenario": "write", "method": "PUT", "expected-status": "200"}))

	return &fakeSource{
		stats: []*executor.Stats{{
			Scenario:   "read",
			Type:       executor.TypeConstantArrivalRate,
			Started:    8,
			Dropped:    2,
			InFlight:   1,
			TargetRate: 10,
			Pool:       load.PoolStats{Busy: 1, Allocated: 3},
		}},
		snap: reg.Snapshot(),
	}
}

func gather(t *testing.T, src Source) map[string]int {
	t.Helper()
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(src)))
	families, err := reg.Gather()
	require.NoError(t, err)

	out := make(map[string]int, len(families))
	for _, f := range families {
		out[f.GetName()] = len(f.GetMetric())
	}
	return out
}

func TestCollector(t *testing.T) {
	families := gather(t, newFakeSource(t))

	assert.Equal(t, 1, families["cacheload_scenario_iterations_started_total"])
	assert.Equal(t, 1, families["cacheload_scenario_iterations_dropped_total"])
	assert.Equal(t, 1, families["cacheload_scenario_vus_busy"])
	assert.Equal(t, 2, families["cacheload_http_reqs_total"], "one per tag set")
	assert.Equal(t, 1, families["cacheload_http_req_duration"])
	assert.Equal(t, 1, families["cacheload_cache_hit_rate_ratio"])
	assert.NotContains(t, families, "cacheload_iterations_total", "metrics without samples are skipped")
}

func TestCollector_Values(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(newFakeSource(t))))
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, f := range families {
		switch f.GetName() {
		case "cacheload_cache_hit_rate_ratio":
			assert.InDelta(t, 0.5, f.GetMetric()[0].GetGauge().GetValue(), 1e-9)
		case "cacheload_http_req_duration":
			s := f.GetMetric()[0].GetSummary()
			assert.Equal(t, uint64(8), s.GetSampleCount())
			assert.InDelta(t, 108, s.GetSampleSum(), 1e-6)
			assert.Len(t, s.GetQuantile(), len(summaryQuantiles))
		case "cacheload_http_reqs_total":
			for _, m := range f.GetMetric() {
				assert.Len(t, m.GetLabel(), 3, "labels are the union of tag keys")
			}
		case "cacheload_scenario_target_rate":
			assert.Equal(t, 10.0, f.GetMetric()[0].GetGauge().GetValue())
		}
	}
}

func TestCollector_NoSnapshot(t *testing.T) {
	families := gather(t, &fakeSource{})
	assert.Empty(t, families)
}

func TestLabelName(t *testing.T) {
	tests := map[string]string{
		"scenario":        "scenario",
		"expected-status": "expected_status",
		"1st":             "_1st",
		"":                "_",
	}
	for in, want := range tests {
		assert.Equal(t, want, labelName(in), in)
	}
}

func TestServer_Handler(t *testing.T) {
	srv, err := NewServer(newFakeSource(t), zerolog.Nop())
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `cacheload_http_reqs_total{expected_status="",method="GET",scenario="read"} 8`)
	assert.Contains(t, string(body), "go_goroutines")

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_ListenAndServe(t *testing.T) {
	srv, err := NewServer(&fakeSource{}, zerolog.Nop())
	require.NoError(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
