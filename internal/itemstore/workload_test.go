package itemstore

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/cacheload/internal/load"
	"github.com/wesleyorama2/cacheload/internal/load/metrics"
)

type harness struct {
	catalog *load.Catalog
	reg     *metrics.Registry
	builtin *metrics.Builtin
}

func newHarness(t *testing.T, client *Client, maxItemID int64) *harness {
	t.Helper()
	catalog := load.NewCatalog()
	require.NoError(t, Register(catalog, client, maxItemID))

	reg := metrics.NewRegistry()
	h := &harness{catalog: catalog, reg: reg, builtin: metrics.RegisterBuiltin(reg)}
	for _, name := range catalog.Names() {
		w, _ := catalog.Lookup(name)
		require.NoError(t, w.Declare(reg))
	}
	return h
}

func (h *harness) run(t *testing.T, exec, scenario string, seq int64) error {
	t.Helper()
	w, ok := h.catalog.Lookup(exec)
	require.True(t, ok)
	it := &load.Iteration{
		Scenario:    scenario,
		Seq:         seq,
		ScheduledAt: time.Now(),
		Tags:        metrics.Tags{"scenario": scenario},
		Registry:    h.reg,
		Builtin:     h.builtin,
		Logger:      zerolog.Nop(),
	}
	return load.Invoke(context.Background(), w.Run, it)
}

func (h *harness) value(t *testing.T, name string, filter metrics.Tags, stat metrics.Stat) float64 {
	t.Helper()
	agg, err := h.reg.Snapshot().Query(name, filter)
	require.NoError(t, err)
	v, ok := agg.Value(stat)
	require.True(t, ok, "no data for %s%s", name, filter)
	return v
}

var (
	statRate  = metrics.Stat{Kind: metrics.StatRate}
	statCount = metrics.Stat{Kind: metrics.StatCount}
)

func TestRegister_RejectsBadMaxItemID(t *testing.T) {
	err := Register(load.NewCatalog(), NewClient(ClientConfig{BaseURL: "http://localhost"}), 0)
	assert.Error(t, err)
}

func TestReadTest_RecordsCacheHits(t *testing.T) {
	_, client := newTestService(t, ServerConfig{Seed: 1})
	h := newHarness(t, client, 1)

	// Item 1 is the only id: the first read misses, the rest hit.
	for i := int64(0); i < 4; i++ {
		require.NoError(t, h.run(t, ReadTest, "read_scenario", i))
	}

	scenario := metrics.Tags{"scenario": "read_scenario"}
	assert.InDelta(t, 0.75, h.value(t, CacheHitRateName, scenario, statRate), 1e-9)
	assert.InDelta(t, 0, h.value(t, ReadFailureRateName, scenario, statRate), 1e-9)
	assert.InDelta(t, 4, h.value(t, ReadRequestDurationName, scenario, statCount), 1e-9)
	assert.InDelta(t, 4, h.value(t, metrics.HTTPReqsName, metrics.Tags{"method": "GET", "name": RouteItem}, statCount), 1e-9)
	assert.InDelta(t, 0, h.value(t, metrics.HTTPReqFailedName, scenario, statRate), 1e-9)
	assert.InDelta(t, 1, h.value(t, metrics.ChecksName, metrics.Tags{"check": CheckStatusOK}, statRate), 1e-9)
}

func TestReadTest_MissingItemFailsCheck(t *testing.T) {
	_, client := newTestService(t, ServerConfig{Seed: 0})
	h := newHarness(t, client, 5)

	err := h.run(t, ReadTest, "read_scenario", 1)
	var checkErr *load.CheckError
	require.ErrorAs(t, err, &checkErr)
	assert.Equal(t, CheckStatusOK, checkErr.Check)

	scenario := metrics.Tags{"scenario": "read_scenario"}
	assert.InDelta(t, 1, h.value(t, ReadFailureRateName, scenario, statRate), 1e-9)
	assert.InDelta(t, 0, h.value(t, CacheHitRateName, scenario, statRate), 1e-9)
	assert.InDelta(t, 1, h.value(t, metrics.HTTPReqFailedName, metrics.Tags{"status": "404"}, statRate), 1e-9)
}

func TestReadTest_TransportError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	client := NewClient(ClientConfig{BaseURL: "http://" + addr, Timeout: time.Second})
	h := newHarness(t, client, 10)

	err = h.run(t, ReadTest, "read_scenario", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, load.ErrTransport))
	assert.Equal(t, "transport", load.Classify(err))

	scenario := metrics.Tags{"scenario": "read_scenario"}
	assert.InDelta(t, 1, h.value(t, ReadFailureRateName, scenario, statRate), 1e-9)
	assert.InDelta(t, 1, h.value(t, metrics.HTTPReqFailedName, metrics.Tags{"status": "0"}, statRate), 1e-9)

	agg, err := h.reg.Snapshot().Query(ReadRequestDurationName, scenario)
	require.NoError(t, err)
	assert.Zero(t, agg.Samples)
}

func TestWriteTest_UpdatesItem(t *testing.T) {
	srv, client := newTestService(t, ServerConfig{Seed: 3})
	h := newHarness(t, client, 3)

	for i := int64(0); i < 5; i++ {
		require.NoError(t, h.run(t, WriteTest, "write_scenario", i))
	}

	scenario := metrics.Tags{"scenario": "write_scenario"}
	assert.InDelta(t, 0, h.value(t, WriteFailureRateName, scenario, statRate), 1e-9)
	assert.InDelta(t, 5, h.value(t, WriteRequestDurationName, scenario, statCount), 1e-9)
	assert.InDelta(t, 1, h.value(t, metrics.ChecksName, metrics.Tags{"check": CheckNameUpdated}, statRate), 1e-9)
	assert.Equal(t, 3, srv.Stats().Items)
}

func TestWriteTest_NameNotApplied(t *testing.T) {
	// A service that acknowledges the write but echoes the stale item.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":1,"name":"stale","description":"old"}`))
	}))
	defer ts.Close()

	h := newHarness(t, NewClient(ClientConfig{BaseURL: ts.URL}), 1)
	err := h.run(t, WriteTest, "write_scenario", 1)

	var checkErr *load.CheckError
	require.ErrorAs(t, err, &checkErr)
	assert.Equal(t, CheckNameUpdated, checkErr.Check)
	assert.InDelta(t, 1, h.value(t, WriteFailureRateName, metrics.Tags{"scenario": "write_scenario"}, statRate), 1e-9)
	assert.InDelta(t, 0, h.value(t, metrics.ChecksName, metrics.Tags{"check": CheckNameUpdated}, statRate), 1e-9)
}
