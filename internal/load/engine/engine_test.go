package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/cacheload/internal/load"
	"github.com/wesleyorama2/cacheload/internal/load/config"
	"github.com/wesleyorama2/cacheload/internal/load/metrics"
	"github.com/wesleyorama2/cacheload/internal/load/threshold"
)

const successRate = "success_rate"

func declareSuccess(reg *metrics.Registry) error {
	_, err := reg.NewMetric(successRate, metrics.Rate)
	return err
}

func recordSuccess(it *load.Iteration, ok bool) {
	m, found := it.Registry.Get(successRate)
	if found {
		_ = it.RecordBool(m, ok)
	}
}

func testCatalog(t *testing.T) *load.Catalog {
	t.Helper()
	c := load.NewCatalog()
	c.MustRegister("ok", load.Workload{
		Declare: declareSuccess,
		Run: func(ctx context.Context, it *load.Iteration) error {
			if err := it.Sleep(ctx, 5*time.Millisecond); err != nil {
				return err
			}
			recordSuccess(it, true)
			return nil
		},
	})
	c.MustRegister("refused", load.Workload{
		Declare: declareSuccess,
		Run: func(ctx context.Context, it *load.Iteration) error {
			recordSuccess(it, false)
			return fmt.Errorf("%w: connection refused", load.ErrTransport)
		},
	})
	c.MustRegister("slow", load.Workload{
		Run: func(ctx context.Context, it *load.Iteration) error {
			return it.Sleep(ctx, 5*time.Second)
		},
	})
	return c
}

func constantScenario(exec string, rate float64, duration string) *config.ScenarioConfig {
	return &config.ScenarioConfig{
		Executor:        "constant-arrival-rate",
		Rate:            rate,
		TimeUnit:        "1s",
		Duration:        duration,
		PreAllocatedVUs: 5,
		MaxVUs:          20,
		Exec:            exec,
	}
}

func thresholds(pairs ...string) config.Thresholds {
	var out config.Thresholds
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, config.ThresholdGroup{
			Selector: pairs[i],
			Criteria: []config.ThresholdDecl{{Threshold: pairs[i+1]}},
		})
	}
	return out
}

func queryValue(t *testing.T, snap *metrics.Snapshot, name string, filter metrics.Tags, kind metrics.StatKind, p float64) (float64, bool) {
	t.Helper()
	agg, err := snap.Query(name, filter)
	require.NoError(t, err)
	return agg.Value(metrics.Stat{Kind: kind, P: p})
}

func TestEngine_SucceedingIterationsPass(t *testing.T) {
	cfg := &config.TestConfig{
		Name:      "steady",
		Scenarios: map[string]*config.ScenarioConfig{"steady": constantScenario("ok", 10, "1s")},
		Thresholds: thresholds(
			"iteration_duration", "p(95)<100",
			successRate, "rate>0.9",
			"iteration_failed{scenario:steady}", "rate<0.01",
		),
	}

	e, err := New(cfg, testCatalog(t))
	require.NoError(t, err)
	assert.Equal(t, StateConfigured, e.State())
	assert.Nil(t, e.Metrics())

	result, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, e.State())
	assert.False(t, e.IsRunning())

	_, err = ulid.Parse(result.RunID)
	assert.NoError(t, err)
	assert.True(t, result.Passed(), "thresholds: %+v", result.Verdict.Thresholds)
	assert.False(t, result.Aborted)
	assert.Empty(t, result.FailedThresholds())

	started, ok := queryValue(t, result.Metrics, metrics.IterationsName, metrics.Tags{"scenario": "steady"}, metrics.StatCount, 0)
	require.True(t, ok)
	assert.InDelta(t, 10, started, 2)

	rate, ok := queryValue(t, result.Metrics, successRate, nil, metrics.StatRate, 0)
	require.True(t, ok)
	assert.Equal(t, 1.0, rate)

	p95, ok := queryValue(t, result.Metrics, metrics.IterationDurationName, nil, metrics.StatPercentile, 95)
	require.True(t, ok)
	assert.GreaterOrEqual(t, p95, 4.0)
	assert.Less(t, p95, 100.0)

	sr := result.Scenario("steady")
	require.NotNil(t, sr)
	assert.Equal(t, "constant-arrival-rate", sr.Executor)
	assert.Equal(t, "ok", sr.Exec)
	assert.InDelta(t, 10, sr.Stats.ExpectedIterations, 0.01)
	assert.Empty(t, sr.Error)
}

func TestEngine_FailingIterationsFailVerdict(t *testing.T) {
	cfg := &config.TestConfig{
		Scenarios: map[string]*config.ScenarioConfig{"broken": constantScenario("refused", 10, "1s")},
		Thresholds: thresholds(
			"iteration_failed", "rate<0.01",
			successRate, "rate>0.9",
		),
	}

	e, err := New(cfg, testCatalog(t))
	require.NoError(t, err)
	result, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, result.Passed())
	require.Len(t, result.Verdict.Thresholds, 2)
	for _, r := range result.Verdict.Thresholds {
		assert.Equal(t, threshold.StatusFailed, r.Status, r.Message)
	}
	assert.Len(t, result.FailedThresholds(), 2)

	rate, ok := queryValue(t, result.Metrics, successRate, nil, metrics.StatRate, 0)
	require.True(t, ok)
	assert.Equal(t, 0.0, rate)

	failed, ok := queryValue(t, result.Metrics, metrics.IterationFailedName, nil, metrics.StatRate, 0)
	require.True(t, ok)
	assert.Equal(t, 1.0, failed)
}

func TestEngine_BlockPolicyQueuesStarts(t *testing.T) {
	var mu sync.Mutex
	latencies := map[int64]time.Duration{}

	catalog := load.NewCatalog()
	catalog.MustRegister("hold", load.Workload{
		Run: func(ctx context.Context, it *load.Iteration) error {
			err := it.Sleep(ctx, 100*time.Millisecond)
			mu.Lock()
			latencies[it.Seq] = time.Since(it.ScheduledAt)
			mu.Unlock()
			return err
		},
	})

	cfg := &config.TestConfig{
		Scenarios: map[string]*config.ScenarioConfig{
			"queued": {
				Executor:        "constant-arrival-rate",
				Rate:            2,
				Duration:        "300ms",
				PreAllocatedVUs: 1,
				MaxVUs:          1,
				Burst:           2,
				OnExhausted:     "block",
				Exec:            "hold",
			},
		},
	}

	e, err := New(cfg, catalog)
	require.NoError(t, err)
	result, err := e.Run(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, latencies, 2)
	assert.GreaterOrEqual(t, latencies[2]-latencies[1], 95*time.Millisecond)

	assert.Zero(t, result.Scenario("queued").Stats.Dropped)
	dropped, _ := queryValue(t, result.Metrics, metrics.DroppedIterationsName, nil, metrics.StatCount, 0)
	assert.Zero(t, dropped)
	assert.True(t, result.Passed())
}

func TestEngine_ConfigErrorsBeforeTraffic(t *testing.T) {
	tests := []struct {
		name  string
		cfg   *config.TestConfig
		field string
	}{
		{
			name: "unknown exec",
			cfg: &config.TestConfig{
				Scenarios: map[string]*config.ScenarioConfig{"a": constantScenario("missing", 10, "1s")},
			},
			field: "scenarios.a.exec",
		},
		{
			name: "unknown threshold metric",
			cfg: &config.TestConfig{
				Scenarios:  map[string]*config.ScenarioConfig{"a": constantScenario("ok", 10, "1s")},
				Thresholds: thresholds("no_such_metric", "rate<0.1"),
			},
			field: "thresholds",
		},
		{
			name: "percentile on a rate",
			cfg: &config.TestConfig{
				Scenarios:  map[string]*config.ScenarioConfig{"a": constantScenario("ok", 10, "1s")},
				Thresholds: thresholds(successRate, "p(95)<10"),
			},
			field: "thresholds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, testCatalog(t))
			require.Error(t, err)
			assert.True(t, errors.Is(err, load.ErrConfig))

			var vErrs *config.ValidationErrors
			require.True(t, errors.As(err, &vErrs))
			assert.True(t, vErrs.Has(tt.field), "errors: %v", vErrs)
		})
	}
}

func TestEngine_InvalidDocumentIsConfigError(t *testing.T) {
	cfg := &config.TestConfig{
		Scenarios: map[string]*config.ScenarioConfig{"a": constantScenario("ok", 0, "1s")},
	}
	_, err := New(cfg, testCatalog(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, load.ErrConfig))
}

func TestEngine_AbortOnFailStopsEarly(t *testing.T) {
	cfg := &config.TestConfig{
		Scenarios: map[string]*config.ScenarioConfig{"broken": constantScenario("refused", 20, "30s")},
		Thresholds: config.Thresholds{{
			Selector: "iteration_failed",
			Criteria: []config.ThresholdDecl{{Threshold: "rate<0.01", AbortOnFail: true}},
		}},
		Options: &config.Options{ThresholdEvalInterval: "100ms"},
	}

	e, err := New(cfg, testCatalog(t))
	require.NoError(t, err)

	start := time.Now()
	result, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 10*time.Second)
	assert.True(t, result.Aborted)
	assert.Contains(t, result.AbortReason, "iteration_failed")
	assert.False(t, result.Passed())
}

func TestEngine_GracefulStopAbandonsSlowIterations(t *testing.T) {
	sc := constantScenario("slow", 10, "200ms")
	sc.GracefulStop = "100ms"
	cfg := &config.TestConfig{Scenarios: map[string]*config.ScenarioConfig{"slow": sc}}

	e, err := New(cfg, testCatalog(t))
	require.NoError(t, err)
	result, err := e.Run(context.Background())
	require.NoError(t, err)

	incomplete, ok := queryValue(t, result.Metrics, metrics.IncompleteIterationsName, nil, metrics.StatCount, 0)
	require.True(t, ok)
	assert.Greater(t, incomplete, 0.0)

	// Abandoned iterations are neither completions nor failures.
	_, ok = queryValue(t, result.Metrics, metrics.IterationFailedName, nil, metrics.StatRate, 0)
	assert.False(t, ok)
	assert.Equal(t, int64(incomplete), result.Scenario("slow").Stats.Incomplete)
}

func TestEngine_CancelledContextEndsRun(t *testing.T) {
	cfg := &config.TestConfig{
		Scenarios: map[string]*config.ScenarioConfig{"long": constantScenario("ok", 10, "1m")},
	}
	e, err := New(cfg, testCatalog(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	result, err := e.Run(ctx)
	require.NoError(t, err)
	assert.True(t, result.Aborted)
	assert.Equal(t, "run interrupted", result.AbortReason)
	assert.Less(t, result.Duration, 30*time.Second)
}

func TestEngine_StopEndsSchedules(t *testing.T) {
	cfg := &config.TestConfig{
		Scenarios: map[string]*config.ScenarioConfig{"long": constantScenario("ok", 10, "1m")},
	}
	e, err := New(cfg, testCatalog(t))
	require.NoError(t, err)

	go func() {
		time.Sleep(300 * time.Millisecond)
		assert.True(t, e.IsRunning())
		assert.NotNil(t, e.Metrics())
		e.Stop()
	}()

	result, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Less(t, result.Duration, 30*time.Second)
	assert.Less(t, result.Scenario("long").Stats.Arrivals, int64(100))
}

func TestEngine_RunsOnce(t *testing.T) {
	cfg := &config.TestConfig{
		Scenarios: map[string]*config.ScenarioConfig{"a": constantScenario("ok", 10, "100ms")},
	}
	e, err := New(cfg, testCatalog(t))
	require.NoError(t, err)

	_, err = e.Run(context.Background())
	require.NoError(t, err)
	_, err = e.Run(context.Background())
	assert.Error(t, err)
}

func TestEngine_ScenariosRunConcurrently(t *testing.T) {
	cfg := &config.TestConfig{
		Scenarios: map[string]*config.ScenarioConfig{
			"read":  constantScenario("ok", 20, "500ms"),
			"write": constantScenario("ok", 10, "500ms"),
		},
		Thresholds: thresholds(
			"iterations{scenario:read}", "count>5",
			"iterations{scenario:write}", "count>2",
		),
	}
	e, err := New(cfg, testCatalog(t))
	require.NoError(t, err)

	start := time.Now()
	result, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 900*time.Millisecond)
	assert.True(t, result.Passed(), "thresholds: %+v", result.Verdict.Thresholds)
	require.Len(t, result.Scenarios, 2)
	assert.Equal(t, "read", result.Scenarios[0].Name)
	assert.Equal(t, "write", result.Scenarios[1].Name)
}

func TestEngine_StopCutsStartTimeShort(t *testing.T) {
	sc := constantScenario("ok", 10, "1s")
	sc.StartTime = "3s"
	cfg := &config.TestConfig{
		Scenarios: map[string]*config.ScenarioConfig{"delayed": sc},
	}
	e, err := New(cfg, testCatalog(t))
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		e.Stop()
	}()

	start := time.Now()
	result, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Zero(t, result.Scenario("delayed").Stats.Started)
}

func TestEngine_AbortOnFailSkipsDelayedScenarios(t *testing.T) {
	later := constantScenario("ok", 10, "1s")
	later.StartTime = "30s"
	cfg := &config.TestConfig{
		Scenarios: map[string]*config.ScenarioConfig{
			"broken": constantScenario("refused", 20, "30s"),
			"later":  later,
		},
		Thresholds: config.Thresholds{{
			Selector: "iteration_failed",
			Criteria: []config.ThresholdDecl{{Threshold: "rate<0.01", AbortOnFail: true}},
		}},
		Options: &config.Options{ThresholdEvalInterval: "100ms"},
	}
	e, err := New(cfg, testCatalog(t))
	require.NoError(t, err)

	start := time.Now()
	result, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.True(t, result.Aborted)
	assert.Zero(t, result.Scenario("later").Stats.Started)
}
