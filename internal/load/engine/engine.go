// Package engine runs a test: it starts every scenario's executor, watches
// abortOnFail thresholds, drains in-flight iterations and evaluates the
// final thresholds into a verdict.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/wesleyorama2/cacheload/internal/load"
	"github.com/wesleyorama2/cacheload/internal/load/config"
	"github.com/wesleyorama2/cacheload/internal/load/executor"
	"github.com/wesleyorama2/cacheload/internal/load/metrics"
	"github.com/wesleyorama2/cacheload/internal/load/threshold"
	"github.com/wesleyorama2/cacheload/internal/load/tracing"
)

// State is the lifecycle stage of a run.
type State int32

const (
	StateConfigured State = iota
	StateRunning
	StateDraining
	StateEvaluating
	StateDone
)

func (s State) String() string {
	switch s {
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateEvaluating:
		return "evaluating"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Engine is the run controller.
//
// An Engine runs once: New validates everything and builds the executors,
// Run drives them to completion. Configuration errors surface from New,
// before any traffic starts.
type Engine struct {
	config    *config.TestConfig
	catalog   *load.Catalog
	log       zerolog.Logger
	tracer    trace.Tracer
	evaluator *threshold.Evaluator
	evalEvery time.Duration

	scenarios []*scenarioRunner

	mu        sync.RWMutex
	registry  *metrics.Registry
	startTime time.Time
	state     atomic.Int32

	stopOnce    sync.Once
	aborted     atomic.Bool
	abortReason atomic.Value // string
}

type scenarioRunner struct {
	name     string
	config   *executor.Config
	workload load.Workload
	exec     executor.Executor
	pool     *load.VUPool
	err      error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithTracer sets the tracer for iteration and request spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// New validates cfg against catalog and prepares one executor per scenario.
// Every configuration problem is returned at once, wrapped in
// load.ErrConfig.
func New(cfg *config.TestConfig, catalog *load.Catalog, opts ...Option) (*Engine, error) {
	if err := cfg.Prepare(); err != nil {
		return nil, err
	}

	e := &Engine{
		config:    cfg,
		catalog:   catalog,
		log:       zerolog.Nop(),
		tracer:    tracing.Noop(),
		evalEvery: cfg.ThresholdEvalInterval(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With().Str("component", "engine").Logger()

	execConfigs, err := cfg.ExecutorConfigs()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", load.ErrConfig, err)
	}

	errs := &config.ValidationErrors{}
	for _, ec := range execConfigs {
		w, ok := catalog.Lookup(ec.Exec)
		if !ok {
			errs.Add(fmt.Sprintf("scenarios.%s.exec", ec.Name),
				fmt.Sprintf("unknown workload %q (available: %v)", ec.Exec, catalog.Names()))
			continue
		}
		exec, err := executor.CreateAndInit(context.Background(), ec)
		if err != nil {
			errs.Add("scenarios."+ec.Name, err.Error())
			continue
		}
		e.scenarios = append(e.scenarios, &scenarioRunner{
			name:     ec.Name,
			config:   ec,
			workload: w,
			exec:     exec,
		})
	}

	defs, err := cfg.ThresholdDefinitions()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", load.ErrConfig, err)
	}
	e.evaluator, err = threshold.NewFromDefinitions(defs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", load.ErrConfig, err)
	}

	// Thresholds are checked against the metrics a run would declare.
	probe := metrics.NewRegistry()
	if _, err := e.declare(probe); err != nil {
		errs.Add("scenarios", err.Error())
	} else if err := e.evaluator.Validate(probe); err != nil {
		errs.Add("thresholds", err.Error())
	}

	if errs.HasErrors() {
		return nil, fmt.Errorf("%w: %w", load.ErrConfig, errs)
	}
	return e, nil
}

// declare registers the builtin metrics and every scenario's workload
// metrics in reg.
func (e *Engine) declare(reg *metrics.Registry) (*metrics.Builtin, error) {
	builtin := metrics.RegisterBuiltin(reg)
	declared := make(map[string]bool)
	for _, sr := range e.scenarios {
		if declared[sr.config.Exec] || sr.workload.Declare == nil {
			continue
		}
		declared[sr.config.Exec] = true
		if err := sr.workload.Declare(reg); err != nil {
			return nil, fmt.Errorf("workload %s: %w", sr.config.Exec, err)
		}
	}
	return builtin, nil
}

// Run executes every scenario concurrently and returns the result. The
// returned error reports executor failures; a failed verdict is not an
// error. Cancelling ctx ends the schedules early; in-flight iterations
// still get their graceful stop.
func (e *Engine) Run(ctx context.Context) (*TestResult, error) {
	if !e.state.CompareAndSwap(int32(StateConfigured), int32(StateRunning)) {
		return nil, fmt.Errorf("engine already ran (state %s)", e.State())
	}

	reg := metrics.NewRegistry()
	builtin, err := e.declare(reg)
	if err != nil {
		e.setState(StateDone)
		return nil, err
	}
	for _, sr := range e.scenarios {
		pool, err := load.NewVUPool(sr.name, sr.config.PreAllocatedVUs, sr.config.MaxVUs)
		if err != nil {
			e.setState(StateDone)
			return nil, fmt.Errorf("scenario %s: %w", sr.name, err)
		}
		sr.pool = pool
	}

	runID := ulid.Make().String()
	e.mu.Lock()
	e.registry = reg
	e.startTime = time.Now()
	e.mu.Unlock()

	e.log.Info().
		Str("run_id", runID).
		Str("test", e.config.Name).
		Int("scenarios", len(e.scenarios)).
		Int("thresholds", len(e.evaluator.Thresholds())).
		Msg("Run started")

	schedCtx, cancelSched := context.WithCancel(ctx)
	defer cancelSched()

	var wg sync.WaitGroup
	for _, sr := range e.scenarios {
		wg.Add(1)
		go func(sr *scenarioRunner) {
			defer wg.Done()
			env := &executor.Env{
				Pool:     sr.pool,
				Iterate:  sr.workload.Run,
				Registry: reg,
				Builtin:  builtin,
				Logger:   e.log,
				Tracer:   e.tracer,
			}
			if err := sr.exec.Run(schedCtx, env); err != nil {
				sr.err = err
				e.log.Error().Err(err).Str("scenario", sr.name).Msg("Scenario failed")
			}
		}(sr)
	}

	schedDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(schedDone)
	}()
	if e.evaluator.HasAbortOnFail() {
		e.watchThresholds(schedDone, reg)
	}
	<-schedDone

	if ctx.Err() != nil && !e.aborted.Load() {
		e.abort("run interrupted")
	}

	e.setState(StateDraining)
	e.drain(ctx)

	e.setState(StateEvaluating)
	reg.Seal()
	snap := reg.Snapshot()
	results := e.evaluator.Evaluate(snap)

	end := time.Now()
	result := &TestResult{
		RunID:       runID,
		Name:        e.config.Name,
		Description: e.config.Description,
		StartTime:   e.startTime,
		EndTime:     end,
		Duration:    end.Sub(e.startTime),
		Metrics:     snap,
		Verdict: Verdict{
			Passed:     threshold.AllPassed(results),
			Thresholds: results,
		},
		Aborted: e.aborted.Load(),
	}
	if result.Aborted {
		result.AbortReason, _ = e.abortReason.Load().(string)
	}

	var runErrs []error
	for _, sr := range e.scenarios {
		sres := &ScenarioResult{
			Name:     sr.name,
			Executor: string(sr.exec.Type()),
			Exec:     sr.config.Exec,
			Stats:    sr.exec.GetStats(),
		}
		if sr.err != nil {
			sres.Error = sr.err.Error()
			runErrs = append(runErrs, fmt.Errorf("scenario %s: %w", sr.name, sr.err))
		}
		result.Scenarios = append(result.Scenarios, sres)
	}

	e.setState(StateDone)
	e.log.Info().
		Str("run_id", runID).
		Bool("passed", result.Verdict.Passed).
		Bool("aborted", result.Aborted).
		Dur("duration", result.Duration).
		Int64("discarded_samples", snap.Discarded).
		Msg("Run finished")

	return result, errors.Join(runErrs...)
}

// watchThresholds evaluates abortOnFail thresholds every evalEvery until
// done is closed, stopping the run on the first failure.
func (e *Engine) watchThresholds(done <-chan struct{}, reg *metrics.Registry) {
	ticker := time.NewTicker(e.evalEvery)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			results := e.evaluator.Evaluate(reg.Snapshot())
			if r, ok := e.evaluator.ShouldAbort(results, reg.Elapsed()); ok {
				e.log.Warn().
					Str("metric", r.Metric).
					Str("expression", r.Expression).
					Msg("Threshold crossed, aborting run")
				e.abort(fmt.Sprintf("threshold %s %s failed", r.Metric, r.Expression))
				e.Stop()
				return
			}
		}
	}
}

// drain waits for each scenario's in-flight iterations for its graceful
// stop, then abandons the rest. Scenarios drain concurrently.
func (e *Engine) drain(ctx context.Context) {
	var wg sync.WaitGroup
	for _, sr := range e.scenarios {
		wg.Add(1)
		go func(sr *scenarioRunner) {
			defer wg.Done()
			dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sr.config.GracefulStop)
			defer cancel()
			if n := sr.exec.Drain(dctx); n > 0 {
				sr.exec.Abort()
			}
			sr.pool.Close()
		}(sr)
	}
	wg.Wait()
}

func (e *Engine) abort(reason string) {
	if e.aborted.CompareAndSwap(false, true) {
		e.abortReason.Store(reason)
	}
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// State returns the current lifecycle stage.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// IsRunning reports whether Run is in progress.
func (e *Engine) IsRunning() bool {
	s := e.State()
	return s == StateRunning || s == StateDraining || s == StateEvaluating
}

// Stop ends every scenario's schedule. In-flight iterations then drain as
// usual.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.log.Info().Msg("Stopping scenarios")
		for _, sr := range e.scenarios {
			sr.exec.Stop()
		}
	})
}

// GetProgress returns the overall schedule progress (0.0 to 1.0).
func (e *Engine) GetProgress() float64 {
	if len(e.scenarios) == 0 {
		return 0
	}
	var total float64
	for _, sr := range e.scenarios {
		total += sr.exec.GetProgress()
	}
	return total / float64(len(e.scenarios))
}

// GetScenarioStats returns live executor stats in scenario name order.
func (e *Engine) GetScenarioStats() []*executor.Stats {
	out := make([]*executor.Stats, 0, len(e.scenarios))
	for _, sr := range e.scenarios {
		out = append(out, sr.exec.GetStats())
	}
	return out
}

// Metrics returns a snapshot of the running registry, or nil before Run.
func (e *Engine) Metrics() *metrics.Snapshot {
	e.mu.RLock()
	reg := e.registry
	e.mu.RUnlock()
	if reg == nil {
		return nil
	}
	return reg.Snapshot()
}

// Thresholds returns the parsed thresholds in declaration order.
func (e *Engine) Thresholds() []threshold.Threshold {
	return e.evaluator.Thresholds()
}
