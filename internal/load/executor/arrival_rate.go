package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wesleyorama2/cacheload/internal/load"
	"github.com/wesleyorama2/cacheload/internal/load/metrics"
	"github.com/wesleyorama2/cacheload/internal/load/rate"
	"github.com/wesleyorama2/cacheload/internal/load/tracing"
	"github.com/wesleyorama2/cacheload/internal/logging"
)

// rateControlInterval is how often a ramping plan pushes its current rate
// into the arrival process.
const rateControlInterval = 100 * time.Millisecond

// ArrivalRate is an open-model executor (constant-arrival-rate and
// ramping-arrival-rate).
//
// Starts are paced by an arrival process (leaky bucket by default) and
// each start runs on a VU drawn from the scenario's pool. When the pool is
// at MaxVUs with every VU busy, the configured exhaustion policy decides
// whether the start is dropped or waits for a VU.
//
// Example:
//
//	scenarios:
//	  read_scenario:
//	    executor: constant-arrival-rate
//	    rate: 900
//	    timeUnit: 1s
//	    duration: 1m
//	    preAllocatedVUs: 100
//	    maxVUs: 500
//	    exec: readTest
type ArrivalRate struct {
	typ    Type
	config *Config
	plan   *ratePlan
	env    *Env
	log    zerolog.Logger
	hot    zerolog.Logger // sampled, for per-start events

	arrival rate.Arrival
	tags    metrics.Tags

	startedAt  atomic.Int64 // unix nanos
	running    atomic.Bool
	stage      atomic.Int32
	abandoning atomic.Bool

	arrivals   atomic.Int64
	started    atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
	dropped    atomic.Int64
	incomplete atomic.Int64
	inFlight   atomic.Int64

	// iterCtx is detached from the schedule so that Stop and the end of
	// the duration never preempt running iterations; Abort cancels it.
	iterCtx    context.Context
	iterCancel context.CancelFunc
	// thinkCtx ends think time early once draining starts.
	thinkCtx    context.Context
	thinkCancel context.CancelFunc

	cancelMu   sync.Mutex
	cancelFunc context.CancelFunc
	stopped    atomic.Bool
	wg         sync.WaitGroup
}

// NewConstantArrivalRate creates a constant arrival rate executor.
func NewConstantArrivalRate() *ArrivalRate {
	return &ArrivalRate{typ: TypeConstantArrivalRate}
}

// NewRampingArrivalRate creates a ramping arrival rate executor.
func NewRampingArrivalRate() *ArrivalRate {
	return &ArrivalRate{typ: TypeRampingArrivalRate}
}

// Type returns the executor type.
func (e *ArrivalRate) Type() Type {
	return e.typ
}

// Init validates the configuration and applies defaults.
func (e *ArrivalRate) Init(ctx context.Context, config *Config) error {
	if config.Type != e.typ {
		return fmt.Errorf("invalid config type: expected %s, got %s", e.typ, config.Type)
	}
	if err := config.Validate(); err != nil {
		return err
	}
	config.ApplyDefaults()

	plan := newRatePlan(config)
	arrival, err := rate.New(config.Arrival, plan.start, config.Burst)
	if err != nil {
		return err
	}

	e.config = config
	e.plan = plan
	e.arrival = arrival
	e.tags = metrics.Tags(config.Tags).With(metrics.Tags{"scenario": config.Name})
	return nil
}

// Run issues starts until the schedule ends and returns. In-flight
// iterations keep running; call Drain to wait for them.
func (e *ArrivalRate) Run(ctx context.Context, env *Env) error {
	if e.config == nil {
		return errors.New("executor not initialized")
	}
	if env == nil || env.Pool == nil || env.Iterate == nil || env.Registry == nil || env.Builtin == nil {
		return errors.New("executor environment is incomplete")
	}
	if env.Tracer == nil {
		env.Tracer = tracing.Noop()
	}
	e.env = env
	e.log = env.Logger.With().Str("scenario", e.config.Name).Logger()
	e.hot = logging.Sampled(e.log, 5, time.Second, 100)
	e.iterCtx, e.iterCancel = context.WithCancel(context.WithoutCancel(ctx))
	e.thinkCtx, e.thinkCancel = context.WithCancel(e.iterCtx)

	// Stop cancels schedCtx, which also cuts a pending startTime short.
	schedCtx, cancel := context.WithCancel(ctx)
	e.cancelMu.Lock()
	e.cancelFunc = cancel
	e.cancelMu.Unlock()
	defer cancel()
	if e.stopped.Load() {
		return nil
	}

	if e.config.StartTime > 0 {
		e.log.Debug().Dur("startTime", e.config.StartTime).Msg("delaying scenario start")
		if err := sleepCtx(schedCtx, e.config.StartTime); err != nil {
			return nil
		}
	}

	runCtx, cancelRun := context.WithTimeout(schedCtx, e.plan.total)
	defer cancelRun()

	e.startedAt.Store(time.Now().UnixNano())
	e.running.Store(true)
	defer e.running.Store(false)

	e.log.Info().
		Str("executor", string(e.typ)).
		Str("exec", e.config.Exec).
		Float64("rate_per_sec", e.plan.start).
		Dur("duration", e.plan.total).
		Int("preAllocatedVUs", e.config.PreAllocatedVUs).
		Int("maxVUs", e.config.MaxVUs).
		Str("onExhausted", string(e.config.OnExhausted)).
		Msg("scenario started")

	if e.typ == TypeRampingArrivalRate {
		go e.rateController(runCtx)
	}

	e.schedule(runCtx)

	e.log.Info().
		Int64("arrivals", e.arrivals.Load()).
		Int64("dropped", e.dropped.Load()).
		Int64("in_flight", e.inFlight.Load()).
		Msg("scenario schedule finished, draining")
	return nil
}

// schedule is the start loop. It owns the arrival process.
func (e *ArrivalRate) schedule(ctx context.Context) {
	for {
		if err := e.arrival.Wait(ctx); err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}

		scheduledAt := time.Now()
		seq := e.arrivals.Add(1)

		vu, err := e.acquire(ctx)
		if err != nil {
			if errors.Is(err, load.ErrPoolExhausted) {
				e.drop(seq)
				continue
			}
			// Schedule ended while waiting for a VU, or the pool closed.
			e.arrivals.Add(-1)
			return
		}

		e.started.Add(1)
		e.inFlight.Add(1)
		e.wg.Add(1)
		go e.runIteration(vu, seq, scheduledAt)
	}
}

func (e *ArrivalRate) acquire(ctx context.Context) (*load.VirtualUser, error) {
	if e.config.OnExhausted == load.PolicyBlock {
		return e.env.Pool.Acquire(ctx)
	}
	return e.env.Pool.TryAcquire()
}

func (e *ArrivalRate) drop(seq int64) {
	e.dropped.Add(1)
	_ = e.env.Registry.Add(e.env.Builtin.DroppedIterations, 1, e.tags)
	if e.config.OnExhausted == load.PolicyFail {
		e.failed.Add(1)
		_ = e.env.Registry.Add(e.env.Builtin.IterationFailed, 1, e.tags)
	}
	e.hot.Warn().
		Int64("seq", seq).
		Int("maxVUs", e.config.MaxVUs).
		Msg("vu pool exhausted, iteration dropped")
}

// runIteration executes one iteration on vu and records the builtin
// iteration metrics. The recorded duration runs from the scheduled start,
// so time spent waiting for a VU under the block policy is included.
func (e *ArrivalRate) runIteration(vu *load.VirtualUser, seq int64, scheduledAt time.Time) {
	defer e.wg.Done()
	defer func() {
		if err := e.env.Pool.Release(vu); err != nil {
			e.log.Error().Err(err).Int("vu", vu.ID).Msg("vu release failed")
		}
	}()

	ctx, span := tracing.StartIterationSpan(e.iterCtx, e.env.Tracer, e.config.Name, seq, vu.ID)
	it := &load.Iteration{
		Scenario:    e.config.Name,
		Seq:         seq,
		VU:          vu,
		ScheduledAt: scheduledAt,
		Tags:        e.tags,
		Registry:    e.env.Registry,
		Builtin:     e.env.Builtin,
		Logger:      e.log,
	}

	err := load.Invoke(ctx, e.env.Iterate, it)
	elapsed := time.Since(scheduledAt)
	tracing.EndSpan(span, err, attribute.String("cacheload.outcome", outcome(err)))

	if e.abandoning.Load() || e.iterCtx.Err() != nil {
		// Abandoned at the hard stop; already counted as incomplete.
		e.inFlight.Add(-1)
		return
	}

	reg, b := e.env.Registry, e.env.Builtin
	_ = reg.Add(b.Iterations, 1, e.tags)
	_ = reg.Add(b.IterationDuration, float64(elapsed)/float64(time.Millisecond), e.tags)
	failed := 0.0
	if err != nil {
		failed = 1
		e.failed.Add(1)
		ev := e.hot.Debug()
		var panicErr *load.PanicError
		if errors.As(err, &panicErr) {
			ev = e.hot.Error().Bytes("stack", panicErr.Stack)
		}
		ev.Err(err).
			Int64("seq", seq).
			Int("vu", vu.ID).
			Str("class", load.Classify(err)).
			Msg("iteration failed")
	}
	_ = reg.Add(b.IterationFailed, failed, e.tags)
	e.completed.Add(1)
	e.inFlight.Add(-1)

	// Think time holds the VU but the iteration is already complete.
	if e.config.ThinkTime > 0 {
		_ = it.Sleep(e.thinkCtx, e.config.ThinkTime)
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return load.Classify(err)
}

// rateController pushes the plan's current rate into the arrival process.
func (e *ArrivalRate) rateController(ctx context.Context) {
	ticker := time.NewTicker(rateControlInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r, stage := e.plan.rateAt(time.Since(e.start()))
			e.arrival.SetRate(r)
			if prev := e.stage.Swap(int32(stage)); prev != int32(stage) {
				e.log.Info().Int("stage", stage).Float64("target_per_sec", e.plan.segments[stage].to).Msg("ramping stage")
			}
		}
	}
}

// Drain waits for in-flight iterations until ctx is done. Iterations still
// running then are counted as incomplete and the count is returned.
func (e *ArrivalRate) Drain(ctx context.Context) int {
	if e.thinkCancel != nil {
		e.thinkCancel()
	}
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return 0
	case <-ctx.Done():
		e.abandoning.Store(true)
		n := e.inFlight.Load()
		e.incomplete.Store(n)
		if n > 0 && e.env != nil {
			_ = e.env.Registry.Add(e.env.Builtin.IncompleteIterations, float64(n), e.tags)
			e.log.Warn().Int64("incomplete", n).Msg("graceful stop expired, abandoning in-flight iterations")
		}
		return int(n)
	}
}

// Abort cancels the context of abandoned iterations.
func (e *ArrivalRate) Abort() {
	if e.iterCancel != nil {
		e.iterCancel()
	}
}

// Stop ends the schedule early.
func (e *ArrivalRate) Stop() {
	e.stopped.Store(true)
	e.cancelMu.Lock()
	if e.cancelFunc != nil {
		e.cancelFunc()
	}
	e.cancelMu.Unlock()
}

// GetProgress returns schedule progress (0.0 to 1.0).
func (e *ArrivalRate) GetProgress() float64 {
	if !e.running.Load() {
		if e.start().IsZero() {
			return 0.0
		}
		return 1.0
	}
	progress := float64(time.Since(e.start())) / float64(e.plan.total)
	return min(progress, 1.0)
}

// GetStats returns executor statistics.
func (e *ArrivalRate) GetStats() *Stats {
	s := &Stats{Type: e.typ}
	if e.config == nil {
		return s
	}
	s.Scenario = e.config.Name
	s.Exec = e.config.Exec
	s.StartTime = e.start()
	s.TotalDuration = e.plan.total
	if !s.StartTime.IsZero() {
		s.Elapsed = min(time.Since(s.StartTime), e.plan.total)
	}
	s.Arrivals = e.arrivals.Load()
	s.Started = e.started.Load()
	s.Completed = e.completed.Load()
	s.Failed = e.failed.Load()
	s.Dropped = e.dropped.Load()
	s.Incomplete = e.incomplete.Load()
	s.InFlight = e.inFlight.Load()
	s.ExpectedIterations = e.plan.expected()
	s.CurrentRate = e.arrival.Rate()
	s.TargetRate, _ = e.plan.rateAt(s.Elapsed)
	if e.env != nil {
		s.Pool = e.env.Pool.Stats()
	}
	if e.typ == TypeRampingArrivalRate {
		s.CurrentStage = int(e.stage.Load())
		s.TotalStages = len(e.plan.segments)
	}
	return s
}

func (e *ArrivalRate) start() time.Time {
	ns := e.startedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Ensure ArrivalRate implements Executor
var _ Executor = (*ArrivalRate)(nil)
