package load

import (
	"context"
	"errors"
	"math/rand/v2"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/wesleyorama2/cacheload/internal/load/metrics"
)

// IterationFunc is one unit of work of a scenario. It records its own
// observations through it and reports a failure by returning an error.
// ctx is cancelled only when the run abandons in-flight iterations at the
// hard stop.
type IterationFunc func(ctx context.Context, it *Iteration) error

// Iteration is the per-start context handed to an IterationFunc.
type Iteration struct {
	Scenario    string
	Seq         int64
	VU          *VirtualUser
	ScheduledAt time.Time
	// Tags are applied to every sample recorded through Record and Check.
	// They always include "scenario".
	Tags     metrics.Tags
	Registry *metrics.Registry
	Builtin  *metrics.Builtin
	Logger   zerolog.Logger
}

// Record adds a sample of m tagged with the iteration tags plus extra.
func (it *Iteration) Record(m *metrics.Metric, value float64, extra ...metrics.Tags) error {
	tags := it.Tags
	for _, e := range extra {
		tags = tags.With(e)
	}
	return it.Registry.Add(m, value, tags)
}

// RecordBool adds a Rate sample: 1 for true, 0 for false.
func (it *Iteration) RecordBool(m *metrics.Metric, ok bool, extra ...metrics.Tags) error {
	v := 0.0
	if ok {
		v = 1
	}
	return it.Record(m, v, extra...)
}

// RecordDuration adds d to a time Trend in milliseconds.
func (it *Iteration) RecordDuration(m *metrics.Metric, d time.Duration, extra ...metrics.Tags) error {
	return it.Record(m, float64(d)/float64(time.Millisecond), extra...)
}

// Check records ok into the builtin checks Rate under the check's name and
// returns ok.
func (it *Iteration) Check(name string, ok bool) bool {
	_ = it.RecordBool(it.Builtin.Checks, ok, metrics.Tags{"check": name})
	return ok
}

// Sleep pauses the iteration for d. It returns early with ctx.Err() if the
// iteration is abandoned.
func (it *Iteration) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Rand returns the VU's random source. It must not be shared across iterations.
func (it *Iteration) Rand() *rand.Rand {
	if it.VU == nil || it.VU.rng == nil {
		return rand.New(rand.NewPCG(uint64(it.Seq), uint64(time.Now().UnixNano())))
	}
	return it.VU.rng
}

// Invoke runs fn for it and converts a panic into a *PanicError. It marks
// the start in the VU's iteration count.
func Invoke(ctx context.Context, fn IterationFunc, it *Iteration) (err error) {
	if it.VU != nil {
		it.VU.begin()
	}
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx, it)
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
