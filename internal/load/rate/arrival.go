// Package rate provides the arrival processes that pace iteration starts
// in arrival-rate scenarios.
package rate

import (
	"context"
	"fmt"
	"time"
)

// Model names an arrival process.
type Model string

const (
	// ModelLeakyBucket spaces starts evenly with no catch-up bursts.
	ModelLeakyBucket Model = "leaky-bucket"
	// ModelTokenBucket uses a token bucket (golang.org/x/time/rate).
	ModelTokenBucket Model = "token-bucket"
	// ModelPoisson draws exponential inter-arrival gaps with the same mean rate.
	ModelPoisson Model = "poisson"
)

// Models lists the supported arrival models.
var Models = []Model{ModelLeakyBucket, ModelTokenBucket, ModelPoisson}

// idlePoll is how often a paused (rate 0) arrival re-checks its rate.
const idlePoll = 10 * time.Millisecond

// Arrival decides when the next iteration starts.
//
// Wait blocks until the next start is due or ctx is done. SetRate may be
// called concurrently with Wait; a rate of 0 pauses arrivals.
type Arrival interface {
	Wait(ctx context.Context) error
	SetRate(perSecond float64)
	Rate() float64
}

// PerSecond converts a rate expressed per timeUnit into starts per second.
func PerSecond(rate float64, timeUnit time.Duration) float64 {
	if timeUnit <= 0 {
		timeUnit = time.Second
	}
	return rate / timeUnit.Seconds()
}

// New creates an arrival process of the given model. burst is the number
// of starts that may be issued back to back when the schedule is behind,
// and also the number issued immediately at the start.
func New(model Model, perSecond float64, burst int) (Arrival, error) {
	if burst < 1 {
		burst = 1
	}
	switch model {
	case "", ModelLeakyBucket:
		return NewLeakyBucketWithBurst(perSecond, float64(burst)), nil
	case ModelTokenBucket:
		return NewTokenBucket(perSecond, burst), nil
	case ModelPoisson:
		return NewPoisson(perSecond, time.Now().UnixNano()), nil
	default:
		return nil, fmt.Errorf("unknown arrival model %q", model)
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
