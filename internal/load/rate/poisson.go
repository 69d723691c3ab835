package rate

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Poisson approximates a Poisson arrival process by sampling exponential
// inter-arrival gaps. The mean rate matches the configured rate but
// individual gaps vary, which models independent clients better than an
// evenly spaced schedule.
type Poisson struct {
	mu     sync.Mutex
	rate   float64
	sample func() float64
	next   time.Time
}

// NewPoisson creates a Poisson arrival with a seeded sampler. The first
// start is immediate.
func NewPoisson(perSecond float64, seed int64) *Poisson {
	rng := rand.New(rand.NewSource(seed))
	return NewPoissonWithSampler(perSecond, rng.ExpFloat64)
}

// NewPoissonWithSampler uses sample, which must return Exp(1) variates.
func NewPoissonWithSampler(perSecond float64, sample func() float64) *Poisson {
	return &Poisson{rate: max(perSecond, 0), sample: sample, next: time.Now()}
}

// Wait blocks until the next sampled arrival.
func (p *Poisson) Wait(ctx context.Context) error {
	for {
		at, ok := p.reserve()
		if !ok {
			if err := sleep(ctx, idlePoll); err != nil {
				return err
			}
			continue
		}
		return sleep(ctx, time.Until(at))
	}
}

// reserve returns the time of the next arrival and schedules the one after it.
// Arrivals are anchored to the previous scheduled time rather than to now, so
// sleep overshoot does not erode the mean rate.
func (p *Poisson) reserve() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if p.rate <= 0 {
		p.next = now
		return now, false
	}
	at := p.next
	if at.Before(now.Add(-time.Second)) {
		// Too far behind: do not replay a backlog of missed arrivals.
		at = now
	}
	gap := float64(time.Second) * p.sample() / p.rate
	if gap > math.MaxInt64 {
		gap = math.MaxInt64
	}
	p.next = at.Add(time.Duration(gap))
	return at, true
}

// SetRate changes the mean arrival rate.
func (p *Poisson) SetRate(perSecond float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rate = max(perSecond, 0)
}

// Rate returns the current mean rate in starts per second.
func (p *Poisson) Rate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}
