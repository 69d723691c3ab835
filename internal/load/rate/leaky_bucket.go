package rate

import (
	"context"
	"sync"
	"time"
)

// LeakyBucket schedules starts at a fixed rate.
//
// Unlike a token bucket, which asks "how many tokens are available", the
// leaky bucket asks "when should the next start happen". A virtual drip
// time advances at the configured rate; Next returns that time. When the
// caller falls behind, starts are issued immediately, but never more than
// maxBurst back to back, so the bucket does not flood the target after a
// stall or a rate change.
//
// The bucket starts full: the first maxBurst calls to Next return
// immediately, so a scenario's first iteration begins at t=0.
//
// # Thread Safety
//
// LeakyBucket is safe for concurrent use from multiple goroutines.
type LeakyBucket struct {
	rate        float64   // starts per second
	lastDrip    time.Time // time of the most recently scheduled start
	accumulated float64   // fractional starts owed
	maxBurst    float64
	mu          sync.Mutex
}

// NewLeakyBucket creates a bucket issuing rate starts per second with no bursting.
func NewLeakyBucket(rate float64) *LeakyBucket {
	return NewLeakyBucketWithBurst(rate, 1)
}

// NewLeakyBucketWithBurst creates a bucket that lets up to maxBurst owed
// starts execute back to back.
func NewLeakyBucketWithBurst(rate float64, maxBurst float64) *LeakyBucket {
	if rate < 0 {
		rate = 0
	}
	if maxBurst < 1 {
		maxBurst = 1
	}
	return &LeakyBucket{
		rate:        rate,
		lastDrip:    time.Now(),
		accumulated: maxBurst,
		maxBurst:    maxBurst,
	}
}

// Next returns when the next start should happen. The returned time may be
// in the past, meaning "start now". ok is false while the rate is 0.
func (lb *LeakyBucket) Next() (next time.Time, ok bool) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	now := time.Now()
	if lb.rate <= 0 {
		lb.lastDrip = now
		return now, false
	}

	elapsed := now.Sub(lb.lastDrip).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	lb.accumulated += elapsed * lb.rate
	if lb.accumulated > lb.maxBurst {
		lb.accumulated = lb.maxBurst
	}

	if lb.accumulated >= 1.0 {
		lb.accumulated -= 1.0
		lb.lastDrip = now
		return now, true
	}

	deficit := 1.0 - lb.accumulated
	wait := time.Duration(deficit / lb.rate * float64(time.Second))
	lb.accumulated = 0
	next = now.Add(wait)
	// lastDrip moves to the scheduled time, not now; otherwise waking up at
	// next would find a full start already accumulated and issue an extra one.
	lb.lastDrip = next

	return next, true
}

// Wait blocks until the next start is due.
func (lb *LeakyBucket) Wait(ctx context.Context) error {
	for {
		next, ok := lb.Next()
		if !ok {
			if err := sleep(ctx, idlePoll); err != nil {
				return err
			}
			continue
		}
		if err := sleep(ctx, time.Until(next)); err != nil {
			return err
		}
		return nil
	}
}

// SetRate changes the target rate. Owed starts are not carried over, so a
// ramp-down never bursts.
func (lb *LeakyBucket) SetRate(rate float64) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if rate < 0 {
		rate = 0
	}
	if rate == lb.rate {
		return
	}
	lb.rate = rate
	lb.accumulated = 0
	// Keep a pending future start in place; only rebase a drip in the past.
	if now := time.Now(); lb.lastDrip.Before(now) {
		lb.lastDrip = now
	}
}

// Rate returns the current rate in starts per second.
func (lb *LeakyBucket) Rate() float64 {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.rate
}
