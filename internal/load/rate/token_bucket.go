package rate

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// TokenBucket paces starts with a golang.org/x/time/rate limiter. The
// bucket starts full, so the first burst starts are immediate.
type TokenBucket struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	rate    float64
	burst   int
}

// NewTokenBucket creates a token bucket issuing perSecond starts per second.
func NewTokenBucket(perSecond float64, burst int) *TokenBucket {
	if burst < 1 {
		burst = 1
	}
	tb := &TokenBucket{burst: burst}
	tb.limiter = rate.NewLimiter(rate.Limit(max(perSecond, 0)), burst)
	tb.rate = max(perSecond, 0)
	return tb
}

// Wait blocks until a token is available. While the rate is 0 it idles.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for tb.Rate() <= 0 {
		if err := sleep(ctx, idlePoll); err != nil {
			return err
		}
	}
	return tb.limiter.Wait(ctx)
}

// SetRate changes the refill rate. The burst size is kept.
func (tb *TokenBucket) SetRate(perSecond float64) {
	if perSecond < 0 {
		perSecond = 0
	}
	tb.mu.Lock()
	tb.rate = perSecond
	tb.mu.Unlock()
	tb.limiter.SetLimit(rate.Limit(perSecond))
}

// Rate returns the current rate in starts per second.
func (tb *TokenBucket) Rate() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.rate
}
