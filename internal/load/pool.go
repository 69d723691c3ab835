package load

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// ExhaustionPolicy decides what happens to a start when the pool is at its
// maximum and every VU is busy.
type ExhaustionPolicy string

const (
	// PolicyDrop skips the start and records it as a dropped iteration.
	PolicyDrop ExhaustionPolicy = "drop"
	// PolicyFail skips the start, records it as dropped and also as a
	// failed iteration, so it counts against iteration failure rates.
	PolicyFail ExhaustionPolicy = "fail"
	// PolicyBlock holds the scheduler until a VU is released. Starts are
	// delayed rather than dropped and the achieved rate falls below target.
	PolicyBlock ExhaustionPolicy = "block"
)

// ParseExhaustionPolicy parses a policy name. The empty string means PolicyDrop.
func ParseExhaustionPolicy(s string) (ExhaustionPolicy, error) {
	switch ExhaustionPolicy(s) {
	case "", PolicyDrop:
		return PolicyDrop, nil
	case PolicyFail:
		return PolicyFail, nil
	case PolicyBlock:
		return PolicyBlock, nil
	default:
		return "", fmt.Errorf("unknown exhaustion policy %q (want drop, fail or block)", s)
	}
}

// VUPool is the bounded set of VUs of one scenario.
//
// preAllocated VUs exist from construction; further VUs are created on
// demand until max. Idle VUs are kept until the pool is closed, the pool
// never shrinks during a run.
//
// # Thread Safety
//
// VUPool is safe for concurrent use.
type VUPool struct {
	scenario     string
	preAllocated int
	max          int

	free chan *VirtualUser

	mu  sync.Mutex
	all []*VirtualUser

	busy   atomic.Int32
	peak   atomic.Int32
	closed atomic.Bool
}

// PoolStats describes a pool's occupancy.
type PoolStats struct {
	PreAllocated int `json:"preAllocated"`
	Max          int `json:"max"`
	Allocated    int `json:"allocated"`
	Busy         int `json:"busy"`
	Peak         int `json:"peak"`
}

// NewVUPool creates a pool with preAllocated VUs ready for use.
func NewVUPool(scenario string, preAllocated, max int) (*VUPool, error) {
	if preAllocated < 0 {
		return nil, fmt.Errorf("preAllocatedVUs must be >= 0, got %d", preAllocated)
	}
	if max < 1 {
		return nil, fmt.Errorf("maxVUs must be >= 1, got %d", max)
	}
	if max < preAllocated {
		return nil, fmt.Errorf("maxVUs (%d) must be >= preAllocatedVUs (%d)", max, preAllocated)
	}

	p := &VUPool{
		scenario:     scenario,
		preAllocated: preAllocated,
		max:          max,
		free:         make(chan *VirtualUser, max),
		all:          make([]*VirtualUser, 0, max),
	}
	for i := 0; i < preAllocated; i++ {
		vu := newVirtualUser(i+1, scenario)
		p.all = append(p.all, vu)
		p.free <- vu
	}
	return p, nil
}

// TryAcquire returns an idle VU, creating one if the pool is below max. It
// never blocks; when the pool is exhausted it returns ErrPoolExhausted.
func (p *VUPool) TryAcquire() (*VirtualUser, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	select {
	case vu := <-p.free:
		p.markBusy(vu)
		return vu, nil
	default:
	}

	p.mu.Lock()
	if len(p.all) < p.max {
		vu := newVirtualUser(len(p.all)+1, p.scenario)
		p.all = append(p.all, vu)
		p.mu.Unlock()
		p.markBusy(vu)
		return vu, nil
	}
	p.mu.Unlock()

	return nil, ErrPoolExhausted
}

// Acquire is TryAcquire that waits for a VU to be released when the pool is
// exhausted. It returns ctx.Err() if ctx ends first.
func (p *VUPool) Acquire(ctx context.Context) (*VirtualUser, error) {
	vu, err := p.TryAcquire()
	if err != ErrPoolExhausted {
		return vu, err
	}

	select {
	case vu := <-p.free:
		p.markBusy(vu)
		return vu, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns vu to the pool. It fails if vu is not busy or belongs to
// another pool.
func (p *VUPool) Release(vu *VirtualUser) error {
	if vu == nil || !p.owns(vu) {
		return fmt.Errorf("release of a VU not owned by pool %q", p.scenario)
	}
	if !vu.state.CompareAndSwap(int32(VUStateBusy), int32(VUStateIdle)) {
		return fmt.Errorf("release of VU %d in state %s", vu.ID, vu.State())
	}
	p.busy.Add(-1)

	if p.closed.Load() {
		vu.state.Store(int32(VUStateStopped))
		return nil
	}
	// free has capacity max and holds only idle VUs, so this never blocks.
	p.free <- vu
	return nil
}

// Close stops handing out VUs and marks idle VUs stopped. Busy VUs are
// marked stopped when released.
func (p *VUPool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	for {
		select {
		case vu := <-p.free:
			vu.state.Store(int32(VUStateStopped))
		default:
			return
		}
	}
}

// Stats returns the pool's current occupancy.
func (p *VUPool) Stats() PoolStats {
	p.mu.Lock()
	allocated := len(p.all)
	p.mu.Unlock()
	return PoolStats{
		PreAllocated: p.preAllocated,
		Max:          p.max,
		Allocated:    allocated,
		Busy:         int(p.busy.Load()),
		Peak:         int(p.peak.Load()),
	}
}

// VUs returns every VU the pool has created.
func (p *VUPool) VUs() []*VirtualUser {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*VirtualUser, len(p.all))
	copy(out, p.all)
	return out
}

func (p *VUPool) markBusy(vu *VirtualUser) {
	vu.state.Store(int32(VUStateBusy))
	n := p.busy.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			return
		}
	}
}

func (p *VUPool) owns(vu *VirtualUser) bool {
	if vu.Scenario != p.scenario {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return vu.ID >= 1 && vu.ID <= len(p.all) && p.all[vu.ID-1] == vu
}
