// Package load holds the core types of an arrival-rate load run: virtual
// users, the bounded pool they are drawn from, and the iteration contract
// workloads implement.
package load

import (
	"math/rand/v2"
	"sync/atomic"
	"time"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is in its pool, ready for an iteration.
	VUStateIdle VUState = iota
	// VUStateBusy indicates the VU is running an iteration.
	VUStateBusy
	// VUStateStopped indicates the VU's pool has been closed.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateBusy:
		return "busy"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// VirtualUser is one worker slot of a scenario's pool. A VU runs at most one
// iteration at a time; between iterations it keeps its identity, iteration
// count and random source.
type VirtualUser struct {
	ID       int
	Scenario string

	state      atomic.Int32
	iterations atomic.Int64

	// rng is only touched by the iteration holding the VU.
	rng *rand.Rand
}

func newVirtualUser(id int, scenario string) *VirtualUser {
	seed := uint64(time.Now().UnixNano())
	return &VirtualUser{
		ID:       id,
		Scenario: scenario,
		rng:      rand.New(rand.NewPCG(seed, uint64(id))),
	}
}

// State returns the current VU state.
func (vu *VirtualUser) State() VUState {
	return VUState(vu.state.Load())
}

// Iterations returns the number of iterations this VU has started.
func (vu *VirtualUser) Iterations() int64 {
	return vu.iterations.Load()
}

func (vu *VirtualUser) begin() {
	vu.iterations.Add(1)
}
