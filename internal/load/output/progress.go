package output

import (
	"context"
	"time"

	"github.com/wesleyorama2/cacheload/internal/load/executor"
	"github.com/wesleyorama2/cacheload/internal/load/metrics"
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress float64
	Elapsed  time.Duration

	Started  int64
	Dropped  int64
	InFlight int64

	BusyVUs      int
	AllocatedVUs int

	Requests    int64
	FailedRatio float64
	// LatencyP95 is the http_req_duration p(95) in milliseconds.
	LatencyP95 float64
}

// Source is what the progress display polls. *engine.Engine implements it.
type Source interface {
	GetProgress() float64
	GetScenarioStats() []*executor.Stats
	Metrics() *metrics.Snapshot
}

// Collect builds LiveStats from a source.
func Collect(src Source) *LiveStats {
	s := &LiveStats{Progress: src.GetProgress()}
	for _, st := range src.GetScenarioStats() {
		if st == nil {
			continue
		}
		s.Started += st.Started
		s.Dropped += st.Dropped
		s.InFlight += st.InFlight
		s.BusyVUs += st.Pool.Busy
		s.AllocatedVUs += st.Pool.Allocated
		s.Elapsed = max(s.Elapsed, st.Elapsed)
	}

	snap := src.Metrics()
	if snap == nil {
		return s
	}
	if agg, err := snap.Query(metrics.HTTPReqsName, nil); err == nil {
		if v, ok := agg.Value(metrics.Stat{Kind: metrics.StatCount}); ok {
			s.Requests = int64(v)
		}
	}
	if agg, err := snap.Query(metrics.HTTPReqFailedName, nil); err == nil {
		s.FailedRatio, _ = agg.Value(metrics.Stat{Kind: metrics.StatRate})
	}
	if agg, err := snap.Query(metrics.HTTPReqDurationName, nil); err == nil {
		s.LatencyP95, _ = agg.Value(metrics.Stat{Kind: metrics.StatPercentile, P: 95})
	}
	return s
}

// Watch updates the console every interval until ctx is done. Off a
// terminal it updates at most every 10 intervals to keep logs short.
func (c *Console) Watch(ctx context.Context, src Source, interval time.Duration) {
	if c.quiet {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}
	if !c.isTTY {
		interval *= 10
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Update(Collect(src))
		}
	}
}
