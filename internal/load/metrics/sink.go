package metrics

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Trend histograms store values in thousandths of a unit (microseconds for
// time metrics). Range: 0.001 to 3,600,000 units (one hour in ms), 3
// significant figures. Exact min, max and sum are tracked beside the
// histogram so that p(0) and p(100) are never approximated.
const (
	trendScale   = 1000
	trendHistMin = 1
	trendHistMax = 3_600_000_000
	trendSigFigs = 3
)

func newTrendHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(trendHistMin, trendHistMax, trendSigFigs)
}

// sink aggregates samples of one series.
type sink interface {
	add(value float64) error
	aggregate() *Aggregate
}

func newSink(t Type) sink {
	switch t {
	case Rate:
		return &RateSink{}
	case Trend:
		return NewTrendSink()
	default:
		return &CounterSink{}
	}
}

// CounterSink sums non-negative increments.
type CounterSink struct {
	mu    sync.Mutex
	sum   float64
	count int64
}

func (c *CounterSink) add(value float64) error {
	if value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: counter increment %v", ErrInvalidSample, value)
	}
	c.mu.Lock()
	c.sum += value
	c.count++
	c.mu.Unlock()
	return nil
}

func (c *CounterSink) aggregate() *Aggregate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Aggregate{Type: Counter, Samples: c.count, sum: c.sum}
}

// RateSink counts true (non-zero) samples against the total.
type RateSink struct {
	trues atomic.Int64
	total atomic.Int64
}

func (r *RateSink) add(value float64) error {
	if math.IsNaN(value) {
		return fmt.Errorf("%w: rate sample NaN", ErrInvalidSample)
	}
	if value != 0 {
		r.trues.Add(1)
	}
	r.total.Add(1)
	return nil
}

func (r *RateSink) aggregate() *Aggregate {
	// total is read first so trues <= total holds in the copy even while
	// samples are still arriving.
	total := r.total.Load()
	trues := r.trues.Load()
	if trues > total {
		trues = total
	}
	return &Aggregate{Type: Rate, Samples: total, trues: trues}
}

// TrendSink keeps an HDR histogram plus exact count, sum, min and max.
type TrendSink struct {
	mu    sync.Mutex
	hist  *hdrhistogram.Histogram
	count int64
	sum   float64
	min   float64
	max   float64
}

// NewTrendSink creates an empty trend sink.
func NewTrendSink() *TrendSink {
	return &TrendSink{hist: newTrendHistogram()}
}

func (t *TrendSink) add(value float64) error {
	if value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: trend sample %v", ErrInvalidSample, value)
	}

	scaled := int64(math.Round(value * trendScale))
	if scaled < trendHistMin {
		scaled = trendHistMin
	}
	if scaled > trendHistMax {
		scaled = trendHistMax
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// RecordValue only fails out of range, which the clamp rules out.
	_ = t.hist.RecordValue(scaled)
	if t.count == 0 || value < t.min {
		t.min = value
	}
	if t.count == 0 || value > t.max {
		t.max = value
	}
	t.count++
	t.sum += value
	return nil
}

func (t *TrendSink) aggregate() *Aggregate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &Aggregate{
		Type:    Trend,
		Samples: t.count,
		sum:     t.sum,
		min:     t.min,
		max:     t.max,
		hist:    hdrhistogram.Import(t.hist.Export()),
	}
}
