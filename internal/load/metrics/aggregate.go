package metrics

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// StatKind enumerates the aggregate values a threshold can reference.
type StatKind int

const (
	StatCount StatKind = iota
	StatRate
	StatAvg
	StatMin
	StatMax
	StatMed
	StatPercentile
)

// Stat is one aggregate value of a metric, e.g. p(95) or rate.
type Stat struct {
	Kind StatKind
	// P is the percentile in [0, 100] for StatPercentile.
	P float64
}

// String renders the stat the way it is written in expressions.
func (s Stat) String() string {
	switch s.Kind {
	case StatCount:
		return "count"
	case StatRate:
		return "rate"
	case StatAvg:
		return "avg"
	case StatMin:
		return "min"
	case StatMax:
		return "max"
	case StatMed:
		return "med"
	case StatPercentile:
		return "p(" + strconv.FormatFloat(s.P, 'f', -1, 64) + ")"
	default:
		return "unknown"
	}
}

// Supports reports whether the stat is defined for metrics of type t.
func (s Stat) Supports(t Type) bool {
	switch s.Kind {
	case StatCount:
		return true
	case StatRate:
		return t == Rate || t == Counter
	default:
		return t == Trend
	}
}

// Aggregate is the merged state of one or more series of the same metric.
// It is a detached copy and safe to read without locking.
type Aggregate struct {
	Type     Type
	Contains ValueType
	// Samples is the number of recorded samples.
	Samples int64

	sum   float64
	min   float64
	max   float64
	trues int64
	hist  *hdrhistogram.Histogram

	// elapsed is the run time used for the per-second counter rate.
	elapsed time.Duration
}

// merge folds other into a. Both must be of the same type.
func (a *Aggregate) merge(other *Aggregate) {
	if other.Samples == 0 {
		return
	}
	if a.Samples == 0 {
		a.min, a.max = other.min, other.max
	} else {
		a.min = math.Min(a.min, other.min)
		a.max = math.Max(a.max, other.max)
	}
	a.Samples += other.Samples
	a.sum += other.sum
	a.trues += other.trues
	if other.hist != nil {
		if a.hist == nil {
			a.hist = newTrendHistogram()
		}
		a.hist.Merge(other.hist)
	}
}

// Value returns the requested stat. ok is false when the aggregate has no
// samples or the stat does not apply to the metric type.
func (a *Aggregate) Value(s Stat) (v float64, ok bool) {
	if a == nil || a.Samples == 0 || !s.Supports(a.Type) {
		return 0, false
	}

	switch s.Kind {
	case StatCount:
		if a.Type == Counter {
			return a.sum, true
		}
		return float64(a.Samples), true
	case StatRate:
		if a.Type == Counter {
			secs := a.elapsed.Seconds()
			if secs <= 0 {
				return 0, false
			}
			return a.sum / secs, true
		}
		return float64(a.trues) / float64(a.Samples), true
	case StatAvg:
		return a.sum / float64(a.Samples), true
	case StatMin:
		return a.min, true
	case StatMax:
		return a.max, true
	case StatMed:
		return a.percentile(50), true
	case StatPercentile:
		return a.percentile(s.P), true
	}
	return 0, false
}

func (a *Aggregate) percentile(p float64) float64 {
	if p <= 0 {
		return a.min
	}
	if p >= 100 || a.hist == nil {
		return a.max
	}
	v := float64(a.hist.ValueAtQuantile(p)) / trendScale
	// The histogram reports bucket upper bounds; keep the result inside the
	// exact observed range so percentiles stay monotonic between p(0) and p(100).
	return math.Min(math.Max(v, a.min), a.max)
}

// Values returns the k6-style summary of the aggregate. It is empty when
// there are no samples.
func (a *Aggregate) Values() map[string]float64 {
	out := make(map[string]float64)
	if a == nil || a.Samples == 0 {
		return out
	}

	switch a.Type {
	case Counter:
		out["count"], _ = a.Value(Stat{Kind: StatCount})
		if r, ok := a.Value(Stat{Kind: StatRate}); ok {
			out["rate"] = r
		}
	case Rate:
		out["rate"], _ = a.Value(Stat{Kind: StatRate})
		out["passes"] = float64(a.trues)
		out["fails"] = float64(a.Samples - a.trues)
	case Trend:
		out["count"] = float64(a.Samples)
		for _, s := range summaryTrendStats {
			out[s.String()], _ = a.Value(s)
		}
	}
	return out
}

var summaryTrendStats = []Stat{
	{Kind: StatAvg},
	{Kind: StatMin},
	{Kind: StatMed},
	{Kind: StatMax},
	{Kind: StatPercentile, P: 90},
	{Kind: StatPercentile, P: 95},
	{Kind: StatPercentile, P: 99},
}

// String is a short human-readable form, mostly for logs.
func (a *Aggregate) String() string {
	return fmt.Sprintf("%s[samples=%d]", a.Type, a.Samples)
}
