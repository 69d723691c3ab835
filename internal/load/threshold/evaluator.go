package threshold

import (
	"errors"
	"fmt"
	"time"

	"github.com/wesleyorama2/cacheload/internal/load/metrics"
)

// Status is the outcome of one threshold.
type Status int

const (
	StatusPassed Status = iota
	StatusFailed
	// StatusNoData means the selector matched no observations. It counts as unmet.
	StatusNoData
)

func (s Status) String() string {
	switch s {
	case StatusPassed:
		return "pass"
	case StatusFailed:
		return "fail"
	case StatusNoData:
		return "no-data"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result is the evaluation of one threshold.
type Result struct {
	Metric      string   `json:"metric"`
	Expression  string   `json:"expression"`
	Status      Status   `json:"status"`
	Actual      *float64 `json:"actual,omitempty"`
	Message     string   `json:"message"`
	AbortOnFail bool     `json:"abortOnFail,omitempty"`
}

// Passed reports whether the threshold was met.
func (r Result) Passed() bool {
	return r.Status == StatusPassed
}

// AllPassed is the overall verdict: true iff every result passed. An empty
// set of results passes.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed() {
			return false
		}
	}
	return true
}

// Evaluator evaluates a fixed list of thresholds against snapshots.
type Evaluator struct {
	thresholds []Threshold
}

// New creates an evaluator. Results keep the order of thresholds.
func New(thresholds []Threshold) *Evaluator {
	return &Evaluator{thresholds: thresholds}
}

// NewFromDefinitions parses every definition, collecting all errors.
func NewFromDefinitions(defs []Definition) (*Evaluator, error) {
	var (
		out  = make([]Threshold, 0, len(defs))
		errs []error
	)
	for _, d := range defs {
		t, err := Parse(d)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, t)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return New(out), nil
}

// Thresholds returns the evaluator's thresholds.
func (e *Evaluator) Thresholds() []Threshold {
	return e.thresholds
}

// Validate checks every threshold against the declared metrics: the metric
// must exist and the stat must apply to its type.
func (e *Evaluator) Validate(reg *metrics.Registry) error {
	var errs []error
	for _, t := range e.thresholds {
		m, ok := reg.Get(t.Selector.Metric)
		if !ok {
			errs = append(errs, fmt.Errorf("threshold %q: %w: %s", t.String(), metrics.ErrUnknownMetric, t.Selector.Metric))
			continue
		}
		if !t.Expression.Stat.Supports(m.Type) {
			errs = append(errs, fmt.Errorf("threshold %q: %s is not defined for %s metric %s",
				t.String(), t.Expression.Stat, m.Type, m.Name))
			continue
		}
		if t.Expression.IsDuration && m.Contains != metrics.Time {
			errs = append(errs, fmt.Errorf("threshold %q: duration value used with non-time metric %s", t.String(), m.Name))
		}
	}
	return errors.Join(errs...)
}

// Evaluate evaluates every threshold against snap.
func (e *Evaluator) Evaluate(snap *metrics.Snapshot) []Result {
	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, evaluateOne(t, snap))
	}
	return results
}

func evaluateOne(t Threshold, snap *metrics.Snapshot) Result {
	r := Result{
		Metric:      t.Selector.Raw,
		Expression:  t.Expression.Raw,
		AbortOnFail: t.AbortOnFail,
	}

	agg, err := snap.Query(t.Selector.Metric, t.Selector.Filter)
	if err != nil {
		r.Status = StatusFailed
		r.Message = fmt.Sprintf("✗ %s: %v", t, err)
		return r
	}

	actual, ok := agg.Value(t.Expression.Stat)
	if !ok {
		r.Status = StatusNoData
		r.Message = fmt.Sprintf("✗ %s: no data", t)
		return r
	}
	r.Actual = &actual

	icon := "✓"
	r.Status = StatusPassed
	if !compare(actual, t.Expression.Op, t.Expression.Value) {
		icon = "✗"
		r.Status = StatusFailed
	}
	r.Message = fmt.Sprintf("%s %s: %s=%.4g", icon, t, t.Expression.Stat, actual)
	return r
}

// ShouldAbort returns the first failed abortOnFail threshold whose delay
// has elapsed. results must come from Evaluate on the same evaluator.
// No-data never aborts: a metric may simply not have been recorded yet.
func (e *Evaluator) ShouldAbort(results []Result, elapsed time.Duration) (Result, bool) {
	for i, r := range results {
		if i >= len(e.thresholds) {
			break
		}
		t := e.thresholds[i]
		if t.AbortOnFail && r.Status == StatusFailed && elapsed >= t.DelayAbortEval {
			return r, true
		}
	}
	return Result{}, false
}

// HasAbortOnFail reports whether any threshold can abort the run.
func (e *Evaluator) HasAbortOnFail() bool {
	for _, t := range e.thresholds {
		if t.AbortOnFail {
			return true
		}
	}
	return false
}
