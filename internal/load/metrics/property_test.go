package metrics

import (
	"testing"

	"pgregory.net/rapid"
)

// Percentiles are bounded by the exact extremes and non-decreasing in p.
func TestProperty_TrendPercentileBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		values := rapid.SliceOfN(rapid.Float64Range(0, 60_000), 1, 300).Draw(t, "values")

		r := NewRegistry()
		m := r.MustMetric("lat", Trend, Time)
		lo, hi := values[0], values[0]
		for _, v := range values {
			if err := r.Add(m, v, nil); err != nil {
				t.Fatalf("add %v: %v", v, err)
			}
			lo = min(lo, v)
			hi = max(hi, v)
		}

		agg, _ := r.Snapshot().Query("lat", nil)
		p0, _ := agg.Value(Stat{Kind: StatPercentile, P: 0})
		p100, _ := agg.Value(Stat{Kind: StatPercentile, P: 100})
		if p0 != lo {
			t.Fatalf("p(0)=%v, min=%v", p0, lo)
		}
		if p100 != hi {
			t.Fatalf("p(100)=%v, max=%v", p100, hi)
		}

		prev := p0
		for _, p := range []float64{1, 10, 25, 50, 75, 90, 95, 99, 99.9, 100} {
			v, ok := agg.Value(Stat{Kind: StatPercentile, P: p})
			if !ok {
				t.Fatalf("p(%v) reported no data", p)
			}
			if v < prev {
				t.Fatalf("p(%v)=%v below previous %v", p, v, prev)
			}
			if v < lo || v > hi {
				t.Fatalf("p(%v)=%v outside [%v, %v]", p, v, lo, hi)
			}
			prev = v
		}
	})
}

func TestProperty_RateCounts(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		samples := rapid.SliceOf(rapid.Bool()).Draw(t, "samples")

		r := NewRegistry()
		m := r.MustMetric("ok", Rate)
		trues := 0
		for _, s := range samples {
			v := 0.0
			if s {
				v = 1
				trues++
			}
			_ = r.Add(m, v, nil)
		}

		agg, _ := r.Snapshot().Query("ok", nil)
		rate, ok := agg.Value(Stat{Kind: StatRate})
		if len(samples) == 0 {
			if ok {
				t.Fatalf("empty rate reported %v", rate)
			}
			return
		}
		vals := agg.Values()
		if int(vals["passes"]) != trues || int(vals["passes"]+vals["fails"]) != len(samples) {
			t.Fatalf("passes=%v fails=%v, want %d of %d", vals["passes"], vals["fails"], trues, len(samples))
		}
		if rate < 0 || rate > 1 {
			t.Fatalf("rate %v outside [0, 1]", rate)
		}
	})
}

func TestProperty_CounterMonotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		incs := rapid.SliceOfN(rapid.Float64Range(0, 1000), 1, 100).Draw(t, "increments")

		r := NewRegistry()
		m := r.MustMetric("n", Counter)
		prev := 0.0
		for _, inc := range incs {
			_ = r.Add(m, inc, nil)
			agg, _ := r.Snapshot().Query("n", nil)
			cur, _ := agg.Value(Stat{Kind: StatCount})
			if cur < prev {
				t.Fatalf("counter decreased from %v to %v", prev, cur)
			}
			prev = cur
		}
	})
}
