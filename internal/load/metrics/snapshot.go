package metrics

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Snapshot is an immutable copy of a registry at a point in time.
type Snapshot struct {
	Taken     time.Time
	Elapsed   time.Duration
	Discarded int64

	metrics map[string]*MetricSnapshot
}

// MetricSnapshot holds every series of one metric.
type MetricSnapshot struct {
	Name     string
	Type     Type
	Contains ValueType
	Series   []*SeriesSnapshot
}

// SeriesSnapshot is the aggregate of one (metric, tag set) pair.
type SeriesSnapshot struct {
	Tags Tags
	agg  *Aggregate
}

// Aggregate returns the series' aggregate.
func (s *SeriesSnapshot) Aggregate() *Aggregate {
	return s.agg
}

// Metric returns the snapshot of the named metric.
func (s *Snapshot) Metric(name string) (*MetricSnapshot, bool) {
	m, ok := s.metrics[name]
	return m, ok
}

// Metrics returns all metric snapshots sorted by name.
func (s *Snapshot) Metrics() []*MetricSnapshot {
	out := make([]*MetricSnapshot, 0, len(s.metrics))
	for _, m := range s.metrics {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Query merges every series of the named metric whose tags contain filter.
// A metric that exists but has no matching samples yields an aggregate with
// zero samples, which reports no data for every stat.
func (s *Snapshot) Query(name string, filter Tags) (*Aggregate, error) {
	m, ok := s.metrics[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMetric, name)
	}
	return m.Query(filter), nil
}

// Query merges the series whose tags contain filter.
func (m *MetricSnapshot) Query(filter Tags) *Aggregate {
	out := &Aggregate{Type: m.Type, Contains: m.Contains}
	for _, s := range m.Series {
		if !s.Tags.Contains(filter) {
			continue
		}
		out.elapsed = s.agg.elapsed
		out.merge(s.agg)
	}
	return out
}

// Total merges every series of the metric.
func (m *MetricSnapshot) Total() *Aggregate {
	return m.Query(nil)
}

type seriesJSON struct {
	Tags   Tags               `json:"tags,omitempty"`
	Values map[string]float64 `json:"values"`
}

type metricJSON struct {
	Type     Type               `json:"type"`
	Contains ValueType          `json:"contains"`
	Values   map[string]float64 `json:"values"`
	Series   []seriesJSON       `json:"series,omitempty"`
}

// MarshalJSON exports the snapshot as a map of metric name to its total
// values and per-series breakdown.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	out := make(map[string]metricJSON, len(s.metrics))
	for name, m := range s.metrics {
		mj := metricJSON{
			Type:     m.Type,
			Contains: m.Contains,
			Values:   m.Total().Values(),
		}
		for _, ser := range m.Series {
			mj.Series = append(mj.Series, seriesJSON{Tags: ser.Tags, Values: ser.agg.Values()})
		}
		out[name] = mj
	}
	return json.Marshal(out)
}
