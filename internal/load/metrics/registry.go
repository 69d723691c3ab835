package metrics

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Registry owns the metrics of a single run and their per-tag-set series.
//
// # Thread Safety
//
// Registry is safe for concurrent use. Series lookup takes a read lock on
// the fast path; sinks synchronize internally so recording into different
// series never contends.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]*Metric
	series  map[string]map[string]*series // metric name -> tag key -> series

	start     time.Time
	sealed    atomic.Bool
	sealedAt  atomic.Int64
	discarded atomic.Int64
}

type series struct {
	tags Tags
	sink sink
}

// NewRegistry creates an empty registry. The run clock starts now.
func NewRegistry() *Registry {
	return &Registry{
		metrics: make(map[string]*Metric),
		series:  make(map[string]map[string]*series),
		start:   time.Now(),
	}
}

// NewMetric declares a metric. Declaring the same name twice with the same
// type returns the existing handle.
func (r *Registry) NewMetric(name string, typ Type, contains ...ValueType) (*Metric, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	vt := Default
	if len(contains) > 0 {
		vt = contains[0]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.metrics[name]; ok {
		if m.Type != typ {
			return nil, fmt.Errorf("%w: %s is a %s, not a %s", ErrTypeConflict, name, m.Type, typ)
		}
		return m, nil
	}

	m := &Metric{Name: name, Type: typ, Contains: vt, registry: r}
	r.metrics[name] = m
	r.series[name] = make(map[string]*series)
	return m, nil
}

// MustMetric is NewMetric that panics on error. Use it for metric names fixed
// at compile time.
func (r *Registry) MustMetric(name string, typ Type, contains ...ValueType) *Metric {
	m, err := r.NewMetric(name, typ, contains...)
	if err != nil {
		panic(err)
	}
	return m
}

// Get returns the declared metric with the given name.
func (r *Registry) Get(name string) (*Metric, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.metrics[name]
	return m, ok
}

// Add records one sample of m under tags. After Seal, samples are counted
// as discarded and dropped.
func (r *Registry) Add(m *Metric, value float64, tags Tags) error {
	if m == nil || m.registry != r {
		return fmt.Errorf("%w: metric not declared in this registry", ErrUnknownMetric)
	}
	if r.sealed.Load() {
		r.discarded.Add(1)
		return nil
	}
	return r.lookup(m, tags).sink.add(value)
}

func (r *Registry) lookup(m *Metric, tags Tags) *series {
	key := tags.Key()

	r.mu.RLock()
	s, ok := r.series[m.Name][key]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.series[m.Name][key]; ok {
		return s
	}
	s = &series{tags: tags.With(nil), sink: newSink(m.Type)}
	r.series[m.Name][key] = s
	return s
}

// Seal freezes the registry. Observations arriving afterwards, e.g. from
// iterations abandoned at the hard stop, are discarded.
func (r *Registry) Seal() {
	if r.sealed.CompareAndSwap(false, true) {
		r.sealedAt.Store(time.Now().UnixNano())
	}
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	return r.sealed.Load()
}

// Elapsed is the time since the registry was created, frozen at Seal.
func (r *Registry) Elapsed() time.Duration {
	if at := r.sealedAt.Load(); at != 0 {
		return time.Unix(0, at).Sub(r.start)
	}
	return time.Since(r.start)
}

// Metrics returns the declared metrics sorted by name.
func (r *Registry) Metrics() []*Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Metric, 0, len(r.metrics))
	for _, m := range r.metrics {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Snapshot copies the current state of every series.
func (r *Registry) Snapshot() *Snapshot {
	elapsed := r.Elapsed()

	r.mu.RLock()
	type pending struct {
		metric *Metric
		series []*series
	}
	all := make([]pending, 0, len(r.metrics))
	for name, m := range r.metrics {
		p := pending{metric: m}
		for _, s := range r.series[name] {
			p.series = append(p.series, s)
		}
		all = append(all, p)
	}
	r.mu.RUnlock()

	snap := &Snapshot{
		Taken:     time.Now(),
		Elapsed:   elapsed,
		Discarded: r.discarded.Load(),
		metrics:   make(map[string]*MetricSnapshot, len(all)),
	}
	for _, p := range all {
		ms := &MetricSnapshot{
			Name:     p.metric.Name,
			Type:     p.metric.Type,
			Contains: p.metric.Contains,
		}
		for _, s := range p.series {
			agg := s.sink.aggregate()
			agg.Contains = p.metric.Contains
			agg.elapsed = elapsed
			ms.Series = append(ms.Series, &SeriesSnapshot{Tags: s.tags, agg: agg})
		}
		sort.Slice(ms.Series, func(i, j int) bool {
			return ms.Series[i].Tags.Key() < ms.Series[j].Tags.Key()
		})
		snap.metrics[ms.Name] = ms
	}
	return snap
}
