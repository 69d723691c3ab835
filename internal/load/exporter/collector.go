// Package exporter exposes a running test's metrics to Prometheus.
package exporter

import (
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wesleyorama2/cacheload/internal/load/executor"
	"github.com/wesleyorama2/cacheload/internal/load/metrics"
)

const namespace = "cacheload"

// Source is polled on every scrape. *engine.Engine implements it.
type Source interface {
	GetScenarioStats() []*executor.Stats
	Metrics() *metrics.Snapshot
}

var summaryQuantiles = []float64{50, 90, 95, 99}

var (
	scenarioLabels = []string{"scenario", "executor"}

	startedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "scenario", "iterations_started_total"),
		"Iterations that acquired a VU.", scenarioLabels, nil)
	droppedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "scenario", "iterations_dropped_total"),
		"Scheduled starts dropped because no VU was available.", scenarioLabels, nil)
	inFlightDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "scenario", "iterations_in_flight"),
		"Iterations currently running.", scenarioLabels, nil)
	busyVUsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "scenario", "vus_busy"),
		"VUs currently running an iteration.", scenarioLabels, nil)
	allocatedVUsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "scenario", "vus_allocated"),
		"VUs allocated so far.", scenarioLabels, nil)
	targetRateDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "scenario", "target_rate"),
		"Target iteration starts per second.", scenarioLabels, nil)
)

// Collector translates engine snapshots into Prometheus metrics at scrape
// time. Workload metric names and labels depend on the run's tag sets, so
// the collector is unchecked: Describe sends nothing.
type Collector struct {
	src Source
}

// NewCollector creates a collector over src.
func NewCollector(src Source) *Collector {
	return &Collector{src: src}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.src.GetScenarioStats() {
		if s == nil {
			continue
		}
		labels := []string{s.Scenario, string(s.Type)}
		ch <- prometheus.MustNewConstMetric(startedDesc, prometheus.CounterValue, float64(s.Started), labels...)
		ch <- prometheus.MustNewConstMetric(droppedDesc, prometheus.CounterValue, float64(s.Dropped), labels...)
		ch <- prometheus.MustNewConstMetric(inFlightDesc, prometheus.GaugeValue, float64(s.InFlight), labels...)
		ch <- prometheus.MustNewConstMetric(busyVUsDesc, prometheus.GaugeValue, float64(s.Pool.Busy), labels...)
		ch <- prometheus.MustNewConstMetric(allocatedVUsDesc, prometheus.GaugeValue, float64(s.Pool.Allocated), labels...)
		ch <- prometheus.MustNewConstMetric(targetRateDesc, prometheus.GaugeValue, s.TargetRate, labels...)
	}

	snap := c.src.Metrics()
	if snap == nil {
		return
	}
	for _, m := range snap.Metrics() {
		collectMetric(ch, m)
	}
}

func collectMetric(ch chan<- prometheus.Metric, m *metrics.MetricSnapshot) {
	keys := labelKeys(m)
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = labelName(k)
	}

	var desc *prometheus.Desc
	switch m.Type {
	case metrics.Counter:
		desc = prometheus.NewDesc(prometheus.BuildFQName(namespace, "", m.Name+"_total"), m.Name+" counter.", names, nil)
	case metrics.Rate:
		desc = prometheus.NewDesc(prometheus.BuildFQName(namespace, "", m.Name+"_ratio"), m.Name+" share of non-zero samples.", names, nil)
	case metrics.Trend:
		desc = prometheus.NewDesc(prometheus.BuildFQName(namespace, "", m.Name), m.Name+" trend.", names, nil)
	default:
		return
	}

	for _, ser := range m.Series {
		agg := ser.Aggregate()
		if agg == nil || agg.Samples == 0 {
			continue
		}
		values := make([]string, len(keys))
		for i, k := range keys {
			values[i] = ser.Tags[k]
		}

		var (
			pm  prometheus.Metric
			err error
		)
		switch m.Type {
		case metrics.Counter:
			v, _ := agg.Value(metrics.Stat{Kind: metrics.StatCount})
			pm, err = prometheus.NewConstMetric(desc, prometheus.CounterValue, v, values...)
		case metrics.Rate:
			v, _ := agg.Value(metrics.Stat{Kind: metrics.StatRate})
			pm, err = prometheus.NewConstMetric(desc, prometheus.GaugeValue, v, values...)
		case metrics.Trend:
			avg, _ := agg.Value(metrics.Stat{Kind: metrics.StatAvg})
			quantiles := make(map[float64]float64, len(summaryQuantiles))
			for _, p := range summaryQuantiles {
				quantiles[p/100], _ = agg.Value(metrics.Stat{Kind: metrics.StatPercentile, P: p})
			}
			pm, err = prometheus.NewConstSummary(desc, uint64(agg.Samples), avg*float64(agg.Samples), quantiles, values...)
		}
		if err != nil {
			ch <- prometheus.NewInvalidMetric(desc, err)
			continue
		}
		ch <- pm
	}
}

// labelKeys returns the union of tag keys over all series, sorted. Series
// missing a key export it as the empty string.
func labelKeys(m *metrics.MetricSnapshot) []string {
	seen := make(map[string]struct{})
	for _, ser := range m.Series {
		for k := range ser.Tags {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func labelName(key string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, key)
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = "_" + name
	}
	return name
}
