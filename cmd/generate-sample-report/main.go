// Command generate-sample-report renders the HTML report for a synthetic
// run, for working on the report template without a live service.
package main

import (
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wesleyorama2/cacheload/internal/itemstore"
	"github.com/wesleyorama2/cacheload/internal/load"
	"github.com/wesleyorama2/cacheload/internal/load/engine"
	"github.com/wesleyorama2/cacheload/internal/load/executor"
	"github.com/wesleyorama2/cacheload/internal/load/metrics"
	"github.com/wesleyorama2/cacheload/internal/load/report"
	"github.com/wesleyorama2/cacheload/internal/load/threshold"
)

func main() {
	outputPath := "sample-report.html"
	if len(os.Args) > 1 {
		outputPath = os.Args[1]
	}

	result, err := createSampleTestResult()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := report.GenerateHTML(result, outputPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Sample report generated: %s\n", outputPath)
}

type sampleScenario struct {
	name     string
	exec     string
	starts   int
	dropped  int
	hitRatio float64
	latency  float64 // mean ms
	failures float64
}

var sampleScenarios = []sampleScenario{
	{name: "read_scenario", exec: itemstore.ReadTest, starts: 5400, dropped: 12, hitRatio: 0.82, latency: 18, failures: 0.004},
	{name: "write_scenario", exec: itemstore.WriteTest, starts: 600, latency: 42, failures: 0.01},
}

func createSampleTestResult() (*engine.TestResult, error) {
	rng := rand.New(rand.NewPCG(1, 2))

	reg := metrics.NewRegistry()
	b := metrics.RegisterBuiltin(reg)
	catalog := load.NewCatalog()
	if err := itemstore.Register(catalog, nil, 1001); err != nil {
		return nil, err
	}
	for _, name := range catalog.Names() {
		w, _ := catalog.Lookup(name)
		if err := w.Declare(reg); err != nil {
			return nil, err
		}
	}
	hit, _ := reg.Get(itemstore.CacheHitRateName)

	var stats []*engine.ScenarioResult
	for _, sc := range sampleScenarios {
		tags := metrics.Tags{"scenario": sc.name}
		var failed int64
		for i := 0; i < sc.starts; i++ {
			d := rng.ExpFloat64() * sc.latency
			fail := rng.Float64() < sc.failures
			if fail {
				failed++
			}
			status := "200"
			if fail {
				status = "500"
			}
			reqTags := tags.With(metrics.Tags{"status": status})
			_ = reg.Add(b.HTTPReqs, 1, reqTags)
			_ = reg.Add(b.HTTPReqDuration, d, reqTags)
			_ = reg.Add(b.HTTPReqFailed, boolValue(fail), reqTags)
			_ = reg.Add(b.Iterations, 1, tags)
			_ = reg.Add(b.IterationDuration, d+1, tags)
			_ = reg.Add(b.IterationFailed, boolValue(fail), tags)
			if sc.hitRatio > 0 && hit != nil {
				_ = reg.Add(hit, boolValue(!fail && rng.Float64() < sc.hitRatio), tags)
			}
		}
		_ = reg.Add(b.DroppedIterations, float64(sc.dropped), tags)

		stats = append(stats, &engine.ScenarioResult{
			Name:     sc.name,
			Executor: string(executor.TypeConstantArrivalRate),
			Exec:     sc.exec,
			Stats: &executor.Stats{
				Scenario:           sc.name,
				Type:               executor.TypeConstantArrivalRate,
				Exec:               sc.exec,
				Arrivals:           int64(sc.starts + sc.dropped),
				Started:            int64(sc.starts),
				Completed:          int64(sc.starts) - failed,
				Failed:             failed,
				Dropped:            int64(sc.dropped),
				ExpectedIterations: float64(sc.starts + sc.dropped),
				Pool:               load.PoolStats{PreAllocated: 50, Max: 200, Allocated: 64, Peak: 61},
			},
		})
	}
	reg.Seal()
	snap := reg.Snapshot()

	defs := []threshold.Definition{
		{Selector: "http_req_duration", Expression: "p(95)<200"},
		{Selector: "http_req_failed", Expression: "rate<0.01"},
		{Selector: "cache_hit_rate{scenario:read_scenario}", Expression: "rate>0.75", AbortOnFail: true},
	}
	eval, err := threshold.NewFromDefinitions(defs)
	if err != nil {
		return nil, err
	}
	results := eval.Evaluate(snap)

	end := time.Now()
	return &engine.TestResult{
		RunID:       ulid.Make().String(),
		Name:        "item-cache",
		Description: "Read-through cache under mixed read and write load",
		StartTime:   end.Add(-time.Minute),
		EndTime:     end,
		Duration:    time.Minute,
		Scenarios:   stats,
		Metrics:     snap,
		Verdict: engine.Verdict{
			Passed:     threshold.AllPassed(results),
			Thresholds: results,
		},
	}, nil
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
