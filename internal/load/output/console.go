// Package output renders run progress and the end-of-run summary on the
// console.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/wesleyorama2/cacheload/internal/load/engine"
	"github.com/wesleyorama2/cacheload/internal/load/executor"
	"github.com/wesleyorama2/cacheload/internal/load/metrics"
)

const (
	ruleWidth   = 64
	metricWidth = 32

	clearLine = "\r\033[2K"
)

// Console writes the live progress line and the summary.
type Console struct {
	w       io.Writer
	palette *Palette
	isTTY   bool
	quiet   bool

	mu         sync.Mutex
	liveActive bool
}

// ConsoleConfig configures a Console.
type ConsoleConfig struct {
	// Writer defaults to os.Stdout.
	Writer io.Writer
	// Quiet prints only the verdict line.
	Quiet    bool
	NoColor  bool
	ForceTTY bool
}

// NewConsole creates a console writer.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	tty := cfg.ForceTTY || IsTerminal(cfg.Writer)

	palette := DefaultPalette()
	if cfg.NoColor || !colorsWanted(tty) {
		palette = NoColorPalette()
	}
	return &Console{
		w:       cfg.Writer,
		palette: palette,
		isTTY:   tty,
		quiet:   cfg.Quiet,
	}
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the test name and one line per scenario.
func (c *Console) PrintHeader(name string, scenarios []*executor.Config) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.palette
	rule := p.Rule.Sprint(strings.Repeat("━", ruleWidth))
	c.writeln(rule)
	c.writeln(p.Title.Sprintf("%s - Running", name))
	c.writeln(rule)
	for _, sc := range scenarios {
		c.writeln(fmt.Sprintf("  %s %s", p.Header.Sprint(sc.Name), p.Dim.Sprint(describeScenario(sc))))
	}
	c.writeln("")
}

func describeScenario(sc *executor.Config) string {
	rate := fmt.Sprintf("%g/%s", sc.Rate, sc.TimeUnit)
	if sc.Type == executor.TypeRampingArrivalRate {
		rate = fmt.Sprintf("%g/%s → %d stages", sc.StartRate, sc.TimeUnit, len(sc.Stages))
	}
	return fmt.Sprintf("[%s] exec=%s rate=%s for %s, vus=%d..%d, onExhausted=%s, gracefulStop=%s",
		sc.Type, sc.Exec, rate, formatDuration(sc.TotalDuration()),
		sc.PreAllocatedVUs, sc.MaxVUs, sc.OnExhausted, formatDuration(sc.GracefulStop))
}

// Update redraws the live progress line. On a non-terminal it prints a
// plain status line instead.
func (c *Console) Update(stats *LiveStats) {
	if c.quiet || stats == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	line := c.renderLive(stats)
	if !c.isTTY {
		c.writeln(line)
		return
	}
	c.write(clearLine + line)
	c.liveActive = true
}

func (c *Console) renderLive(s *LiveStats) string {
	p := c.palette
	return fmt.Sprintf("%s %s %s | iters %s started, %s dropped, %d in flight | VUs %d/%d | reqs %s (%s failed) | p95 %s",
		renderProgressBar(s.Progress, 24),
		p.Title.Sprintf("%3.0f%%", s.Progress*100),
		p.Dim.Sprint(formatDuration(s.Elapsed)),
		formatNumber(float64(s.Started)),
		formatNumber(float64(s.Dropped)),
		s.InFlight,
		s.BusyVUs, s.AllocatedVUs,
		formatNumber(float64(s.Requests)),
		p.rateColor(s.FailedRatio).Sprint(formatPercent(s.FailedRatio)),
		formatMillis(s.LatencyP95),
	)
}

func renderProgressBar(progress float64, width int) string {
	progress = min(max(progress, 0), 1)
	filled := int(progress * float64(width))
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}

// PrintSummary prints the end-of-run summary: scenarios, metrics,
// iteration failures, thresholds and the verdict.
func (c *Console) PrintSummary(result *engine.TestResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.liveActive {
		c.write(clearLine)
		c.liveActive = false
	}

	p := c.palette
	if c.quiet {
		c.writeln(c.verdictLine(result))
		return
	}

	status := p.Pass.Sprint("Completed ✓")
	switch {
	case result.Aborted:
		status = p.Warn.Sprint("Aborted")
		if !result.Passed() {
			status = p.Fail.Sprint("Aborted ✗")
		}
	case !result.Passed():
		status = p.Fail.Sprint("Failed ✗")
	}

	rule := p.Rule.Sprint(strings.Repeat("━", ruleWidth))
	c.writeln("")
	c.writeln(rule)
	c.writeln(fmt.Sprintf("%s - %s", p.Title.Sprint(result.Name), status))
	c.writeln(rule)
	c.writeln(fmt.Sprintf("Run ID:    %s", p.Value.Sprint(result.RunID)))
	c.writeln(fmt.Sprintf("Duration:  %s", p.Value.Sprint(formatDuration(result.Duration))))
	if result.Aborted {
		c.writeln(fmt.Sprintf("Aborted:   %s", p.Warn.Sprint(result.AbortReason)))
	}
	c.writeln("")

	c.printScenarios(result)
	c.printMetrics(result.Metrics)
	c.printIterationFailures(result)
	c.printThresholds(result)

	c.writeln(c.verdictLine(result))
}

func (c *Console) verdictLine(result *engine.TestResult) string {
	if result.Passed() {
		return c.palette.Pass.Sprint("PASSED")
	}
	return c.palette.Fail.Sprint("FAILED")
}

func (c *Console) printScenarios(result *engine.TestResult) {
	if len(result.Scenarios) == 0 {
		return
	}
	p := c.palette
	c.writeln(p.Header.Sprint("Scenarios:"))
	for _, sr := range result.Scenarios {
		s := sr.Stats
		if s == nil {
			continue
		}
		c.writeln(fmt.Sprintf("  %s %s", p.Title.Sprint(sr.Name), p.Dim.Sprintf("[%s] exec=%s", sr.Executor, sr.Exec)))
		c.writeln(fmt.Sprintf("    starts:     %s of %s expected, %s dropped",
			formatNumber(float64(s.Started)), formatNumber(s.ExpectedIterations), formatNumber(float64(s.Dropped))))
		c.writeln(fmt.Sprintf("    iterations: %s completed, %s failed, %s incomplete",
			formatNumber(float64(s.Completed)), formatNumber(float64(s.Failed)), formatNumber(float64(s.Incomplete))))
		c.writeln(fmt.Sprintf("    VUs:        peak %d, allocated %d of max %d",
			s.Pool.Peak, s.Pool.Allocated, s.Pool.Max))
		if sr.Error != "" {
			c.writeln(fmt.Sprintf("    error:      %s", p.Fail.Sprint(sr.Error)))
		}
	}
	c.writeln("")
}

func (c *Console) printMetrics(snap *metrics.Snapshot) {
	if snap == nil {
		return
	}
	p := c.palette
	c.writeln(p.Header.Sprint("Metrics:"))
	for _, m := range snap.Metrics() {
		agg := m.Total()
		if agg.Samples == 0 {
			continue
		}
		c.writeln(fmt.Sprintf("  %s %s", p.Metric.Sprint(dotted(m.Name, metricWidth)), c.metricValues(m, agg)))
	}
	c.writeln("")
}

// metricValues renders an aggregate the way k6's end-of-test summary does.
func (c *Console) metricValues(m *metrics.MetricSnapshot, agg *metrics.Aggregate) string {
	p := c.palette
	v := agg.Values()
	switch m.Type {
	case metrics.Counter:
		out := p.Value.Sprint(formatNumber(v["count"]))
		if r, ok := v["rate"]; ok {
			out += " " + p.Dim.Sprintf("%.2f/s", r)
		}
		return out
	case metrics.Rate:
		return fmt.Sprintf("%s %s %s",
			p.Value.Sprint(formatPercent(v["rate"])),
			p.Pass.Sprintf("✓ %s", formatNumber(v["passes"])),
			p.Fail.Sprintf("✗ %s", formatNumber(v["fails"])))
	default:
		keys := []string{"avg", "min", "med", "max", "p(90)", "p(95)", "p(99)"}
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			val := fmt.Sprintf("%.2f", v[k])
			if m.Contains == metrics.Time {
				val = formatMillis(v[k])
			}
			parts = append(parts, fmt.Sprintf("%s=%s", k, p.Value.Sprint(val)))
		}
		return strings.Join(parts, " ")
	}
}

// printIterationFailures reports iteration_failed per scenario. It is kept
// apart from the threshold table: a failed iteration is an observation,
// not a verdict.
func (c *Console) printIterationFailures(result *engine.TestResult) {
	if result.Metrics == nil {
		return
	}
	m, ok := result.Metrics.Metric(metrics.IterationFailedName)
	if !ok {
		return
	}
	p := c.palette

	byScenario := make(map[string]*metrics.Aggregate)
	for _, sr := range result.Scenarios {
		byScenario[sr.Name] = m.Query(metrics.Tags{"scenario": sr.Name})
	}
	names := make([]string, 0, len(byScenario))
	for name, agg := range byScenario {
		if agg.Samples > 0 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return
	}
	sort.Strings(names)

	c.writeln(p.Header.Sprint("Iteration failures:"))
	for _, name := range names {
		v := byScenario[name].Values()
		ratio := v["rate"]
		c.writeln(fmt.Sprintf("  %s %s %s",
			p.Metric.Sprint(dotted(name, metricWidth)),
			p.rateColor(ratio).Sprint(formatPercent(ratio)),
			p.Dim.Sprintf("(%s of %s)", formatNumber(v["passes"]), formatNumber(v["passes"]+v["fails"]))))
	}
	c.writeln("")
}

func (c *Console) printThresholds(result *engine.TestResult) {
	if len(result.Verdict.Thresholds) == 0 {
		return
	}
	p := c.palette
	c.writeln(p.Header.Sprint("Thresholds:"))
	for _, t := range result.Verdict.Thresholds {
		actual := p.Dim.Sprint("no data")
		if t.Actual != nil {
			actual = fmt.Sprintf("actual %s", p.Value.Sprintf("%.4g", *t.Actual))
		}
		abort := ""
		if t.AbortOnFail {
			abort = p.Dim.Sprint(" [abortOnFail]")
		}
		c.writeln(fmt.Sprintf("  %s %s %s (%s)%s", p.Icon(t.Passed()), t.Metric, t.Expression, actual, abort))
	}
	c.writeln("")
}

// write writes to the output without a newline.
func (c *Console) write(s string) {
	fmt.Fprint(c.w, s)
}

// writeln writes to the output with a newline.
func (c *Console) writeln(s string) {
	fmt.Fprintln(c.w, s)
}
