// Package report exports run results as JSON and as a self-contained HTML
// page.
package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"os"
	"sort"
	"time"

	"github.com/wesleyorama2/cacheload/internal/load/engine"
	"github.com/wesleyorama2/cacheload/internal/load/metrics"
)

var errNilResult = errors.New("result cannot be nil")

// WriteJSON writes the result as indented JSON.
func WriteJSON(w io.Writer, result *engine.TestResult) error {
	if result == nil {
		return errNilResult
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return nil
}

// SaveJSON writes the JSON export to path.
func SaveJSON(result *engine.TestResult, path string) error {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, result); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write JSON file: %w", err)
	}
	return nil
}

// metricRow is one line of the metrics table.
type metricRow struct {
	Name   string
	Type   string
	Values []metricValue
}

type metricValue struct {
	Key   string
	Value string
}

type scenarioMetrics struct {
	Scenario string
	Rows     []metricRow
}

// reportData contains all data needed to render the HTML report.
type reportData struct {
	*engine.TestResult
	Metrics     []metricRow
	PerScenario []scenarioMetrics
	GeneratedAt time.Time
}

var reportTemplate = template.Must(template.New("report").Funcs(templateFuncs()).Parse(htmlTemplate))

// GenerateHTML renders the report and writes it to path.
func GenerateHTML(result *engine.TestResult, path string) error {
	html, err := GenerateHTMLString(result)
	if err != nil {
		return fmt.Errorf("failed to generate HTML: %w", err)
	}
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		return fmt.Errorf("failed to write HTML file: %w", err)
	}
	return nil
}

// GenerateHTMLString renders the report.
func GenerateHTMLString(result *engine.TestResult) (string, error) {
	if result == nil {
		return "", errNilResult
	}

	data := reportData{
		TestResult:  result,
		GeneratedAt: result.EndTime,
	}
	if data.GeneratedAt.IsZero() {
		data.GeneratedAt = time.Now()
	}
	if result.Metrics != nil {
		data.Metrics = metricRows(result.Metrics, nil)
		for _, sr := range result.Scenarios {
			rows := metricRows(result.Metrics, metrics.Tags{"scenario": sr.Name})
			if len(rows) > 0 {
				data.PerScenario = append(data.PerScenario, scenarioMetrics{Scenario: sr.Name, Rows: rows})
			}
		}
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

// metricRows flattens the snapshot, restricted to series matching filter.
func metricRows(snap *metrics.Snapshot, filter metrics.Tags) []metricRow {
	var rows []metricRow
	for _, m := range snap.Metrics() {
		agg := m.Query(filter)
		if agg.Samples == 0 {
			continue
		}
		values := agg.Values()
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return valueOrder(keys[i]) < valueOrder(keys[j]) })

		row := metricRow{Name: m.Name, Type: m.Type.String()}
		for _, k := range keys {
			row.Values = append(row.Values, metricValue{Key: k, Value: formatValue(m, k, values[k])})
		}
		rows = append(rows, row)
	}
	return rows
}

var valueKeys = []string{"count", "rate", "passes", "fails", "avg", "min", "med", "max", "p(90)", "p(95)", "p(99)"}

func valueOrder(key string) int {
	for i, k := range valueKeys {
		if k == key {
			return i
		}
	}
	return len(valueKeys)
}

func formatValue(m *metrics.MetricSnapshot, key string, v float64) string {
	switch {
	case m.Type == metrics.Rate && key == "rate":
		return fmt.Sprintf("%.2f%%", v*100)
	case key == "rate":
		return fmt.Sprintf("%.2f/s", v)
	case key == "count" || key == "passes" || key == "fails":
		return fmt.Sprintf("%.0f", v)
	case m.Contains == metrics.Time:
		return formatLatency(v)
	}
	return fmt.Sprintf("%.2f", v)
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"formatDuration": formatDuration,
		"formatActual":   formatActual,
		"pct":            pct,
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		if secs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	if mins == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dh %dm", hours, mins)
}

// formatLatency formats a millisecond value.
func formatLatency(ms float64) string {
	switch {
	case ms <= 0:
		return "0"
	case ms < 1:
		return fmt.Sprintf("%.0fµs", ms*1000)
	case ms < 10:
		return fmt.Sprintf("%.2fms", ms)
	case ms < 1000:
		return fmt.Sprintf("%.1fms", ms)
	}
	return fmt.Sprintf("%.2fs", ms/1000)
}

func formatActual(v *float64) string {
	if v == nil {
		return "no data"
	}
	return fmt.Sprintf("%.4g", *v)
}

// pct renders started/expected for the scenario cards.
func pct(n int64, of float64) string {
	if of <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", float64(n)/of*100)
}
