package engine

import (
	"time"

	"github.com/wesleyorama2/cacheload/internal/load/executor"
	"github.com/wesleyorama2/cacheload/internal/load/metrics"
	"github.com/wesleyorama2/cacheload/internal/load/threshold"
)

// TestResult contains the complete test results.
type TestResult struct {
	// RunID is a ULID, sortable by start time.
	RunID       string        `json:"runId"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"duration"`

	Scenarios []*ScenarioResult `json:"scenarios"`
	Metrics   *metrics.Snapshot `json:"metrics"`
	Verdict   Verdict           `json:"verdict"`

	Aborted     bool   `json:"aborted"`
	AbortReason string `json:"abortReason,omitempty"`
}

// Verdict is the outcome of the final threshold evaluation.
type Verdict struct {
	Passed     bool               `json:"passed"`
	Thresholds []threshold.Result `json:"thresholds"`
}

// ScenarioResult contains the results of a single scenario.
type ScenarioResult struct {
	Name     string          `json:"name"`
	Executor string          `json:"executor"`
	Exec     string          `json:"exec"`
	Stats    *executor.Stats `json:"stats"`
	Error    string          `json:"error,omitempty"`
}

// Passed reports whether every threshold passed.
func (r *TestResult) Passed() bool {
	return r.Verdict.Passed
}

// Scenario returns the named scenario's result.
func (r *TestResult) Scenario(name string) *ScenarioResult {
	for _, s := range r.Scenarios {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// FailedThresholds returns the thresholds that did not pass, including
// those without data.
func (r *TestResult) FailedThresholds() []threshold.Result {
	var out []threshold.Result
	for _, t := range r.Verdict.Thresholds {
		if !t.Passed() {
			out = append(out, t)
		}
	}
	return out
}
