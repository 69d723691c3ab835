// Package config provides parsing and validation of cacheload test documents.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TestConfig is the root configuration for a load test.
//
// Example YAML:
//
//	name: "Item cache load test"
//	settings:
//	  baseUrl: "http://localhost:8080"
//	  maxItemId: 1001
//	scenarios:
//	  read_scenario:
//	    executor: constant-arrival-rate
//	    rate: 900
//	    timeUnit: 1s
//	    duration: 1m
//	    preAllocatedVUs: 100
//	    maxVUs: 500
//	    exec: readTest
//	thresholds:
//	  http_req_duration: ["p(95)<200"]
//	  read_request_duration{scenario:read_scenario}:
//	    - threshold: "p(95)<50"
//	      abortOnFail: true
type TestConfig struct {
	// Name of the test (for reporting)
	Name string `json:"name" yaml:"name"`

	// Description of the test (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Settings are shared by every workload
	Settings Settings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Scenarios run concurrently, each with its own executor and VU pool
	Scenarios map[string]*ScenarioConfig `json:"scenarios" yaml:"scenarios"`

	// Thresholds define pass/fail criteria, keyed by metric selector
	Thresholds Thresholds `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// Options for test execution
	Options *Options `json:"options,omitempty" yaml:"options,omitempty"`
}

// Settings are the target service settings.
type Settings struct {
	// BaseURL of the item service
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Timeout is the HTTP request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxItemID is the upper bound of the item ids the workloads pick from
	MaxItemID int `json:"maxItemId,omitempty" yaml:"maxItemId,omitempty"`

	// UserAgent is sent with every request
	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`
}

// ScenarioConfig defines a single scenario.
type ScenarioConfig struct {
	// Executor is "constant-arrival-rate" or "ramping-arrival-rate"
	Executor string `json:"executor" yaml:"executor"`

	// Rate is the number of starts per TimeUnit (constant-arrival-rate)
	Rate float64 `json:"rate,omitempty" yaml:"rate,omitempty"`

	// TimeUnit is the period Rate is expressed in (default 1s)
	TimeUnit string `json:"timeUnit,omitempty" yaml:"timeUnit,omitempty"`

	// Duration is how long starts are issued (constant-arrival-rate)
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`

	// StartRate is the initial rate of a ramping-arrival-rate scenario
	StartRate float64 `json:"startRate,omitempty" yaml:"startRate,omitempty"`

	// Stages of a ramping-arrival-rate scenario
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// PreAllocatedVUs are created before the scenario starts
	PreAllocatedVUs int `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`

	// MaxVUs caps the pool
	MaxVUs int `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// Exec names the workload to run
	Exec string `json:"exec" yaml:"exec"`

	// OnExhausted is "drop" (default), "fail" or "block"
	OnExhausted string `json:"onExhausted,omitempty" yaml:"onExhausted,omitempty"`

	// Arrival is "leaky-bucket" (default), "token-bucket" or "poisson"
	Arrival string `json:"arrival,omitempty" yaml:"arrival,omitempty"`

	// Burst allows that many starts at once after an idle period
	Burst int `json:"burst,omitempty" yaml:"burst,omitempty"`

	// GracefulStop is how long in-flight iterations may finish
	GracefulStop string `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// StartTime delays the scenario relative to the test start
	StartTime string `json:"startTime,omitempty" yaml:"startTime,omitempty"`

	// ThinkTime holds the VU after each iteration
	ThinkTime string `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`

	// Tags are custom tags for this scenario's metrics
	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// StageConfig defines a single stage in a ramping executor.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m")
	Duration string `json:"duration" yaml:"duration"`

	// Target rate at the end of the stage
	Target float64 `json:"target" yaml:"target"`

	// Name is an optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Options controls test execution behavior.
type Options struct {
	// ThresholdEvalInterval is how often abortOnFail thresholds are checked
	ThresholdEvalInterval string `json:"thresholdEvalInterval,omitempty" yaml:"thresholdEvalInterval,omitempty"`
}

// ThresholdDecl is one threshold entry. It is written either as a bare
// expression string or as an object with abort settings.
type ThresholdDecl struct {
	Threshold      string `json:"threshold" yaml:"threshold"`
	AbortOnFail    bool   `json:"abortOnFail,omitempty" yaml:"abortOnFail,omitempty"`
	DelayAbortEval string `json:"delayAbortEval,omitempty" yaml:"delayAbortEval,omitempty"`
}

type thresholdDeclFields ThresholdDecl

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *ThresholdDecl) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*d = ThresholdDecl{Threshold: value.Value}
		return nil
	}
	var f thresholdDeclFields
	if err := value.Decode(&f); err != nil {
		return err
	}
	*d = ThresholdDecl(f)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *ThresholdDecl) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*d = ThresholdDecl{Threshold: s}
		return nil
	}
	var f thresholdDeclFields
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*d = ThresholdDecl(f)
	return nil
}

// MarshalJSON writes the short string form when no abort settings are set.
func (d ThresholdDecl) MarshalJSON() ([]byte, error) {
	if !d.AbortOnFail && d.DelayAbortEval == "" {
		return json.Marshal(d.Threshold)
	}
	return json.Marshal(thresholdDeclFields(d))
}

// ThresholdGroup is the list of criteria declared for one selector.
type ThresholdGroup struct {
	Selector string
	Criteria []ThresholdDecl
}

// Thresholds is the thresholds mapping. Unlike a Go map it keeps the
// declaration order, which is the order results are reported in.
type Thresholds []ThresholdGroup

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *Thresholds) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: thresholds must be a mapping of selector to criteria", value.Line)
	}

	out := make(Thresholds, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, val := value.Content[i], value.Content[i+1]
		group := ThresholdGroup{Selector: key.Value}

		if val.Kind == yaml.ScalarNode {
			group.Criteria = []ThresholdDecl{{Threshold: val.Value}}
		} else if err := val.Decode(&group.Criteria); err != nil {
			return fmt.Errorf("thresholds.%s: %w", key.Value, err)
		}
		out = append(out, group)
	}
	*t = out
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Thresholds) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*t = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("thresholds must be an object of selector to criteria")
	}

	var out Thresholds
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		selector, _ := tok.(string)
		group := ThresholdGroup{Selector: selector}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("thresholds.%s: %w", selector, err)
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 && raw[0] == '"' {
			var d ThresholdDecl
			if err := json.Unmarshal(raw, &d); err != nil {
				return fmt.Errorf("thresholds.%s: %w", selector, err)
			}
			group.Criteria = []ThresholdDecl{d}
		} else if err := json.Unmarshal(raw, &group.Criteria); err != nil {
			return fmt.Errorf("thresholds.%s: %w", selector, err)
		}
		out = append(out, group)
	}
	*t = out
	return nil
}

// MarshalJSON writes the thresholds as an object in declaration order.
func (t Thresholds) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, g := range t {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(g.Selector)
		if err != nil {
			return nil, err
		}
		criteria, err := json.Marshal(g.Criteria)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(criteria)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		s = ""
	}
	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	dur, err := ParseDurationString(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
