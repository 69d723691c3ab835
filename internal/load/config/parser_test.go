package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wesleyorama2/cacheload/internal/load"
	"github.com/wesleyorama2/cacheload/internal/load/executor"
)

const itemCacheYAML = `
name: "Item cache"
settings:
  baseUrl: "http://localhost:8080/"
  timeout: 5s
  maxItemId: 1001
scenarios:
  read_scenario:
    executor: constant-arrival-rate
    rate: 900
    timeUnit: 1s
    duration: 1m
    preAllocatedVUs: 100
    maxVUs: 500
    exec: readTest
    thinkTime: 10ms
  ramp:
    executor: ramping-arrival-rate
    startRate: 0
    stages:
      - duration: 10s
        target: 50
      - duration: "20"
        target: 0
    exec: writeTest
    onExhausted: block
    arrival: poisson
thresholds:
  http_req_duration: ["p(95)<200"]
  "read_request_duration{scenario:read_scenario}":
    - "p(95)<50"
    - threshold: "max<1s"
      abortOnFail: true
      delayAbortEval: 10s
  "cache_hit_rate{scenario:read_scenario}": "rate>0.5"
options:
  thresholdEvalInterval: 500ms
`

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{name: "standard seconds", input: "30s", expected: 30 * time.Second},
		{name: "standard minutes", input: "2m", expected: 2 * time.Minute},
		{name: "milliseconds", input: "500ms", expected: 500 * time.Millisecond},
		{name: "combined duration", input: "1h30m", expected: 90 * time.Minute},
		{name: "integer as seconds", input: "30", expected: 30 * time.Second},
		{name: "fraction as seconds", input: "0.5", expected: 500 * time.Millisecond},
		{name: "empty string", input: "", expected: 0},
		{name: "invalid format", input: "abc", wantErr: true},
		{name: "negative", input: "-1s", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDurationString() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.expected {
				t.Errorf("ParseDurationString() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseConfig_YAML(t *testing.T) {
	config, err := ParseConfig([]byte(itemCacheYAML), "test.yaml")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}

	if config.Name != "Item cache" {
		t.Errorf("Name = %v", config.Name)
	}
	if config.Settings.Timeout.GetDuration(0) != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", config.Settings.Timeout)
	}

	read, ok := config.Scenarios["read_scenario"]
	if !ok {
		t.Fatal("Scenario 'read_scenario' not found")
	}
	if read.Rate != 900 || read.MaxVUs != 500 || read.Exec != "readTest" {
		t.Errorf("read_scenario = %+v", read)
	}

	if len(config.Thresholds) != 3 {
		t.Fatalf("len(Thresholds) = %d, want 3", len(config.Thresholds))
	}
	wantOrder := []string{"http_req_duration", "read_request_duration{scenario:read_scenario}", "cache_hit_rate{scenario:read_scenario}"}
	for i, sel := range wantOrder {
		if config.Thresholds[i].Selector != sel {
			t.Errorf("Thresholds[%d].Selector = %q, want %q", i, config.Thresholds[i].Selector, sel)
		}
	}
	readCriteria := config.Thresholds[1].Criteria
	if len(readCriteria) != 2 || readCriteria[0].Threshold != "p(95)<50" {
		t.Fatalf("read criteria = %+v", readCriteria)
	}
	if !readCriteria[1].AbortOnFail || readCriteria[1].DelayAbortEval != "10s" {
		t.Errorf("object form not decoded: %+v", readCriteria[1])
	}
	if got := config.Thresholds[2].Criteria; len(got) != 1 || got[0].Threshold != "rate>0.5" {
		t.Errorf("scalar form not decoded: %+v", got)
	}
}

func TestParseConfig_JSON(t *testing.T) {
	jsonConfig := `{
		"name": "JSON Test",
		"scenarios": {
			"read": {
				"executor": "constant-arrival-rate",
				"rate": 10,
				"duration": "30s",
				"exec": "readTest"
			}
		},
		"thresholds": {
			"zeta": ["count>1"],
			"alpha": [{"threshold": "rate<0.1", "abortOnFail": true}]
		}
	}`

	config, err := ParseConfig([]byte(jsonConfig), "test.json")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if config.Name != "JSON Test" {
		t.Errorf("Name = %v", config.Name)
	}
	if len(config.Thresholds) != 2 || config.Thresholds[0].Selector != "zeta" {
		t.Fatalf("Thresholds = %+v, want declaration order", config.Thresholds)
	}
	if !config.Thresholds[1].Criteria[0].AbortOnFail {
		t.Error("abortOnFail not decoded")
	}

	out, err := json.Marshal(config.Thresholds)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if strings.Index(string(out), "zeta") > strings.Index(string(out), "alpha") {
		t.Errorf("Marshal() = %s, want declaration order", out)
	}
	if !strings.Contains(string(out), `"abortOnFail":true`) || strings.Contains(string(out), `{"threshold":"count`) {
		t.Errorf("Marshal() = %s, want the short form only for plain criteria", out)
	}
}

func TestParseConfig_SchemaErrors(t *testing.T) {
	tests := []struct {
		name      string
		doc       string
		wantField string
	}{
		{
			name:      "unknown executor",
			doc:       "scenarios:\n  a:\n    executor: constant-vus\n    exec: readTest\n",
			wantField: "scenarios.a.executor",
		},
		{
			name:      "unknown field",
			doc:       "scenarios:\n  a:\n    executor: constant-arrival-rate\n    exec: readTest\n    vus: 3\n",
			wantField: "scenarios.a",
		},
		{
			name:      "negative rate",
			doc:       "scenarios:\n  a:\n    executor: constant-arrival-rate\n    exec: readTest\n    rate: -1\n",
			wantField: "scenarios.a.rate",
		},
		{
			name:      "no scenarios",
			doc:       "name: x\n",
			wantField: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.doc), "test.yaml")
			var vErrs *ValidationErrors
			if !errors.As(err, &vErrs) {
				t.Fatalf("ParseConfig() error = %v, want *ValidationErrors", err)
			}
			if !vErrs.Has(tt.wantField) {
				t.Errorf("errors %v do not include field %q", vErrs, tt.wantField)
			}
		})
	}
}

func TestParseConfig_Malformed(t *testing.T) {
	if _, err := ParseConfig([]byte("scenarios: [unclosed"), "test.yaml"); err == nil {
		t.Error("expected YAML error")
	}
	if _, err := ParseConfig([]byte(`{"scenarios":`), "test.json"); err == nil {
		t.Error("expected JSON error")
	}
	if _, err := ParseConfig([]byte(""), "test.yaml"); err == nil {
		t.Error("expected error for empty document")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte(itemCacheYAML), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	config, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if config.Settings.BaseURL != "http://localhost:8080" {
		t.Errorf("BaseURL = %q, want trailing slash trimmed", config.Settings.BaseURL)
	}
	if got := config.ThresholdEvalInterval(); got != 500*time.Millisecond {
		t.Errorf("ThresholdEvalInterval() = %v, want 500ms", got)
	}
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, load.ErrConfig) {
		t.Errorf("Load() error = %v, want ErrConfig", err)
	}
}

func TestLoad_SemanticErrorsWrapErrConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	doc := `
scenarios:
  read:
    executor: constant-arrival-rate
    rate: 10
    duration: 10s
    preAllocatedVUs: 10
    maxVUs: 5
    exec: readTest
thresholds:
  "http_req_duration": ["p(95)<<1"]
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err := Load(path)
	if !errors.Is(err, load.ErrConfig) {
		t.Fatalf("Load() error = %v, want ErrConfig", err)
	}
	var vErrs *ValidationErrors
	if !errors.As(err, &vErrs) {
		t.Fatalf("Load() error = %v, want *ValidationErrors inside", err)
	}
	if !vErrs.Has("scenarios.read.maxVUs") {
		t.Errorf("missing maxVUs error in %v", vErrs)
	}
	if !vErrs.Has("thresholds.http_req_duration[0]") {
		t.Errorf("missing threshold error in %v", vErrs)
	}
}

func TestApplyDefaults(t *testing.T) {
	config := &TestConfig{
		Scenarios: map[string]*ScenarioConfig{
			"a": {Executor: "constant-arrival-rate", Rate: 1, Duration: "1s", PreAllocatedVUs: 3, Exec: "x"},
		},
	}
	ApplyDefaults(config)

	if config.Name != DefaultName || config.Settings.BaseURL != DefaultBaseURL {
		t.Errorf("name/baseUrl defaults not applied: %+v", config)
	}
	if config.Settings.MaxItemID != DefaultMaxItemID {
		t.Errorf("MaxItemID = %d", config.Settings.MaxItemID)
	}
	sc := config.Scenarios["a"]
	if sc.TimeUnit != "1s" || sc.GracefulStop != "30s" || sc.OnExhausted != "drop" || sc.Arrival != "leaky-bucket" {
		t.Errorf("scenario defaults not applied: %+v", sc)
	}
	if sc.MaxVUs != 3 {
		t.Errorf("MaxVUs = %d, want preAllocatedVUs", sc.MaxVUs)
	}
	if config.Options == nil || config.Options.ThresholdEvalInterval != DefaultThresholdEvalInterval {
		t.Errorf("Options = %+v", config.Options)
	}
}

func TestConvertToExecutorConfig(t *testing.T) {
	config, err := ParseConfig([]byte(itemCacheYAML), "test.yaml")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	ApplyDefaults(config)

	cfgs, err := config.ExecutorConfigs()
	if err != nil {
		t.Fatalf("ExecutorConfigs() error = %v", err)
	}
	if len(cfgs) != 2 || cfgs[0].Name != "ramp" || cfgs[1].Name != "read_scenario" {
		t.Fatalf("ExecutorConfigs() = %+v, want ramp and read_scenario in order", cfgs)
	}

	ramp := cfgs[0]
	if ramp.Type != executor.TypeRampingArrivalRate || ramp.OnExhausted != load.PolicyBlock {
		t.Errorf("ramp = %+v", ramp)
	}
	if len(ramp.Stages) != 2 || ramp.Stages[1].Duration != 20*time.Second {
		t.Errorf("ramp stages = %+v", ramp.Stages)
	}

	read := cfgs[1]
	if read.Duration != time.Minute || read.ThinkTime != 10*time.Millisecond || read.GracefulStop != 30*time.Second {
		t.Errorf("read = %+v", read)
	}
	if err := read.Validate(); err != nil {
		t.Errorf("converted config does not validate: %v", err)
	}
}

func TestThresholdDefinitions(t *testing.T) {
	config, err := ParseConfig([]byte(itemCacheYAML), "test.yaml")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}

	defs, err := config.ThresholdDefinitions()
	if err != nil {
		t.Fatalf("ThresholdDefinitions() error = %v", err)
	}
	if len(defs) != 4 {
		t.Fatalf("len(defs) = %d, want 4", len(defs))
	}
	if defs[2].Expression != "max<1s" || !defs[2].AbortOnFail || defs[2].DelayAbortEval != 10*time.Second {
		t.Errorf("defs[2] = %+v", defs[2])
	}
}

func TestApplyOverrides(t *testing.T) {
	config := DefaultConfig()
	config.ApplyOverrides(Overrides{BaseURL: "http://svc:9090", Rate: 5, Duration: "10s", MaxVUs: 20})

	if config.Settings.BaseURL != "http://svc:9090" {
		t.Errorf("BaseURL = %q", config.Settings.BaseURL)
	}
	for name, sc := range config.Scenarios {
		if sc.Rate != 5 || sc.Duration != "10s" {
			t.Errorf("%s: rate/duration not overridden: %+v", name, sc)
		}
		if sc.MaxVUs < sc.PreAllocatedVUs {
			t.Errorf("%s: MaxVUs %d below PreAllocatedVUs %d", name, sc.MaxVUs, sc.PreAllocatedVUs)
		}
	}
}

func TestDefaultConfig_Validates(t *testing.T) {
	config := DefaultConfig()
	if err := config.Prepare(); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"1m30s"`), &d); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if time.Duration(d) != 90*time.Second {
		t.Errorf("Duration = %v, want 1m30s", d)
	}
	if err := json.Unmarshal([]byte(`15`), &d); err != nil {
		t.Fatalf("Unmarshal(number) error = %v", err)
	}
	if time.Duration(d) != 15*time.Second {
		t.Errorf("Duration = %v, want 15s", d)
	}
	if err := json.Unmarshal([]byte(`"soon"`), &d); err == nil {
		t.Error("expected error for invalid duration")
	}
}
