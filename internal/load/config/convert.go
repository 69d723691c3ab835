package config

import (
	"fmt"
	"time"

	"github.com/wesleyorama2/cacheload/internal/load"
	"github.com/wesleyorama2/cacheload/internal/load/executor"
	"github.com/wesleyorama2/cacheload/internal/load/rate"
	"github.com/wesleyorama2/cacheload/internal/load/threshold"
)

// ToExecutorConfig converts the scenario into an executor config.
func (sc *ScenarioConfig) ToExecutorConfig(name string) (*executor.Config, error) {
	cfg, errs := sc.toExecutorConfig(name, "scenarios."+name)
	if errs.HasErrors() {
		return nil, errs
	}
	return cfg, nil
}

func (sc *ScenarioConfig) toExecutorConfig(name, prefix string) (*executor.Config, *ValidationErrors) {
	errs := &ValidationErrors{}
	duration := func(field, value string) time.Duration {
		d, err := ParseDurationString(value)
		if err != nil {
			errs.Add(prefix+"."+field, err.Error())
		}
		return d
	}

	cfg := &executor.Config{
		Name:            name,
		Type:            executor.Type(sc.Executor),
		Rate:            sc.Rate,
		TimeUnit:        duration("timeUnit", sc.TimeUnit),
		Duration:        duration("duration", sc.Duration),
		StartRate:       sc.StartRate,
		PreAllocatedVUs: sc.PreAllocatedVUs,
		MaxVUs:          sc.MaxVUs,
		Exec:            sc.Exec,
		OnExhausted:     load.ExhaustionPolicy(sc.OnExhausted),
		Arrival:         rate.Model(sc.Arrival),
		Burst:           sc.Burst,
		GracefulStop:    duration("gracefulStop", sc.GracefulStop),
		StartTime:       duration("startTime", sc.StartTime),
		ThinkTime:       duration("thinkTime", sc.ThinkTime),
		Tags:            sc.Tags,
	}

	for i, st := range sc.Stages {
		cfg.Stages = append(cfg.Stages, executor.Stage{
			Duration: duration(fmt.Sprintf("stages[%d].duration", i), st.Duration),
			Target:   st.Target,
			Name:     st.Name,
		})
	}

	return cfg, errs
}

// ExecutorConfigs converts every scenario, in name order.
func (c *TestConfig) ExecutorConfigs() ([]*executor.Config, error) {
	errs := &ValidationErrors{}
	out := make([]*executor.Config, 0, len(c.Scenarios))
	for _, name := range c.ScenarioNames() {
		cfg, convErrs := c.Scenarios[name].toExecutorConfig(name, "scenarios."+name)
		if convErrs.HasErrors() {
			errs.Errors = append(errs.Errors, convErrs.Errors...)
			continue
		}
		out = append(out, cfg)
	}
	if errs.HasErrors() {
		return nil, errs
	}
	return out, nil
}

func (d ThresholdDecl) definition(selector string) (threshold.Definition, error) {
	delay, err := ParseDurationString(d.DelayAbortEval)
	if err != nil {
		return threshold.Definition{}, fmt.Errorf("delayAbortEval: %w", err)
	}
	def := threshold.Definition{
		Selector:       selector,
		Expression:     d.Threshold,
		AbortOnFail:    d.AbortOnFail,
		DelayAbortEval: delay,
	}
	if _, err := threshold.Parse(def); err != nil {
		return threshold.Definition{}, err
	}
	return def, nil
}

// ThresholdDefinitions flattens the thresholds in declaration order.
func (c *TestConfig) ThresholdDefinitions() ([]threshold.Definition, error) {
	errs := &ValidationErrors{}
	var out []threshold.Definition
	for _, group := range c.Thresholds {
		for i, decl := range group.Criteria {
			def, err := decl.definition(group.Selector)
			if err != nil {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", group.Selector, i), err.Error())
				continue
			}
			out = append(out, def)
		}
	}
	if errs.HasErrors() {
		return nil, errs
	}
	return out, nil
}

// ThresholdEvalInterval returns the abortOnFail evaluation period.
func (c *TestConfig) ThresholdEvalInterval() time.Duration {
	if c.Options != nil {
		if d, err := ParseDurationString(c.Options.ThresholdEvalInterval); err == nil && d > 0 {
			return d
		}
	}
	d, _ := ParseDurationString(DefaultThresholdEvalInterval)
	return d
}

// Overrides are command line values that replace document values. Zero
// values leave the document untouched.
type Overrides struct {
	BaseURL         string
	Rate            float64
	Duration        string
	PreAllocatedVUs int
	MaxVUs          int
}

// ApplyOverrides applies o to the settings and to every scenario. Rate and
// Duration only apply to constant-arrival-rate scenarios.
func (c *TestConfig) ApplyOverrides(o Overrides) {
	if o.BaseURL != "" {
		c.Settings.BaseURL = o.BaseURL
	}
	for _, sc := range c.Scenarios {
		if sc == nil {
			continue
		}
		if sc.Executor == string(executor.TypeConstantArrivalRate) {
			if o.Rate > 0 {
				sc.Rate = o.Rate
			}
			if o.Duration != "" {
				sc.Duration = o.Duration
			}
		}
		if o.PreAllocatedVUs > 0 {
			sc.PreAllocatedVUs = o.PreAllocatedVUs
		}
		if o.MaxVUs > 0 {
			sc.MaxVUs = o.MaxVUs
		}
		if sc.MaxVUs > 0 && sc.MaxVUs < sc.PreAllocatedVUs {
			sc.MaxVUs = sc.PreAllocatedVUs
		}
	}
}

// DefaultConfig is the stock item cache test: a read-heavy and a
// write-heavy scenario against one service, with latency, failure and
// cache-hit thresholds.
func DefaultConfig() *TestConfig {
	return &TestConfig{
		Name:        "item-cache",
		Description: "Read-through cache under mixed read and write load",
		Settings: Settings{
			BaseURL:   DefaultBaseURL,
			MaxItemID: DefaultMaxItemID,
		},
		Scenarios: map[string]*ScenarioConfig{
			"read_scenario": {
				Executor:        string(executor.TypeConstantArrivalRate),
				Rate:            900,
				TimeUnit:        "1s",
				Duration:        "1m",
				PreAllocatedVUs: 100,
				MaxVUs:          500,
				Exec:            "readTest",
				ThinkTime:       "10ms",
			},
			"write_scenario": {
				Executor:        string(executor.TypeConstantArrivalRate),
				Rate:            100,
				TimeUnit:        "1s",
				Duration:        "1m",
				PreAllocatedVUs: 50,
				MaxVUs:          200,
				Exec:            "writeTest",
				ThinkTime:       "50ms",
			},
		},
		Thresholds: Thresholds{
			{Selector: "http_req_duration", Criteria: []ThresholdDecl{{Threshold: "p(95)<200"}}},
			{Selector: "read_request_duration{scenario:read_scenario}", Criteria: []ThresholdDecl{{Threshold: "p(95)<50"}}},
			{Selector: "write_request_duration{scenario:write_scenario}", Criteria: []ThresholdDecl{{Threshold: "p(95)<150"}}},
			{Selector: "read_failure_rate{scenario:read_scenario}", Criteria: []ThresholdDecl{{Threshold: "rate<0.01"}}},
			{Selector: "write_failure_rate{scenario:write_scenario}", Criteria: []ThresholdDecl{{Threshold: "rate<0.01"}}},
			{Selector: "cache_hit_rate{scenario:read_scenario}", Criteria: []ThresholdDecl{{Threshold: "rate>0.5"}}},
		},
	}
}
