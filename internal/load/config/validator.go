package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/wesleyorama2/cacheload/internal/load/executor"
	"github.com/wesleyorama2/cacheload/internal/load/threshold"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Has reports whether an error was recorded for field.
func (e *ValidationErrors) Has(field string) bool {
	for _, err := range e.Errors {
		if err.Field == field {
			return true
		}
	}
	return false
}

// Validate validates the entire test configuration. Call ApplyDefaults first.
//
// Returns nil if valid, or a *ValidationErrors containing every problem found.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	if len(c.Scenarios) == 0 {
		errs.Add("scenarios", "at least one scenario is required")
	}
	for _, name := range c.ScenarioNames() {
		validateScenario(name, c.Scenarios[name], errs)
	}

	validateThresholds(c.Thresholds, errs)
	validateSettings(&c.Settings, errs)

	if c.Options != nil && c.Options.ThresholdEvalInterval != "" {
		if d, err := ParseDurationString(c.Options.ThresholdEvalInterval); err != nil {
			errs.Add("options.thresholdEvalInterval", err.Error())
		} else if d <= 0 {
			errs.Add("options.thresholdEvalInterval", "must be greater than 0")
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ScenarioNames returns the scenario names in sorted order.
func (c *TestConfig) ScenarioNames() []string {
	names := make([]string, 0, len(c.Scenarios))
	for name := range c.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// validateScenario converts the scenario and runs the executor's own checks,
// reporting problems under scenarios.<name>.
func validateScenario(name string, sc *ScenarioConfig, errs *ValidationErrors) {
	prefix := fmt.Sprintf("scenarios.%s", name)
	if sc == nil {
		errs.Add(prefix, "scenario is empty")
		return
	}

	cfg, convErrs := sc.toExecutorConfig(name, prefix)
	if convErrs.HasErrors() {
		errs.Errors = append(errs.Errors, convErrs.Errors...)
		return
	}

	if err := cfg.Validate(); err != nil {
		var vErr *executor.ValidationError
		if errors.As(err, &vErr) {
			errs.Add(prefix+"."+vErr.Field, vErr.Message)
		} else {
			errs.Add(prefix, err.Error())
		}
	}
}

// validateThresholds checks the syntax of every threshold. Whether the
// metric exists is only known once workloads declared their metrics.
func validateThresholds(t Thresholds, errs *ValidationErrors) {
	seen := make(map[string]bool, len(t))
	for _, group := range t {
		field := "thresholds." + group.Selector
		if seen[group.Selector] {
			errs.Add(field, "selector declared twice")
		}
		seen[group.Selector] = true

		if _, err := threshold.ParseSelector(group.Selector); err != nil {
			errs.Add(field, err.Error())
			continue
		}
		if len(group.Criteria) == 0 {
			errs.Add(field, "at least one threshold expression is required")
		}
		for i, decl := range group.Criteria {
			if _, err := decl.definition(group.Selector); err != nil {
				errs.Add(fmt.Sprintf("%s[%d]", field, i), err.Error())
			}
		}
	}
}

// validateSettings validates global settings.
func validateSettings(s *Settings, errs *ValidationErrors) {
	if s.BaseURL != "" {
		u, err := url.Parse(s.BaseURL)
		if err != nil {
			errs.Add("settings.baseUrl", fmt.Sprintf("invalid URL: %v", err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs.Add("settings.baseUrl", "URL must use http or https")
		} else if u.Host == "" {
			errs.Add("settings.baseUrl", "URL must include a host")
		}
	}

	if s.Timeout < 0 {
		errs.Add("settings.timeout", "cannot be negative")
	}
	if s.MaxItemID < 0 {
		errs.Add("settings.maxItemId", "cannot be negative")
	}
}
