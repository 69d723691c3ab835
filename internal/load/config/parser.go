package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/cacheload/internal/load"
	"github.com/wesleyorama2/cacheload/internal/load/rate"
	"github.com/wesleyorama2/cacheload/pkg/jsonschema"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultName                  = "cacheload"
	DefaultBaseURL               = "http://localhost:8080"
	DefaultTimeout               = 10 * time.Second
	DefaultMaxItemID             = 1001
	DefaultTimeUnit              = "1s"
	DefaultGracefulStop          = "30s"
	DefaultThresholdEvalInterval = "2s"
)

//go:embed config.schema.json
var schemaJSON string

var documentSchema = jsonschema.MustCompile("config.schema.json", schemaJSON)

// Schema returns the JSON Schema test documents are checked against.
func Schema() string {
	return schemaJSON
}

// ParseConfig decodes a YAML or JSON document, chosen by the extension of
// filename (YAML unless it ends in .json). The document is checked against
// the embedded schema first; schema violations are returned as
// *ValidationErrors. Defaults are not applied.
func ParseConfig(data []byte, filename string) (*TestConfig, error) {
	isJSON := strings.EqualFold(filepath.Ext(filename), ".json")

	var doc interface{}
	if isJSON {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}
	if doc == nil {
		return nil, fmt.Errorf("%s: empty document", filename)
	}

	if schemaErrs := documentSchema.Validate(doc); len(schemaErrs) > 0 {
		errs := &ValidationErrors{}
		for _, e := range schemaErrs {
			if se, ok := e.(*jsonschema.Error); ok {
				errs.Add(pointerToField(se.Location), se.Message)
				continue
			}
			errs.Add("", e.Error())
		}
		return nil, errs
	}

	cfg := &TestConfig{}
	if isJSON {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode JSON config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode YAML config: %w", err)
		}
	}
	return cfg, nil
}

// LoadConfig reads and parses the file at path.
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data, path)
}

// Load reads, parses, defaults and validates the file at path. Every
// failure wraps load.ErrConfig.
func Load(path string) (*TestConfig, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", load.ErrConfig, err)
	}
	if err := cfg.Prepare(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Prepare applies defaults and validates. The error wraps load.ErrConfig.
func (c *TestConfig) Prepare() error {
	ApplyDefaults(c)
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %w", load.ErrConfig, err)
	}
	return nil
}

// pointerToField turns /scenarios/read/rate into scenarios.read.rate.
func pointerToField(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "/")
	if ptr == "" {
		return ""
	}
	parts := strings.Split(ptr, "/")
	for i, p := range parts {
		parts[i] = strings.ReplaceAll(strings.ReplaceAll(p, "~1", "/"), "~0", "~")
	}
	return strings.Join(parts, ".")
}

// ParseDurationString parses a Go duration ("30s", "1h30m") or a bare
// number of seconds ("30"). The empty string is zero.
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("duration cannot be negative: %q", s)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration cannot be negative: %q", s)
	}
	return d, nil
}

// ApplyDefaults fills unset fields with their defaults.
func ApplyDefaults(c *TestConfig) {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.Settings.BaseURL == "" {
		c.Settings.BaseURL = DefaultBaseURL
	}
	c.Settings.BaseURL = strings.TrimRight(c.Settings.BaseURL, "/")
	if c.Settings.Timeout == 0 {
		c.Settings.Timeout = Duration(DefaultTimeout)
	}
	if c.Settings.MaxItemID == 0 {
		c.Settings.MaxItemID = DefaultMaxItemID
	}
	if c.Settings.UserAgent == "" {
		c.Settings.UserAgent = "cacheload/1.0"
	}

	for _, sc := range c.Scenarios {
		if sc == nil {
			continue
		}
		if sc.TimeUnit == "" {
			sc.TimeUnit = DefaultTimeUnit
		}
		if sc.GracefulStop == "" {
			sc.GracefulStop = DefaultGracefulStop
		}
		if sc.OnExhausted == "" {
			sc.OnExhausted = string(load.PolicyDrop)
		}
		if sc.Arrival == "" {
			sc.Arrival = string(rate.ModelLeakyBucket)
		}
		if sc.Burst == 0 {
			sc.Burst = 1
		}
		if sc.MaxVUs == 0 {
			sc.MaxVUs = sc.PreAllocatedVUs
		}
	}

	if c.Options == nil {
		c.Options = &Options{}
	}
	if c.Options.ThresholdEvalInterval == "" {
		c.Options.ThresholdEvalInterval = DefaultThresholdEvalInterval
	}
}
