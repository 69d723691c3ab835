// Package metrics provides the typed aggregators (Counter, Rate, Trend)
// that iterations record observations into, keyed by metric name and tag set.
package metrics

import (
	"errors"
	"fmt"
	"regexp"
)

// Type identifies how samples of a metric are aggregated.
type Type int

const (
	// Counter accumulates a monotonically non-decreasing sum.
	Counter Type = iota
	// Rate tracks the fraction of samples that are true (non-zero).
	Rate
	// Trend keeps a latency-style distribution (min, max, avg, percentiles).
	Trend
)

// String returns the lowercase name of the metric type.
func (t Type) String() string {
	switch t {
	case Counter:
		return "counter"
	case Rate:
		return "rate"
	case Trend:
		return "trend"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ValueType describes the unit of a metric's samples.
type ValueType int

const (
	// Default is a unitless value.
	Default ValueType = iota
	// Time values are milliseconds.
	Time
)

// String returns the lowercase name of the value type.
func (v ValueType) String() string {
	if v == Time {
		return "time"
	}
	return "default"
}

// MarshalText implements encoding.TextMarshaler.
func (v ValueType) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

var (
	// ErrInvalidName is returned for metric names outside [a-zA-Z_][a-zA-Z0-9_]*.
	ErrInvalidName = errors.New("invalid metric name")

	// ErrTypeConflict is returned when a metric is re-declared with a different type.
	ErrTypeConflict = errors.New("metric already declared with a different type")

	// ErrInvalidSample is returned for negative Trend samples and negative Counter increments.
	ErrInvalidSample = errors.New("invalid sample")

	// ErrUnknownMetric is returned when querying a metric that was never declared.
	ErrUnknownMetric = errors.New("unknown metric")
)

var nameRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,127}$`)

// Metric is a declared metric. It is a handle: samples are recorded through
// the Registry that created it.
type Metric struct {
	Name     string    `json:"name"`
	Type     Type      `json:"type"`
	Contains ValueType `json:"contains"`

	registry *Registry
}

// String returns the metric name.
func (m *Metric) String() string {
	return m.Name
}

func validateName(name string) error {
	if !nameRE.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
