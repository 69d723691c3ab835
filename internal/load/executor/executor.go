// Package executor provides the arrival-rate schedulers that start a
// scenario's iterations.
package executor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/wesleyorama2/cacheload/internal/load"
	"github.com/wesleyorama2/cacheload/internal/load/metrics"
	"github.com/wesleyorama2/cacheload/internal/load/rate"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeConstantArrivalRate maintains a fixed iteration rate.
	TypeConstantArrivalRate Type = "constant-arrival-rate"

	// TypeRampingArrivalRate ramps the iteration rate through stages.
	TypeRampingArrivalRate Type = "ramping-arrival-rate"
)

// DefaultGracefulStop is how long in-flight iterations may run after the
// schedule ends before they are abandoned.
const DefaultGracefulStop = 30 * time.Second

// Executor schedules the iterations of one scenario.
//
// Both executors are open-model: starts are issued at the target rate
// regardless of how long iterations take. The lifecycle is
// Init → Run → Drain → (Abort), driven by the engine.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Init validates cfg and prepares the executor. Called once before Run.
	Init(ctx context.Context, cfg *Config) error

	// Run issues starts until the scenario's duration elapses, Stop is
	// called or ctx is cancelled. It returns without waiting for in-flight
	// iterations.
	Run(ctx context.Context, env *Env) error

	// Drain waits for in-flight iterations until ctx is done and returns
	// how many were still running (abandoned).
	Drain(ctx context.Context) int

	// Abort cancels the context of abandoned iterations.
	Abort()

	// Stop ends the schedule early. Running iterations are not preempted.
	Stop()

	// GetProgress returns schedule progress (0.0 to 1.0).
	GetProgress() float64

	// GetStats returns a snapshot of executor statistics.
	GetStats() *Stats
}

// Env is what an executor needs from the engine to run iterations.
type Env struct {
	Pool     *load.VUPool
	Iterate  load.IterationFunc
	Registry *metrics.Registry
	Builtin  *metrics.Builtin
	Logger   zerolog.Logger
	Tracer   trace.Tracer
}

// Config contains configuration for an executor.
type Config struct {
	// Name is the scenario name.
	Name string `json:"name"`

	// Type is the executor type.
	Type Type `json:"type"`

	// Rate is the number of starts per TimeUnit (constant-arrival-rate).
	Rate     float64       `json:"rate,omitempty"`
	TimeUnit time.Duration `json:"timeUnit,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`

	// StartRate and Stages drive ramping-arrival-rate; rates are per TimeUnit.
	StartRate float64 `json:"startRate,omitempty"`
	Stages    []Stage `json:"stages,omitempty"`

	PreAllocatedVUs int `json:"preAllocatedVUs"`
	MaxVUs          int `json:"maxVUs"`

	// Exec names the workload in the catalog.
	Exec string `json:"exec"`

	OnExhausted load.ExhaustionPolicy `json:"onExhausted"`
	Arrival     rate.Model            `json:"arrival"`
	Burst       int                   `json:"burst,omitempty"`

	GracefulStop time.Duration `json:"gracefulStop"`
	StartTime    time.Duration `json:"startTime,omitempty"`

	// ThinkTime holds the VU after each iteration before it is released.
	ThinkTime time.Duration `json:"thinkTime,omitempty"`

	// Tags are added to every sample recorded by the scenario.
	Tags map[string]string `json:"tags,omitempty"`
}

// Stage is one segment of a ramping-arrival-rate plan. The rate moves
// linearly from the previous target to Target over Duration.
type Stage struct {
	Duration time.Duration `json:"duration"`
	Target   float64       `json:"target"`
	Name     string        `json:"name,omitempty"`
}

// Stats contains real-time executor statistics.
type Stats struct {
	Scenario string `json:"scenario"`
	Type     Type   `json:"type"`
	Exec     string `json:"exec"`

	StartTime     time.Time     `json:"startTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	// Arrivals is the number of starts the schedule issued, including dropped ones.
	Arrivals int64 `json:"arrivals"`
	// Started is the number of iterations that acquired a VU.
	Started    int64 `json:"started"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
	Incomplete int64 `json:"incomplete"`
	InFlight   int64 `json:"inFlight"`

	// ExpectedIterations is the number of starts the target rate implies.
	ExpectedIterations float64 `json:"expectedIterations"`

	Pool load.PoolStats `json:"pool"`

	// Rates are starts per second.
	CurrentRate float64 `json:"currentRate"`
	TargetRate  float64 `json:"targetRate"`

	CurrentStage int `json:"currentStage,omitempty"`
	TotalStages  int `json:"totalStages,omitempty"`
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if c.Type == "" {
		return &ValidationError{Field: "executor", Message: "executor type is required"}
	}
	if c.TimeUnit < 0 {
		return &ValidationError{Field: "timeUnit", Message: "timeUnit must be > 0"}
	}

	switch c.Type {
	case TypeConstantArrivalRate:
		if c.Rate <= 0 {
			return &ValidationError{Field: "rate", Message: "rate must be > 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}

	case TypeRampingArrivalRate:
		if len(c.Stages) == 0 {
			return &ValidationError{Field: "stages", Message: "at least one stage is required"}
		}
		if c.StartRate < 0 {
			return &ValidationError{Field: "startRate", Message: "startRate must be >= 0"}
		}
		for _, s := range c.Stages {
			if s.Duration <= 0 {
				return &ValidationError{Field: "stages", Message: "stage duration must be > 0"}
			}
			if s.Target < 0 {
				return &ValidationError{Field: "stages", Message: "stage target must be >= 0"}
			}
		}

	default:
		return &ValidationError{Field: "executor", Message: "unknown executor type: " + string(c.Type)}
	}

	if c.PreAllocatedVUs < 0 {
		return &ValidationError{Field: "preAllocatedVUs", Message: "preAllocatedVUs must be >= 0"}
	}
	if c.MaxVUs > 0 && c.MaxVUs < c.PreAllocatedVUs {
		return &ValidationError{Field: "maxVUs", Message: "maxVUs must be >= preAllocatedVUs"}
	}
	if c.Burst < 0 {
		return &ValidationError{Field: "burst", Message: "burst must be >= 1"}
	}
	if _, err := load.ParseExhaustionPolicy(string(c.OnExhausted)); err != nil {
		return &ValidationError{Field: "onExhausted", Message: err.Error()}
	}
	if c.Arrival != "" {
		if _, err := rate.New(c.Arrival, 1, 1); err != nil {
			return &ValidationError{Field: "arrival", Message: err.Error()}
		}
	}
	if c.Exec == "" {
		return &ValidationError{Field: "exec", Message: "exec is required"}
	}
	return nil
}

// ApplyDefaults fills in unset optional fields.
func (c *Config) ApplyDefaults() {
	if c.TimeUnit == 0 {
		c.TimeUnit = time.Second
	}
	if c.PreAllocatedVUs == 0 && c.MaxVUs == 0 {
		c.PreAllocatedVUs = 1
	}
	if c.MaxVUs < c.PreAllocatedVUs || c.MaxVUs == 0 {
		c.MaxVUs = max(c.PreAllocatedVUs, 1)
	}
	if c.OnExhausted == "" {
		c.OnExhausted = load.PolicyDrop
	}
	if c.Arrival == "" {
		c.Arrival = rate.ModelLeakyBucket
	}
	if c.Burst == 0 {
		c.Burst = 1
	}
	if c.GracefulStop == 0 {
		c.GracefulStop = DefaultGracefulStop
	}
}

// TotalDuration is the length of the schedule, excluding StartTime.
func (c *Config) TotalDuration() time.Duration {
	switch c.Type {
	case TypeRampingArrivalRate:
		var total time.Duration
		for _, stage := range c.Stages {
			total += stage.Duration
		}
		return total
	default:
		return c.Duration
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}
