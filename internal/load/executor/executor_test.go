package executor

import (
	"testing"
	"time"

	"github.com/wesleyorama2/cacheload/internal/load"
	"github.com/wesleyorama2/cacheload/internal/load/rate"
)

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			Name: "read", Type: TypeConstantArrivalRate, Rate: 900, Duration: time.Minute,
			PreAllocatedVUs: 100, MaxVUs: 500, Exec: "readTest",
		}
	}

	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantField string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing type", func(c *Config) { c.Type = "" }, "executor"},
		{"unknown type", func(c *Config) { c.Type = "constant-vus" }, "executor"},
		{"zero rate", func(c *Config) { c.Rate = 0 }, "rate"},
		{"zero duration", func(c *Config) { c.Duration = 0 }, "duration"},
		{"negative time unit", func(c *Config) { c.TimeUnit = -time.Second }, "timeUnit"},
		{"max below pre", func(c *Config) { c.MaxVUs = 10 }, "maxVUs"},
		{"negative pre", func(c *Config) { c.PreAllocatedVUs = -1 }, "preAllocatedVUs"},
		{"bad policy", func(c *Config) { c.OnExhausted = "queue" }, "onExhausted"},
		{"bad arrival", func(c *Config) { c.Arrival = "burst" }, "arrival"},
		{"missing exec", func(c *Config) { c.Exec = "" }, "exec"},
		{"ramping without stages", func(c *Config) { c.Type = TypeRampingArrivalRate }, "stages"},
		{"ramping bad stage", func(c *Config) {
			c.Type = TypeRampingArrivalRate
			c.Stages = []Stage{{Duration: 0, Target: 10}}
		}, "stages"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			vErr, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("Validate() error = %v, want *ValidationError", err)
			}
			if vErr.Field != tt.wantField {
				t.Errorf("Validate() field = %q, want %q", vErr.Field, tt.wantField)
			}
		})
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	c := Config{Type: TypeConstantArrivalRate, Rate: 10, Duration: time.Second, Exec: "x"}
	c.ApplyDefaults()

	if c.TimeUnit != time.Second {
		t.Errorf("TimeUnit = %v, want 1s", c.TimeUnit)
	}
	if c.PreAllocatedVUs != 1 || c.MaxVUs != 1 {
		t.Errorf("VUs = %d/%d, want 1/1", c.PreAllocatedVUs, c.MaxVUs)
	}
	if c.OnExhausted != load.PolicyDrop {
		t.Errorf("OnExhausted = %q, want drop", c.OnExhausted)
	}
	if c.Arrival != rate.ModelLeakyBucket {
		t.Errorf("Arrival = %q, want leaky-bucket", c.Arrival)
	}
	if c.GracefulStop != DefaultGracefulStop {
		t.Errorf("GracefulStop = %v, want %v", c.GracefulStop, DefaultGracefulStop)
	}

	c = Config{PreAllocatedVUs: 5}
	c.ApplyDefaults()
	if c.MaxVUs != 5 {
		t.Errorf("MaxVUs = %d, want it raised to preAllocatedVUs", c.MaxVUs)
	}
}

func TestRatePlan_Constant(t *testing.T) {
	p := newRatePlan(&Config{Type: TypeConstantArrivalRate, Rate: 900, TimeUnit: time.Second, Duration: time.Minute})

	if r, _ := p.rateAt(30 * time.Second); r != 900 {
		t.Errorf("rateAt(30s) = %v, want 900", r)
	}
	if got := p.expected(); got != 54000 {
		t.Errorf("expected() = %v, want 54000", got)
	}
	if p.total != time.Minute {
		t.Errorf("total = %v", p.total)
	}
}

func TestRatePlan_Ramping(t *testing.T) {
	p := newRatePlan(&Config{
		Type:      TypeRampingArrivalRate,
		StartRate: 0,
		TimeUnit:  time.Second,
		Stages: []Stage{
			{Duration: 10 * time.Second, Target: 100},
			{Duration: 10 * time.Second, Target: 100},
			{Duration: 10 * time.Second, Target: 0},
		},
	})

	tests := []struct {
		at        time.Duration
		wantRate  float64
		wantStage int
	}{
		{0, 0, 0},
		{5 * time.Second, 50, 0},
		{15 * time.Second, 100, 1},
		{25 * time.Second, 50, 2},
		{40 * time.Second, 0, 2},
	}
	for _, tt := range tests {
		r, stage := p.rateAt(tt.at)
		if r != tt.wantRate || stage != tt.wantStage {
			t.Errorf("rateAt(%v) = %v (stage %d), want %v (stage %d)", tt.at, r, stage, tt.wantRate, tt.wantStage)
		}
	}
	// 500 + 1000 + 500
	if got := p.expected(); got != 2000 {
		t.Errorf("expected() = %v, want 2000", got)
	}
	if p.total != 30*time.Second {
		t.Errorf("total = %v, want 30s", p.total)
	}
}
