package executor

import (
	"context"
	"fmt"
)

// Types lists the supported executor types.
var Types = []Type{TypeConstantArrivalRate, TypeRampingArrivalRate}

// New creates an uninitialized executor of the given type. Call Init before Run.
func New(t Type) (Executor, error) {
	switch t {
	case TypeConstantArrivalRate:
		return NewConstantArrivalRate(), nil
	case TypeRampingArrivalRate:
		return NewRampingArrivalRate(), nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", t)
	}
}

// CreateAndInit creates and initializes an executor for cfg.
func CreateAndInit(ctx context.Context, cfg *Config) (Executor, error) {
	exec, err := New(cfg.Type)
	if err != nil {
		return nil, err
	}
	if err := exec.Init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}
	return exec, nil
}
