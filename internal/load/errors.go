package load

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport marks an iteration failure caused by the network or the
	// HTTP exchange itself (connection refused, timeout, unreadable body).
	ErrTransport = errors.New("transport failure")

	// ErrPoolExhausted is returned when every VU of a pool is busy and the
	// pool is already at its maximum size.
	ErrPoolExhausted = errors.New("vu pool exhausted")

	// ErrPoolClosed is returned by Acquire once the pool has been closed.
	ErrPoolClosed = errors.New("vu pool closed")

	// ErrNoData marks an aggregate or threshold with no matching observations.
	ErrNoData = errors.New("no data")

	// ErrConfig wraps every configuration problem detected before a run.
	ErrConfig = errors.New("invalid configuration")
)

// CheckError is a failed assertion on a response that otherwise arrived
// intact, e.g. an unexpected status code.
type CheckError struct {
	Check  string
	Detail string
}

func (e *CheckError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("check failed: %s", e.Check)
	}
	return fmt.Sprintf("check failed: %s: %s", e.Check, e.Detail)
}

// PanicError is an iteration panic converted into an error.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("iteration panicked: %v", e.Value)
}

// Classify names the failure category of an iteration error, for tagging
// and logs: "transport", "check", "panic", "canceled" or "error".
func Classify(err error) string {
	var (
		checkErr *CheckError
		panicErr *PanicError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &panicErr):
		return "panic"
	case errors.As(err, &checkErr):
		return "check"
	case errors.Is(err, ErrTransport):
		return "transport"
	case isCanceled(err):
		return "canceled"
	default:
		return "error"
	}
}
