package metrics

// Names of the metrics every run declares.
const (
	IterationsName           = "iterations"
	IterationDurationName    = "iteration_duration"
	IterationFailedName      = "iteration_failed"
	DroppedIterationsName    = "dropped_iterations"
	IncompleteIterationsName = "incomplete_iterations"
	ChecksName               = "checks"
	HTTPReqsName             = "http_reqs"
	HTTPReqDurationName      = "http_req_duration"
	HTTPReqFailedName        = "http_req_failed"
)

// Builtin holds handles to the metrics the engine and transports record.
type Builtin struct {
	Iterations           *Metric
	IterationDuration    *Metric
	IterationFailed      *Metric
	DroppedIterations    *Metric
	IncompleteIterations *Metric
	Checks               *Metric
	HTTPReqs             *Metric
	HTTPReqDuration      *Metric
	HTTPReqFailed        *Metric
}

// RegisterBuiltin declares the builtin metrics in r.
func RegisterBuiltin(r *Registry) *Builtin {
	return &Builtin{
		Iterations:           r.MustMetric(IterationsName, Counter),
		IterationDuration:    r.MustMetric(IterationDurationName, Trend, Time),
		IterationFailed:      r.MustMetric(IterationFailedName, Rate),
		DroppedIterations:    r.MustMetric(DroppedIterationsName, Counter),
		IncompleteIterations: r.MustMetric(IncompleteIterationsName, Counter),
		Checks:               r.MustMetric(ChecksName, Rate),
		HTTPReqs:             r.MustMetric(HTTPReqsName, Counter),
		HTTPReqDuration:      r.MustMetric(HTTPReqDurationName, Trend, Time),
		HTTPReqFailed:        r.MustMetric(HTTPReqFailedName, Rate),
	}
}
