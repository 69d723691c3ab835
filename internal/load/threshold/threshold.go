// Package threshold parses and evaluates pass/fail criteria over a run's
// metric aggregates, e.g. `read_request_duration{scenario:read}: p(95)<50`.
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/cacheload/internal/load/metrics"
)

// Selector picks the series of one metric whose tags contain Filter.
type Selector struct {
	Metric string
	Filter metrics.Tags
	Raw    string
}

// Expression is a comparison of one aggregate stat against a constant.
type Expression struct {
	Stat  metrics.Stat
	Op    string
	Value float64
	// IsDuration is set when Value was written as a duration (e.g. 50ms);
	// it is then expressed in milliseconds.
	IsDuration bool
	Raw        string
}

// Threshold is one criterion: a selector and an expression.
type Threshold struct {
	Selector       Selector
	Expression     Expression
	AbortOnFail    bool
	DelayAbortEval time.Duration
}

// Definition is the unparsed form of a threshold as found in a config.
type Definition struct {
	Selector       string
	Expression     string
	AbortOnFail    bool
	DelayAbortEval time.Duration
}

// String renders the threshold as "selector: expression".
func (t Threshold) String() string {
	return t.Selector.Raw + ": " + t.Expression.Raw
}

var (
	selectorRE   = regexp.MustCompile(`^\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*(?:\{(.*)\})?\s*$`)
	expressionRE = regexp.MustCompile(`^\s*(p\(\s*[0-9]+(?:\.[0-9]+)?\s*\)|avg|min|max|med|count|rate)\s*(<=|>=|==|!=|<|>)\s*(\S+)\s*$`)
)

// ParseSelector parses `name` or `name{key:value,...}`.
func ParseSelector(s string) (Selector, error) {
	m := selectorRE.FindStringSubmatch(s)
	if m == nil {
		return Selector{}, fmt.Errorf("invalid threshold selector %q (expected metric or metric{tag:value})", s)
	}

	sel := Selector{Metric: m[1], Raw: strings.TrimSpace(s)}
	if strings.TrimSpace(m[2]) == "" {
		return sel, nil
	}

	sel.Filter = metrics.Tags{}
	for _, pair := range strings.Split(m[2], ",") {
		k, v, ok := strings.Cut(pair, ":")
		k = strings.TrimSpace(k)
		v = strings.Trim(strings.TrimSpace(v), `"'`)
		if !ok || k == "" || v == "" {
			return Selector{}, fmt.Errorf("invalid tag filter %q in selector %q (expected key:value)", strings.TrimSpace(pair), s)
		}
		sel.Filter[k] = v
	}
	return sel, nil
}

// ParseExpression parses expressions such as `p(95)<50`, `rate<0.01`,
// `avg < 200ms` or `count>=100`.
func ParseExpression(s string) (Expression, error) {
	m := expressionRE.FindStringSubmatch(s)
	if m == nil {
		return Expression{}, fmt.Errorf("invalid threshold expression %q (expected stat op value, e.g. p(95)<50)", s)
	}

	stat, err := parseStat(m[1])
	if err != nil {
		return Expression{}, err
	}

	expr := Expression{Stat: stat, Op: m[2], Raw: strings.TrimSpace(s)}
	if v, err := strconv.ParseFloat(m[3], 64); err == nil {
		expr.Value = v
	} else if d, derr := time.ParseDuration(m[3]); derr == nil {
		expr.Value = float64(d) / float64(time.Millisecond)
		expr.IsDuration = true
	} else {
		return Expression{}, fmt.Errorf("invalid threshold value %q in %q", m[3], s)
	}
	if math.IsNaN(expr.Value) || math.IsInf(expr.Value, 0) {
		return Expression{}, fmt.Errorf("invalid threshold value %q in %q", m[3], s)
	}
	return expr, nil
}

func parseStat(s string) (metrics.Stat, error) {
	switch s {
	case "avg":
		return metrics.Stat{Kind: metrics.StatAvg}, nil
	case "min":
		return metrics.Stat{Kind: metrics.StatMin}, nil
	case "max":
		return metrics.Stat{Kind: metrics.StatMax}, nil
	case "med":
		return metrics.Stat{Kind: metrics.StatMed}, nil
	case "count":
		return metrics.Stat{Kind: metrics.StatCount}, nil
	case "rate":
		return metrics.Stat{Kind: metrics.StatRate}, nil
	}

	inner := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(s, "p("), ")"))
	p, err := strconv.ParseFloat(inner, 64)
	if err != nil || p < 0 || p > 100 {
		return metrics.Stat{}, fmt.Errorf("invalid percentile %q (must be between 0 and 100)", s)
	}
	return metrics.Stat{Kind: metrics.StatPercentile, P: p}, nil
}

// Parse parses a definition into a threshold.
func Parse(d Definition) (Threshold, error) {
	sel, err := ParseSelector(d.Selector)
	if err != nil {
		return Threshold{}, err
	}
	expr, err := ParseExpression(d.Expression)
	if err != nil {
		return Threshold{}, fmt.Errorf("%s: %w", sel.Raw, err)
	}
	if d.DelayAbortEval < 0 {
		return Threshold{}, fmt.Errorf("%s: delayAbortEval must be >= 0", sel.Raw)
	}
	return Threshold{
		Selector:       sel,
		Expression:     expr,
		AbortOnFail:    d.AbortOnFail,
		DelayAbortEval: d.DelayAbortEval,
	}, nil
}

// compare applies op with a small epsilon for equality.
func compare(actual float64, op string, expected float64) bool {
	const epsilon = 1e-9

	switch op {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	case "!=":
		return math.Abs(actual-expected) >= epsilon
	default:
		return false
	}
}
