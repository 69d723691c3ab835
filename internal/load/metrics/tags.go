package metrics

import (
	"sort"
	"strconv"
	"strings"
)

// Tags is a set of key/value labels attached to a sample.
type Tags map[string]string

// Key returns the canonical form of the tag set: keys sorted, each key and
// value quoted. Two tag sets share a key iff they are equal.
func (t Tags) Key() string {
	return t.join('=', strconv.Quote)
}

func (t Tags) join(sep byte, quote func(string) string) string {
	if len(t) == 0 {
		return ""
	}
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(quote(k))
		b.WriteByte(sep)
		b.WriteString(quote(t[k]))
	}
	return b.String()
}

// With returns a copy of t extended (or overridden) by other.
func (t Tags) With(other Tags) Tags {
	out := make(Tags, len(t)+len(other))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Contains reports whether every tag in filter is present in t with the same value.
// An empty filter matches every tag set.
func (t Tags) Contains(filter Tags) bool {
	for k, v := range filter {
		if got, ok := t[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// String renders the tags the way selectors are written: {k:v,k2:v2}.
func (t Tags) String() string {
	if len(t) == 0 {
		return ""
	}
	return "{" + t.join(':', func(s string) string { return s }) + "}"
}
