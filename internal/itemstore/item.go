// Package itemstore is the item service workload: a typed client for the
// service's HTTP API, the read and write iteration functions, and an
// in-memory reference implementation of the service.
package itemstore

import (
	"strings"
	"time"
)

// Item is a stored item.
type Item struct {
	ID          int64  `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Source tells where the service found an item.
type Source int

const (
	SourceUnknown Source = iota
	// SourceCache is a cache hit.
	SourceCache
	// SourceUpstream is a cache miss served from the backing store.
	SourceUpstream
	// SourceNotFound means the id does not exist.
	SourceNotFound
)

func (s Source) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceUpstream:
		return "upstream"
	case SourceNotFound:
		return "not-found"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Messages the service sends alongside a lookup. Older deployments only
// send the message, so ParseSource falls back to it.
const (
	MessageFromCache    = "Retrieved from cache"
	MessageFromDatabase = "Retrieved from database"
	MessageNotFound     = "Item not found"
)

// ParseSource interprets the source field of a lookup response, falling
// back to its message when the field is absent or unrecognized.
func ParseSource(source, message string) Source {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "cache":
		return SourceCache
	case "upstream", "database", "db":
		return SourceUpstream
	case "not-found", "not_found", "notfound":
		return SourceNotFound
	}

	switch message {
	case MessageFromCache:
		return SourceCache
	case MessageFromDatabase:
		return SourceUpstream
	case MessageNotFound:
		return SourceNotFound
	}
	return SourceUnknown
}

// Exchange describes the HTTP exchange behind a client call.
type Exchange struct {
	StatusCode int
	// Duration excludes connection setup.
	Duration time.Duration
}

// OK reports whether the status was 200.
func (e Exchange) OK() bool {
	return e.StatusCode == 200
}

// ItemResponse is the result of a lookup.
type ItemResponse struct {
	Exchange
	Item            *Item
	DBFetchCount    int64
	CacheFetchCount int64
	Source          Source
	Message         string
}

// ItemResult is the result of a create or update.
type ItemResult struct {
	Exchange
	Item *Item
}
