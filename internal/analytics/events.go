package analytics

import "time"

type EventType string

const (
	EventCacheHit   EventType = "cache_hit"
	EventCacheMiss  EventType = "cache_miss"
	EventZeroResult EventType = "zero_result"
)

// SearchEvent describes one completed search request.
type SearchEvent struct {
	Type              EventType `json:"type"`
	Query             string    `json:"query"`
	Volume            string    `json:"volume"`
	Extension         string    `json:"extension,omitempty"`
	AcceptFiles       bool      `json:"accept_files"`
	AcceptDirectories bool      `json:"accept_directories"`
	Returned          int       `json:"returned"`
	Files             int       `json:"files"`
	Directories       int       `json:"directories"`
	LatencyMs         int64     `json:"latency_ms"`
	CacheHit          bool      `json:"cache_hit"`
	Generation        uint64    `json:"generation"`
	Timestamp         time.Time `json:"timestamp"`
	RequestID         string    `json:"request_id,omitempty"`
}

// TypeFor classifies an outcome. Zero results take precedence over cache
// status.
func TypeFor(returned int, cacheHit bool) EventType {
	switch {
	case returned == 0:
		return EventZeroResult
	case cacheHit:
		return EventCacheHit
	default:
		return EventCacheMiss
	}
}
