// Package analytics tracks query traffic: every search is published to
// Kafka as an event, aggregated into latency percentiles, top queries, and
// the not-found log (queries that returned nothing, the raw material for
// index tuning).
package analytics

import "time"

type EventType string

const (
	EventSearch  EventType = "search"
	EventReverse EventType = "reverse"
)

// SearchEvent is one resolved query.
type SearchEvent struct {
	Type         EventType `json:"type"`
	Query        string    `json:"query"`
	Results      int       `json:"results"`
	LatencyMs    int64     `json:"latency_ms"`
	CacheHit     bool      `json:"cache_hit"`
	Fuzzy        bool      `json:"fuzzy"`
	Autocomplete bool      `json:"autocomplete"`
	Timestamp    time.Time `json:"timestamp"`
	RequestID    string    `json:"request_id"`
}
