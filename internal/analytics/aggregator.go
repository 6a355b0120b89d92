package analytics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/karteio/geosearch/pkg/kafka"
	"github.com/karteio/geosearch/pkg/logger"
)

// AggregatedStats is a point-in-time summary of query traffic.
type AggregatedStats struct {
	TotalSearches    int64        `json:"total_searches"`
	TotalReverse     int64        `json:"total_reverse"`
	CacheHits        int64        `json:"cache_hits"`
	CacheMisses      int64        `json:"cache_misses"`
	NotFoundCount    int64        `json:"not_found_count"`
	AvgLatencyMs     float64      `json:"avg_latency_ms"`
	P50LatencyMs     int64        `json:"p50_latency_ms"`
	P95LatencyMs     int64        `json:"p95_latency_ms"`
	P99LatencyMs     int64        `json:"p99_latency_ms"`
	TopQueries       []QueryCount `json:"top_queries"`
	NotFoundQueries  []QueryCount `json:"not_found_queries"`
	QueriesPerMinute float64      `json:"queries_per_minute"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator consumes search events and keeps running counters, latency
// percentiles, and the not-found query log.
type Aggregator struct {
	mu              sync.RWMutex
	totalSearches   atomic.Int64
	totalReverse    atomic.Int64
	cacheHits       atomic.Int64
	cacheMisses     atomic.Int64
	notFound        atomic.Int64
	latencies       []int64
	queryCounts     map[string]int64
	notFoundQueries map[string]int64
	startTime       time.Time

	logger *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:       make([]int64, 0, 10000),
		queryCounts:     make(map[string]int64),
		notFoundQueries: make(map[string]int64),
		startTime:       time.Now(),
		logger:          logger.WithComponent("analytics-aggregator"),
	}
}

// Start consumes events from the given consumer until ctx is cancelled.
func (a *Aggregator) Start(ctx context.Context, consumer *kafka.Consumer) error {
	a.logger.Info("analytics aggregator starting")
	return consumer.Start(ctx)
}

// HandleEvent is the Kafka message handler feeding an Aggregator.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[SearchEvent](value)
		if err != nil {
			agg.logger.Error("failed to decode analytics event", "error", err)
			return nil
		}
		agg.Record(event)
		return nil
	}
}

// Record folds one event into the running stats.
func (a *Aggregator) Record(event SearchEvent) {
	if event.Type == EventReverse {
		a.totalReverse.Add(1)
	} else {
		a.totalSearches.Add(1)
	}

	if event.CacheHit {
		a.cacheHits.Add(1)
	} else {
		a.cacheMisses.Add(1)
	}
	if event.Results == 0 {
		a.notFound.Add(1)
	}

	a.mu.Lock()
	a.latencies = append(a.latencies, event.LatencyMs)
	if event.Query != "" {
		a.queryCounts[event.Query]++
		if event.Results == 0 {
			a.notFoundQueries[event.Query]++
		}
	}
	a.mu.Unlock()
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalSearches: a.totalSearches.Load(),
		TotalReverse:  a.totalReverse.Load(),
		CacheHits:     a.cacheHits.Load(),
		CacheMisses:   a.cacheMisses.Load(),
		NotFoundCount: a.notFound.Load(),
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queryCounts, 10)
	stats.NotFoundQueries = topN(a.notFoundQueries, 10)
	elapsed := time.Since(a.startTime).Minutes()
	if elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalSearches+stats.TotalReverse) / elapsed
	}
	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Query < result[j].Query
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
