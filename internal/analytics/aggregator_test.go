package analytics

import (
	"sync"
	"testing"
	"time"
)

func TestRecordAndStats(t *testing.T) {
	agg := NewAggregator()

	for i := 0; i < 5; i++ {
		agg.Record(SearchEvent{
			Type:      EventSearch,
			Query:     "rue des lilas andresy",
			Results:   3,
			LatencyMs: int64(10 + i),
			CacheHit:  i%2 == 0,
			Timestamp: time.Now(),
		})
	}
	agg.Record(SearchEvent{Type: EventReverse, Results: 1, LatencyMs: 4})
	agg.Record(SearchEvent{Type: EventSearch, Query: "zzzzz", Results: 0, LatencyMs: 8})

	stats := agg.Stats()
	if stats.TotalSearches != 6 {
		t.Errorf("TotalSearches = %d, want 6", stats.TotalSearches)
	}
	if stats.TotalReverse != 1 {
		t.Errorf("TotalReverse = %d, want 1", stats.TotalReverse)
	}
	if stats.CacheHits != 3 {
		t.Errorf("CacheHits = %d, want 3", stats.CacheHits)
	}
	if stats.CacheMisses != 4 {
		t.Errorf("CacheMisses = %d, want 4", stats.CacheMisses)
	}
	if stats.NotFoundCount != 1 {
		t.Errorf("NotFoundCount = %d, want 1", stats.NotFoundCount)
	}
	if stats.AvgLatencyMs <= 0 {
		t.Errorf("AvgLatencyMs = %v", stats.AvgLatencyMs)
	}
	if stats.P50LatencyMs > stats.P95LatencyMs || stats.P95LatencyMs > stats.P99LatencyMs {
		t.Errorf("percentiles not monotonic: p50=%d p95=%d p99=%d",
			stats.P50LatencyMs, stats.P95LatencyMs, stats.P99LatencyMs)
	}
	if stats.QueriesPerMinute <= 0 {
		t.Errorf("QueriesPerMinute = %v", stats.QueriesPerMinute)
	}

	if len(stats.TopQueries) == 0 || stats.TopQueries[0].Query != "rue des lilas andresy" {
		t.Errorf("TopQueries = %v", stats.TopQueries)
	}
	if len(stats.NotFoundQueries) != 1 || stats.NotFoundQueries[0].Query != "zzzzz" {
		t.Errorf("NotFoundQueries = %v", stats.NotFoundQueries)
	}
}

func TestStatsEmpty(t *testing.T) {
	agg := NewAggregator()
	stats := agg.Stats()
	if stats.TotalSearches != 0 || stats.P99LatencyMs != 0 || stats.AvgLatencyMs != 0 {
		t.Errorf("empty aggregator stats = %+v", stats)
	}
	if len(stats.TopQueries) != 0 {
		t.Errorf("TopQueries = %v", stats.TopQueries)
	}
}

func TestTopNDeterministicTieBreak(t *testing.T) {
	counts := map[string]int64{"b": 2, "a": 2, "c": 5, "d": 1}
	got := topN(counts, 3)
	if len(got) != 3 {
		t.Fatalf("got %d entries", len(got))
	}
	if got[0].Query != "c" || got[1].Query != "a" || got[2].Query != "b" {
		t.Errorf("order = %v", got)
	}
}

func TestRecordConcurrent(t *testing.T) {
	agg := NewAggregator()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				agg.Record(SearchEvent{Type: EventSearch, Query: "paris", Results: 1, LatencyMs: 1})
			}
		}()
	}
	wg.Wait()
	stats := agg.Stats()
	if stats.TotalSearches != 800 {
		t.Errorf("TotalSearches = %d, want 800", stats.TotalSearches)
	}
	if stats.TopQueries[0].Count != 800 {
		t.Errorf("top query count = %d", stats.TopQueries[0].Count)
	}
}
