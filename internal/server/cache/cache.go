// Package cache is the Redis-backed search result cache. Concurrent misses
// for one key collapse into a single engine call via singleflight.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/karteio/geosearch/internal/search"
	"github.com/karteio/geosearch/pkg/config"
	"github.com/karteio/geosearch/pkg/logger"
	"github.com/karteio/geosearch/pkg/metrics"
)

const keyPrefix = "cache|"

// ResultCache caches rendered search results keyed by the full query shape.
type ResultCache struct {
	client *redis.Client
	cfg    config.RedisConfig
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// New builds a ResultCache on an existing Redis client, usually the index
// store's own connection pool.
func New(client *redis.Client, cfg config.RedisConfig) *ResultCache {
	return &ResultCache{
		client: client,
		cfg:    cfg,
		logger: logger.WithComponent("result-cache"),
	}
}

// Get returns the cached results for q, if present. Cache errors degrade to
// misses; the search itself must never fail because the cache did.
func (c *ResultCache) Get(ctx context.Context, q search.Query) ([]*search.Result, bool) {
	key := buildKey(q)
	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var results []*search.Result
	if err := json.Unmarshal([]byte(data), &results); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	metrics.CacheHitsTotal.Inc()
	return results, true
}

// Set stores results for q with the configured TTL.
func (c *ResultCache) Set(ctx context.Context, q search.Query, results []*search.Result) {
	key := buildKey(q)
	data, err := json.Marshal(results)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.cfg.CacheTTL).Err(); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns cached results or runs computeFn once per key across
// concurrent callers, caching its output. The bool reports a cache hit.
func (c *ResultCache) GetOrCompute(
	ctx context.Context,
	q search.Query,
	computeFn func() ([]*search.Result, error),
) ([]*search.Result, bool, error) {
	if results, ok := c.Get(ctx, q); ok {
		return results, true, nil
	}
	key := buildKey(q)
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if results, ok := c.Get(ctx, q); ok {
			return results, nil
		}
		results, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, q, results)
		return results, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]*search.Result), false, nil
}

// Invalidate drops every cached result. Called after index writes change
// what searches should return.
func (c *ResultCache) Invalidate(ctx context.Context) error {
	var deleted int64
	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("invalidating cache: %w", err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scanning cache keys: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

// Stats returns hit and miss counts since startup.
func (c *ResultCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *ResultCache) miss() {
	c.misses.Add(1)
	metrics.CacheMissesTotal.Inc()
}

// buildKey hashes the full query shape so two requests share an entry only
// when every result-affecting parameter matches.
func buildKey(q search.Query) string {
	parts := []string{
		strings.ToLower(strings.TrimSpace(q.Text)),
		fmt.Sprintf("limit=%d", q.Limit),
		fmt.Sprintf("ac=%t", q.Autocomplete),
		fmt.Sprintf("fuzzy=%d", q.Fuzzy),
	}
	if q.Center != nil {
		parts = append(parts, fmt.Sprintf("at=%.6f,%.6f", q.Center.Lat, q.Center.Lon))
	}
	names := make([]string, 0, len(q.Filters))
	for name := range q.Filters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		values := append([]string(nil), q.Filters[name]...)
		sort.Strings(values)
		parts = append(parts, name+"="+strings.Join(values, ","))
	}
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
