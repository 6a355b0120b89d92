// Package redisstore is the production index store: Redis sorted sets for
// token, geohash, and ephemeral query keys, plain sets for pair, edge-ngram,
// and filter keys, and JSON strings for documents. The bounded manual scan
// runs as a Lua script so high-cardinality intersections never leave the
// server.
package redisstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/karteio/geosearch/internal/document"
	"github.com/karteio/geosearch/internal/store"
	"github.com/karteio/geosearch/pkg/config"
)

// Store implements store.Store on a Redis connection pool.
type Store struct {
	rdb  *redis.Client
	scan *redis.Script
}

// New creates a Store and verifies the connection with a PING.
func New(cfg config.RedisConfig) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewFromClient(rdb), nil
}

// NewFromClient wraps an existing go-redis client, sharing its pool with
// other subsystems (the result cache, the rate limiter).
func NewFromClient(rdb *redis.Client) *Store {
	return &Store{
		rdb:  rdb,
		scan: redis.NewScript(manualScanScript),
	}
}

// manualScanScript walks KEYS[1] from highest score down, keeps members
// present under every other key, and stops at ARGV[1] matches. Set and
// sorted-set membership checks are dispatched per key type.
const manualScanScript = `
local wanted = tonumber(ARGV[1])
local results = {}
local offset = 0
local batch = 100
local kinds = {}
for i = 2, #KEYS do
  kinds[i] = redis.call('TYPE', KEYS[i]).ok
end
while true do
  local members = redis.call('ZREVRANGE', KEYS[1], offset, offset + batch - 1)
  if #members == 0 then
    break
  end
  for _, member in ipairs(members) do
    local ok = true
    for i = 2, #KEYS do
      if kinds[i] == 'set' then
        if redis.call('SISMEMBER', KEYS[i], member) == 0 then
          ok = false
          break
        end
      else
        if not redis.call('ZSCORE', KEYS[i], member) then
          ok = false
          break
        end
      end
    end
    if ok then
      results[#results + 1] = member
      if wanted > 0 and #results >= wanted then
        return results
      end
    end
  end
  offset = offset + batch
end
return results
`

func (s *Store) Count(ctx context.Context, key string) (int64, error) {
	var cmd *redis.IntCmd
	if store.IsSortedSetKey(key) {
		cmd = s.rdb.ZCard(ctx, key)
	} else {
		cmd = s.rdb.SCard(ctx, key)
	}
	n, err := cmd.Result()
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", key, err)
	}
	return n, nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *Store) Intersect(ctx context.Context, keys []string, limit int) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	if len(keys) == 1 {
		members, err := s.rdb.ZRevRange(ctx, keys[0], 0, int64(limit-1)).Result()
		if err != nil {
			return nil, fmt.Errorf("ranking %s: %w", keys[0], err)
		}
		return members, nil
	}
	tmp := "tmp|inter|" + randomSuffix()
	pipe := s.rdb.TxPipeline()
	pipe.ZInterStore(ctx, tmp, &redis.ZStore{Keys: keys})
	rangeCmd := pipe.ZRevRange(ctx, tmp, 0, int64(limit-1))
	pipe.Del(ctx, tmp)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("intersecting %d keys: %w", len(keys), err)
	}
	return rangeCmd.Val(), nil
}

func (s *Store) UnionStore(ctx context.Context, dest string, keys []string, ttl time.Duration) (int64, error) {
	pipe := s.rdb.TxPipeline()
	unionCmd := pipe.ZUnionStore(ctx, dest, &redis.ZStore{Keys: keys})
	pipe.Expire(ctx, dest, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("unioning into %s: %w", dest, err)
	}
	return unionCmd.Val(), nil
}

func (s *Store) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("reading members of %s: %w", key, err)
	}
	sort.Strings(members)
	return members, nil
}

func (s *Store) SetContains(ctx context.Context, key string, member string) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, fmt.Errorf("checking membership in %s: %w", key, err)
	}
	return ok, nil
}

func (s *Store) ManualScan(ctx context.Context, scanKey string, otherKeys []string, wanted int) ([]string, error) {
	keys := append([]string{scanKey}, otherKeys...)
	raw, err := s.scan.Run(ctx, s.rdb, keys, wanted).Result()
	if err != nil {
		return nil, fmt.Errorf("manual scan over %s: %w", scanKey, err)
	}
	values, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("manual scan over %s: unexpected reply %T", scanKey, raw)
	}
	matches := make([]string, 0, len(values))
	for _, v := range values {
		if member, ok := v.(string); ok {
			matches = append(matches, member)
		}
	}
	return matches, nil
}

func (s *Store) DocGet(ctx context.Context, id string) (*document.Document, error) {
	data, err := s.rdb.Get(ctx, store.DocumentKey(id)).Result()
	if err == redis.Nil {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching document %s: %w", id, err)
	}
	var doc document.Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("decoding document %s: %w", id, err)
	}
	return &doc, nil
}

func (s *Store) DocGetMulti(ctx context.Context, ids []string) ([]*document.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = store.DocumentKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetching %d documents: %w", len(ids), err)
	}
	docs := make([]*document.Document, 0, len(values))
	for i, v := range values {
		data, ok := v.(string)
		if !ok {
			continue
		}
		var doc document.Document
		if err := json.Unmarshal([]byte(data), &doc); err != nil {
			return nil, fmt.Errorf("decoding document %s: %w", ids[i], err)
		}
		docs = append(docs, &doc)
	}
	return docs, nil
}

func (s *Store) Apply(ctx context.Context, batch *store.Batch) error {
	if batch.Empty() {
		return nil
	}
	pipe := s.rdb.TxPipeline()
	for _, doc := range batch.DocPuts {
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encoding document %s: %w", doc.ID, err)
		}
		pipe.Set(ctx, store.DocumentKey(doc.ID), data, 0)
	}
	for _, id := range batch.DocDeletes {
		pipe.Del(ctx, store.DocumentKey(id))
	}
	for _, za := range batch.ZAdds {
		pipe.ZAdd(ctx, za.Key, redis.Z{Score: za.Score, Member: za.Member})
	}
	for _, zr := range batch.ZRems {
		pipe.ZRem(ctx, zr.Key, zr.Member)
	}
	for _, sa := range batch.SAdds {
		pipe.SAdd(ctx, sa.Key, sa.Member)
	}
	for _, sr := range batch.SRems {
		pipe.SRem(ctx, sr.Key, sr.Member)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("applying index batch: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// Client exposes the underlying go-redis client so the result cache and the
// rate limiter can share the pool.
func (s *Store) Client() *redis.Client {
	return s.rdb
}

func randomSuffix() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
