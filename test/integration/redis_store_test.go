// Package integration contains tests that verify components against real
// backing services. Each test skips itself when the service it needs is not
// reachable, so the suite is safe to run anywhere.
//
// Run with:
//
//	go test -v -tags=integration ./test/integration/...
package integration

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/karteio/geosearch/internal/document"
	"github.com/karteio/geosearch/internal/indexer"
	"github.com/karteio/geosearch/internal/search"
	"github.com/karteio/geosearch/internal/store"
	"github.com/karteio/geosearch/internal/store/redisstore"
	"github.com/karteio/geosearch/internal/textpipe"
	"github.com/karteio/geosearch/pkg/config"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// skipIfNoRedis skips the test when Redis is unavailable. The store uses a
// dedicated test database (default 15) which is flushed on cleanup.
func skipIfNoRedis(t *testing.T) *redisstore.Store {
	t.Helper()
	st, err := redisstore.New(config.RedisConfig{
		Addr:     envOrDefault("TEST_REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("TEST_REDIS_PASSWORD"),
		DB:       envOrDefaultInt("TEST_REDIS_DB", 15),
		PoolSize: 5,
	})
	if err != nil {
		t.Skipf("skipping integration test: redis unavailable: %v", err)
	}
	t.Cleanup(func() {
		st.Client().FlushDB(context.Background())
		st.Close()
	})
	st.Client().FlushDB(context.Background())
	return st
}

func testDocuments() []*document.Document {
	return []*document.Document{
		{
			ID: "street-lilas", Type: "street",
			Name: "Rue des Lilas", City: "Andrésy", Postcode: "78570",
			Lat: 48.9808, Lon: 2.0567, Importance: 0.3,
			HouseNumbers: map[string]document.HouseNumber{
				"8": {Raw: "8", Lat: 48.9812, Lon: 2.0575},
			},
		},
		{
			ID: "street-tilleuls", Type: "street",
			Name: "Rue des Tilleuls", City: "Andrésy", Postcode: "78570",
			Lat: 48.9795, Lon: 2.0541, Importance: 0.2,
		},
		{
			ID: "city-andresy", Type: "city",
			Name: "Andrésy", Postcode: "78570", CityCode: "78015",
			Lat: 48.9790, Lon: 2.0500, Importance: 0.6,
		},
	}
}

// newIndexedStore indexes the fixture corpus into Redis and returns the
// engine wired over it.
func newIndexedStore(t *testing.T, st *redisstore.Store) *search.Engine {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("loading defaults: %v", err)
	}
	pipeline := textpipe.New(nil)
	w := indexer.New(st, pipeline, cfg.Search, cfg.Index)
	if err := w.IndexAll(context.Background(), testDocuments()); err != nil {
		t.Fatalf("indexing fixture corpus: %v", err)
	}
	return search.New(st, pipeline, cfg.Search, cfg.Index)
}

// ---------------------------------------------------------------------------
// Store primitives
// ---------------------------------------------------------------------------

// TestRedisBatchRoundTrip verifies that an indexed document produces the
// expected keys in every namespace and reads back intact.
func TestRedisBatchRoundTrip(t *testing.T) {
	st := skipIfNoRedis(t)
	newIndexedStore(t, st)
	ctx := context.Background()

	for _, token := range []string{"rue", "des", "lilas", "andresy"} {
		n, err := st.Count(ctx, store.TokenKey(token))
		if err != nil {
			t.Fatalf("counting %q: %v", token, err)
		}
		if n == 0 {
			t.Errorf("token %q: expected indexed members, got 0", token)
		}
	}

	members, err := st.SetMembers(ctx, store.EdgeNgramKey("lil"))
	if err != nil {
		t.Fatalf("reading ngram set: %v", err)
	}
	if len(members) != 1 || members[0] != "lilas" {
		t.Errorf("ngram lil: expected [lilas], got %v", members)
	}

	doc, err := st.DocGet(ctx, "street-lilas")
	if err != nil {
		t.Fatalf("fetching document: %v", err)
	}
	if doc.City != "Andrésy" {
		t.Errorf("expected city to survive the round trip, got %q", doc.City)
	}
	if _, ok := doc.HouseNumbers["8"]; !ok {
		t.Errorf("expected housenumber 8 to survive the round trip")
	}
}

// TestRedisIntersect verifies scored intersections across token keys.
func TestRedisIntersect(t *testing.T) {
	st := skipIfNoRedis(t)
	newIndexedStore(t, st)
	ctx := context.Background()

	ids, err := st.Intersect(ctx, []string{store.TokenKey("rue"), store.TokenKey("des")}, 10)
	if err != nil {
		t.Fatalf("intersect failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected both streets, got %v", ids)
	}

	ids, err = st.Intersect(ctx, []string{store.TokenKey("rue"), store.TokenKey("lilas")}, 10)
	if err != nil {
		t.Fatalf("intersect failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "street-lilas" {
		t.Errorf("expected [street-lilas], got %v", ids)
	}
}

// TestRedisIntersectWithFilterSet mixes a sorted-set token key with a plain
// filter set, which go-redis ZINTERSTORE supports via default weights.
func TestRedisIntersectWithFilterSet(t *testing.T) {
	st := skipIfNoRedis(t)
	newIndexedStore(t, st)
	ctx := context.Background()

	ids, err := st.Intersect(ctx, []string{
		store.TokenKey("andresy"),
		store.FilterKey("type", "city"),
	}, 10)
	if err != nil {
		t.Fatalf("intersect failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "city-andresy" {
		t.Errorf("expected [city-andresy], got %v", ids)
	}
}

// TestRedisManualScan verifies the Lua-scripted bounded scan stops at the
// wanted count and honors membership in the other keys.
func TestRedisManualScan(t *testing.T) {
	st := skipIfNoRedis(t)
	newIndexedStore(t, st)
	ctx := context.Background()

	ids, err := st.ManualScan(ctx, store.TokenKey("rue"), []string{store.TokenKey("tilleuls")}, 5)
	if err != nil {
		t.Fatalf("manual scan failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "street-tilleuls" {
		t.Errorf("expected [street-tilleuls], got %v", ids)
	}

	ids, err = st.ManualScan(ctx, store.TokenKey("des"), nil, 1)
	if err != nil {
		t.Fatalf("manual scan failed: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("expected scan to stop at wanted=1, got %v", ids)
	}
}

// TestRedisUnionStoreTTL verifies the ephemeral union key expires.
func TestRedisUnionStoreTTL(t *testing.T) {
	st := skipIfNoRedis(t)
	newIndexedStore(t, st)
	ctx := context.Background()

	dest := store.GeohashQueryKey("integration-test")
	n, err := st.UnionStore(ctx, dest, []string{store.TokenKey("rue"), store.TokenKey("andresy")}, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("union store failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 members in the union, got %d", n)
	}

	ttl, err := st.Client().TTL(ctx, dest).Result()
	if err != nil {
		t.Fatalf("reading ttl: %v", err)
	}
	if ttl <= 0 {
		t.Errorf("expected a positive ttl on the ephemeral key, got %v", ttl)
	}

	time.Sleep(300 * time.Millisecond)
	exists, err := st.Exists(ctx, dest)
	if err != nil {
		t.Fatalf("exists check failed: %v", err)
	}
	if exists {
		t.Errorf("expected ephemeral key to expire")
	}
}

// ---------------------------------------------------------------------------
// Engine over Redis
// ---------------------------------------------------------------------------

// TestRedisSearchEndToEnd runs the full pipeline against Redis: exact match,
// housenumber override, fuzzy recovery, and filters.
func TestRedisSearchEndToEnd(t *testing.T) {
	st := skipIfNoRedis(t)
	e := newIndexedStore(t, st)
	ctx := context.Background()

	results, err := e.Search(ctx, search.Query{Text: "8 rue des lilas andresy", Limit: 5})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results for an exact street query")
	}
	top := results[0]
	if top.Doc.ID != "street-lilas" {
		t.Fatalf("expected street-lilas first, got %s", top.Doc.ID)
	}
	if top.Type != "housenumber" || top.HouseNumber == nil || top.HouseNumber.Raw != "8" {
		t.Errorf("expected housenumber override, got type=%s", top.Type)
	}

	results, err = e.Search(ctx, search.Query{Text: "andrezy", Limit: 5, Fuzzy: 1})
	if err != nil {
		t.Fatalf("fuzzy search failed: %v", err)
	}
	found := false
	for _, r := range results {
		if r.Doc.ID == "city-andresy" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected fuzzy expansion to recover city-andresy")
	}

	results, err = e.Search(ctx, search.Query{
		Text: "andresy", Limit: 5,
		Filters: map[string][]string{"type": {"city"}},
	})
	if err != nil {
		t.Fatalf("filtered search failed: %v", err)
	}
	for _, r := range results {
		if r.Doc.Type != "city" {
			t.Errorf("type filter leaked document %s (%s)", r.Doc.ID, r.Doc.Type)
		}
	}
}

// TestRedisReverse verifies reverse geocoding through the geohash namespace
// stored in Redis.
func TestRedisReverse(t *testing.T) {
	st := skipIfNoRedis(t)
	e := newIndexedStore(t, st)

	results, err := e.Reverse(context.Background(), 48.9808, 2.0567, 3, nil)
	if err != nil {
		t.Fatalf("reverse failed: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected reverse results at an indexed position")
	}
	if results[0].Doc.ID != "street-lilas" {
		t.Errorf("expected street-lilas nearest, got %s", results[0].Doc.ID)
	}
}

// TestRedisDeleteRemovesDocument verifies a delete clears the document and
// its token memberships.
func TestRedisDeleteRemovesDocument(t *testing.T) {
	st := skipIfNoRedis(t)
	ctx := context.Background()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("loading defaults: %v", err)
	}
	pipeline := textpipe.New(nil)
	w := indexer.New(st, pipeline, cfg.Search, cfg.Index)
	if err := w.IndexAll(ctx, testDocuments()); err != nil {
		t.Fatalf("indexing fixture corpus: %v", err)
	}

	if err := w.Delete(ctx, "street-lilas"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	if _, err := st.DocGet(ctx, "street-lilas"); err != store.ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	n, err := st.Count(ctx, store.TokenKey("lilas"))
	if err != nil {
		t.Fatalf("counting after delete: %v", err)
	}
	if n != 0 {
		t.Errorf("expected token memberships removed, got %d", n)
	}

	e := search.New(st, pipeline, cfg.Search, cfg.Index)
	results, err := e.Search(ctx, search.Query{Text: "rue des lilas", Limit: 5})
	if err != nil {
		t.Fatalf("search after delete failed: %v", err)
	}
	for _, r := range results {
		if r.Doc.ID == "street-lilas" {
			t.Errorf("deleted document still reachable through search")
		}
	}
}
