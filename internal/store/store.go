// Package store defines the index store contract the search engine and the
// index writer depend on, along with the index key namespaces. The
// production implementation is Redis (redisstore); memstore provides the
// same semantics in memory for tests and single-binary use.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/karteio/geosearch/internal/document"
)

// ErrNotFound is returned by document lookups for unknown ids.
var ErrNotFound = errors.New("document not found")

// Reader is the read half of the index store, everything a search needs.
type Reader interface {
	// Count returns the number of members under key (document frequency
	// for token keys, cardinality for filter keys). Missing keys count 0.
	Count(ctx context.Context, key string) (int64, error)

	// Exists reports whether key holds at least one member.
	Exists(ctx context.Context, key string) (bool, error)

	// Intersect returns up to limit document ids present under every key,
	// ranked by combined score descending. With a single key it is a plain
	// top-N by score.
	Intersect(ctx context.Context, keys []string, limit int) ([]string, error)

	// UnionStore unions keys into dest with the given expiry and returns
	// the member count. Used to aggregate geohash neighborhoods under an
	// ephemeral key.
	UnionStore(ctx context.Context, dest string, keys []string, ttl time.Duration) (int64, error)

	// SetMembers returns the members of a plain set key (pair-adjacency
	// and edge-ngram namespaces).
	SetMembers(ctx context.Context, key string) ([]string, error)

	// SetContains reports whether member is in the set at key.
	SetContains(ctx context.Context, key string, member string) (bool, error)

	// ManualScan iterates scanKey's members from highest score down,
	// keeping those present under every other key, and stops as soon as
	// wanted matches are found. The scan runs store-side and atomically,
	// so a high-cardinality token never has its full posting set shipped
	// to the caller.
	ManualScan(ctx context.Context, scanKey string, otherKeys []string, wanted int) ([]string, error)

	// DocGet fetches one document by id.
	DocGet(ctx context.Context, id string) (*document.Document, error)

	// DocGetMulti fetches documents by id, batched in one round trip where
	// the store supports it. Unknown ids are skipped, not errors.
	DocGetMulti(ctx context.Context, ids []string) ([]*document.Document, error)
}

// Writer is the write half, used by the index writer only.
type Writer interface {
	// Apply executes a batch of index mutations, atomically where the
	// store supports it.
	Apply(ctx context.Context, batch *Batch) error
}

// Store combines both halves.
type Store interface {
	Reader
	Writer
	Ping(ctx context.Context) error
	Close() error
}

// ScoredMember is one member mutation in a sorted-set namespace.
type ScoredMember struct {
	Key    string
	Member string
	Score  float64
}

// Member is one member mutation in a plain-set namespace.
type Member struct {
	Key    string
	Member string
}

// Batch groups the index mutations derived from one document.
type Batch struct {
	DocPuts    []*document.Document
	DocDeletes []string
	ZAdds      []ScoredMember
	ZRems      []Member
	SAdds      []Member
	SRems      []Member
}

// Empty reports whether the batch holds no mutations.
func (b *Batch) Empty() bool {
	return len(b.DocPuts) == 0 && len(b.DocDeletes) == 0 &&
		len(b.ZAdds) == 0 && len(b.ZRems) == 0 &&
		len(b.SAdds) == 0 && len(b.SRems) == 0
}
