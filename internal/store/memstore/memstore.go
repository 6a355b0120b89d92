// Package memstore implements the index store contract with in-process
// maps guarded by a RWMutex. It backs unit tests and single-binary demo
// runs; production deployments use redisstore.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/karteio/geosearch/internal/document"
	"github.com/karteio/geosearch/internal/store"
)

// Store keeps sorted-set namespaces as member→score maps and plain-set
// namespaces as member sets.
type Store struct {
	mu      sync.RWMutex
	zsets   map[string]map[string]float64
	sets    map[string]map[string]struct{}
	docs    map[string]*document.Document
	expires map[string]time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		zsets:   make(map[string]map[string]float64),
		sets:    make(map[string]map[string]struct{}),
		docs:    make(map[string]*document.Document),
		expires: make(map[string]time.Time),
	}
}

func (s *Store) Count(ctx context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.expired(key) {
		return 0, nil
	}
	if z, ok := s.zsets[key]; ok {
		return int64(len(z)), nil
	}
	return int64(len(s.sets[key])), nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.Count(ctx, key)
	return n > 0, err
}

// membersOf returns the member set of key regardless of namespace kind.
func (s *Store) membersOf(key string) map[string]float64 {
	if s.expired(key) {
		return nil
	}
	if z, ok := s.zsets[key]; ok {
		return z
	}
	if m, ok := s.sets[key]; ok {
		flat := make(map[string]float64, len(m))
		for member := range m {
			flat[member] = 1
		}
		return flat
	}
	return nil
}

func (s *Store) expired(key string) bool {
	deadline, ok := s.expires[key]
	return ok && time.Now().After(deadline)
}

func (s *Store) Intersect(ctx context.Context, keys []string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(keys) == 0 {
		return nil, nil
	}
	combined := make(map[string]float64)
	for member, score := range s.membersOf(keys[0]) {
		combined[member] = score
	}
	for _, key := range keys[1:] {
		members := s.membersOf(key)
		for member := range combined {
			score, ok := members[member]
			if !ok {
				delete(combined, member)
				continue
			}
			combined[member] += score
		}
	}
	return topMembers(combined, limit), nil
}

func (s *Store) UnionStore(ctx context.Context, dest string, keys []string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	union := make(map[string]float64)
	for _, key := range keys {
		for member, score := range s.membersOf(key) {
			if existing, ok := union[member]; !ok || score > existing {
				union[member] = score
			}
		}
	}
	if len(union) == 0 {
		delete(s.zsets, dest)
		delete(s.expires, dest)
		return 0, nil
	}
	s.zsets[dest] = union
	s.expires[dest] = time.Now().Add(ttl)
	return int64(len(union)), nil
}

func (s *Store) SetMembers(ctx context.Context, key string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := make([]string, 0, len(s.sets[key]))
	for member := range s.sets[key] {
		members = append(members, member)
	}
	sort.Strings(members)
	return members, nil
}

func (s *Store) SetContains(ctx context.Context, key string, member string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sets[key][member]
	return ok, nil
}

func (s *Store) ManualScan(ctx context.Context, scanKey string, otherKeys []string, wanted int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ranked := topMembers(s.membersOf(scanKey), -1)
	matches := make([]string, 0, wanted)
	for _, member := range ranked {
		inAll := true
		for _, key := range otherKeys {
			if _, ok := s.membersOf(key)[member]; !ok {
				inAll = false
				break
			}
		}
		if !inAll {
			continue
		}
		matches = append(matches, member)
		if wanted > 0 && len(matches) >= wanted {
			break
		}
	}
	return matches, nil
}

func (s *Store) DocGet(ctx context.Context, id string) (*document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *doc
	return &clone, nil
}

func (s *Store) DocGetMulti(ctx context.Context, ids []string) ([]*document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]*document.Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := s.docs[id]; ok {
			clone := *doc
			docs = append(docs, &clone)
		}
	}
	return docs, nil
}

func (s *Store) Apply(ctx context.Context, batch *store.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, doc := range batch.DocPuts {
		clone := *doc
		s.docs[doc.ID] = &clone
	}
	for _, id := range batch.DocDeletes {
		delete(s.docs, id)
	}
	for _, za := range batch.ZAdds {
		z, ok := s.zsets[za.Key]
		if !ok {
			z = make(map[string]float64)
			s.zsets[za.Key] = z
		}
		z[za.Member] = za.Score
	}
	for _, zr := range batch.ZRems {
		if z, ok := s.zsets[zr.Key]; ok {
			delete(z, zr.Member)
			if len(z) == 0 {
				delete(s.zsets, zr.Key)
			}
		}
	}
	for _, sa := range batch.SAdds {
		m, ok := s.sets[sa.Key]
		if !ok {
			m = make(map[string]struct{})
			s.sets[sa.Key] = m
		}
		m[sa.Member] = struct{}{}
	}
	for _, sr := range batch.SRems {
		if m, ok := s.sets[sr.Key]; ok {
			delete(m, sr.Member)
			if len(m) == 0 {
				delete(s.sets, sr.Key)
			}
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// topMembers orders members by descending score, ties broken by member for
// determinism, and truncates to limit (negative means all).
func topMembers(members map[string]float64, limit int) []string {
	type scored struct {
		member string
		score  float64
	}
	ranked := make([]scored, 0, len(members))
	for member, score := range members {
		ranked = append(ranked, scored{member, score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].member < ranked[j].member
	})
	if limit >= 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.member
	}
	return out
}
