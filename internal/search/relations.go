package search

import (
	"context"
	"sort"

	"github.com/karteio/geosearch/internal/store"
	"github.com/karteio/geosearch/internal/textpipe"
)

// relationFinder memoizes pairwise co-occurrence checks against the
// pair-adjacency sets so each (a, b) costs at most one store round trip,
// in either direction.
type relationFinder struct {
	store store.Reader
	memo  map[string]map[string]bool
}

func newRelationFinder(st store.Reader) *relationFinder {
	return &relationFinder{
		store: st,
		memo:  make(map[string]map[string]bool),
	}
}

// related reports whether tokens a and b co-occur in at least one indexed
// document.
func (f *relationFinder) related(ctx context.Context, a, b string) (bool, error) {
	if known, ok := f.lookup(a, b); ok {
		return known, nil
	}
	found, err := f.store.SetContains(ctx, store.PairKey(a), b)
	if err != nil {
		return false, err
	}
	f.remember(a, b, found)
	return found, nil
}

func (f *relationFinder) lookup(a, b string) (value, ok bool) {
	if m, exists := f.memo[a]; exists {
		if v, hit := m[b]; hit {
			return v, true
		}
	}
	if m, exists := f.memo[b]; exists {
		if v, hit := m[a]; hit {
			return v, true
		}
	}
	return false, false
}

func (f *relationFinder) remember(a, b string, value bool) {
	if f.memo[a] == nil {
		f.memo[a] = make(map[string]bool)
	}
	f.memo[a][b] = value
}

// extrapolateRelations mines the largest interlinked token subsets from
// pair-adjacency data. Growth is greedy: a token joins a relation only if
// it is adjacent to every current member. This approximates cliques
// without the cost of true clique detection.
func (e *Engine) extrapolateRelations(ctx context.Context, st *state) ([][]*textpipe.Token, error) {
	tokens := append(append([]*textpipe.Token(nil), st.meaningful...), st.commons...)
	if len(tokens) < 2 {
		return nil, nil
	}
	commons := make(map[*textpipe.Token]struct{}, len(st.commons))
	for _, c := range st.commons {
		commons[c] = struct{}{}
	}

	finder := newRelationFinder(e.store)
	var relations [][]*textpipe.Token
	for _, origin := range tokens {
		rel := []*textpipe.Token{origin}
		for _, other := range tokens {
			if other == origin {
				continue
			}
			adjacentToAll := true
			for _, member := range rel {
				ok, err := finder.related(ctx, member.Normalized, other.Normalized)
				if err != nil {
					return nil, err
				}
				if !ok {
					adjacentToAll = false
					break
				}
			}
			if adjacentToAll {
				rel = append(rel, other)
			}
		}
		// Commons are the likeliest false positives once other members
		// have validated the group; strip them before sizing the relation.
		stripped := rel[:0:0]
		for _, t := range rel {
			if _, isCommon := commons[t]; !isCommon {
				stripped = append(stripped, t)
			}
		}
		if len(stripped) > 1 {
			relations = append(relations, stripped)
		}
	}
	relations = dedupeSubsets(relations)
	sortByAverageFrequency(relations)
	return relations, nil
}

// dedupeSubsets removes any relation that is a strict subset of another,
// processing largest first so the absorbing relation always survives.
func dedupeSubsets(relations [][]*textpipe.Token) [][]*textpipe.Token {
	sort.SliceStable(relations, func(i, j int) bool {
		return len(relations[i]) > len(relations[j])
	})
	kept := relations[:0:0]
	for _, rel := range relations {
		absorbed := false
		for _, larger := range kept {
			if isSubset(rel, larger) {
				absorbed = true
				break
			}
		}
		if !absorbed {
			kept = append(kept, rel)
		}
	}
	return kept
}

func isSubset(small, large []*textpipe.Token) bool {
	if len(small) > len(large) {
		return false
	}
	members := make(map[string]struct{}, len(large))
	for _, t := range large {
		members[t.Normalized] = struct{}{}
	}
	for _, t := range small {
		if _, ok := members[t.Normalized]; !ok {
			return false
		}
	}
	return true
}

// sortByAverageFrequency orders relations for deterministic trial order;
// rarer groups are likelier to pin down an exact match quickly.
func sortByAverageFrequency(relations [][]*textpipe.Token) {
	avg := func(rel []*textpipe.Token) float64 {
		var sum int64
		for _, t := range rel {
			sum += t.Frequency
		}
		return float64(sum) / float64(len(rel))
	}
	sort.SliceStable(relations, func(i, j int) bool {
		return avg(relations[i]) < avg(relations[j])
	})
}
