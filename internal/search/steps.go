package search

import (
	"context"
	"sort"
	"unicode"
	"unicode/utf8"

	"github.com/karteio/geosearch/internal/store"
	"github.com/karteio/geosearch/internal/textpipe"
)

// step is one stage of the resolution ladder. run may mutate the shared
// state; returning true stops the pipeline and renders the current bucket.
// Steps execute strictly in order: this is a decision ladder, not a DAG.
type step struct {
	name string
	run  func(ctx context.Context, st *state) (bool, error)
}

func (e *Engine) defaultSteps() []step {
	return []step{
		{"only_commons", e.stepOnlyCommons},
		{"no_meaningful_but_common", e.stepNoMeaningfulButCommon},
		{"bucket_with_meaningful", e.stepBucketWithMeaningful},
		{"reduce_with_other_commons", e.stepReduceWithOtherCommons},
		{"ensure_geohash_inclusion", e.stepEnsureGeohash},
		{"autocomplete", e.stepAutocomplete},
		{"fuzzy", e.stepFuzzy},
		{"extend_results_reducing_tokens", e.stepReduceTokens},
		{"extrapolate_relations", e.stepExtrapolateRelations},
		{"check_bucket_full", e.stepCheckBucketFull},
		{"check_cream", e.stepCheckCream},
	}
}

// stepOnlyCommons shortcuts queries made entirely of common tokens: no
// narrowing is possible, so intersect them directly (adaptive strategy)
// and stop if anything came back.
func (e *Engine) stepOnlyCommons(ctx context.Context, st *state) (bool, error) {
	if len(st.commons) == 0 || len(st.commons) != st.wordCount() {
		return false, nil
	}
	keys := make([]string, 0, len(st.commons)+1)
	for _, t := range st.commons {
		keys = append(keys, t.IndexKey)
	}
	geoKey, err := e.geohashKey(ctx, st)
	if err != nil {
		return false, err
	}
	if geoKey != "" {
		keys = append(keys, geoKey)
	}
	if err := e.newBucket(ctx, st, keys, e.cfg.BucketMax); err != nil {
		return false, err
	}
	return !e.bucketEmpty(st), nil
}

// stepNoMeaningfulButCommon handles queries whose only indexed tokens are
// common: promote the rarest common to meaningful and try autocomplete.
// If coverage still misses the should-match threshold the whole search
// aborts; a low-confidence commons-only fallback is disallowed.
func (e *Engine) stepNoMeaningfulButCommon(ctx context.Context, st *state) (bool, error) {
	if len(st.meaningful) > 0 || len(st.commons) == 0 {
		return false, nil
	}
	st.meaningful = append(st.meaningful, st.commons[0])
	st.commons = st.commons[1:]
	if st.query.Autocomplete && e.cfg.Autocomplete {
		if err := e.autocompleteExtend(ctx, st, st.meaningful, false); err != nil {
			return false, err
		}
	}
	if len(st.matchedKeys) < st.shouldMatchThreshold {
		st.aborted = true
		return true, nil
	}
	if e.bucketFull(st) || e.bucketOverflow(st) {
		return true, nil
	}
	cream, err := e.hasCream(ctx, st)
	if err != nil {
		return false, err
	}
	return cream, nil
}

// stepBucketWithMeaningful builds the main bucket from the meaningful
// tokens. A single meaningful token with commons available co-opts one
// common to avoid a degenerate single-term search.
func (e *Engine) stepBucketWithMeaningful(ctx context.Context, st *state) (bool, error) {
	if len(st.meaningful) == 0 {
		return false, nil
	}
	if len(st.meaningful) == 1 && len(st.commons) > 0 && len(st.filters) == 0 {
		st.meaningful = append(st.meaningful, st.commons[0])
		st.commons = st.commons[1:]
		sortTokensByFrequency(st.meaningful)
	}
	keys := st.meaningfulKeys()
	if e.bucketEmpty(st) {
		if err := e.newBucket(ctx, st, keys, e.cfg.SmallBucketLimit); err != nil {
			return false, err
		}
		if !(st.query.Autocomplete && e.cfg.Autocomplete) {
			// With autocomplete off a near-exact match in a small bucket
			// is already the answer.
			cream, err := e.hasCream(ctx, st)
			if err != nil {
				return false, err
			}
			if cream {
				return true, nil
			}
		}
		if len(st.bucket) == e.cfg.SmallBucketLimit {
			// The small probe filled up; rerun at full capacity.
			if err := e.newBucket(ctx, st, keys, e.cfg.BucketMax); err != nil {
				return false, err
			}
		}
	} else {
		if err := e.addToBucket(ctx, st, keys, -1); err != nil {
			return false, err
		}
	}
	return false, nil
}

// stepReduceWithOtherCommons narrows an overflowing bucket: overflow means
// the query is underspecified, so add discriminating common tokens,
// rarest first, and rebuild.
func (e *Engine) stepReduceWithOtherCommons(ctx context.Context, st *state) (bool, error) {
	for len(st.commons) > 0 && e.bucketOverflow(st) {
		st.meaningful = append(st.meaningful, st.commons[0])
		st.commons = st.commons[1:]
		if err := e.newBucket(ctx, st, st.meaningfulKeys(), e.cfg.BucketMax); err != nil {
			return false, err
		}
	}
	return false, nil
}

// stepEnsureGeohash forces nearby results into an overflowing bucket so
// they are not crowded out by non-geo matches.
func (e *Engine) stepEnsureGeohash(ctx context.Context, st *state) (bool, error) {
	if !e.bucketOverflow(st) || st.query.Center == nil {
		return false, nil
	}
	geoKey, err := e.geohashKey(ctx, st)
	if err != nil || geoKey == "" {
		return false, err
	}
	keys := append(st.meaningfulKeys(), geoKey)
	if err := e.addToBucket(ctx, st, keys, st.query.Limit); err != nil {
		return false, err
	}
	return false, nil
}

// stepAutocomplete extends a non-overflowing bucket with completions of the
// last, possibly partial, token.
func (e *Engine) stepAutocomplete(ctx context.Context, st *state) (bool, error) {
	if e.bucketOverflow(st) {
		return false, nil
	}
	if !st.query.Autocomplete || !e.cfg.Autocomplete {
		return false, nil
	}
	if err := e.autocompleteExtend(ctx, st, st.meaningful, false); err != nil {
		return false, err
	}
	if e.bucketDry(st) && st.query.Center != nil {
		if err := e.autocompleteExtend(ctx, st, st.meaningful, true); err != nil {
			return false, err
		}
	}
	return false, nil
}

// autocompleteExtend unions in the intersections of the base tokens' keys
// with each indexed completion of the last token.
func (e *Engine) autocompleteExtend(ctx context.Context, st *state, base []*textpipe.Token, useGeohash bool) error {
	last := st.lastToken()
	if last == nil || last.Kind == textpipe.KindHouseNumber {
		return nil
	}
	if utf8.RuneCountInString(last.Normalized) < e.edgeNgramMin {
		return nil
	}
	completions, err := e.store.SetMembers(ctx, store.EdgeNgramKey(last.Normalized))
	if err != nil {
		return err
	}
	others := make([]string, 0, len(base)+1)
	for _, t := range base {
		if t == last || t.IndexKey == "" {
			continue
		}
		others = append(others, t.IndexKey)
	}
	if useGeohash {
		geoKey, err := e.geohashKey(ctx, st)
		if err != nil {
			return err
		}
		if geoKey != "" {
			others = append(others, geoKey)
		}
	}
	const maxCompletions = 50
	if len(completions) > maxCompletions {
		completions = completions[:maxCompletions]
	}
	for _, word := range completions {
		if e.bucketOverflow(st) {
			break
		}
		keys := append(append([]string(nil), others...), store.TokenKey(word))
		if err := e.addToBucket(ctx, st, keys, -1); err != nil {
			return err
		}
	}
	return nil
}

// stepFuzzy broadens a dry bucket through one-edit neighbors: first for
// tokens missing from the index, then for the meaningful ones.
func (e *Engine) stepFuzzy(ctx context.Context, st *state) (bool, error) {
	if st.query.Fuzzy <= 0 || e.cfg.FuzzyEditBudget <= 0 {
		return false, nil
	}
	cream, err := e.hasCream(ctx, st)
	if err != nil || cream {
		return false, err
	}
	if len(st.notFound) > 0 {
		if err := e.fuzzyExtend(ctx, st, st.notFound, true); err != nil {
			return false, err
		}
	}
	if e.bucketDry(st) {
		if cream, err = e.hasCream(ctx, st); err != nil || cream {
			return false, err
		}
		if err := e.fuzzyExtend(ctx, st, st.meaningful, true); err != nil {
			return false, err
		}
	}
	if e.bucketDry(st) {
		if cream, err = e.hasCream(ctx, st); err != nil || cream {
			return false, err
		}
		if err := e.fuzzyExtend(ctx, st, st.meaningful, false); err != nil {
			return false, err
		}
	}
	return false, nil
}

// fuzzyExtend tries each token's indexed one-edit neighbors as a
// replacement, keeping the rest of the query fixed.
func (e *Engine) fuzzyExtend(ctx context.Context, st *state, tokens []*textpipe.Token, includeCommons bool) error {
	for _, t := range tokens {
		if e.bucketOverflow(st) {
			return nil
		}
		neighbors, err := e.indexedNeighbors(ctx, t.Normalized)
		if err != nil {
			return err
		}
		if len(neighbors) == 0 {
			continue
		}
		others := make([]string, 0, len(st.meaningful)+len(st.commons))
		for _, m := range st.meaningful {
			if m != t && m.IndexKey != "" {
				others = append(others, m.IndexKey)
			}
		}
		if includeCommons {
			for _, c := range st.commons {
				if c != t && c.IndexKey != "" {
					others = append(others, c.IndexKey)
				}
			}
		}
		for _, n := range neighbors {
			if e.bucketOverflow(st) {
				break
			}
			keys := append(append([]string(nil), others...), store.TokenKey(n))
			if err := e.addToBucket(ctx, st, keys, -1); err != nil {
				return err
			}
		}
	}
	return nil
}

// indexedNeighbors filters the generated neighborhood down to words that
// exist in the index, preserving the generator's priority order.
func (e *Engine) indexedNeighbors(ctx context.Context, word string) ([]string, error) {
	const maxKept = 10
	var kept []string
	for _, candidate := range e.gen.Neighbors(word) {
		ok, err := e.store.Exists(ctx, store.TokenKey(candidate))
		if err != nil {
			return nil, err
		}
		if ok {
			kept = append(kept, candidate)
			if len(kept) >= maxKept {
				break
			}
		}
	}
	return kept, nil
}

// stepReduceTokens drops meaningful tokens one at a time (digits first,
// then highest frequency) to loosen an over-constrained query; pairs are
// dropped as a last resort on longer queries.
func (e *Engine) stepReduceTokens(ctx context.Context, st *state) (bool, error) {
	// A bucket with slack against the should-match coverage is as suspect
	// as a dry one: some tokens never matched anything.
	coverageShort := len(st.matchedKeys) < st.shouldMatchThreshold
	if e.bucketOverflow(st) || (!e.bucketDry(st) && !coverageShort) {
		return false, nil
	}
	ordered := append([]*textpipe.Token(nil), st.meaningful...)
	sort.SliceStable(ordered, func(i, j int) bool {
		di, dj := isNumeric(ordered[i].Normalized), isNumeric(ordered[j].Normalized)
		if di != dj {
			return di
		}
		return ordered[i].Frequency > ordered[j].Frequency
	})
	for _, drop := range ordered {
		if e.bucketOverflow(st) {
			break
		}
		keys := keysExcluding(st.meaningful, drop, nil)
		if len(keys) == 0 {
			continue
		}
		if err := e.addToBucket(ctx, st, keys, -1); err != nil {
			return false, err
		}
	}
	if e.bucketEmpty(st) && len(st.meaningful) > 3 {
		for i := 0; i < len(ordered) && !e.bucketOverflow(st); i++ {
			for j := i + 1; j < len(ordered); j++ {
				keys := keysExcluding(st.meaningful, ordered[i], ordered[j])
				if len(keys) == 0 {
					continue
				}
				if err := e.addToBucket(ctx, st, keys, -1); err != nil {
					return false, err
				}
				if e.bucketOverflow(st) {
					break
				}
			}
		}
	}
	return false, nil
}

// stepExtrapolateRelations is the fallback of last resort: rebuild the
// bucket from interlinked token subsets mined from pair-adjacency data.
func (e *Engine) stepExtrapolateRelations(ctx context.Context, st *state) (bool, error) {
	if !e.bucketDry(st) {
		return false, nil
	}
	relations, err := e.extrapolateRelations(ctx, st)
	if err != nil {
		return false, err
	}
	for _, rel := range relations {
		keys := make([]string, 0, len(rel))
		for _, t := range rel {
			keys = append(keys, t.IndexKey)
		}
		if err := e.addToBucket(ctx, st, keys, -1); err != nil {
			return false, err
		}
		if e.bucketOverflow(st) {
			break
		}
	}
	return false, nil
}

func (e *Engine) stepCheckBucketFull(ctx context.Context, st *state) (bool, error) {
	return e.bucketFull(st), nil
}

func (e *Engine) stepCheckCream(ctx context.Context, st *state) (bool, error) {
	return e.hasCream(ctx, st)
}

func keysExcluding(tokens []*textpipe.Token, a, b *textpipe.Token) []string {
	keys := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t == a || t == b || t.IndexKey == "" {
			continue
		}
		keys = append(keys, t.IndexKey)
	}
	return keys
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}
