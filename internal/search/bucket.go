package search

import (
	"context"

	"github.com/karteio/geosearch/internal/store"
)

// Bucket predicates. The floor (BucketMin) is the target below which the
// bucket is "dry" and steps keep broadening; the ceiling (BucketMax) marks
// an underspecified query.

func (e *Engine) bucketFull(st *state) bool {
	return len(st.bucket) >= e.cfg.BucketMin && len(st.bucket) < e.cfg.BucketMax
}

func (e *Engine) bucketOverflow(st *state) bool {
	return len(st.bucket) >= e.cfg.BucketMax
}

func (e *Engine) bucketDry(st *state) bool {
	return len(st.bucket) < e.cfg.BucketMin
}

func (e *Engine) bucketEmpty(st *state) bool {
	return len(st.bucket) == 0
}

// newBucket replaces the bucket with the intersection of keys and the
// active filters.
func (e *Engine) newBucket(ctx context.Context, st *state, keys []string, limit int) error {
	ids, err := e.retrieve(ctx, st, keys, limit)
	if err != nil {
		return err
	}
	st.bucket = make(map[string]struct{}, len(ids))
	st.addMatched(ids, tokenKeysOf(keys))
	return nil
}

// addToBucket unions in the intersection of keys without clearing existing
// members. A negative limit means "up to remaining capacity".
func (e *Engine) addToBucket(ctx context.Context, st *state, keys []string, limit int) error {
	if limit < 0 {
		limit = e.cfg.BucketMax - len(st.bucket)
		if limit <= 0 {
			return nil
		}
	}
	ids, err := e.retrieve(ctx, st, keys, limit)
	if err != nil {
		return err
	}
	st.addMatched(ids, tokenKeysOf(keys))
	return nil
}

// retrieve is the adaptive intersection strategy. Single key: direct top-N.
// Multiple keys with an affordable rarest token: full intersection. High
// frequency everywhere: drive by the most selective filter when it beats
// the rarest token, otherwise fall back to the store-side bounded manual
// scan so a common-word query never materializes its full posting set.
func (e *Engine) retrieve(ctx context.Context, st *state, keys []string, limit int) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	all := append(append([]string(nil), keys...), st.filters...)
	if len(all) == 1 {
		return e.store.Intersect(ctx, all, limit)
	}

	scanKey, minFreq, err := e.rarestKey(ctx, keys)
	if err != nil {
		return nil, err
	}
	if minFreq < e.cfg.IntersectLimit {
		return e.store.Intersect(ctx, all, limit)
	}
	if len(st.filters) > 0 && e.cfg.FilterRatio > 0 {
		filterCard, err := e.minCount(ctx, st.filters)
		if err != nil {
			return nil, err
		}
		// The most selective filter bounds the intersection cost below
		// the rarest token, so a full intersect stays cheap.
		if float64(filterCard) < e.cfg.FilterRatio*float64(minFreq) {
			return e.store.Intersect(ctx, all, limit)
		}
	}
	others := make([]string, 0, len(all)-1)
	for _, key := range all {
		if key != scanKey {
			others = append(others, key)
		}
	}
	return e.store.ManualScan(ctx, scanKey, others, limit)
}

// rarestKey returns the sorted-set key with the lowest cardinality among
// keys, the scan driver candidate.
func (e *Engine) rarestKey(ctx context.Context, keys []string) (string, int64, error) {
	var best string
	var bestCount int64 = -1
	for _, key := range keys {
		if !store.IsSortedSetKey(key) {
			continue
		}
		n, err := e.store.Count(ctx, key)
		if err != nil {
			return "", 0, err
		}
		if bestCount < 0 || n < bestCount {
			best, bestCount = key, n
		}
	}
	if bestCount < 0 {
		return keys[0], 0, nil
	}
	return best, bestCount, nil
}

func (e *Engine) minCount(ctx context.Context, keys []string) (int64, error) {
	var min int64 = -1
	for _, key := range keys {
		n, err := e.store.Count(ctx, key)
		if err != nil {
			return 0, err
		}
		if min < 0 || n < min {
			min = n
		}
	}
	return min, nil
}

func tokenKeysOf(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if store.IsTokenKey(key) {
			out = append(out, key)
		}
	}
	return out
}
