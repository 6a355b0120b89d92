package search

import (
	"context"
	"math"

	"github.com/karteio/geosearch/internal/store"
	"github.com/karteio/geosearch/internal/textpipe"
)

// classify resolves every token's document frequency and splits the token
// set into commons, meaningful, and not-found. Housenumber-shaped tokens go
// to their own list and are never matched as words.
func (e *Engine) classify(ctx context.Context, st *state, tokens []*textpipe.Token) error {
	for _, t := range tokens {
		if t.Kind == textpipe.KindHouseNumber {
			st.housenumbers = append(st.housenumbers, t)
			continue
		}
		st.tokens = append(st.tokens, t)
	}
	sortTokensByLength(st.tokens)

	for _, t := range st.tokens {
		if err := e.resolveFrequency(ctx, t); err != nil {
			return err
		}
		switch {
		case t.Frequency == 0:
			st.notFound = append(st.notFound, t)
		case t.Frequency > e.cfg.CommonThreshold:
			st.commons = append(st.commons, t)
		default:
			st.meaningful = append(st.meaningful, t)
		}
	}

	sortTokensByFrequency(st.commons)
	sortTokensByFrequency(st.meaningful)
	if len(st.meaningful) > e.cfg.MaxMeaningful {
		// Tokens over the cap degrade to common so they remain usable as
		// extension candidates instead of being silently dropped.
		overflow := st.meaningful[e.cfg.MaxMeaningful:]
		st.meaningful = st.meaningful[:e.cfg.MaxMeaningful]
		st.commons = append(st.commons, overflow...)
		sortTokensByFrequency(st.commons)
	}

	// At least two thirds of the query's tokens must contribute to the
	// bucket for the match to be trusted.
	st.shouldMatchThreshold = int(math.Ceil(2.0 / 3.0 * float64(st.wordCount())))
	return nil
}

// resolveFrequency memoizes the token's document frequency and index key.
// The store is asked at most once per token instance.
func (e *Engine) resolveFrequency(ctx context.Context, t *textpipe.Token) error {
	if t.Frequency >= 0 {
		return nil
	}
	key := store.TokenKey(t.Normalized)
	freq, err := e.store.Count(ctx, key)
	if err != nil {
		return err
	}
	t.Frequency = freq
	if freq > 0 {
		t.IndexKey = key
	}
	return nil
}
