// Package search implements the search resolution engine: token
// classification, adaptive bucket construction, the short-circuiting step
// pipeline, relation extrapolation, and result scoring. It depends on an
// index store for all data access and holds no per-query state of its own,
// so one Engine serves concurrent searches.
package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/karteio/geosearch/internal/fuzzy"
	"github.com/karteio/geosearch/internal/store"
	"github.com/karteio/geosearch/internal/textpipe"
	"github.com/karteio/geosearch/pkg/config"
	"github.com/karteio/geosearch/pkg/geo"
	"github.com/karteio/geosearch/pkg/metrics"
	"github.com/karteio/geosearch/pkg/tracing"
)

// Engine resolves queries against an index store.
type Engine struct {
	store    store.Reader
	pipeline *textpipe.Pipeline
	gen      *fuzzy.Generator
	cfg      config.SearchConfig
	// edgeNgramMin mirrors the indexing-side minimum so autocomplete only
	// queries prefixes that can exist.
	edgeNgramMin int
	steps        []step
	logger       *slog.Logger
}

// New builds an Engine. The synonym table inside pipeline must be loaded
// before the first call and never mutated afterwards.
func New(st store.Reader, pipeline *textpipe.Pipeline, cfg config.SearchConfig, idx config.IndexConfig) *Engine {
	var gen *fuzzy.Generator
	if cfg.KeyboardLayout != "" {
		gen = fuzzy.NewGeneratorWithLayout(cfg.KeyboardLayout)
	} else {
		gen = fuzzy.NewGenerator()
	}
	e := &Engine{
		store:        st,
		pipeline:     pipeline,
		gen:          gen,
		cfg:          cfg,
		edgeNgramMin: idx.EdgeNgramMin,
		logger:       slog.Default().With("component", "search-engine"),
	}
	e.steps = e.defaultSteps()
	return e
}

// Search runs the full resolution pipeline and returns scored results,
// best first. Empty input and exhausted pipelines both return an empty
// slice, not an error; store failures propagate.
func (e *Engine) Search(ctx context.Context, q Query) ([]*Result, error) {
	if q.Limit <= 0 {
		q.Limit = e.cfg.DefaultLimit
	}
	tokens := e.pipeline.Process(q.Text)
	if len(tokens) == 0 {
		return []*Result{}, nil
	}

	st := newState(q)
	if err := e.prepareFilters(ctx, st); err != nil {
		return nil, err
	}
	if err := e.classify(ctx, st, tokens); err != nil {
		return nil, fmt.Errorf("classifying tokens: %w", err)
	}

	ctx, span := tracing.StartSpan(ctx, "search", "")
	defer span.End()
	for _, s := range e.steps {
		stepCtx, stepSpan := tracing.StartChildSpan(ctx, s.name)
		metrics.SearchSteps.WithLabelValues(s.name).Inc()
		stop, err := s.run(stepCtx, st)
		stepSpan.SetAttr("bucket_size", len(st.bucket))
		stepSpan.End()
		if err != nil {
			return nil, fmt.Errorf("step %s: %w", s.name, err)
		}
		if st.aborted {
			e.logger.Debug("search aborted below should-match threshold",
				"query", q.Text, "step", s.name,
				"matched_tokens", st.matchedTokens())
			return []*Result{}, nil
		}
		if stop {
			e.logger.Debug("step pipeline short-circuited",
				"query", q.Text, "step", s.name, "bucket_size", len(st.bucket))
			break
		}
	}
	return e.render(ctx, st)
}

// Reverse finds the documents nearest to a point. The geohash neighborhood
// is widened by one ring at most once when the first pass finds nothing.
func (e *Engine) Reverse(ctx context.Context, lat, lon float64, limit int, filters map[string][]string) ([]*Result, error) {
	if limit <= 0 {
		limit = 1
	}
	st := newState(Query{
		Center:  &Point{Lat: lat, Lon: lon},
		Limit:   limit,
		Filters: filters,
	})
	st.reverse = true
	if err := e.prepareFilters(ctx, st); err != nil {
		return nil, err
	}

	cell := geo.Encode(lat, lon, e.cfg.GeohashPrecision)
	cells := geo.Neighborhood(cell)
	key, err := e.storeGeohashUnion(ctx, cell, cells)
	if err != nil {
		return nil, err
	}
	if key == "" {
		cells = geo.Expand(cells)
		key, err = e.storeGeohashUnion(ctx, cell, cells)
		if err != nil {
			return nil, err
		}
		if key == "" {
			return []*Result{}, nil
		}
	}

	// Over-fetch so the distance sort is not at the mercy of index scores.
	ids, err := e.retrieve(ctx, st, []string{key}, limit*4)
	if err != nil {
		return nil, err
	}
	st.addMatched(ids, nil)
	return e.render(ctx, st)
}

// prepareFilters converts the query's attribute filters into index keys.
// Multi-valued filters are unioned under an ephemeral key so they still AND
// with the rest.
func (e *Engine) prepareFilters(ctx context.Context, st *state) error {
	for name, values := range st.query.Filters {
		if len(values) == 0 {
			continue
		}
		keys := make([]string, 0, len(values))
		for _, v := range values {
			keys = append(keys, store.FilterKey(name, textpipe.NormalizeString(v)))
		}
		if len(keys) == 1 {
			st.filters = append(st.filters, keys[0])
			continue
		}
		dest := store.GeohashQueryKey("filter|" + name)
		if _, err := e.store.UnionStore(ctx, dest, keys, e.cfg.GeohashTTL); err != nil {
			return fmt.Errorf("unioning filter %s: %w", name, err)
		}
		st.filters = append(st.filters, dest)
	}
	return nil
}

// geohashKey lazily builds the ephemeral 9-cell neighborhood key for the
// query center. Resolved at most once per search; the TTL guarantees
// abandoned keys expire on their own.
func (e *Engine) geohashKey(ctx context.Context, st *state) (string, error) {
	if st.geohashResolved {
		return st.geohashKey, nil
	}
	st.geohashResolved = true
	if st.query.Center == nil {
		return "", nil
	}
	cell := geo.Encode(st.query.Center.Lat, st.query.Center.Lon, e.cfg.GeohashPrecision)
	key, err := e.storeGeohashUnion(ctx, cell, geo.Neighborhood(cell))
	if err != nil {
		return "", err
	}
	st.geohashKey = key
	return key, nil
}

func (e *Engine) storeGeohashUnion(ctx context.Context, cell string, cells []string) (string, error) {
	keys := make([]string, len(cells))
	for i, c := range cells {
		keys[i] = store.GeohashKey(c)
	}
	dest := store.GeohashQueryKey(cell)
	count, err := e.store.UnionStore(ctx, dest, keys, e.cfg.GeohashTTL)
	if err != nil {
		return "", fmt.Errorf("unioning geohash neighborhood %s: %w", cell, err)
	}
	if count == 0 {
		return "", nil
	}
	return dest, nil
}
