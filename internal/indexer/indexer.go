// Package indexer turns documents into index key mutations: scored token
// sets, pair adjacency, edge n-grams, geohash cells, attribute filters and
// the document record itself.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/karteio/geosearch/internal/document"
	"github.com/karteio/geosearch/internal/store"
	"github.com/karteio/geosearch/internal/textpipe"
	"github.com/karteio/geosearch/pkg/config"
	"github.com/karteio/geosearch/pkg/geo"
	"github.com/karteio/geosearch/pkg/logger"
	"github.com/karteio/geosearch/pkg/metrics"
)

// Writer derives and applies index mutations for documents.
type Writer struct {
	store    store.Store
	pipeline *textpipe.Pipeline
	search   config.SearchConfig
	index    config.IndexConfig
	logger   *slog.Logger
}

// New builds a Writer sharing the search engine's text pipeline so indexed
// and queried tokens normalize identically.
func New(st store.Store, pipeline *textpipe.Pipeline, searchCfg config.SearchConfig, indexCfg config.IndexConfig) *Writer {
	return &Writer{
		store:    st,
		pipeline: pipeline,
		search:   searchCfg,
		index:    indexCfg,
		logger:   logger.WithComponent("indexer"),
	}
}

// Index validates doc and applies its full mutation batch. Re-indexing an
// existing id first removes the previous version so stale tokens cannot
// linger.
func (w *Writer) Index(ctx context.Context, doc *document.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	prev, err := w.store.DocGet(ctx, doc.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("fetching previous version of %s: %w", doc.ID, err)
	}
	batch := w.buildBatch(doc)
	if prev != nil {
		mergeRemovals(batch, w.removalBatch(prev))
	}
	if err := w.store.Apply(ctx, batch); err != nil {
		return fmt.Errorf("indexing %s: %w", doc.ID, err)
	}
	metrics.DocumentsIndexed.Inc()
	w.logger.Debug("document indexed", "id", doc.ID, "type", doc.Type)
	return nil
}

// IndexAll indexes docs with bounded parallelism. The first failure cancels
// the remaining writes.
func (w *Writer) IndexAll(ctx context.Context, docs []*document.Document) error {
	g, ctx := errgroup.WithContext(ctx)
	limit := w.index.WriteConcurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for _, doc := range docs {
		doc := doc
		g.Go(func() error {
			return w.Index(ctx, doc)
		})
	}
	return g.Wait()
}

// Delete removes a document and its token and geohash memberships. Deleting
// an unknown id is a no-op.
func (w *Writer) Delete(ctx context.Context, id string) error {
	doc, err := w.store.DocGet(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetching %s for deletion: %w", id, err)
	}
	if err := w.store.Apply(ctx, w.removalBatch(doc)); err != nil {
		return fmt.Errorf("deleting %s: %w", id, err)
	}
	metrics.DocumentsDeleted.Inc()
	w.logger.Debug("document deleted", "id", id)
	return nil
}

// mergeRemovals folds the previous version's removals into batch, skipping
// any membership the new version re-adds. Stores apply removals after adds
// inside one batch, so an unfiltered merge would erase surviving members.
func mergeRemovals(batch, removal *store.Batch) {
	added := make(map[store.Member]struct{}, len(batch.ZAdds)+len(batch.SAdds))
	for _, z := range batch.ZAdds {
		added[store.Member{Key: z.Key, Member: z.Member}] = struct{}{}
	}
	for _, s := range batch.SAdds {
		added[s] = struct{}{}
	}
	for _, z := range removal.ZRems {
		if _, ok := added[z]; !ok {
			batch.ZRems = append(batch.ZRems, z)
		}
	}
	for _, s := range removal.SRems {
		if _, ok := added[s]; !ok {
			batch.SRems = append(batch.SRems, s)
		}
	}
}

// indexedField is one tokenizable document field with its score boost.
type indexedField struct {
	value string
	boost float64
}

func (w *Writer) fields(doc *document.Document) []indexedField {
	boost := func(name string) float64 {
		// Conditional rules take precedence over the static field boosts.
		for _, rule := range w.index.BoostRules {
			if rule.Field == name && rule.DocType == doc.Type {
				return rule.Boost
			}
		}
		if b, ok := w.index.FieldBoosts[name]; ok {
			return b
		}
		return w.index.DefaultBoost
	}
	return []indexedField{
		{doc.Name, boost("name")},
		{doc.City, boost("city")},
		{doc.Postcode, boost("postcode")},
		{doc.Context, boost("context")},
	}
}

// tokenScores returns the document's indexable tokens, sorted, mapped to
// their sorted-set score: the best field boost plus the document importance,
// so more important documents surface first when a token set is read top
// down. Housenumber-shaped tokens are skipped; they match through the
// document's housenumber table, not the token index.
func (w *Writer) tokenScores(doc *document.Document) ([]string, map[string]float64) {
	scores := make(map[string]float64)
	for _, f := range w.fields(doc) {
		if f.value == "" {
			continue
		}
		for _, t := range w.pipeline.Process(f.value) {
			if t.Kind == textpipe.KindHouseNumber || t.Normalized == "" {
				continue
			}
			score := f.boost + doc.Importance
			if score > scores[t.Normalized] {
				scores[t.Normalized] = score
			}
		}
	}
	tokens := make([]string, 0, len(scores))
	for tok := range scores {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)
	return tokens, scores
}

// geohashCells returns the distinct cells covering the document center and
// every housenumber position.
func (w *Writer) geohashCells(doc *document.Document) []string {
	seen := map[string]struct{}{}
	var cells []string
	add := func(lat, lon float64) {
		cell := geo.Encode(lat, lon, w.search.GeohashPrecision)
		if _, ok := seen[cell]; !ok {
			seen[cell] = struct{}{}
			cells = append(cells, cell)
		}
	}
	add(doc.Lat, doc.Lon)
	for _, hn := range doc.HouseNumbers {
		if hn.Lat != 0 || hn.Lon != 0 {
			add(hn.Lat, hn.Lon)
		}
	}
	sort.Strings(cells)
	return cells
}

// buildBatch derives the complete add-side mutation batch for doc.
func (w *Writer) buildBatch(doc *document.Document) *store.Batch {
	batch := &store.Batch{DocPuts: []*document.Document{doc}}

	tokens, scores := w.tokenScores(doc)
	for _, tok := range tokens {
		batch.ZAdds = append(batch.ZAdds, store.ScoredMember{
			Key:    store.TokenKey(tok),
			Member: doc.ID,
			Score:  scores[tok],
		})
		for _, gram := range textpipe.EdgeNgrams(tok, w.index.EdgeNgramMin, w.index.EdgeNgramMax) {
			batch.SAdds = append(batch.SAdds, store.Member{
				Key:    store.EdgeNgramKey(gram),
				Member: tok,
			})
		}
	}

	// Pair adjacency is symmetric: every token of the document co-occurs
	// with every other.
	for _, a := range tokens {
		for _, b := range tokens {
			if a == b {
				continue
			}
			batch.SAdds = append(batch.SAdds, store.Member{
				Key:    store.PairKey(a),
				Member: b,
			})
		}
	}

	for _, cell := range w.geohashCells(doc) {
		batch.ZAdds = append(batch.ZAdds, store.ScoredMember{
			Key:    store.GeohashKey(cell),
			Member: doc.ID,
			Score:  doc.Importance,
		})
	}

	for _, field := range w.search.FilterFields {
		value := textpipe.NormalizeString(doc.FilterValue(field))
		if value == "" {
			continue
		}
		batch.SAdds = append(batch.SAdds, store.Member{
			Key:    store.FilterKey(field, value),
			Member: doc.ID,
		})
	}

	return batch
}

// removalBatch derives the delete-side batch for doc. Pair adjacency and
// edge n-gram entries are shared across documents and are left in place:
// a stale pair only widens relation extrapolation by one candidate, and a
// stale n-gram completes to a token whose set is empty, which the engine
// already tolerates.
func (w *Writer) removalBatch(doc *document.Document) *store.Batch {
	batch := &store.Batch{DocDeletes: []string{doc.ID}}

	tokens, _ := w.tokenScores(doc)
	for _, tok := range tokens {
		batch.ZRems = append(batch.ZRems, store.Member{
			Key:    store.TokenKey(tok),
			Member: doc.ID,
		})
	}
	for _, cell := range w.geohashCells(doc) {
		batch.ZRems = append(batch.ZRems, store.Member{
			Key:    store.GeohashKey(cell),
			Member: doc.ID,
		})
	}
	for _, field := range w.search.FilterFields {
		value := textpipe.NormalizeString(doc.FilterValue(field))
		if value == "" {
			continue
		}
		batch.SRems = append(batch.SRems, store.Member{
			Key:    store.FilterKey(field, value),
			Member: doc.ID,
		})
	}
	return batch
}
