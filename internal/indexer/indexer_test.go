package indexer

import (
	"context"
	"errors"
	"testing"

	"github.com/karteio/geosearch/internal/document"
	"github.com/karteio/geosearch/internal/store"
	"github.com/karteio/geosearch/internal/store/memstore"
	"github.com/karteio/geosearch/internal/textpipe"
	"github.com/karteio/geosearch/pkg/config"
)

func testWriter(t *testing.T) (*Writer, *memstore.Store) {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("loading defaults: %v", err)
	}
	st := memstore.New()
	return New(st, textpipe.New(nil), cfg.Search, cfg.Index), st
}

func streetDoc() *document.Document {
	return &document.Document{
		ID:         "street-1",
		Type:       "street",
		Name:       "Rue des Lilas",
		City:       "Andrésy",
		Postcode:   "78570",
		Lat:        48.9808,
		Lon:        2.0567,
		Importance: 0.3,
		HouseNumbers: map[string]document.HouseNumber{
			"8": {Raw: "8", Lat: 48.9809, Lon: 2.0570},
		},
	}
}

func TestIndexWritesTokenSets(t *testing.T) {
	ctx := context.Background()
	w, st := testWriter(t)
	if err := w.Index(ctx, streetDoc()); err != nil {
		t.Fatalf("Index: %v", err)
	}

	for _, tok := range []string{"rue", "des", "lilas", "andresy", "78570"} {
		n, err := st.Count(ctx, store.TokenKey(tok))
		if err != nil || n != 1 {
			t.Errorf("token %q: count %d, err %v", tok, n, err)
		}
	}

	// Name tokens outscore city tokens through the field boost.
	nameRank, _ := st.Intersect(ctx, []string{store.TokenKey("lilas")}, 1)
	if len(nameRank) != 1 {
		t.Fatal("name token missing from index")
	}

	doc, err := st.DocGet(ctx, "street-1")
	if err != nil {
		t.Fatalf("DocGet: %v", err)
	}
	if doc.City != "Andrésy" {
		t.Errorf("stored city = %q", doc.City)
	}
}

func TestBoostRulesOverrideFieldBoosts(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("loading defaults: %v", err)
	}
	cfg.Index.BoostRules = []config.BoostRule{
		{Field: "name", DocType: "city", Boost: 6.0},
	}
	w := New(memstore.New(), textpipe.New(nil), cfg.Search, cfg.Index)

	city := &document.Document{
		ID: "c-1", Type: "city", Name: "Andrésy",
		Lat: 48.9790, Lon: 2.0500, Importance: 0.6,
	}
	_, scores := w.tokenScores(city)
	if got := scores["andresy"]; got != 6.0+city.Importance {
		t.Errorf("city name score = %v, want %v", got, 6.0+city.Importance)
	}

	// A non-matching type keeps the static field boost.
	street := streetDoc()
	_, scores = w.tokenScores(street)
	if got := scores["lilas"]; got != 4.0+street.Importance {
		t.Errorf("street name score = %v, want %v", got, 4.0+street.Importance)
	}
}

func TestIndexSkipsHouseNumberTokens(t *testing.T) {
	ctx := context.Background()
	w, st := testWriter(t)
	doc := streetDoc()
	doc.Name = "8 Rue des Lilas"
	if err := w.Index(ctx, doc); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if n, _ := st.Count(ctx, store.TokenKey("8")); n != 0 {
		t.Error("housenumber-shaped token was indexed as a word")
	}
}

func TestIndexWritesPairsAndNgrams(t *testing.T) {
	ctx := context.Background()
	w, st := testWriter(t)
	if err := w.Index(ctx, streetDoc()); err != nil {
		t.Fatalf("Index: %v", err)
	}

	ok, _ := st.SetContains(ctx, store.PairKey("lilas"), "andresy")
	if !ok {
		t.Error("pair lilas->andresy missing")
	}
	ok, _ = st.SetContains(ctx, store.PairKey("andresy"), "lilas")
	if !ok {
		t.Error("pair adjacency not symmetric")
	}
	ok, _ = st.SetContains(ctx, store.PairKey("lilas"), "lilas")
	if ok {
		t.Error("token paired with itself")
	}

	grams, _ := st.SetMembers(ctx, store.EdgeNgramKey("lil"))
	if len(grams) != 1 || grams[0] != "lilas" {
		t.Errorf("edge n-gram lil completes to %v", grams)
	}
}

func TestIndexWritesGeohashAndFilters(t *testing.T) {
	ctx := context.Background()
	w, st := testWriter(t)
	cfg, _ := config.Load("")
	doc := streetDoc()
	if err := w.Index(ctx, doc); err != nil {
		t.Fatalf("Index: %v", err)
	}

	cell := store.GeohashKey(cellOf(t, doc.Lat, doc.Lon, cfg.Search.GeohashPrecision))
	if n, _ := st.Count(ctx, cell); n != 1 {
		t.Errorf("geohash cell %s count %d", cell, n)
	}

	ok, _ := st.SetContains(ctx, store.FilterKey("type", "street"), "street-1")
	if !ok {
		t.Error("type filter membership missing")
	}
	ok, _ = st.SetContains(ctx, store.FilterKey("postcode", "78570"), "street-1")
	if !ok {
		t.Error("postcode filter membership missing")
	}
}

func TestReindexRemovesStaleTokens(t *testing.T) {
	ctx := context.Background()
	w, st := testWriter(t)
	doc := streetDoc()
	if err := w.Index(ctx, doc); err != nil {
		t.Fatalf("Index: %v", err)
	}

	renamed := streetDoc()
	renamed.Name = "Rue des Tilleuls"
	if err := w.Index(ctx, renamed); err != nil {
		t.Fatalf("re-Index: %v", err)
	}

	if n, _ := st.Count(ctx, store.TokenKey("lilas")); n != 0 {
		t.Error("stale token lilas survived re-index")
	}
	if n, _ := st.Count(ctx, store.TokenKey("tilleuls")); n != 1 {
		t.Error("new token tilleuls missing after re-index")
	}
	// Tokens shared by both versions survive.
	if n, _ := st.Count(ctx, store.TokenKey("rue")); n != 1 {
		t.Error("shared token rue lost on re-index")
	}
	if n, _ := st.Count(ctx, store.TokenKey("andresy")); n != 1 {
		t.Error("shared token andresy lost on re-index")
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	w, st := testWriter(t)
	doc := streetDoc()
	if err := w.Index(ctx, doc); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := w.Delete(ctx, doc.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := st.DocGet(ctx, doc.ID); !errors.Is(err, store.ErrNotFound) {
		t.Error("document record survived delete")
	}
	for _, tok := range []string{"rue", "des", "lilas", "andresy"} {
		if n, _ := st.Count(ctx, store.TokenKey(tok)); n != 0 {
			t.Errorf("token %q survived delete", tok)
		}
	}
	if ok, _ := st.SetContains(ctx, store.FilterKey("type", "street"), doc.ID); ok {
		t.Error("filter membership survived delete")
	}
}

func TestDeleteUnknownIDIsNoop(t *testing.T) {
	w, _ := testWriter(t)
	if err := w.Delete(context.Background(), "ghost"); err != nil {
		t.Errorf("Delete(ghost) = %v, want nil", err)
	}
}

func TestIndexRejectsInvalidDocument(t *testing.T) {
	w, _ := testWriter(t)
	err := w.Index(context.Background(), &document.Document{ID: "", Name: "x"})
	if err == nil {
		t.Error("invalid document accepted")
	}
}

func TestIndexAll(t *testing.T) {
	ctx := context.Background()
	w, st := testWriter(t)
	docs := []*document.Document{
		streetDoc(),
		{ID: "city-1", Type: "city", Name: "Andrésy", Lat: 48.98, Lon: 2.05, Importance: 0.5},
		{ID: "city-2", Type: "city", Name: "Troyes", Lat: 48.29, Lon: 4.07, Importance: 0.4},
	}
	if err := w.IndexAll(ctx, docs); err != nil {
		t.Fatalf("IndexAll: %v", err)
	}
	if n, _ := st.Count(ctx, store.TokenKey("andresy")); n != 2 {
		t.Errorf("andresy indexed under %d documents, want 2", n)
	}
}

func TestMergeRemovalsKeepsReaddedMembers(t *testing.T) {
	batch := &store.Batch{
		ZAdds: []store.ScoredMember{{Key: "w|rue", Member: "a", Score: 2}},
		SAdds: []store.Member{{Key: "f|type|street", Member: "a"}},
	}
	removal := &store.Batch{
		ZRems: []store.Member{
			{Key: "w|rue", Member: "a"},
			{Key: "w|lilas", Member: "a"},
		},
		SRems: []store.Member{
			{Key: "f|type|street", Member: "a"},
			{Key: "f|city|andresy", Member: "a"},
		},
	}
	mergeRemovals(batch, removal)

	if len(batch.ZRems) != 1 || batch.ZRems[0].Key != "w|lilas" {
		t.Errorf("ZRems = %v, want only w|lilas", batch.ZRems)
	}
	if len(batch.SRems) != 1 || batch.SRems[0].Key != "f|city|andresy" {
		t.Errorf("SRems = %v, want only f|city|andresy", batch.SRems)
	}
}

func cellOf(t *testing.T, lat, lon float64, precision uint) string {
	t.Helper()
	cells := (&Writer{search: config.SearchConfig{GeohashPrecision: precision}}).geohashCells(&document.Document{Lat: lat, Lon: lon})
	if len(cells) != 1 {
		t.Fatalf("expected one cell, got %v", cells)
	}
	return cells[0]
}
