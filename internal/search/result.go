package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/karteio/geosearch/internal/document"
	"github.com/karteio/geosearch/internal/textpipe"
	"github.com/karteio/geosearch/pkg/geo"
)

// SubScore is one named scoring contribution with its maximum possible
// value.
type SubScore struct {
	Value   float64 `json:"value"`
	Ceiling float64 `json:"ceiling"`
}

// Result is a scored candidate. Once scored it is immutable except for the
// housenumber override resolved during scoring itself.
type Result struct {
	Doc    *document.Document  `json:"document"`
	Label  string              `json:"label"`
	Type   string              `json:"type"`
	Lat    float64             `json:"lat"`
	Lon    float64             `json:"lon"`
	Score  float64             `json:"score"`
	Scores map[string]SubScore `json:"scores"`
	// HouseNumber is set when a query housenumber matched one of the
	// document's numbered entries.
	HouseNumber *document.HouseNumber `json:"housenumber,omitempty"`
	// DistanceKm is the distance to the query center, when one was given.
	DistanceKm float64 `json:"distance_km,omitempty"`
}

// render turns the final bucket into scored, ranked, truncated results.
func (e *Engine) render(ctx context.Context, st *state) ([]*Result, error) {
	ids := st.bucketIDs()
	if len(ids) == 0 {
		return []*Result{}, nil
	}
	docs, err := e.store.DocGetMulti(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetching bucket documents: %w", err)
	}
	results := make([]*Result, 0, len(docs))
	for _, doc := range docs {
		results = append(results, e.score(st, doc))
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Doc.ID < results[j].Doc.ID
	})
	if len(results) > st.query.Limit {
		results = results[:st.query.Limit]
	}
	return results, nil
}

// score builds a Result from a document: housenumber resolution first, then
// label, then the sub-scores. The final score is the ratio of achieved to
// maximum contributions, always within [0, 1].
func (e *Engine) score(st *state, doc *document.Document) *Result {
	r := &Result{
		Doc:    doc,
		Type:   doc.Type,
		Lat:    doc.Lat,
		Lon:    doc.Lon,
		Scores: make(map[string]SubScore),
	}
	if st.reverse {
		return e.scoreReverse(st, r)
	}
	e.resolveHouseNumber(st, r)
	r.Label = buildLabel(r)

	r.Scores["importance"] = SubScore{
		Value:   doc.Importance * e.cfg.ImportanceWeight,
		Ceiling: e.cfg.ImportanceWeight,
	}
	r.Scores["str_distance"] = SubScore{
		Value:   e.stringDistance(st, r),
		Ceiling: 1.0,
	}
	if st.query.Center != nil {
		r.DistanceKm = geo.HaversineKm(st.query.Center.Lat, st.query.Center.Lon, r.Lat, r.Lon)
		r.Scores["geo_distance"] = SubScore{
			Value:   geo.DistanceScore(r.DistanceKm),
			Ceiling: geo.DistanceScoreCeiling,
		}
	}

	var sum, ceiling float64
	for _, s := range r.Scores {
		sum += s.Value
		ceiling += s.Ceiling
	}
	if ceiling > 0 {
		r.Score = sum / ceiling
	}
	return r
}

// scoreReverse scores purely by geo-distance, overriding with the nearest
// housenumber entry when the document carries any.
func (e *Engine) scoreReverse(st *state, r *Result) *Result {
	center := st.query.Center
	if nearest := nearestHouseNumber(r.Doc, center.Lat, center.Lon); nearest != nil {
		r.HouseNumber = nearest
		r.Type = "housenumber"
		r.Lat = nearest.Lat
		r.Lon = nearest.Lon
	}
	r.Label = buildLabel(r)
	r.DistanceKm = geo.HaversineKm(center.Lat, center.Lon, r.Lat, r.Lon)
	r.Scores["geo_distance"] = SubScore{
		Value:   geo.DistanceScore(r.DistanceKm),
		Ceiling: geo.DistanceScoreCeiling,
	}
	r.Score = r.Scores["geo_distance"].Value / geo.DistanceScoreCeiling
	return r
}

// nearestHouseNumber returns the document housenumber closest to the
// point, when closer than the document's own position.
func nearestHouseNumber(doc *document.Document, lat, lon float64) *document.HouseNumber {
	best := geo.HaversineKm(lat, lon, doc.Lat, doc.Lon)
	var nearest *document.HouseNumber
	for _, hn := range doc.HouseNumbers {
		hn := hn
		if d := geo.HaversineKm(lat, lon, hn.Lat, hn.Lon); d < best {
			best = d
			nearest = &hn
		}
	}
	return nearest
}

// resolveHouseNumber matches query housenumber tokens against the
// document's numbered entries and overrides type and coordinates when one
// matches. Overriding is refused when the matched number also occurs
// inside the document name, unless the number appears twice in the query:
// "rue du 8 mai" must not treat 8 as a housenumber, "8 rue du 8 mai" must.
func (e *Engine) resolveHouseNumber(st *state, r *Result) {
	if len(st.housenumbers) == 0 || len(r.Doc.HouseNumbers) == 0 {
		return
	}
	nameTokens := tokenSet(textpipe.NormalizeString(r.Doc.Name))
	for _, candidate := range joinedHouseNumbers(st) {
		hn, ok := r.Doc.HouseNumbers[candidate.number]
		if !ok {
			continue
		}
		if _, inName := nameTokens[candidate.number]; inName && candidate.occurrences < 2 {
			continue
		}
		r.HouseNumber = &hn
		r.Type = "housenumber"
		r.Lat = hn.Lat
		r.Lon = hn.Lon
		return
	}
}

type houseNumberCandidate struct {
	number string
	// occurrences counts how often the bare number appears across all
	// query tokens, housenumber-shaped or not.
	occurrences int
}

// joinedHouseNumbers derives candidate numbers from the query: the bare
// housenumber token, and the token joined with an immediate repetition
// suffix ("8 bis" → "8bis") when the next token qualifies.
func joinedHouseNumbers(st *state) []houseNumberCandidate {
	byPosition := make(map[int]string)
	for _, t := range st.tokens {
		byPosition[t.Position] = t.Normalized
	}
	occurrences := func(number string) int {
		n := 0
		for _, t := range st.housenumbers {
			if t.Normalized == number {
				n++
			}
		}
		for _, t := range st.tokens {
			if t.Normalized == number {
				n++
			}
		}
		return n
	}
	var candidates []houseNumberCandidate
	for _, h := range st.housenumbers {
		if next, ok := byPosition[h.Position+1]; ok && isNumberSuffix(next) {
			candidates = append(candidates, houseNumberCandidate{
				number:      h.Normalized + next,
				occurrences: occurrences(h.Normalized),
			})
		}
		candidates = append(candidates, houseNumberCandidate{
			number:      h.Normalized,
			occurrences: occurrences(h.Normalized),
		})
	}
	return candidates
}

// isNumberSuffix reports whether a token extends a housenumber ("bis",
// "ter", or a single letter).
func isNumberSuffix(s string) bool {
	switch s {
	case "bis", "ter", "quater":
		return true
	}
	return len(s) == 1 && s[0] >= 'a' && s[0] <= 'z'
}

// buildLabel renders the display label, prefixed by the matched
// housenumber when one resolved.
func buildLabel(r *Result) string {
	label := r.Doc.Label()
	if r.HouseNumber != nil {
		label = r.HouseNumber.Raw + " " + label
	}
	return label
}

// stringDistance scores how well the query text matches the document.
// Exact, prefix, and substring matches shortcut at 1.0, 0.9, and 0.7; the
// n-gram similarity fallback is damped when autocomplete is off since a
// partial last token cannot be expected.
func (e *Engine) stringDistance(st *state, r *Result) float64 {
	query := normalizedQuery(st)
	if query == "" {
		return 0
	}
	best := 0.0
	for _, target := range matchTargets(r) {
		score := e.compareStrings(query, target, st.query.Autocomplete && e.cfg.Autocomplete)
		if score > best {
			best = score
		}
	}
	return best
}

func (e *Engine) compareStrings(query, target string, autocomplete bool) float64 {
	if query == target {
		return 1.0
	}
	if strings.HasPrefix(target, query) || strings.HasPrefix(query, target) {
		return 0.9
	}
	if strings.Contains(target, query) || strings.Contains(query, target) {
		return 0.7
	}
	similarity := textpipe.NgramSimilarity(query, target)
	if !autocomplete {
		similarity *= 0.9
	}
	return similarity
}

// normalizedQuery joins the query's word tokens in input order.
func normalizedQuery(st *state) string {
	ordered := append([]*textpipe.Token(nil), st.tokens...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Position < ordered[j].Position
	})
	parts := make([]string, 0, len(ordered))
	for _, t := range ordered {
		parts = append(parts, t.Normalized)
	}
	return strings.Join(parts, " ")
}

func matchTargets(r *Result) []string {
	targets := []string{textpipe.NormalizeString(r.Doc.Name)}
	if r.Doc.City != "" {
		targets = append(targets,
			textpipe.NormalizeString(r.Doc.City),
			textpipe.NormalizeString(r.Doc.Name+" "+r.Doc.City))
	}
	return targets
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range textpipe.Tokenize(s) {
		set[t.Normalized] = struct{}{}
	}
	return set
}

// hasCream reports whether the bucket is small, non-overflowing, and holds
// at least one near-exact textual match, which justifies stopping early
// despite the small size.
func (e *Engine) hasCream(ctx context.Context, st *state) (bool, error) {
	if len(st.bucket) == 0 || len(st.bucket) > e.cfg.SmallBucketLimit || e.bucketOverflow(st) {
		return false, nil
	}
	docs, err := e.store.DocGetMulti(ctx, st.bucketIDs())
	if err != nil {
		return false, fmt.Errorf("fetching candidates for match check: %w", err)
	}
	for _, doc := range docs {
		r := &Result{Doc: doc, Type: doc.Type, Lat: doc.Lat, Lon: doc.Lon}
		if e.stringDistance(st, r) >= e.cfg.MatchThreshold {
			return true, nil
		}
	}
	return false, nil
}
