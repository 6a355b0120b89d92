package search

import (
	"sort"
	"unicode/utf8"

	"github.com/karteio/geosearch/internal/store"
	"github.com/karteio/geosearch/internal/textpipe"
)

// Point is a geographic center biasing the search.
type Point struct {
	Lat float64
	Lon float64
}

// Query carries one search invocation's parameters. Filters are assumed
// pre-validated by the caller layer.
type Query struct {
	Text         string
	Center       *Point
	Limit        int
	Autocomplete bool
	// Fuzzy is the number of fuzzy expansion rounds allowed; 0 disables.
	Fuzzy   int
	Filters map[string][]string
}

// state is the per-invocation working set threaded through the step
// pipeline. It is owned by a single search call; no step retains it.
type state struct {
	query Query

	// tokens holds every word token, sorted by descending length.
	tokens []*textpipe.Token
	// commons are high-frequency tokens, sorted by ascending frequency so
	// the least common is tried first when broadening.
	commons []*textpipe.Token
	// meaningful are the tokens driving the bucket, ascending frequency,
	// capped at the configured maximum.
	meaningful []*textpipe.Token
	// notFound are tokens absent from the index.
	notFound []*textpipe.Token
	// housenumbers are number-shaped tokens, kept out of word matching.
	housenumbers []*textpipe.Token

	// bucket is the current candidate set of document ids.
	bucket map[string]struct{}
	// matchedKeys are the token keys that ever contributed members, used
	// for the should-match coverage check.
	matchedKeys map[string]struct{}
	// filters are the attribute keys ANDed into every intersection.
	filters []string

	shouldMatchThreshold int

	// geohashKey is the ephemeral unioned neighborhood key, resolved at
	// most once per search.
	geohashKey      string
	geohashResolved bool

	// aborted marks the low-confidence commons-only abort: render no
	// results without running further steps.
	aborted bool

	// reverse marks a reverse-geocoding invocation: scoring is by
	// distance alone and the nearest housenumber wins the override.
	reverse bool
}

func newState(q Query) *state {
	return &state{
		query:       q,
		bucket:      make(map[string]struct{}),
		matchedKeys: make(map[string]struct{}),
	}
}

// wordTokens is the count of distinct non-housenumber tokens.
func (st *state) wordCount() int {
	return len(st.tokens)
}

// lastToken returns the final word token of the query, the autocomplete
// candidate, or nil when the query ends with a housenumber.
func (st *state) lastToken() *textpipe.Token {
	for _, t := range st.tokens {
		if t.IsLast {
			return t
		}
	}
	return nil
}

func (st *state) meaningfulKeys() []string {
	keys := make([]string, 0, len(st.meaningful))
	for _, t := range st.meaningful {
		keys = append(keys, t.IndexKey)
	}
	return keys
}

func (st *state) addMatched(ids []string, keys []string) {
	for _, id := range ids {
		st.bucket[id] = struct{}{}
	}
	if len(ids) == 0 {
		return
	}
	for _, key := range keys {
		st.matchedKeys[key] = struct{}{}
	}
}

// matchedTokens lists the words whose keys contributed bucket members,
// sorted for stable log output.
func (st *state) matchedTokens() []string {
	words := make([]string, 0, len(st.matchedKeys))
	for key := range st.matchedKeys {
		words = append(words, store.TokenFromKey(key))
	}
	sort.Strings(words)
	return words
}

func (st *state) bucketIDs() []string {
	ids := make([]string, 0, len(st.bucket))
	for id := range st.bucket {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// sortTokensByLength orders tokens longest first; longer tokens carry more
// signal and are classified first.
func sortTokensByLength(tokens []*textpipe.Token) {
	sort.SliceStable(tokens, func(i, j int) bool {
		return utf8.RuneCountInString(tokens[i].Normalized) >
			utf8.RuneCountInString(tokens[j].Normalized)
	})
}

// sortTokensByFrequency orders tokens rarest first.
func sortTokensByFrequency(tokens []*textpipe.Token) {
	sort.SliceStable(tokens, func(i, j int) bool {
		return tokens[i].Frequency < tokens[j].Frequency
	})
}
