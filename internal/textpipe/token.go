package textpipe

import "regexp"

// Kind distinguishes plain word tokens from housenumber-shaped ones.
type Kind int

const (
	KindWord Kind = iota
	KindHouseNumber
)

var houseNumberPattern = regexp.MustCompile(`^\d{1,4}[a-z]?$`)

// Token is one indexable unit extracted from query or document text. Tokens
// live for a single search or indexing call and are never shared across
// invocations.
type Token struct {
	// Original is the raw text as it appeared in the input.
	Original string
	// Normalized is the lowercased, accent-folded, synonym-substituted form
	// used for index keys.
	Normalized string
	// Position is the token's index in the input.
	Position int
	// IsLast marks the final token of the query, the only one eligible for
	// autocomplete expansion.
	IsLast bool
	Kind   Kind

	// Frequency caches the token's document frequency once a classifier has
	// resolved it. Negative means not yet resolved.
	Frequency int64
	// IndexKey caches the store key the token resolved to, empty until the
	// token's existence has been checked.
	IndexKey string
}

// String returns the normalized form, the identity a token has everywhere
// past the pipeline.
func (t *Token) String() string {
	return t.Normalized
}

// IsHouseNumber reports whether the normalized form looks like a
// housenumber (1 to 4 digits with an optional trailing letter).
func IsHouseNumber(s string) bool {
	return houseNumberPattern.MatchString(s)
}
