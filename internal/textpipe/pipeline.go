// Package textpipe turns raw text into index-ready tokens. The pipeline is
// an ordered list of pure transforms over a token slice: tokenize, then
// normalize (lowercase plus diacritic folding), then synonym substitution
// against a table loaded once at startup.
package textpipe

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Transform is one pipeline stage. Stages receive and return the full token
// slice; they may drop, rewrite, or reorder tokens but never retain them.
type Transform func([]*Token) []*Token

// Pipeline applies its stages in order.
type Pipeline struct {
	stages []Transform
}

// New builds the default pipeline: normalization then synonym substitution
// (tokenization happens on entry in Process). A nil synonyms table skips
// substitution.
func New(synonyms *SynonymTable) *Pipeline {
	stages := []Transform{Normalize}
	if synonyms != nil {
		stages = append(stages, synonyms.Substitute)
	}
	stages = append(stages, flagHouseNumbers)
	return &Pipeline{stages: stages}
}

// NewWithStages builds a pipeline from an explicit stage list.
func NewWithStages(stages ...Transform) *Pipeline {
	return &Pipeline{stages: stages}
}

// NewFromNames builds a pipeline from a configured stage-name list. Known
// names are "normalize", "synonyms" and "housenumbers"; an unknown name is
// a configuration error. The "synonyms" stage is skipped when no table is
// loaded. An empty list falls back to the default pipeline.
func NewFromNames(names []string, synonyms *SynonymTable) (*Pipeline, error) {
	if len(names) == 0 {
		return New(synonyms), nil
	}
	stages := make([]Transform, 0, len(names))
	for _, name := range names {
		switch name {
		case "normalize":
			stages = append(stages, Normalize)
		case "synonyms":
			if synonyms != nil {
				stages = append(stages, synonyms.Substitute)
			}
		case "housenumbers":
			stages = append(stages, flagHouseNumbers)
		default:
			return nil, fmt.Errorf("unknown pipeline stage %q", name)
		}
	}
	return NewWithStages(stages...), nil
}

// Process tokenizes text and runs every stage over the result. Empty input
// yields an empty slice.
func (p *Pipeline) Process(text string) []*Token {
	tokens := Tokenize(text)
	for _, stage := range p.stages {
		tokens = stage(tokens)
	}
	return tokens
}

// Tokenize splits text on non-alphanumeric boundaries, keeping the original
// casing per token with its position. Punctuation is discarded.
func Tokenize(text string) []*Token {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]*Token, 0, len(words))
	for i, word := range words {
		tokens = append(tokens, &Token{
			Original:   word,
			Normalized: word,
			Position:   i,
			Frequency:  -1,
		})
	}
	if len(tokens) > 0 {
		tokens[len(tokens)-1].IsLast = true
	}
	return tokens
}

var foldTransformer = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// NormalizeString lowercases s and folds diacritics to the base alphabet
// ("Andrésy" becomes "andresy"). Idempotent.
func NormalizeString(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		// Malformed input falls back to plain lowercasing.
		return strings.ToLower(s)
	}
	return strings.ToLower(folded)
}

// Normalize is the pipeline stage applying NormalizeString to every token.
func Normalize(tokens []*Token) []*Token {
	for _, t := range tokens {
		t.Normalized = NormalizeString(t.Normalized)
	}
	return tokens
}

// flagHouseNumbers marks housenumber-shaped tokens so they are never
// indexed or matched as words.
func flagHouseNumbers(tokens []*Token) []*Token {
	for _, t := range tokens {
		if IsHouseNumber(t.Normalized) {
			t.Kind = KindHouseNumber
		}
	}
	return tokens
}
