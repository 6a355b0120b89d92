// Package fuzzy generates the one-edit neighborhood of a word:
// transpositions, substitutions, insertions, and deletions, in that order.
// The order matters downstream: when several neighbors match the index, the
// earlier kind wins the tie.
package fuzzy

const alphabet = "abcdefghijklmnopqrstuvwxyz"

// Generator produces neighbor candidates for a word. A keyboard adjacency
// map, when set, restricts substitutions to keys physically near the one
// being replaced.
type Generator struct {
	keyboard map[rune][]rune
}

// NewGenerator returns a Generator with unrestricted substitutions.
func NewGenerator() *Generator {
	return &Generator{}
}

// NewGeneratorWithLayout returns a Generator whose substitutions are
// restricted to the adjacency map of the named layout ("azerty" or
// "qwerty"). Unknown layouts fall back to unrestricted substitutions.
func NewGeneratorWithLayout(layout string) *Generator {
	return &Generator{keyboard: layoutMap(layout)}
}

// Neighbors returns the deduplicated, order-stable one-edit neighborhood of
// word. Deletions apply only to words longer than three characters.
func (g *Generator) Neighbors(word string) []string {
	runes := []rune(word)
	seen := make(map[string]struct{}, len(runes)*len(alphabet))
	out := make([]string, 0, len(runes)*len(alphabet))
	add := func(candidate string) {
		if candidate == word {
			return
		}
		if _, dup := seen[candidate]; dup {
			return
		}
		seen[candidate] = struct{}{}
		out = append(out, candidate)
	}

	// Adjacent transpositions.
	for i := 0; i+1 < len(runes); i++ {
		swapped := make([]rune, len(runes))
		copy(swapped, runes)
		swapped[i], swapped[i+1] = swapped[i+1], swapped[i]
		add(string(swapped))
	}

	// Substitutions, keyboard-restricted when a layout is configured.
	for i, r := range runes {
		for _, c := range g.substitutes(r) {
			if c == r {
				continue
			}
			sub := make([]rune, len(runes))
			copy(sub, runes)
			sub[i] = c
			add(string(sub))
		}
	}

	// Insertions at every position, including both ends.
	for _, c := range alphabet {
		for i := 0; i <= len(runes); i++ {
			ins := make([]rune, 0, len(runes)+1)
			ins = append(ins, runes[:i]...)
			ins = append(ins, c)
			ins = append(ins, runes[i:]...)
			add(string(ins))
		}
	}

	// Deletions, only worth trying on longer words.
	if len(runes) > 3 {
		for i := range runes {
			del := make([]rune, 0, len(runes)-1)
			del = append(del, runes[:i]...)
			del = append(del, runes[i+1:]...)
			add(string(del))
		}
	}

	return out
}

func (g *Generator) substitutes(r rune) []rune {
	if g.keyboard != nil {
		if adjacent, ok := g.keyboard[r]; ok {
			return adjacent
		}
	}
	return []rune(alphabet)
}
