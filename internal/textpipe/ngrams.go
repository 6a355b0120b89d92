package textpipe

// EdgeNgrams returns the prefix substrings of token from min runes up to
// max runes, excluding the token itself. Indexing these prefixes is what
// makes autocomplete-by-prefix a set lookup instead of a scan.
func EdgeNgrams(token string, min, max int) []string {
	runes := []rune(token)
	if min < 1 || len(runes) <= min {
		return nil
	}
	end := len(runes) - 1
	if max > 0 && max < end {
		end = max
	}
	grams := make([]string, 0, end-min+1)
	for i := min; i <= end; i++ {
		grams = append(grams, string(runes[:i]))
	}
	return grams
}

// NgramSimilarity compares two strings by trigram overlap, returning a
// value in [0, 1]. Used as the string-distance fallback when no exact,
// prefix, or substring shortcut applies.
func NgramSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	na := trigramSet(a)
	nb := trigramSet(b)
	if len(na) == 0 || len(nb) == 0 {
		return 0
	}
	shared := 0
	for g := range na {
		if _, ok := nb[g]; ok {
			shared++
		}
	}
	union := len(na) + len(nb) - shared
	return float64(shared) / float64(union)
}

func trigramSet(s string) map[string]struct{} {
	runes := []rune(s)
	set := make(map[string]struct{})
	if len(runes) < 3 {
		if len(runes) > 0 {
			set[string(runes)] = struct{}{}
		}
		return set
	}
	for i := 0; i+3 <= len(runes); i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}
