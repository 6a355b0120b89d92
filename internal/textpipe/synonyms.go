package textpipe

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// SynonymTable maps token forms to their configured canonical form. The
// table is loaded once at startup and never mutated, so concurrent reads
// need no locking.
type SynonymTable struct {
	canonical map[string]string
}

// LoadSynonyms reads a synonym rule file. Each line holds one rule in the
// form "bd, bld, bvd => boulevard"; '#' starts a comment line. Both sides
// are normalized before insertion so lookups work on pipeline output.
func LoadSynonyms(path string) (*SynonymTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening synonyms file %s: %w", path, err)
	}
	defer f.Close()
	table, err := ParseSynonyms(f)
	if err != nil {
		return nil, fmt.Errorf("parsing synonyms file %s: %w", path, err)
	}
	return table, nil
}

// ParseSynonyms reads synonym rules from r.
func ParseSynonyms(r io.Reader) (*SynonymTable, error) {
	table := &SynonymTable{canonical: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		left, right, found := strings.Cut(line, "=>")
		if !found {
			return nil, fmt.Errorf("line %d: missing '=>' separator", lineNo)
		}
		target := NormalizeString(strings.TrimSpace(right))
		if target == "" {
			return nil, fmt.Errorf("line %d: empty canonical form", lineNo)
		}
		for _, syn := range strings.Split(left, ",") {
			syn = NormalizeString(strings.TrimSpace(syn))
			if syn == "" {
				continue
			}
			table.canonical[syn] = target
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading synonyms: %w", err)
	}
	return table, nil
}

// Get returns the canonical form for s, or s itself when no rule matches.
func (s *SynonymTable) Get(token string) string {
	if s == nil {
		return token
	}
	if canonical, ok := s.canonical[token]; ok {
		return canonical
	}
	return token
}

// Len returns the number of loaded synonym rules.
func (s *SynonymTable) Len() int {
	if s == nil {
		return 0
	}
	return len(s.canonical)
}

// Substitute is the pipeline stage replacing tokens with their canonical
// form via exact-match lookup.
func (s *SynonymTable) Substitute(tokens []*Token) []*Token {
	for _, t := range tokens {
		t.Normalized = s.Get(t.Normalized)
	}
	return tokens
}
