package fuzzy

import (
	"reflect"
	"testing"
)

func TestNeighborsOrderAndDedup(t *testing.T) {
	g := NewGenerator()
	got := g.Neighbors("ab")

	// Transpositions come first, then substitutions, then insertions.
	if got[0] != "ba" {
		t.Errorf("first neighbor = %q, want ba (transposition)", got[0])
	}
	seen := make(map[string]struct{}, len(got))
	for _, n := range got {
		if n == "ab" {
			t.Error("neighborhood contains the word itself")
		}
		if _, dup := seen[n]; dup {
			t.Errorf("duplicate neighbor %q", n)
		}
		seen[n] = struct{}{}
	}

	// Deterministic across calls.
	again := g.Neighbors("ab")
	if !reflect.DeepEqual(got, again) {
		t.Error("neighborhood not stable across calls")
	}
}

func TestNeighborsContainsExpectedEdits(t *testing.T) {
	g := NewGenerator()
	got := g.Neighbors("lilas")
	want := []string{
		"illas",  // transposition
		"lilaz",  // substitution
		"lilias", // insertion
		"lila",   // deletion
	}
	set := make(map[string]struct{}, len(got))
	for _, n := range got {
		set[n] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			t.Errorf("neighborhood of lilas missing %q", w)
		}
	}
}

func TestNeighborsDeletionOnlyOnLongWords(t *testing.T) {
	g := NewGenerator()
	for _, n := range g.Neighbors("rue") {
		if len(n) < 3 {
			t.Errorf("short word produced deletion %q", n)
		}
	}
	long := g.Neighbors("quai")
	found := false
	for _, n := range long {
		if n == "qua" {
			found = true
		}
	}
	if !found {
		t.Error("4-letter word produced no deletions")
	}
}

func TestNeighborsKeyboardLayout(t *testing.T) {
	azerty := NewGeneratorWithLayout("azerty")
	free := NewGenerator()

	restricted := azerty.Neighbors("sol")
	unrestricted := free.Neighbors("sol")
	if len(restricted) >= len(unrestricted) {
		t.Errorf("layout restriction did not shrink the neighborhood: %d vs %d",
			len(restricted), len(unrestricted))
	}

	// Unknown layout behaves like no layout.
	fallback := NewGeneratorWithLayout("dvorak").Neighbors("sol")
	if !reflect.DeepEqual(fallback, unrestricted) {
		t.Error("unknown layout did not fall back to unrestricted substitutions")
	}
}

func TestNeighborsSingleRune(t *testing.T) {
	g := NewGenerator()
	got := g.Neighbors("a")
	// No transpositions or deletions possible; 25 substitutions plus
	// insertions on both sides.
	for _, n := range got {
		if len(n) > 2 {
			t.Errorf("unexpected neighbor %q", n)
		}
	}
	if len(got) == 0 {
		t.Fatal("empty neighborhood for single rune")
	}
}
