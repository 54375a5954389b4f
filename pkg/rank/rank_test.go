package rank

import (
	"testing"

	"github.com/jllopis/hubnet/pkg/identity"
	"github.com/jllopis/hubnet/pkg/search"
)

func provider(name string, relevance, goodness float64) search.Provider {
	return search.Provider{Identity: identity.New(name, "h", "1"), Relevance: relevance, Goodness: goodness}
}

func TestSortByRelevanceThenGoodness(t *testing.T) {
	in := []search.Provider{provider("a", 1, 5), provider("b", 2, 1), provider("c", 1, 9)}
	got := Sort(in)
	want := []string{"b", "c", "a"}
	for i, p := range got {
		if p.Identity.Name != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], p.Identity.Name)
		}
	}
	if in[0].Identity.Name != "a" {
		t.Fatalf("expected input to be left untouched")
	}
}

func TestSortIsStableOnTies(t *testing.T) {
	in := []search.Provider{provider("first", 1, 1), provider("second", 1, 1), provider("third", 1, 1)}
	for round := 0; round < 5; round++ {
		got := Sort(in)
		if got[0].Identity.Name != "first" || got[1].Identity.Name != "second" || got[2].Identity.Name != "third" {
			t.Fatalf("expected registry order on ties, got %v", got)
		}
	}
}

func TestSortEmpty(t *testing.T) {
	if got := Sort(nil); len(got) != 0 {
		t.Fatalf("expected empty result, got %v", got)
	}
}
