package requester

import (
	"context"
	"errors"
	"testing"

	"github.com/jllopis/hubnet/pkg/hub"
	"github.com/jllopis/hubnet/pkg/identity"
	"github.com/jllopis/hubnet/pkg/matcher"
	"github.com/jllopis/hubnet/pkg/registry"
	"github.com/jllopis/hubnet/pkg/search"
)

type scriptedSearcher struct {
	id     identity.Node
	result search.Result
	err    error
	states []search.State
	texts  []string
}

func (s *scriptedSearcher) Identity() identity.Node { return s.id }

func (s *scriptedSearcher) Search(_ context.Context, q search.Query, st search.State) (search.Result, error) {
	s.states = append(s.states, st)
	s.texts = append(s.texts, q.Text)
	return s.result, s.err
}

// stockTransactor sells from a per-provider stock table.
type stockTransactor struct {
	stock    map[string]map[string]int
	failures map[string]error
	calls    map[string]int
}

func newStock() *stockTransactor {
	return &stockTransactor{
		stock:    map[string]map[string]int{},
		failures: map[string]error{},
		calls:    map[string]int{},
	}
}

func (t *stockTransactor) Attempt(_ context.Context, p search.Provider, need Need) (map[string]int, error) {
	key := p.Identity.Key()
	t.calls[key]++
	if err := t.failures[key]; err != nil {
		return nil, err
	}
	got := map[string]int{}
	for item, qty := range need {
		have := t.stock[key][item]
		if have > qty {
			have = qty
		}
		if have > 0 {
			got[item] = have
			t.stock[key][item] -= have
		}
	}
	return got, nil
}

// greedy hands over its whole stock whatever was asked.
type greedy struct {
	stock map[string]int
}

func (g greedy) Attempt(context.Context, search.Provider, Need) (map[string]int, error) {
	return g.stock, nil
}

func provider(name string, relevance float64) search.Provider {
	return search.Provider{Identity: identity.New(name, "127.0.0.1", "9001"), Relevance: relevance}
}

func hubNode(name string) identity.Node {
	return identity.New(name, "127.0.0.1", "8010")
}

var requesterID = identity.New("Steward", "127.0.0.1", "9999")

func TestAcquireMultiRound(t *testing.T) {
	p1, p2 := provider("Bakery1", 2), provider("Bakery2", 1)
	h1 := &scriptedSearcher{id: hubNode("Hub1"), result: search.Found([]search.Provider{p1})}
	h2 := &scriptedSearcher{id: hubNode("Hub2"), result: search.Found([]search.Provider{p1, p2})}
	tx := newStock()
	tx.stock[p1.Identity.Key()] = map[string]int{"bread": 1}
	tx.stock[p2.Identity.Key()] = map[string]int{"bread": 5}

	s, err := NewSession(requesterID, tx, []Searcher{h1, h2})
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	report, err := s.Acquire(context.Background(), Need{"bread": 3})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !report.Complete() || report.Rounds != 2 {
		t.Fatalf("expected complete in 2 rounds, got %+v", report)
	}
	if tx.calls[p1.Identity.Key()] != 1 {
		t.Fatalf("expected Bakery1 tried once, got %d", tx.calls[p1.Identity.Key()])
	}
	if report.Fulfilled[p1.Identity.Key()]["bread"] != 1 || report.Fulfilled[p2.Identity.Key()]["bread"] != 2 {
		t.Fatalf("unexpected fulfilment: %v", report.Fulfilled)
	}

	st := h2.states[0]
	if !st.Visited.Contains(h1.id) || !st.Blocked.Contains(p1.Identity) {
		t.Fatalf("expected second round to carry seen hub and provider, got %+v", st)
	}
	if h2.texts[0] != "I need 2 bread" {
		t.Fatalf("expected prompt from remaining need, got %q", h2.texts[0])
	}
}

func TestAcquireRecordsFailures(t *testing.T) {
	p1, p2 := provider("Bakery1", 5), provider("Bakery2", 1)
	broken := &scriptedSearcher{id: hubNode("Hub0"), err: errors.New("hub down")}
	h1 := &scriptedSearcher{id: hubNode("Hub1"), result: search.Found([]search.Provider{p2, p1})}
	tx := newStock()
	tx.failures[p1.Identity.Key()] = errors.New("shop closed")
	tx.stock[p2.Identity.Key()] = map[string]int{"bread": 1}

	s, _ := NewSession(requesterID, tx, []Searcher{broken, h1})
	report, err := s.Acquire(context.Background(), Need{"bread": 1})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !report.Complete() {
		t.Fatalf("expected need met despite failures, remaining %v", report.Remaining)
	}
	if len(report.Tried) != 2 || report.Tried[0].Provider != p1.Identity || report.Tried[0].Err == "" {
		t.Fatalf("expected ranked failing attempt first, got %+v", report.Tried)
	}
	if len(report.Hubs) != 2 {
		t.Fatalf("expected both hubs queried, got %v", report.Hubs)
	}
}

func TestAcquireSkipsSeenHubsAndStopsWhenDone(t *testing.T) {
	p1 := provider("Bakery1", 1)
	h1 := &scriptedSearcher{id: hubNode("Hub1"), result: search.NotFound("none")}
	dup := &scriptedSearcher{id: hubNode("Hub1"), result: search.Found([]search.Provider{p1})}
	h2 := &scriptedSearcher{id: hubNode("Hub2"), result: search.Found([]search.Provider{p1})}
	h3 := &scriptedSearcher{id: hubNode("Hub3"), result: search.Found([]search.Provider{p1})}
	tx := newStock()
	tx.stock[p1.Identity.Key()] = map[string]int{"bread": 10}

	s, _ := NewSession(requesterID, tx, []Searcher{h1, dup, h2, h3})
	report, _ := s.Acquire(context.Background(), Need{"bread": 2})
	if len(dup.states) != 0 {
		t.Fatalf("expected duplicate hub skipped")
	}
	if len(h3.states) != 0 {
		t.Fatalf("expected no round after the need was met")
	}
	if report.Rounds != 2 || !report.Complete() {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestAcquireIncomplete(t *testing.T) {
	p1 := provider("Bakery1", 1)
	h1 := &scriptedSearcher{id: hubNode("Hub1"), result: search.Found([]search.Provider{p1})}
	h2 := &scriptedSearcher{id: hubNode("Hub2"), result: search.Found([]search.Provider{p1})}
	tx := greedy{stock: map[string]int{"bread": 1, "milk": 7}}

	s, _ := NewSession(requesterID, tx, []Searcher{h1, h2}, WithMaxRounds(1))
	report, err := s.Acquire(context.Background(), Need{"bread": 2, "milk": 1})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if report.Complete() || report.Remaining["bread"] != 1 || report.Remaining["milk"] != 0 {
		t.Fatalf("unexpected remaining: %v", report.Remaining)
	}
	if report.Rounds != 1 || len(h2.states) != 0 {
		t.Fatalf("expected max rounds honoured")
	}
	if report.Fulfilled[p1.Identity.Key()]["milk"] != 1 {
		t.Fatalf("expected over-delivery capped to 1 milk, got %v", report.Fulfilled)
	}
}

func TestAcquireCancelled(t *testing.T) {
	h1 := &scriptedSearcher{id: hubNode("Hub1"), result: search.NotFound("none")}
	s, _ := NewSession(requesterID, newStock(), []Searcher{h1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Acquire(ctx, Need{"bread": 1}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewSessionRequiresTransactor(t *testing.T) {
	if _, err := NewSession(requesterID, nil, nil); !errors.Is(err, ErrNoTransactor) {
		t.Fatalf("expected ErrNoTransactor, got %v", err)
	}
}

func TestNeedPrompt(t *testing.T) {
	n := Need{"milk": 1, "bread": 2, "eggs": 0}
	if got := n.Prompt(); got != "I need 2 bread, 1 milk" {
		t.Fatalf("unexpected prompt %q", got)
	}
	if !(Need{"x": 0}).Empty() {
		t.Fatalf("expected zero quantities to count as empty")
	}
}

func TestLocalSearcher(t *testing.T) {
	rec := registry.Record{
		Identity:    identity.New("Bakery1", "127.0.0.1", "9001"),
		Kind:        registry.KindPublic,
		Category:    "Bakery",
		Description: "bread",
		Active:      true,
	}
	store, _ := registry.NewMemoryStore(rec)
	node, err := hub.New(hubNode("Home"), store, matcher.NewKeywordMatcher())
	if err != nil {
		t.Fatalf("hub.New failed: %v", err)
	}
	tx := newStock()
	tx.stock[rec.Identity.Key()] = map[string]int{"bread": 2}

	s, _ := NewSession(requesterID, tx, []Searcher{Local{Node: node}})
	report, err := s.Acquire(context.Background(), Need{"bread": 2})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !report.Complete() || report.Hubs[0] != node.Self() {
		t.Fatalf("unexpected report: %+v", report)
	}
}
