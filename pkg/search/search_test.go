package search

import (
	"testing"

	"github.com/jllopis/hubnet/pkg/identity"
)

func TestStateIsValue(t *testing.T) {
	hub1 := identity.New("Hub1", "10.0.0.1", "8010")
	hub2 := identity.New("Hub2", "10.0.0.2", "8010")

	base := State{}.Visit(hub1)
	branch := base.Visit(hub2)

	if base.Visited.Contains(hub2) {
		t.Fatalf("expected base state to stay unchanged")
	}
	if !branch.Visited.Contains(hub1) || !branch.Visited.Contains(hub2) {
		t.Fatalf("expected branch to carry both hubs")
	}
}

func TestFoundEmptyIsNotFound(t *testing.T) {
	if Found(nil).Found {
		t.Fatalf("expected empty Found to degrade to NotFound")
	}
}

func TestWithoutBlocked(t *testing.T) {
	a := Provider{Identity: identity.New("a", "h", "1")}
	b := Provider{Identity: identity.New("b", "h", "1")}
	res := Found([]Provider{a, b})

	filtered := res.WithoutBlocked(identity.NewSet(a.Identity))
	if !filtered.Found || len(filtered.Providers) != 1 || filtered.Providers[0] != b {
		t.Fatalf("unexpected filtered result: %+v", filtered)
	}
	if res.WithoutBlocked(identity.NewSet(a.Identity, b.Identity)).Found {
		t.Fatalf("expected all-blocked result to be NotFound")
	}
}

func TestNewQueryAssignsID(t *testing.T) {
	q1 := NewQuery("bread", identity.Node{})
	q2 := NewQuery("bread", identity.Node{})
	if q1.ID == "" || q1.ID == q2.ID {
		t.Fatalf("expected distinct search ids, got %q %q", q1.ID, q2.ID)
	}
}

func TestAbsorbKeepsReceiver(t *testing.T) {
	hub1 := identity.New("Hub1", "10.0.0.1", "8010")
	hub2 := identity.New("Hub2", "10.0.0.2", "8010")

	base := State{}.Visit(hub1)
	grown := base.Absorb(identity.NewSet(hub1, hub2))
	if base.Visited.Len() != 1 {
		t.Fatalf("expected receiver untouched, got %d hubs", base.Visited.Len())
	}
	if grown.Visited.Len() != 2 || !grown.Visited.Contains(hub2) {
		t.Fatalf("expected absorbed hubs, got %v", grown.Visited.Nodes())
	}
}

func TestWithoutBlockedKeepsVisited(t *testing.T) {
	a := Provider{Identity: identity.New("a", "h", "1")}
	res := Found([]Provider{a})
	res.Visited = identity.NewSet(identity.New("Hub1", "h", "8010"))

	out := res.WithoutBlocked(identity.NewSet(a.Identity))
	if out.Found || out.Visited.Len() != 1 {
		t.Fatalf("expected NotFound carrying visited hubs, got %+v", out)
	}
}
