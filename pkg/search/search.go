// Copyright 2026 © The Hubnet Authors
// SPDX-License-Identifier: Apache-2.0

// Package search holds the values that travel with a search across hubs:
// the query, the traversal state and the result.
package search

import (
	"github.com/google/uuid"

	"github.com/jllopis/hubnet/pkg/identity"
	"github.com/jllopis/hubnet/pkg/registry"
)

// Query is a capability request.
type Query struct {
	Text      string
	Requester identity.Node
	// ID correlates logs and spans of one search across hops.
	ID string
}

// NewQuery builds a query with a fresh search ID.
func NewQuery(text string, requester identity.Node) Query {
	return Query{Text: text, Requester: requester, ID: uuid.NewString()}
}

// State is the traversal state of one search. It is a value: the With
// methods return a new State and leave the receiver untouched, so both sets
// only ever grow along a path.
type State struct {
	Visited identity.Set
	Blocked identity.Set
}

// Visit returns a state with n added to the visited hubs.
func (s State) Visit(n identity.Node) State {
	return State{Visited: s.Visited.With(n), Blocked: s.Blocked}
}

// Absorb returns a state that also holds hubs, the visited set a peer
// reported back.
func (s State) Absorb(hubs identity.Set) State {
	return State{Visited: s.Visited.Union(hubs), Blocked: s.Blocked}
}

// Block returns a state with nodes added to the blocked providers.
func (s State) Block(nodes ...identity.Node) State {
	return State{Visited: s.Visited, Blocked: s.Blocked.With(nodes...)}
}

// Provider is an agent offered in a result.
type Provider struct {
	Identity  identity.Node
	Relevance float64
	Goodness  float64
	Category  string
}

// FromRecord converts a registry record to a Provider.
func FromRecord(rec registry.Record) Provider {
	return Provider{
		Identity:  rec.Identity,
		Relevance: rec.Relevance,
		Goodness:  rec.Goodness,
		Category:  rec.Category,
	}
}

// Result is either Found with a non-empty provider list or NotFound with a
// message.
type Result struct {
	Found     bool
	Providers []Provider
	Message   string
	// Visited holds the hubs the answering subtree asked. A NotFound
	// carries it back so the caller does not ask them again.
	Visited identity.Set
}

// Found returns a Found result, or NotFound when providers is empty.
func Found(providers []Provider) Result {
	if len(providers) == 0 {
		return NotFound("no agent matched the request")
	}
	return Result{Found: true, Providers: providers}
}

// NotFound returns a NotFound result.
func NotFound(msg string) Result {
	return Result{Message: msg}
}

// WithoutBlocked drops providers present in blocked. A Found result that
// ends up empty becomes NotFound.
func (r Result) WithoutBlocked(blocked identity.Set) Result {
	if !r.Found || blocked.Len() == 0 {
		return r
	}
	kept := make([]Provider, 0, len(r.Providers))
	for _, p := range r.Providers {
		if !blocked.Contains(p.Identity) {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		out := NotFound("every matching agent is blocked")
		out.Visited = r.Visited
		return out
	}
	return Result{Found: true, Providers: kept, Visited: r.Visited}
}
