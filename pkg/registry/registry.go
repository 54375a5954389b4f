// Copyright 2026 © The Hubnet Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry stores the peer hubs and agents a hub knows about.
//
// A registry is an ordered collection of records partitioned by Kind. Every
// backend preserves insertion order, which is the order hubs are tried in and
// the tie-break order of the ranker.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jllopis/hubnet/pkg/identity"
)

var (
	// ErrNotFound is returned when no record carries the requested identity.
	ErrNotFound = errors.New("registry: record not found")
	// ErrExists is returned when adding a record whose identity is already
	// present in the same partition.
	ErrExists = errors.New("registry: record already exists")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("registry: store closed")
)

// Kind is the registry partition a record belongs to.
type Kind string

const (
	// KindHub marks a peer hub ("Friend" on the wire).
	KindHub Kind = "hub"
	// KindPublic marks an agent offered to searches.
	KindPublic Kind = "public"
	// KindPrivate marks an agent known to the hub but never offered.
	KindPrivate Kind = "private"
)

// Kinds lists every partition in a fixed order.
var Kinds = []Kind{KindHub, KindPublic, KindPrivate}

// ParseKind accepts the wire names (Public, Private, Friend) and the
// canonical lower-case names.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "public":
		return KindPublic, nil
	case "private":
		return KindPrivate, nil
	case "friend", "hub":
		return KindHub, nil
	default:
		return "", fmt.Errorf("registry: unknown agent type %q", s)
	}
}

// WireName returns the value used by /add_agent?type_agent=.
func (k Kind) WireName() string {
	switch k {
	case KindHub:
		return "Friend"
	case KindPublic:
		return "Public"
	case KindPrivate:
		return "Private"
	default:
		return string(k)
	}
}

// Record is a registered hub or agent.
type Record struct {
	Identity    identity.Node     `json:"identity"`
	Kind        Kind              `json:"kind"`
	Category    string            `json:"category,omitempty"`
	Active      bool              `json:"active"`
	Relevance   float64           `json:"relevance"`
	Goodness    float64           `json:"goodness"`
	Description string            `json:"description,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Category is one row of the category table a matcher classifies against.
type Category struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Store is the registry interface every backend implements.
// Implementations must be safe for concurrent use.
type Store interface {
	// Add appends a record. Fails with ErrExists when the identity is
	// already present in the record's partition.
	Add(ctx context.Context, rec Record) error
	// SetActive toggles every record carrying id. Fails with ErrNotFound
	// when none does.
	SetActive(ctx context.Context, id identity.Node, active bool) error
	// ActiveProviders returns active public agents whose category is in
	// categories (case-insensitive) and whose identity is not excluded.
	ActiveProviders(ctx context.Context, categories []string, exclude identity.Set) ([]Record, error)
	// ActivePeerHubs returns active peer hubs in insertion order.
	ActivePeerHubs(ctx context.Context) ([]identity.Node, error)
	// Categories returns distinct categories of public agents, first
	// occurrence wins.
	Categories(ctx context.Context) ([]Category, error)
	// Lookup returns the records of any partition matching name and host.
	Lookup(ctx context.Context, name, host string) ([]Record, error)
	// List returns records of kind, or all records when kind is empty.
	List(ctx context.Context, kind Kind) ([]Record, error)
	Close() error
}

// Validate checks a record before it is stored.
func (r Record) Validate() error {
	if r.Identity.Name == "" {
		return fmt.Errorf("registry: record name is required")
	}
	if r.Identity.Host == "" {
		return fmt.Errorf("registry: record host is required for %q", r.Identity.Name)
	}
	switch r.Kind {
	case KindHub, KindPublic, KindPrivate:
	default:
		return fmt.Errorf("registry: invalid kind %q for %q", r.Kind, r.Identity.Name)
	}
	return nil
}

func (r Record) clone() Record {
	if r.Extra != nil {
		extra := make(map[string]string, len(r.Extra))
		for k, v := range r.Extra {
			extra[k] = v
		}
		r.Extra = extra
	}
	return r
}

func partitionKey(kind Kind, id identity.Node) string {
	return string(kind) + "|" + id.Key()
}

func categorySet(categories []string) map[string]struct{} {
	set := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" {
			set[c] = struct{}{}
		}
	}
	return set
}

// filterProviders applies the ActiveProviders predicate to records already
// in insertion order.
func filterProviders(records []Record, categories []string, exclude identity.Set) []Record {
	cats := categorySet(categories)
	if len(cats) == 0 {
		return nil
	}
	var out []Record
	for _, rec := range records {
		if rec.Kind != KindPublic || !rec.Active {
			continue
		}
		if _, ok := cats[strings.ToLower(rec.Category)]; !ok {
			continue
		}
		if exclude.Contains(rec.Identity) {
			continue
		}
		out = append(out, rec.clone())
	}
	return out
}

func filterPeerHubs(records []Record) []identity.Node {
	var out []identity.Node
	for _, rec := range records {
		if rec.Kind == KindHub && rec.Active {
			out = append(out, rec.Identity)
		}
	}
	return out
}

func distinctCategories(records []Record) []Category {
	seen := map[string]struct{}{}
	var out []Category
	for _, rec := range records {
		if rec.Kind != KindPublic || rec.Category == "" {
			continue
		}
		key := strings.ToLower(rec.Category)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, Category{Name: rec.Category, Description: rec.Description})
	}
	return out
}

func lookup(records []Record, name, host string) []Record {
	var out []Record
	for _, rec := range records {
		if rec.Identity.Name == name && rec.Identity.Host == host {
			out = append(out, rec.clone())
		}
	}
	return out
}

func ofKind(records []Record, kind Kind) []Record {
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if kind == "" || rec.Kind == kind {
			out = append(out, rec.clone())
		}
	}
	return out
}
