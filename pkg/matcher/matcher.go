// Copyright 2026 © The Hubnet Authors
// SPDX-License-Identifier: Apache-2.0

// Package matcher decides which registered agents can serve a free-text
// request. A hub calls Categories first to narrow the registry, then Match
// on the active candidates of those categories.
package matcher

import (
	"context"
	"strings"

	"github.com/jllopis/hubnet/pkg/identity"
	"github.com/jllopis/hubnet/pkg/registry"
)

// Matcher classifies requests against a hub's registry.
type Matcher interface {
	// Categories returns the category names that can serve text.
	Categories(ctx context.Context, text string, table []registry.Category) ([]string, error)
	// Match selects, among candidates, the agents that serve text.
	Match(ctx context.Context, text string, candidates []registry.Record) (Outcome, error)
}

// Outcome is what a matcher selected. Picks may only carry a name when the
// matcher did not echo the location back.
type Outcome struct {
	Found   bool
	Picks   []identity.Node
	Message string
}

// Resolve maps picks back to candidate records so that only agents the hub
// actually offered (with the hub's own scores) can be returned. A pick
// without host matches a candidate by name when the name is unambiguous.
// Result order follows the picks; duplicates are dropped.
func Resolve(out Outcome, candidates []registry.Record) []registry.Record {
	if !out.Found || len(out.Picks) == 0 {
		return nil
	}
	byIdentity := make(map[identity.Node]int, len(candidates))
	byName := make(map[string][]int, len(candidates))
	for i, c := range candidates {
		byIdentity[c.Identity] = i
		name := strings.ToLower(c.Identity.Name)
		byName[name] = append(byName[name], i)
	}
	seen := make(map[int]struct{}, len(out.Picks))
	var resolved []registry.Record
	for _, p := range out.Picks {
		idx, ok := byIdentity[p]
		if !ok && p.Host == "" {
			if ids := byName[strings.ToLower(p.Name)]; len(ids) == 1 {
				idx, ok = ids[0], true
			}
		}
		if !ok {
			continue
		}
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		resolved = append(resolved, candidates[idx])
	}
	return resolved
}
