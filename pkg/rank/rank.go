// SPDX-License-Identifier: Apache-2.0

// Package rank orders search results.
package rank

import (
	"sort"

	"github.com/jllopis/hubnet/pkg/search"
)

// Sort orders providers by descending relevance, then descending goodness.
// Exact ties keep their input (registry) order. The input is not modified.
func Sort(providers []search.Provider) []search.Provider {
	out := make([]search.Provider, len(providers))
	copy(out, providers)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Relevance != out[j].Relevance {
			return out[i].Relevance > out[j].Relevance
		}
		return out[i].Goodness > out[j].Goodness
	})
	return out
}
