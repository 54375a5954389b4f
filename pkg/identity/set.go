// SPDX-License-Identifier: Apache-2.0

package identity

// Set is an insertion-ordered set of Nodes with value semantics.
// With returns a new set; the receiver is never modified, so a Set can be
// handed to another call path without copying.
type Set struct {
	order []Node
	index map[Node]struct{}
}

// NewSet returns a set containing nodes, deduplicated, in order.
func NewSet(nodes ...Node) Set {
	var s Set
	for _, n := range nodes {
		s = s.with(n)
	}
	return s
}

// Contains reports membership.
func (s Set) Contains(n Node) bool {
	if s.index == nil {
		return false
	}
	_, ok := s.index[n]
	return ok
}

// Len returns the number of members.
func (s Set) Len() int {
	return len(s.order)
}

// Nodes returns a copy of the members in insertion order.
func (s Set) Nodes() []Node {
	if len(s.order) == 0 {
		return nil
	}
	out := make([]Node, len(s.order))
	copy(out, s.order)
	return out
}

// With returns a new set that also contains nodes.
func (s Set) With(nodes ...Node) Set {
	out := s.clone()
	for _, n := range nodes {
		out = out.with(n)
	}
	return out
}

// Union returns a new set with the members of both, s first.
func (s Set) Union(o Set) Set {
	return s.With(o.order...)
}

func (s Set) with(n Node) Set {
	if s.Contains(n) {
		return s
	}
	if s.index == nil {
		s.index = make(map[Node]struct{})
	}
	s.index[n] = struct{}{}
	s.order = append(s.order, n)
	return s
}

func (s Set) clone() Set {
	out := Set{
		order: make([]Node, len(s.order), len(s.order)+1),
		index: make(map[Node]struct{}, len(s.order)+1),
	}
	copy(out.order, s.order)
	for k := range s.index {
		out.index[k] = struct{}{}
	}
	return out
}
