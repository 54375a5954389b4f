// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"sync"

	"github.com/jllopis/hubnet/pkg/identity"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	index   map[string]int
	closed  bool
}

// NewMemoryStore returns an empty store seeded with recs, in order.
func NewMemoryStore(recs ...Record) (*MemoryStore, error) {
	s := &MemoryStore{index: make(map[string]int)}
	for _, rec := range recs {
		if err := s.Add(context.Background(), rec); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add implements Store.
func (s *MemoryStore) Add(_ context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	key := partitionKey(rec.Kind, rec.Identity)
	if _, ok := s.index[key]; ok {
		return ErrExists
	}
	s.index[key] = len(s.records)
	s.records = append(s.records, rec.clone())
	return nil
}

// SetActive implements Store.
func (s *MemoryStore) SetActive(_ context.Context, id identity.Node, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	found := false
	for _, kind := range Kinds {
		if i, ok := s.index[partitionKey(kind, id)]; ok {
			s.records[i].Active = active
			found = true
		}
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// ActiveProviders implements Store.
func (s *MemoryStore) ActiveProviders(_ context.Context, categories []string, exclude identity.Set) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return filterProviders(s.records, categories, exclude), nil
}

// ActivePeerHubs implements Store.
func (s *MemoryStore) ActivePeerHubs(_ context.Context) ([]identity.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return filterPeerHubs(s.records), nil
}

// Categories implements Store.
func (s *MemoryStore) Categories(_ context.Context) ([]Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return distinctCategories(s.records), nil
}

// Lookup implements Store.
func (s *MemoryStore) Lookup(_ context.Context, name, host string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return lookup(s.records, name, host), nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, kind Kind) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return ofKind(s.records, kind), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
