// Package granttest provides an in-memory grant.Store for engine tests.
package granttest

import (
	"context"
	"slices"
	"sync"

	"github.com/flemzord/cooldownd/internal/grant"
)

// Store is a concurrency-safe in-memory grant.Store. The zero value is not
// usable; call NewStore.
type Store struct {
	mu     sync.Mutex
	grants map[grant.Key]grant.Grant

	// FailCreate and FailPop, when set, are returned by the corresponding
	// operation to simulate persistence failures.
	FailCreate error
	FailPop    error
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{grants: make(map[grant.Key]grant.Grant)}
}

// TryCreate implements grant.Store.
func (s *Store) TryCreate(_ context.Context, g grant.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCreate != nil {
		return s.FailCreate
	}
	key := g.Key()
	if _, exists := s.grants[key]; exists {
		return grant.ErrAlreadyActive
	}
	g.BackedUp = slices.Clone(g.BackedUp)
	s.grants[key] = g
	return nil
}

// Get implements grant.Store.
func (s *Store) Get(_ context.Context, key grant.Key) (grant.Grant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[key]
	return g, ok, nil
}

// Pop implements grant.Store.
func (s *Store) Pop(_ context.Context, key grant.Key) (grant.Grant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailPop != nil {
		return grant.Grant{}, false, s.FailPop
	}
	g, ok := s.grants[key]
	if ok {
		delete(s.grants, key)
	}
	return g, ok, nil
}

// List implements grant.Store.
func (s *Store) List(_ context.Context) ([]grant.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]grant.Grant, 0, len(s.grants))
	for _, g := range s.grants {
		out = append(out, g)
	}
	return out, nil
}

// Len returns the number of stored grants.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.grants)
}
