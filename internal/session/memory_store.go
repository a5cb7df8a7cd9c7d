package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory state store with expiry support.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]*State
	expiry time.Duration
}

// NewMemoryStore creates an in-memory state store.
// expiry defines the idle timeout after which a state is forgotten; 0 means no expiry.
func NewMemoryStore(expiry time.Duration) *MemoryStore {
	return &MemoryStore{
		states: make(map[string]*State),
		expiry: expiry,
	}
}

// Get retrieves a state by key.
func (s *MemoryStore) Get(_ context.Context, key string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[key]
	if !ok {
		return nil, ErrNotFound
	}

	if s.expiry > 0 && time.Since(st.UpdatedAt) > s.expiry {
		delete(s.states, key)
		return nil, ErrNotFound
	}

	cp := *st
	return &cp, nil
}

// Put creates or replaces a state.
func (s *MemoryStore) Put(_ context.Context, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *state
	s.states[state.Key] = &cp
	return nil
}

// Delete removes a state by key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, key)
	return nil
}

// Len returns the number of tracked states, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}
