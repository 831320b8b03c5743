package localstore

import (
	"context"
	"sync"
)

// MemoryStore keeps the roster in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
	active  string
}

// NewMemoryStore creates an empty process-local store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// LoadRoster implements Store.
func (s *MemoryStore) LoadRoster(context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneEntries(s.entries), nil
}

// SaveRoster implements Store.
func (s *MemoryStore) SaveRoster(_ context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = cloneEntries(entries)
	return nil
}

// LoadActive implements Store.
func (s *MemoryStore) LoadActive(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, nil
}

// SaveActive implements Store.
func (s *MemoryStore) SaveActive(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = id
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
