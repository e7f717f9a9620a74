package terms

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store. It is only suitable for a single
// instance deployment.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Put(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Token] = entry
	return nil
}

func (s *MemoryStore) Get(_ context.Context, token string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[token]
	return entry, ok, nil
}

func (s *MemoryStore) CompareAndInvalidate(_ context.Context, token string, now time.Time) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[token]
	if !ok || !entry.Active(now) {
		return entry, false, nil
	}
	claimed := entry
	entry.Valid = false
	s.entries[token] = entry
	return claimed, true, nil
}

// Purge drops every entry that can no longer admit a request.
func (s *MemoryStore) Purge(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for token, entry := range s.entries {
		if !entry.Active(now) {
			delete(s.entries, token)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
