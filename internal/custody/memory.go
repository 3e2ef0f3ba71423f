package custody

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory, thread-safe ChainStore. It is primarily
// useful for tests and for single-process deployments that do not require
// durable persistence across restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	chains  map[string][]*Entry // event_id → entries ascending by timestamp
	byID    map[string]struct{}
	byHash  map[string]struct{}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chains: make(map[string][]*Entry),
		byID:   make(map[string]struct{}),
		byHash: make(map[string]struct{}),
	}
}

// Insert implements ChainStore.
func (s *MemoryStore) Insert(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[e.EntryID]; ok {
		return ErrDuplicateEntry
	}
	if _, ok := s.byHash[e.EntryHash]; ok {
		return ErrDuplicateEntry
	}

	chain := s.chains[e.EventID]
	tail := Genesis
	if len(chain) > 0 {
		tail = chain[len(chain)-1].EntryHash
	}
	if e.PreviousHash != tail {
		return ErrTailConflict
	}

	cp := *e
	s.chains[e.EventID] = append(chain, &cp)
	s.byID[e.EntryID] = struct{}{}
	s.byHash[e.EntryHash] = struct{}{}
	return nil
}

// FindMostRecent implements ChainStore.
func (s *MemoryStore) FindMostRecent(_ context.Context, eventID string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[eventID]
	if len(chain) == 0 {
		return nil, nil
	}
	cp := *chain[len(chain)-1]
	return &cp, nil
}

// FindAllOrdered implements ChainStore.
func (s *MemoryStore) FindAllOrdered(_ context.Context, eventID string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[eventID]
	out := make([]*Entry, len(chain))
	for i, e := range chain {
		cp := *e
		out[i] = &cp
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// Tamper overwrites a stored entry in place without recomputing any hashes.
// Test hook only: it exists so integrity tests can simulate an attacker with
// write access to the backing store.
func (s *MemoryStore) Tamper(eventID string, index int, mutate func(*Entry)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.chains[eventID]
	if index < 0 || index >= len(chain) {
		return false
	}
	mutate(chain[index])
	return true
}
