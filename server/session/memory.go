package session

import (
	"context"
	"sync"
)

// MemoryStore keeps histories in process memory. They are lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]Turn
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]Turn)}
}

func (s *MemoryStore) Get(ctx context.Context, id string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneHistory(s.sessions[id]), nil
}

func (s *MemoryStore) Set(ctx context.Context, id string, history []Turn) error {
	s.mu.Lock()
	s.sessions[id] = cloneHistory(history)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *MemoryStore) Close() error { return nil }
