package ratings

import (
	"context"
	"sync"
)

type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Submit(_ context.Context, artifact string, rating int) error {
	index, err := ParseIndex(artifact)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[artifact] = Entry{Artifact: artifact, Index: index, Rating: rating}
	return nil
}

func (s *MemoryStore) Consume(_ context.Context) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		lowest Entry
		found  bool
	)
	for _, entry := range s.entries {
		if !found || less(entry, lowest) {
			lowest = entry
			found = true
		}
	}
	if !found {
		return Entry{}, false, nil
	}
	delete(s.entries, lowest.Artifact)
	return lowest, true, nil
}

func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries), nil
}

func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]Entry)
	return nil
}
