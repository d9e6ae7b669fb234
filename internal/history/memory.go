package history

import (
	"context"
	"sync"
)

// MemoryStore keeps counters in process memory. It is only multi-process safe in the
// trivial sense that each process sees its own counters; use it for tests and single-process hosts.
type MemoryStore struct {
	mu     sync.RWMutex
	counts map[string]int
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[string]int)}
}

// Get returns the stored count for version.
func (s *MemoryStore) Get(ctx context.Context, version string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	key, err := normaliseVersion(version)
	if err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts[key], nil
}

// Put stores count unless a higher count is already recorded.
func (s *MemoryStore) Put(ctx context.Context, version string, count int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := normaliseVersion(version)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if count > s.counts[key] {
		s.counts[key] = count
	}
	return nil
}

// List returns a copy of all counters.
func (s *MemoryStore) List(ctx context.Context) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out, nil
}

// Reset removes the counter for version.
func (s *MemoryStore) Reset(ctx context.Context, version string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := normaliseVersion(version)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counts, key)
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
