package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process CounterStore. It preserves the same
// one-counter-per-bucket semantics as the Redis store but is only correct
// within a single process; use it for tests and single-worker deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry
}

type memEntry struct {
	count   int64
	expires time.Time
}

// NewMemoryStore creates an empty in-process counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memEntry)}
}

// Incr atomically increments key, setting its expiry on first increment.
func (s *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	e, ok := s.entries[key]
	if !ok || now.After(e.expires) {
		e = &memEntry{expires: now.Add(ttl)}
		s.entries[key] = e
	}
	e.count++

	// Opportunistic cleanup so long-running processes don't accumulate keys.
	if len(s.entries) > 256 {
		for k, v := range s.entries {
			if now.After(v.expires) {
				delete(s.entries, k)
			}
		}
	}

	return e.count, nil
}
