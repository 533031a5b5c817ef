// Package ratelimit implements fixed-window request counters with pluggable
// backends. The store is the foundation for endpoint throttling and for
// replay-nonce tracking in the signing layer.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Entry is the live counter state for a key.
type Entry struct {
	Count   int64
	ResetAt time.Time
}

// RetryAfter reports how long a caller should wait before the window resets.
func (e Entry) RetryAfter(now time.Time) time.Duration {
	d := e.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Store is a fixed-window counter. Increment never fails on quota — callers
// compare Entry.Count against their own maximum.
type Store interface {
	// Increment bumps the counter for key, starting a fresh window (count=1)
	// when no live entry exists or the previous window has elapsed.
	Increment(ctx context.Context, key string, window time.Duration) (Entry, error)
	// Get returns the live entry for key, reporting absence for missing or
	// expired entries.
	Get(ctx context.Context, key string) (Entry, bool, error)
	// Cleanup removes expired entries to bound memory. Safe to call
	// concurrently with Increment; a racing read only delays eviction.
	Cleanup(ctx context.Context) error
}

// MemoryStore is the in-process Store for single-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	now     func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// Increment implements Store.
func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (Entry, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || !entry.ResetAt.After(now) {
		entry = Entry{Count: 1, ResetAt: now.Add(window)}
	} else {
		entry.Count++
	}
	s.entries[key] = entry
	return entry, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || !entry.ResetAt.After(now) {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Cleanup implements Store.
func (s *MemoryStore) Cleanup(_ context.Context) error {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range s.entries {
		if !entry.ResetAt.After(now) {
			delete(s.entries, key)
		}
	}
	return nil
}

// Len reports the number of tracked keys, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
