// Package ratelimit implements a per-identifier sliding-window rate limiter.
// The window is recomputed on every check from the timestamps of previously
// accepted requests, so counters survive across independent process
// invocations when backed by a durable store.
//
// Storage is pluggable: an in-memory store for tests, a file-per-identifier
// store for single-host deployments, and redis or postgres stores for
// deployments that share counters or already carry those services.
package ratelimit

import (
	"context"
	"errors"
	"sync"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE CONTRACT
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrStoreUnavailable indicates the backing store cannot be reached or
	// prepared. Returned by store constructors; a per-request store failure
	// is logged by the limiter instead.
	ErrStoreUnavailable = errors.New("ratelimit: store unavailable")
)

// Store persists the accepted-request timestamps for each identifier.
// Keys are sanitized by the Limiter before they reach the store, so
// implementations may use them directly as file names or database keys.
type Store interface {
	// Get returns the recorded timestamps for key, or an empty slice when
	// the key has no record.
	Get(ctx context.Context, key string) ([]int64, error)

	// Set replaces the recorded timestamps for key.
	Set(ctx context.Context, key string, timestamps []int64) error

	// Delete removes the record for key. Deleting an absent key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// Keys lists every key that currently has a record.
	Keys(ctx context.Context) ([]string, error)

	// Close releases store resources.
	Close() error
}

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY STORE
// ══════════════════════════════════════════════════════════════════════════════

// MemoryStore is a Store backed by a process-local map. Counters do not
// survive restarts; intended for tests and single-process development.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]int64)}
}

// Get returns a copy of the recorded timestamps for key.
func (s *MemoryStore) Get(_ context.Context, key string) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.records[key]
	if !exists {
		return []int64{}, nil
	}
	out := make([]int64, len(record))
	copy(out, record)
	return out, nil
}

// Set replaces the recorded timestamps for key.
func (s *MemoryStore) Set(_ context.Context, key string, timestamps []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := make([]int64, len(timestamps))
	copy(record, timestamps)
	s.records[key] = record
	return nil
}

// Delete removes the record for key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)
	return nil
}

// Keys lists every key with a record.
func (s *MemoryStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.records))
	for key := range s.records {
		keys = append(keys, key)
	}
	return keys, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
