package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore persists one JSON file per identifier under a storage root.
// This is the default backend: it keeps counters across process-per-request
// invocations without requiring any external service.
//
// The read-filter-append-write sequence performed by the limiter is not
// locked, so two concurrent requests for the same identifier may both be
// admitted at the boundary. That over-admission by one is accepted.
type FileStore struct {
	root string
}

// NewFileStore creates the storage root if needed and verifies it is
// writable. An unusable root is a startup-time fatal condition.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: storage root is empty", ErrStoreUnavailable)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create storage root: %v", ErrStoreUnavailable, err)
	}

	// Probe writability up front rather than failing on the first request.
	probe := filepath.Join(root, ".write-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return nil, fmt.Errorf("%w: storage root not writable: %v", ErrStoreUnavailable, err)
	}
	_ = os.Remove(probe)

	return &FileStore{root: root}, nil
}

// Get reads the record file for key. A missing file is an empty record.
func (s *FileStore) Get(_ context.Context, key string) ([]int64, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return []int64{}, nil
		}
		return nil, fmt.Errorf("ratelimit: read record %q: %w", key, err)
	}

	var timestamps []int64
	if err := json.Unmarshal(data, &timestamps); err != nil {
		// A corrupt record is treated as empty so one bad file cannot
		// permanently block or permanently admit an identifier.
		return []int64{}, nil
	}
	return timestamps, nil
}

// Set writes the record file for key.
func (s *FileStore) Set(_ context.Context, key string, timestamps []int64) error {
	data, err := json.Marshal(timestamps)
	if err != nil {
		return fmt.Errorf("ratelimit: encode record %q: %w", key, err)
	}
	if err := os.WriteFile(s.path(key), data, 0o644); err != nil {
		return fmt.Errorf("ratelimit: write record %q: %w", key, err)
	}
	return nil
}

// Delete removes the record file for key.
func (s *FileStore) Delete(_ context.Context, key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ratelimit: delete record %q: %w", key, err)
	}
	return nil
}

// Keys lists every identifier with a record file.
func (s *FileStore) Keys(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: list records: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".json"))
	}
	return keys, nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.root, key+".json")
}
