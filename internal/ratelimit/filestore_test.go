package ratelimit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_RoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "10.0.0.1", []int64{100, 200, 300}))

	got, err := store.Get(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 200, 300}, got)
}

func TestFileStore_MissingKeyIsEmpty(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	got, err := store.Get(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFileStore_CorruptRecordIsEmpty(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileStore(root)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "bad.json"), []byte("{not json"), 0o644))

	got, err := store.Get(context.Background(), "bad")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFileStore_DeleteIsIdempotent(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "key", []int64{1}))
	assert.NoError(t, store.Delete(ctx, "key"))
	assert.NoError(t, store.Delete(ctx, "key"))
}

func TestFileStore_Keys(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileStore(root)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "10.0.0.1", []int64{1}))
	require.NoError(t, store.Set(ctx, "10.0.0.2", []int64{2}))
	// Unrelated files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"10.0.0.1", "10.0.0.2"}, keys)
}

func TestNewFileStore_FailsOnUnusableRoot(t *testing.T) {
	// A regular file cannot serve as the storage root.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := NewFileStore(blocker)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestNewFileStore_FailsOnEmptyRoot(t *testing.T) {
	_, err := NewFileStore("")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestFileStore_WorksWithLimiter(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	limiter, err := New(store, Config{MaxRequests: 2, TimeWindow: time.Minute}, testLogger(t))
	require.NoError(t, err)
	ctx := context.Background()

	assert.True(t, limiter.IsAllowed(ctx, "10.0.0.1"))
	assert.True(t, limiter.IsAllowed(ctx, "10.0.0.1"))
	assert.False(t, limiter.IsAllowed(ctx, "10.0.0.1"))
}
