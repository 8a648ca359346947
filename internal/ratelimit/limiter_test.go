package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cm-relay/cloudmon-telegram-relay/pkg/clock"
	"github.com/cm-relay/cloudmon-telegram-relay/pkg/logger"
)

func newTestLimiter(t *testing.T, maxRequests int, window time.Duration) (*Limiter, *MemoryStore, *clock.Fake) {
	t.Helper()

	store := NewMemoryStore()
	fake := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	limiter, err := New(store, Config{MaxRequests: maxRequests, TimeWindow: window},
		testLogger(t), WithClock(fake))
	require.NoError(t, err)
	return limiter, store, fake
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	return logger.New(logger.Options{Level: logger.LevelFatal})
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	store := NewMemoryStore()
	log := testLogger(t)

	_, err := New(store, Config{MaxRequests: 0, TimeWindow: time.Minute}, log)
	assert.Error(t, err)

	_, err = New(store, Config{MaxRequests: 5, TimeWindow: 0}, log)
	assert.Error(t, err)

	_, err = New(nil, DefaultConfig(), log)
	assert.Error(t, err)
}

func TestIsAllowed_AdmitsUpToLimit(t *testing.T) {
	limiter, _, _ := newTestLimiter(t, 5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.True(t, limiter.IsAllowed(ctx, "10.0.0.1"), "request %d should pass", i+1)
	}
	assert.False(t, limiter.IsAllowed(ctx, "10.0.0.1"), "request over the limit must be rejected")
}

func TestIsAllowed_IdentifiersAreIndependent(t *testing.T) {
	limiter, _, _ := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	assert.True(t, limiter.IsAllowed(ctx, "10.0.0.1"))
	assert.False(t, limiter.IsAllowed(ctx, "10.0.0.1"))
	assert.True(t, limiter.IsAllowed(ctx, "10.0.0.2"))
}

func TestIsAllowed_SlidingWindowReopens(t *testing.T) {
	limiter, _, fake := newTestLimiter(t, 2, time.Minute)
	ctx := context.Background()

	assert.True(t, limiter.IsAllowed(ctx, "10.0.0.1"))
	fake.Advance(30 * time.Second)
	assert.True(t, limiter.IsAllowed(ctx, "10.0.0.1"))
	assert.False(t, limiter.IsAllowed(ctx, "10.0.0.1"))

	// 31 seconds later the first timestamp has left the window, but the
	// second one has not: exactly one slot opens. A fixed bucket would have
	// reset both.
	fake.Advance(31 * time.Second)
	assert.True(t, limiter.IsAllowed(ctx, "10.0.0.1"))
	assert.False(t, limiter.IsAllowed(ctx, "10.0.0.1"))
}

func TestIsAllowed_RejectionDoesNotMutateState(t *testing.T) {
	limiter, store, _ := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	require.True(t, limiter.IsAllowed(ctx, "10.0.0.1"))
	before, err := store.Get(ctx, "10.0.0.1")
	require.NoError(t, err)

	require.False(t, limiter.IsAllowed(ctx, "10.0.0.1"))
	after, err := store.Get(ctx, "10.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, before, after)
}

func TestRemainingRequests(t *testing.T) {
	limiter, _, _ := newTestLimiter(t, 3, time.Minute)
	ctx := context.Background()

	assert.Equal(t, 3, limiter.RemainingRequests(ctx, "10.0.0.1"))
	limiter.IsAllowed(ctx, "10.0.0.1")
	assert.Equal(t, 2, limiter.RemainingRequests(ctx, "10.0.0.1"))
	limiter.IsAllowed(ctx, "10.0.0.1")
	limiter.IsAllowed(ctx, "10.0.0.1")
	assert.Equal(t, 0, limiter.RemainingRequests(ctx, "10.0.0.1"))
}

func TestTimeUntilReset(t *testing.T) {
	limiter, _, fake := newTestLimiter(t, 2, time.Minute)
	ctx := context.Background()

	assert.Equal(t, time.Duration(0), limiter.TimeUntilReset(ctx, "10.0.0.1"))

	limiter.IsAllowed(ctx, "10.0.0.1")
	assert.Equal(t, time.Minute, limiter.TimeUntilReset(ctx, "10.0.0.1"))

	fake.Advance(40 * time.Second)
	assert.Equal(t, 20*time.Second, limiter.TimeUntilReset(ctx, "10.0.0.1"))

	fake.Advance(21 * time.Second)
	assert.Equal(t, time.Duration(0), limiter.TimeUntilReset(ctx, "10.0.0.1"))
}

func TestClear(t *testing.T) {
	limiter, _, _ := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	require.True(t, limiter.IsAllowed(ctx, "10.0.0.1"))
	require.False(t, limiter.IsAllowed(ctx, "10.0.0.1"))

	assert.True(t, limiter.Clear(ctx, "10.0.0.1"))
	assert.True(t, limiter.IsAllowed(ctx, "10.0.0.1"), "cleared identifier is admitted again")

	assert.True(t, limiter.Clear(ctx, "never-seen"), "clearing an absent record succeeds")
}

func TestCleanup(t *testing.T) {
	limiter, store, fake := newTestLimiter(t, 5, time.Minute)
	ctx := context.Background()

	limiter.IsAllowed(ctx, "old-1")
	limiter.IsAllowed(ctx, "old-2")
	fake.Advance(2 * time.Minute)
	limiter.IsAllowed(ctx, "fresh")

	deleted := limiter.Cleanup(ctx)

	assert.Equal(t, 2, deleted)
	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, keys)
}

func TestCleanup_RewritesPartiallyExpiredRecords(t *testing.T) {
	limiter, store, fake := newTestLimiter(t, 5, time.Minute)
	ctx := context.Background()

	limiter.IsAllowed(ctx, "mixed")
	fake.Advance(2 * time.Minute)
	limiter.IsAllowed(ctx, "mixed")

	deleted := limiter.Cleanup(ctx)

	assert.Equal(t, 0, deleted)
	record, err := store.Get(ctx, "mixed")
	require.NoError(t, err)
	assert.Len(t, record, 1, "expired timestamp dropped, fresh one kept")
}

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain ip", "10.0.0.1", "10.0.0.1"},
		{"ipv6 colons stripped", "2001:db8::1", "2001db81"},
		{"traversal stripped", "../../etc/passwd", "....etcpasswd"},
		{"spaces and slashes stripped", "a b/c", "abc"},
		{"truncated to 50", longIdentifier(), longIdentifier()[:50]},
		{"empty maps to unknown", "", "unknown"},
		{"only junk maps to unknown", "!!!///", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeIdentifier(tt.in))
		})
	}
}

func longIdentifier() string {
	s := ""
	for i := 0; i < 60; i++ {
		s += "a"
	}
	return s
}
