package ratelimit

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/cm-relay/cloudmon-telegram-relay/pkg/clock"
	"github.com/cm-relay/cloudmon-telegram-relay/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds rate-limit parameters.
type Config struct {
	// MaxRequests is the number of requests admitted per identifier within
	// one window. Must be positive.
	MaxRequests int

	// TimeWindow is the sliding window length. Must be positive.
	TimeWindow time.Duration
}

// DefaultConfig allows 10 requests per identifier per minute.
func DefaultConfig() Config {
	return Config{
		MaxRequests: 10,
		TimeWindow:  time.Minute,
	}
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the system clock; used by tests to simulate the
// passage of time.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) {
		l.clock = c
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// IDENTIFIER SANITIZATION
// ══════════════════════════════════════════════════════════════════════════════

// identifierStrip removes everything that is not a letter, digit, dash,
// underscore or dot, so an identifier can never escape its storage slot.
var identifierStrip = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// maxIdentifierLength bounds sanitized identifiers.
const maxIdentifierLength = 50

// SanitizeIdentifier reduces an arbitrary identifier to a safe storage key:
// disallowed characters are stripped and the result is truncated to 50
// characters. An identifier that sanitizes to nothing maps to "unknown" so
// such callers still share one rate-limit slot.
func SanitizeIdentifier(identifier string) string {
	key := identifierStrip.ReplaceAllString(identifier, "")
	if len(key) > maxIdentifierLength {
		key = key[:maxIdentifierLength]
	}
	if key == "" {
		return "unknown"
	}
	return key
}

// ══════════════════════════════════════════════════════════════════════════════
// LIMITER
// ══════════════════════════════════════════════════════════════════════════════

// Limiter bounds request frequency per identifier with a sliding window of
// accepted-request timestamps.
//
// The load-filter-compare-append-persist sequence is not atomic across
// concurrent callers of the same identifier: two requests arriving in the
// same instant can both be admitted one past the limit. This over-admission
// is accepted; exactness would require exclusive locking around the full
// sequence.
//
// Store failures on the request path fail open: an unreachable store admits
// the request and logs the error, it never takes the relay down.
type Limiter struct {
	store  Store
	config Config
	clock  clock.Clock
	log    *logger.Logger
}

// New creates a Limiter over the given store.
func New(store Store, cfg Config, log *logger.Logger, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("ratelimit: store is required")
	}
	if cfg.MaxRequests <= 0 {
		return nil, fmt.Errorf("ratelimit: MaxRequests must be positive, got %d", cfg.MaxRequests)
	}
	if cfg.TimeWindow <= 0 {
		return nil, fmt.Errorf("ratelimit: TimeWindow must be positive, got %s", cfg.TimeWindow)
	}
	if log == nil {
		log = logger.Default()
	}

	l := &Limiter{
		store:  store,
		config: cfg,
		clock:  clock.System{},
		log:    log.With(logger.Component("ratelimit")),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// IsAllowed records and admits a request for the identifier unless the
// identifier already used up its window. Rejections do not mutate stored
// state.
func (l *Limiter) IsAllowed(ctx context.Context, identifier string) bool {
	key := SanitizeIdentifier(identifier)
	now := l.clock.Now().Unix()

	recorded, err := l.store.Get(ctx, key)
	if err != nil {
		l.log.Error("rate limit store read failed, admitting request",
			logger.Identifier(key), logger.Err(err))
		return true
	}

	active := l.activeTimestamps(recorded, now)
	if len(active) >= l.config.MaxRequests {
		return false
	}

	active = append(active, now)
	if err := l.store.Set(ctx, key, active); err != nil {
		l.log.Error("rate limit store write failed, admitting request",
			logger.Identifier(key), logger.Err(err))
	}
	return true
}

// RemainingRequests returns how many more requests the identifier may make
// within the current window. Non-mutating.
func (l *Limiter) RemainingRequests(ctx context.Context, identifier string) int {
	key := SanitizeIdentifier(identifier)
	now := l.clock.Now().Unix()

	recorded, err := l.store.Get(ctx, key)
	if err != nil {
		l.log.Error("rate limit store read failed",
			logger.Identifier(key), logger.Err(err))
		return l.config.MaxRequests
	}

	remaining := l.config.MaxRequests - len(l.activeTimestamps(recorded, now))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// TimeUntilReset returns how long until the identifier's oldest active
// timestamp leaves the window. Zero when nothing is recorded.
func (l *Limiter) TimeUntilReset(ctx context.Context, identifier string) time.Duration {
	key := SanitizeIdentifier(identifier)
	now := l.clock.Now().Unix()

	recorded, err := l.store.Get(ctx, key)
	if err != nil {
		l.log.Error("rate limit store read failed",
			logger.Identifier(key), logger.Err(err))
		return 0
	}

	active := l.activeTimestamps(recorded, now)
	if len(active) == 0 {
		return 0
	}

	oldest := active[0]
	for _, ts := range active[1:] {
		if ts < oldest {
			oldest = ts
		}
	}

	reset := oldest + int64(l.config.TimeWindow/time.Second) - now
	if reset < 0 {
		return 0
	}
	return time.Duration(reset) * time.Second
}

// Clear removes the identifier's record entirely. Idempotent: clearing an
// identifier without a record succeeds.
func (l *Limiter) Clear(ctx context.Context, identifier string) bool {
	key := SanitizeIdentifier(identifier)
	if err := l.store.Delete(ctx, key); err != nil {
		l.log.Error("rate limit clear failed",
			logger.Identifier(key), logger.Err(err))
		return false
	}
	return true
}

// Cleanup sweeps all persisted records, drops expired timestamps, deletes
// records that become empty and rewrites the rest. Returns the number of
// fully-deleted records. Meant for out-of-band maintenance, not for the
// request path.
func (l *Limiter) Cleanup(ctx context.Context) int {
	keys, err := l.store.Keys(ctx)
	if err != nil {
		l.log.Error("rate limit cleanup listing failed", logger.Err(err))
		return 0
	}

	now := l.clock.Now().Unix()
	deleted := 0
	for _, key := range keys {
		recorded, err := l.store.Get(ctx, key)
		if err != nil {
			l.log.Error("rate limit cleanup read failed",
				logger.Identifier(key), logger.Err(err))
			continue
		}

		active := l.activeTimestamps(recorded, now)
		switch {
		case len(active) == 0:
			if err := l.store.Delete(ctx, key); err != nil {
				l.log.Error("rate limit cleanup delete failed",
					logger.Identifier(key), logger.Err(err))
				continue
			}
			deleted++
		case len(active) != len(recorded):
			if err := l.store.Set(ctx, key, active); err != nil {
				l.log.Error("rate limit cleanup rewrite failed",
					logger.Identifier(key), logger.Err(err))
			}
		}
	}

	l.log.Info("rate limit cleanup finished",
		logger.Int("records", len(keys)), logger.Int("deleted", deleted))
	return deleted
}

// activeTimestamps keeps only timestamps still inside the window:
// ts > now - window.
func (l *Limiter) activeTimestamps(timestamps []int64, now int64) []int64 {
	cutoff := now - int64(l.config.TimeWindow/time.Second)
	active := make([]int64, 0, len(timestamps))
	for _, ts := range timestamps {
		if ts > cutoff {
			active = append(active, ts)
		}
	}
	return active
}
