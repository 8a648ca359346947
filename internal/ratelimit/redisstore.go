package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces rate-limit keys inside a shared redis database.
const keyPrefix = "ratelimit:"

// RedisConfig holds redis connection settings for the redis-backed store.
type RedisConfig struct {
	// Addr is the redis address in "host:port" format.
	Addr string

	// Username is the redis username (empty if no ACL).
	Username string

	// Password is the redis password (empty if no auth).
	Password string

	// DB is the redis database number.
	DB int

	// DialTimeout is the timeout for establishing new connections.
	DialTimeout time.Duration

	// KeyTTL is how long an idle record survives before redis expires it.
	// Should be at least the rate-limit window; expired records are exactly
	// the ones a cleanup sweep would delete.
	KeyTTL time.Duration
}

// DefaultRedisConfig returns sensible defaults for a local redis.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:        "localhost:6379",
		DialTimeout: 5 * time.Second,
		KeyTTL:      time.Hour,
	}
}

// RedisStore is a Store backed by redis. Useful when several relay
// processes should share one set of counters.
type RedisStore struct {
	client *redis.Client
	keyTTL time.Duration
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis ping: %v", ErrStoreUnavailable, err)
	}

	keyTTL := cfg.KeyTTL
	if keyTTL <= 0 {
		keyTTL = time.Hour
	}

	return &RedisStore{client: client, keyTTL: keyTTL}, nil
}

// Get reads the record for key. A missing key is an empty record.
func (s *RedisStore) Get(ctx context.Context, key string) ([]int64, error) {
	data, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []int64{}, nil
		}
		return nil, fmt.Errorf("ratelimit: redis get %q: %w", key, err)
	}

	var timestamps []int64
	if err := json.Unmarshal(data, &timestamps); err != nil {
		return []int64{}, nil
	}
	return timestamps, nil
}

// Set replaces the record for key. The key expires after the configured TTL
// so idle identifiers age out without a sweep.
func (s *RedisStore) Set(ctx context.Context, key string, timestamps []int64) error {
	data, err := json.Marshal(timestamps)
	if err != nil {
		return fmt.Errorf("ratelimit: encode record %q: %w", key, err)
	}
	if err := s.client.Set(ctx, keyPrefix+key, data, s.keyTTL).Err(); err != nil {
		return fmt.Errorf("ratelimit: redis set %q: %w", key, err)
	}
	return nil
}

// Delete removes the record for key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("ratelimit: redis del %q: %w", key, err)
	}
	return nil
}

// Keys scans for every rate-limit key in the database.
func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(keyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("ratelimit: redis scan: %w", err)
	}
	return keys, nil
}

// Close closes the redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
