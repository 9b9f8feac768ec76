package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client is the subset of Redis commands the store uses. *redis.Client
// satisfies it; tests substitute a fake.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// TTLPolicy holds the freshness windows per entry class.
type TTLPolicy struct {
	Latest   time.Duration // latest quotes update continuously
	History  time.Duration // closed time buckets rarely change
	Capacity time.Duration // enrichment scores change slowly
}

// DefaultTTLPolicy returns the service's policy constants.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		Latest:   5 * time.Second,
		History:  60 * time.Second,
		Capacity: time.Hour,
	}
}

// Store is a cache-aside store over Redis.
type Store struct {
	client Client
	policy TTLPolicy
	logger *slog.Logger
}

// NewStore creates a cache-aside store.
func NewStore(client Client, policy TTLPolicy, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client: client,
		policy: policy,
		logger: logger,
	}
}

// Policy returns the store's freshness windows.
func (s *Store) Policy() TTLPolicy {
	return s.policy
}

// Get returns the raw cached value for key. The second return is false on a
// miss, an expired entry, or a transport error; callers treat all three as
// absent.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	return val, true
}

// GetJSON loads the cached value for key into dest. A decode failure counts
// as a miss; the stale entry is left to expire on its own.
func (s *Store) GetJSON(ctx context.Context, key string, dest any) bool {
	val, ok := s.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(val, dest); err != nil {
		s.logger.Warn("cache entry undecodable, treating as miss", "key", key, "error", err)
		return false
	}
	return true
}

// Set writes value under key with the given TTL. Best-effort: a failure is
// logged and swallowed so the read path still succeeds via origin fallback.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		s.logger.Warn("cache set failed", "key", key, "ttl", ttl, "error", err)
	}
}

// SetJSON marshals v and writes it under key with the given TTL.
func (s *Store) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("cache set marshal failed", "key", key, "error", err)
		return
	}
	s.Set(ctx, key, data, ttl)
}

// Invalidate removes all keys matching a glob pattern and returns the number
// removed. Returns 0 on no-match or error.
func (s *Store) Invalidate(ctx context.Context, pattern string) int {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			s.logger.Warn("cache scan failed", "pattern", pattern, "error", err)
			return 0
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	if len(keys) == 0 {
		return 0
	}

	removed, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		s.logger.Warn("cache delete failed", "pattern", pattern, "error", err)
		return 0
	}

	s.logger.Debug("cache invalidated", "pattern", pattern, "removed", removed)
	return int(removed)
}

// Ping verifies the cache backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
