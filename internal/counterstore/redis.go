// Package counterstore implements the sequential number allocator
// described in SPEC_FULL.md §4.A: a shared, atomic per-parent counter
// backed by Redis.
package counterstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Store is the Counter Store contract. next is the only operation the
// hot write path calls; get/set/reset exist for reconciliation.
type Store interface {
	Next(ctx context.Context, key string) (int64, error)
	Get(ctx context.Context, key string) (int64, bool, error)
	Set(ctx context.Context, key string, n int64) error
	Reset(ctx context.Context, key string) error
}

// RedisStore is the production Store implementation. A single `INCR`
// is Redis's atomic increment-and-return primitive: under arbitrary
// concurrency the server serializes increments, so callers observe
// strict monotonicity with no duplicates and no skips.
type RedisStore struct {
	rdb *redis.Client
}

// New connects to Redis at the given URL (e.g. "redis://host:6379/0").
func New(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("counterstore: parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("counterstore: connect: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

// NewFromClient wraps an already-constructed redis.Client, used by
// tests and by callers that share one client across the counter store
// and other Redis-backed concerns.
func NewFromClient(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Next atomically increments and returns the counter for key. If the
// connection drops mid-command the caller cannot tell whether the
// increment landed, so this never retries internally — a caller that
// retries blind risks skipping or double-allocating a number. The
// ingest front-end surfaces this error as a 500 (SPEC_FULL.md §7).
func (s *RedisStore) Next(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("counterstore: incr %s: %w", key, err)
	}
	return n, nil
}

// Get returns the current value of key, or ok=false if it has never
// been set.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, bool, error) {
	n, err := s.rdb.Get(ctx, key).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("counterstore: get %s: %w", key, err)
	}
	return n, true, nil
}

// Set unconditionally overwrites the counter for key. Used only by
// RebuildCounters, which is itself responsible for never lowering an
// already-safe counter (I3).
func (s *RedisStore) Set(ctx context.Context, key string, n int64) error {
	if err := s.rdb.Set(ctx, key, n, 0).Err(); err != nil {
		return fmt.Errorf("counterstore: set %s: %w", key, err)
	}
	return nil
}

// Reset deletes the counter for key, simulating the "KV store loses
// state" failure mode in tests.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("counterstore: del %s: %w", key, err)
	}
	return nil
}

// Ping verifies connectivity to Redis, used by the /health endpoint.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("counterstore: ping: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// AppChatCounterKey builds the key schema from SPEC_FULL.md §6 for an
// application's chat-number counter.
func AppChatCounterKey(appID int64) string {
	return fmt.Sprintf("chat_app:%d:chat_counter", appID)
}

// ChatMessageCounterKey builds the key schema for a chat's
// message-number counter.
func ChatMessageCounterKey(chatID int64) string {
	return fmt.Sprintf("chat:%d:message_counter", chatID)
}
