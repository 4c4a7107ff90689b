package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dose3d/drf-crud-client/internal/constants"
	redis "github.com/redis/go-redis/v9"
)

// RedisStore is a durable Store backed by Redis. Slots shared between
// processes pointed at the same instance and prefix see each other's logins.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store. A zero ttl keeps slots until
// they are deleted.
func NewRedisStore(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = constants.DefaultRedisPrefix
	}

	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttl}
}

// NewRedisStoreFromURL parses a redis:// URL and connects lazily.
func NewRedisStoreFromURL(redisURL, prefix string, ttl time.Duration) (*RedisStore, error) {
	if redisURL == "" {
		return nil, constants.ErrRedisURLRequired
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	return NewRedisStore(redis.NewClient(opts), prefix, ttl), nil
}

func (s *RedisStore) key(key string) string { return s.prefix + key }

// Get returns the slot value.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, constants.ErrTokenSlotNotFound
		}

		return nil, fmt.Errorf("failed to read token slot: %w", err)
	}

	return raw, nil
}

// Set stores value with the configured TTL.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	err := s.rdb.Set(ctx, s.key(key), value, s.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to write token slot: %w", err)
	}

	return nil
}

// Delete removes the slot.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	err := s.rdb.Del(ctx, s.key(key)).Err()
	if err != nil {
		return fmt.Errorf("failed to delete token slot: %w", err)
	}

	return nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
