package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"relentless-frontier/internal/models"
)

// RedisStatusStore keeps URL statuses in Redis as JSON strings with a TTL.
type RedisStatusStore struct {
	client redis.Cmdable
	closer func() error
	prefix string
	ttl    time.Duration
}

// NewRedisStatusStore initializes a Redis-backed StatusStore.
func NewRedisStatusStore(addr, prefix string, ttl time.Duration) *RedisStatusStore {
	client := redis.NewClient(&redis.Options{Addr: addr})
	return NewRedisStatusStoreWithClient(client, client.Close, prefix, ttl)
}

// NewRedisStatusStoreWithClient wraps an existing client (tests, shared pools).
func NewRedisStatusStoreWithClient(client redis.Cmdable, closer func() error, prefix string, ttl time.Duration) *RedisStatusStore {
	return &RedisStatusStore{
		client: client,
		closer: closer,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Close closes the Redis client.
func (s *RedisStatusStore) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// Ping checks connectivity.
func (s *RedisStatusStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// SetStatus writes the status under prefix+key.
func (s *RedisStatusStore) SetStatus(ctx context.Context, status models.URLStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.prefix+status.Key, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set status %s: %w", status.Key, err)
	}
	return nil
}

// GetStatus reads the status stored for key.
func (s *RedisStatusStore) GetStatus(ctx context.Context, key string) (models.URLStatus, bool, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.URLStatus{}, false, nil
		}
		return models.URLStatus{}, false, fmt.Errorf("redis get status %s: %w", key, err)
	}

	var status models.URLStatus
	if err := json.Unmarshal([]byte(val), &status); err != nil {
		return models.URLStatus{}, false, err
	}
	return status, true, nil
}
