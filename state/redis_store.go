package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-billing/core"
)

// RedisStore keeps markers as plain redis strings. TTL of zero means the key
// never expires.
type RedisStore struct {
	client *redis.Client
	TTL    time.Duration
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s == nil || s.client == nil {
		return "", false, fmt.Errorf("state: redis client is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, fmt.Errorf("state: key is required")
	}
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("state: redis get %s: %w", key, err)
	}
	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("state: redis client is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("state: key is required")
	}
	if err := s.client.Set(ctx, key, value, s.TTL).Err(); err != nil {
		return fmt.Errorf("state: redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("state: redis client is not configured")
	}
	if err := s.client.Del(ctx, strings.TrimSpace(key)).Err(); err != nil {
		return fmt.Errorf("state: redis del %s: %w", key, err)
	}
	return nil
}

var _ core.KeyValueStore = (*RedisStore)(nil)
