package gojob

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	redisqueue "github.com/goliatone/go-job/queue/adapters/redis"
	redisidempotency "github.com/goliatone/go-job/queue/idempotency/redis"
)

// QueueClient runs the go-job redis queue storage on a go-redis client.
// Missing keys read as empty values, which is what the storage expects.
type QueueClient struct {
	Client redis.UniversalClient
}

func NewQueueClient(client redis.UniversalClient) *QueueClient {
	return &QueueClient{Client: client}
}

func (c *QueueClient) HSet(ctx context.Context, key string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	return c.Client.HSet(ctx, key, values).Err()
}

func (c *QueueClient) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	values, err := c.Client.HGetAll(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return map[string]string{}, nil
	}
	return values, err
}

func (c *QueueClient) HGet(ctx context.Context, key, field string) (string, error) {
	return stringResult(c.Client.HGet(ctx, key, field).Result())
}

func (c *QueueClient) HDel(ctx context.Context, key string, fields ...string) error {
	return c.Client.HDel(ctx, key, fields...).Err()
}

func (c *QueueClient) LPush(ctx context.Context, key string, values ...string) error {
	args := make([]any, 0, len(values))
	for _, value := range values {
		args = append(args, value)
	}
	return c.Client.LPush(ctx, key, args...).Err()
}

func (c *QueueClient) RPop(ctx context.Context, key string) (string, error) {
	return stringResult(c.Client.RPop(ctx, key).Result())
}

func (c *QueueClient) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return c.Client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (c *QueueClient) ZRem(ctx context.Context, key string, members ...string) error {
	args := make([]any, 0, len(members))
	for _, member := range members {
		args = append(args, member)
	}
	return c.Client.ZRem(ctx, key, args...).Err()
}

func (c *QueueClient) ZRangeByScore(ctx context.Context, key string, max float64, limit int64) ([]redisqueue.ZItem, error) {
	opt := &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatFloat(max, 'f', -1, 64),
	}
	if limit > 0 {
		opt.Count = limit
	}
	items, err := c.Client.ZRangeByScoreWithScores(ctx, key, opt).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]redisqueue.ZItem, 0, len(items))
	for _, item := range items {
		member, _ := item.Member.(string)
		out = append(out, redisqueue.ZItem{Member: member, Score: item.Score})
	}
	return out, nil
}

func (c *QueueClient) Eval(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	result, err := c.Client.Eval(ctx, script, keys, args...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return result, err
}

func (c *QueueClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.Client.Expire(ctx, key, ttl).Err()
}

func (c *QueueClient) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.Client.Del(ctx, keys...).Err()
}

// IdempotencyClient runs the go-job redis idempotency store on go-redis.
type IdempotencyClient struct {
	Client redis.UniversalClient
}

func NewIdempotencyClient(client redis.UniversalClient) *IdempotencyClient {
	return &IdempotencyClient{Client: client}
}

func (c *IdempotencyClient) Get(ctx context.Context, key string) (string, error) {
	return stringResult(c.Client.Get(ctx, key).Result())
}

func (c *IdempotencyClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.Client.Set(ctx, key, value, ttl).Err()
}

func (c *IdempotencyClient) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.Client.SetNX(ctx, key, value, ttl).Result()
}

func (c *IdempotencyClient) Del(ctx context.Context, key string) error {
	return c.Client.Del(ctx, key).Err()
}

func stringResult(value string, err error) (string, error) {
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return value, err
}

var (
	_ redisqueue.Client       = (*QueueClient)(nil)
	_ redisidempotency.Client = (*IdempotencyClient)(nil)
)
