package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	redisqueue "github.com/goliatone/go-job/queue/adapters/redis"

	"github.com/goliatone/go-billing/adapters/gojob"
	"github.com/goliatone/go-billing/core"
)

const (
	DefaultRedisKeyPrefix = "billing:queue"
	defaultLogTTL         = 7 * 24 * time.Hour
)

// RedisStorage runs go-job's redis queue storage and keeps the billing
// extras next to it: job logs, a completed counter and dead-letter reads.
// Inspection reads follow go-job's key layout under the queue key.
type RedisStorage struct {
	*redisqueue.Storage

	client redis.UniversalClient
	key    string
	closed atomic.Bool

	Now    func() time.Time
	LogTTL time.Duration
}

// NewRedisStorage stores the named queue under prefix:name.
func NewRedisStorage(client redis.UniversalClient, prefix string, name string, opts ...redisqueue.Option) *RedisStorage {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	s := &RedisStorage{
		client: client,
		key:    prefix + ":" + strings.TrimSpace(name),
		Now: func() time.Time {
			return time.Now().UTC()
		},
		LogTTL: defaultLogTTL,
	}
	base := []redisqueue.Option{
		redisqueue.WithQueueName(s.key),
		redisqueue.WithClock(s.now),
	}
	s.Storage = redisqueue.NewStorage(gojob.NewQueueClient(client), append(base, opts...)...)
	return s
}

func (s *RedisStorage) Enqueue(ctx context.Context, msg *job.ExecutionMessage) (queue.EnqueueReceipt, error) {
	if err := s.open(); err != nil {
		return queue.EnqueueReceipt{}, err
	}
	return s.Storage.Enqueue(ctx, msg)
}

func (s *RedisStorage) EnqueueAt(ctx context.Context, msg *job.ExecutionMessage, at time.Time) (queue.EnqueueReceipt, error) {
	if err := s.open(); err != nil {
		return queue.EnqueueReceipt{}, err
	}
	return s.Storage.EnqueueAt(ctx, msg, at)
}

func (s *RedisStorage) EnqueueAfter(ctx context.Context, msg *job.ExecutionMessage, delay time.Duration) (queue.EnqueueReceipt, error) {
	if err := s.open(); err != nil {
		return queue.EnqueueReceipt{}, err
	}
	return s.Storage.EnqueueAfter(ctx, msg, delay)
}

func (s *RedisStorage) Dequeue(ctx context.Context) (*job.ExecutionMessage, queue.Receipt, error) {
	if err := s.open(); err != nil {
		return nil, queue.Receipt{}, err
	}
	return s.Storage.Dequeue(ctx)
}

// Ack settles the message and bumps the completed counter.
func (s *RedisStorage) Ack(ctx context.Context, receipt queue.Receipt) error {
	if err := s.Storage.Ack(ctx, receipt); err != nil {
		return err
	}
	if err := s.client.Incr(ctx, s.key+":completed").Err(); err != nil {
		return core.NewStateUnavailableError(err, "jobs: completed counter update failed")
	}
	return nil
}

func (s *RedisStorage) Stats(ctx context.Context) (Stats, error) {
	if s == nil || s.client == nil {
		return Stats{}, fmt.Errorf("jobs: redis storage is not configured")
	}
	pipe := s.client.Pipeline()
	waiting := pipe.LLen(ctx, s.key+":ready")
	delayed := pipe.ZCard(ctx, s.key+":delayed")
	active := pipe.ZCard(ctx, s.key+":inflight")
	dead := pipe.LLen(ctx, s.key+":dlq")
	completed := pipe.Get(ctx, s.key+":completed")
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, core.NewStateUnavailableError(err, "jobs: queue stats failed")
	}
	done, _ := completed.Int64()
	return Stats{
		Waiting:      waiting.Val(),
		Delayed:      delayed.Val(),
		Active:       active.Val(),
		Completed:    done,
		DeadLettered: dead.Val(),
	}, nil
}

// DeadLettered reads the dead-letter list, newest first.
func (s *RedisStorage) DeadLettered(ctx context.Context, queueName string, limit int) ([]Job, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("jobs: redis storage is not configured")
	}
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.LRange(ctx, s.key+":dlq", 0, stop).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, core.NewStateUnavailableError(err, "jobs: dead letter read failed")
	}
	out := make([]Job, 0, len(ids))
	for _, id := range ids {
		fields, err := s.client.HGetAll(ctx, s.key+":msg:"+id).Result()
		if err != nil {
			return nil, core.NewStateUnavailableError(err, "jobs: dead letter read failed")
		}
		if len(fields) == 0 {
			continue
		}
		msg, err := queue.DecodeExecutionMessage([]byte(fields["payload"]))
		if err != nil {
			msg = nil
		}
		leases, _ := strconv.Atoi(fields["attempts"])
		view := jobFromMessage(queueName, id, msg, leases)
		view.Status = StatusDeadLettered
		view.LastError = fields["last_error"]
		view.EnqueuedAt = unixNano(fields["created_at"])
		view.AvailableAt = unixNano(fields["available_at"])
		view.UpdatedAt = unixNano(fields["updated_at"])
		out = append(out, view)
	}
	return out, nil
}

func (s *RedisStorage) AppendLog(ctx context.Context, jobID string, line string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("jobs: redis storage is not configured")
	}
	key := s.key + ":logs:" + jobID
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, line)
	if s.LogTTL > 0 {
		pipe.Expire(ctx, key, s.LogTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return core.NewStateUnavailableError(err, "jobs: job log append failed")
	}
	return nil
}

func (s *RedisStorage) Logs(ctx context.Context, jobID string) ([]string, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("jobs: redis storage is not configured")
	}
	lines, err := s.client.LRange(ctx, s.key+":logs:"+jobID, 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, core.NewStateUnavailableError(err, "jobs: job log read failed")
	}
	return lines, nil
}

// Close stops new work. The redis client belongs to the caller.
func (s *RedisStorage) Close() error {
	if s != nil {
		s.closed.Store(true)
	}
	return nil
}

func (s *RedisStorage) open() error {
	if s == nil || s.client == nil || s.Storage == nil {
		return fmt.Errorf("jobs: redis storage is not configured")
	}
	if s.closed.Load() {
		return ErrQueueClosed
	}
	return nil
}

func (s *RedisStorage) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

var _ Backend = (*RedisStorage)(nil)
