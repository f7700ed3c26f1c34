package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	redisqueue "github.com/goliatone/go-job/queue/adapters/redis"

	"github.com/goliatone/go-billing/adapters/gojob"
	"github.com/goliatone/go-billing/core"
)

// Queue is a named job queue with its own retry policy and job logs. It
// dequeues go-job deliveries for the worker and accepts billing messages
// from producers.
type Queue interface {
	core.JobEnqueuer
	queue.Dequeuer
	gojob.Requeuer
	gojob.LogSink
	Name() string
	Policy() Policy
	Stats(ctx context.Context) (Stats, error)
	Logs(ctx context.Context, jobID string) ([]string, error)
	DeadLettered(ctx context.Context, limit int) ([]Job, error)
	Close() error
}

// Backend is a go-job queue storage that also keeps job logs and answers
// inspection queries.
type Backend interface {
	queue.Storage
	queue.ScheduledStorage
	Stats(ctx context.Context) (Stats, error)
	DeadLettered(ctx context.Context, queueName string, limit int) ([]Job, error)
	AppendLog(ctx context.Context, jobID string, line string) error
	Logs(ctx context.Context, jobID string) ([]string, error)
	Close() error
}

// StorageQueue serves a Backend through go-job's storage adapter.
type StorageQueue struct {
	name     string
	policy   Policy
	backend  Backend
	adapter  *redisqueue.Adapter
	dequeuer *gojob.AttemptDequeuer

	NewID func() string
}

func NewQueue(name string, policy Policy, backend Backend) *StorageQueue {
	adapter := redisqueue.NewAdapter(backend)
	return &StorageQueue{
		name:     strings.TrimSpace(name),
		policy:   policy.Normalize(),
		backend:  backend,
		adapter:  adapter,
		dequeuer: gojob.NewAttemptDequeuer(adapter),
		NewID:    uuid.NewString,
	}
}

// NewMemoryQueue is a StorageQueue on an in-process backend.
func NewMemoryQueue(name string, policy Policy) *StorageQueue {
	return NewQueue(name, policy, NewMemoryStorage())
}

func (q *StorageQueue) Name() string {
	if q == nil {
		return ""
	}
	return q.name
}

func (q *StorageQueue) Policy() Policy {
	if q == nil {
		return DefaultPolicy()
	}
	return q.policy
}

func (q *StorageQueue) Backend() Backend {
	if q == nil {
		return nil
	}
	return q.backend
}

// Enqueue stamps a fresh execution id and hands the message to storage.
func (q *StorageQueue) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	_, err := q.EnqueueMessage(ctx, msg)
	return err
}

// EnqueueMessage is Enqueue returning the execution id.
func (q *StorageQueue) EnqueueMessage(ctx context.Context, msg *core.JobExecutionMessage) (string, error) {
	if q == nil || q.backend == nil {
		return "", fmt.Errorf("jobs: queue is not configured")
	}
	if msg == nil {
		return "", core.NewBadInputError("jobs: execution message is required")
	}
	if strings.TrimSpace(msg.JobID) == "" {
		return "", core.NewBadInputError("jobs: job id is required")
	}
	execMsg := gojob.ToExecutionMessage(msg)
	execMsg.ExecutionID = q.newID()
	if _, err := q.adapter.Enqueue(ctx, execMsg); err != nil {
		return "", err
	}
	return execMsg.ExecutionID, nil
}

func (q *StorageQueue) EnqueueAfter(ctx context.Context, msg *job.ExecutionMessage, delay time.Duration) (queue.EnqueueReceipt, error) {
	if q == nil || q.backend == nil {
		return queue.EnqueueReceipt{}, fmt.Errorf("jobs: queue is not configured")
	}
	if msg != nil && msg.ExecutionID == "" {
		msg.ExecutionID = q.newID()
	}
	return q.adapter.EnqueueAfter(ctx, msg, delay)
}

// Dequeue returns the next ready delivery or nil when none is ready.
func (q *StorageQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	if q == nil || q.backend == nil {
		return nil, fmt.Errorf("jobs: queue is not configured")
	}
	return q.dequeuer.Dequeue(ctx)
}

func (q *StorageQueue) AppendLog(ctx context.Context, jobID string, line string) error {
	if q == nil || q.backend == nil {
		return fmt.Errorf("jobs: queue is not configured")
	}
	return q.backend.AppendLog(ctx, strings.TrimSpace(jobID), line)
}

func (q *StorageQueue) Stats(ctx context.Context) (Stats, error) {
	if q == nil || q.backend == nil {
		return Stats{}, fmt.Errorf("jobs: queue is not configured")
	}
	return q.backend.Stats(ctx)
}

func (q *StorageQueue) Logs(ctx context.Context, jobID string) ([]string, error) {
	if q == nil || q.backend == nil {
		return nil, fmt.Errorf("jobs: queue is not configured")
	}
	return q.backend.Logs(ctx, strings.TrimSpace(jobID))
}

// DeadLettered returns dead-lettered jobs, newest first.
func (q *StorageQueue) DeadLettered(ctx context.Context, limit int) ([]Job, error) {
	if q == nil || q.backend == nil {
		return nil, fmt.Errorf("jobs: queue is not configured")
	}
	return q.backend.DeadLettered(ctx, q.name, limit)
}

func (q *StorageQueue) Close() error {
	if q == nil || q.backend == nil {
		return nil
	}
	return q.backend.Close()
}

func (q *StorageQueue) newID() string {
	if q.NewID != nil {
		if id := strings.TrimSpace(q.NewID()); id != "" {
			return id
		}
	}
	return uuid.NewString()
}

var _ Queue = (*StorageQueue)(nil)
