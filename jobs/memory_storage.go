package jobs

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

type memoryEntry struct {
	id          string
	payload     []byte
	token       string
	leases      int
	status      string
	lastError   string
	enqueuedAt  time.Time
	availableAt time.Time
	updatedAt   time.Time
}

// MemoryStorage is an in-process go-job queue storage for tests and
// single-node runs. Messages are stored encoded, as a durable storage would.
type MemoryStorage struct {
	mu        sync.Mutex
	entries   map[string]*memoryEntry
	ready     []string
	delayed   []string
	dead      []string
	logs      map[string][]string
	completed int64
	closed    bool

	Now   func() time.Time
	NewID func() string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		entries: map[string]*memoryEntry{},
		logs:    map[string][]string{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
		NewID: uuid.NewString,
	}
}

func (s *MemoryStorage) Enqueue(ctx context.Context, msg *job.ExecutionMessage) (queue.EnqueueReceipt, error) {
	return s.EnqueueAt(ctx, msg, s.now())
}

func (s *MemoryStorage) EnqueueAfter(ctx context.Context, msg *job.ExecutionMessage, delay time.Duration) (queue.EnqueueReceipt, error) {
	if delay < 0 {
		delay = 0
	}
	return s.EnqueueAt(ctx, msg, s.now().Add(delay))
}

func (s *MemoryStorage) EnqueueAt(_ context.Context, msg *job.ExecutionMessage, at time.Time) (queue.EnqueueReceipt, error) {
	if s == nil {
		return queue.EnqueueReceipt{}, fmt.Errorf("jobs: memory storage is not configured")
	}
	if err := queue.ValidateRequiredMessage(msg); err != nil {
		return queue.EnqueueReceipt{}, err
	}
	payload, err := queue.EncodeExecutionMessage(msg)
	if err != nil {
		return queue.EnqueueReceipt{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return queue.EnqueueReceipt{}, ErrQueueClosed
	}
	now := s.now()
	entry := &memoryEntry{
		id:          s.newID(),
		payload:     payload,
		enqueuedAt:  now,
		availableAt: at.UTC(),
		updatedAt:   now,
	}
	s.entries[entry.id] = entry
	s.scheduleLocked(entry, now)
	return queue.EnqueueReceipt{DispatchID: entry.id, EnqueuedAt: now}, nil
}

// Dequeue leases the oldest ready message. It returns nil when nothing is
// ready so the worker can idle.
func (s *MemoryStorage) Dequeue(context.Context) (*job.ExecutionMessage, queue.Receipt, error) {
	if s == nil {
		return nil, queue.Receipt{}, fmt.Errorf("jobs: memory storage is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, queue.Receipt{}, ErrQueueClosed
	}
	now := s.now()
	s.promoteLocked(now)
	if len(s.ready) == 0 {
		return nil, queue.Receipt{}, nil
	}
	id := s.ready[0]
	s.ready = s.ready[1:]
	entry := s.entries[id]
	msg, err := queue.DecodeExecutionMessage(entry.payload)
	if err != nil {
		entry.status = StatusDeadLettered
		entry.lastError = err.Error()
		s.dead = append(s.dead, id)
		return nil, queue.Receipt{}, err
	}
	entry.leases++
	entry.token = s.newID()
	entry.status = StatusActive
	entry.updatedAt = now
	return msg, queue.Receipt{
		ID:          entry.id,
		Token:       entry.token,
		Attempts:    entry.leases,
		LeasedAt:    now,
		AvailableAt: entry.availableAt,
		CreatedAt:   entry.enqueuedAt,
		LastError:   entry.lastError,
	}, nil
}

func (s *MemoryStorage) Ack(_ context.Context, receipt queue.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.leasedLocked(receipt); err != nil {
		return err
	}
	delete(s.entries, receipt.ID)
	s.completed++
	return nil
}

func (s *MemoryStorage) Nack(_ context.Context, receipt queue.Receipt, opts queue.NackOptions) error {
	if err := queue.ValidateNackOptions(opts); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.leasedLocked(receipt)
	if err != nil {
		return err
	}
	now := s.now()
	entry.token = ""
	entry.updatedAt = now
	if reason := strings.TrimSpace(opts.Reason); reason != "" {
		entry.lastError = reason
	}
	switch opts.Disposition {
	case queue.NackDispositionRetry:
		entry.availableAt = now.Add(max(opts.Delay, 0))
		s.scheduleLocked(entry, now)
	case queue.NackDispositionDeadLetter:
		entry.status = StatusDeadLettered
		s.dead = append(s.dead, entry.id)
	default:
		delete(s.entries, entry.id)
	}
	return nil
}

func (s *MemoryStorage) Stats(context.Context) (Stats, error) {
	if s == nil {
		return Stats{}, fmt.Errorf("jobs: memory storage is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promoteLocked(s.now())
	stats := Stats{Completed: s.completed}
	for _, entry := range s.entries {
		switch entry.status {
		case StatusWaiting:
			stats.Waiting++
		case StatusDelayed:
			stats.Delayed++
		case StatusActive:
			stats.Active++
		case StatusDeadLettered:
			stats.DeadLettered++
		}
	}
	return stats, nil
}

func (s *MemoryStorage) DeadLettered(_ context.Context, queueName string, limit int) ([]Job, error) {
	if s == nil {
		return nil, fmt.Errorf("jobs: memory storage is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.dead))
	for i := len(s.dead) - 1; i >= 0; i-- {
		entry := s.entries[s.dead[i]]
		if entry == nil {
			continue
		}
		msg, err := queue.DecodeExecutionMessage(entry.payload)
		if err != nil {
			msg = nil
		}
		view := jobFromMessage(queueName, entry.id, msg, entry.leases)
		view.Status = StatusDeadLettered
		view.LastError = entry.lastError
		view.EnqueuedAt = entry.enqueuedAt
		view.AvailableAt = entry.availableAt
		view.UpdatedAt = entry.updatedAt
		out = append(out, view)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStorage) AppendLog(_ context.Context, jobID string, line string) error {
	if s == nil {
		return fmt.Errorf("jobs: memory storage is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[jobID] = append(s.logs[jobID], line)
	return nil
}

func (s *MemoryStorage) Logs(_ context.Context, jobID string) ([]string, error) {
	if s == nil {
		return nil, fmt.Errorf("jobs: memory storage is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.logs[jobID]), nil
}

func (s *MemoryStorage) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryStorage) leasedLocked(receipt queue.Receipt) (*memoryEntry, error) {
	entry, ok := s.entries[receipt.ID]
	if !ok || entry.status != StatusActive {
		return nil, fmt.Errorf("jobs: message %s is not leased", receipt.ID)
	}
	if entry.token != receipt.Token {
		return nil, fmt.Errorf("jobs: receipt token mismatch for %s", receipt.ID)
	}
	return entry, nil
}

func (s *MemoryStorage) scheduleLocked(entry *memoryEntry, now time.Time) {
	if entry.availableAt.After(now) {
		entry.status = StatusDelayed
		s.delayed = append(s.delayed, entry.id)
		return
	}
	entry.status = StatusWaiting
	s.ready = append(s.ready, entry.id)
}

// promoteLocked moves due delayed messages to ready in availability order.
func (s *MemoryStorage) promoteLocked(now time.Time) {
	if len(s.delayed) == 0 {
		return
	}
	var due []*memoryEntry
	remaining := s.delayed[:0]
	for _, id := range s.delayed {
		entry := s.entries[id]
		if entry == nil {
			continue
		}
		if entry.availableAt.After(now) {
			remaining = append(remaining, id)
			continue
		}
		due = append(due, entry)
	}
	s.delayed = remaining
	slices.SortStableFunc(due, func(a, b *memoryEntry) int {
		return a.availableAt.Compare(b.availableAt)
	})
	for _, entry := range due {
		entry.status = StatusWaiting
		s.ready = append(s.ready, entry.id)
	}
}

func (s *MemoryStorage) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *MemoryStorage) newID() string {
	if s.NewID != nil {
		if id := strings.TrimSpace(s.NewID()); id != "" {
			return id
		}
	}
	return uuid.NewString()
}

var _ Backend = (*MemoryStorage)(nil)
