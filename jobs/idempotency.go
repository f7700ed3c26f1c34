package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	qidempotency "github.com/goliatone/go-job/queue/idempotency"
	redisidempotency "github.com/goliatone/go-job/queue/idempotency/redis"
	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-billing/adapters/gojob"
	"github.com/goliatone/go-billing/core"
)

const (
	DedupPolicyDrop = "drop"

	defaultLedgerTTL        = 24 * time.Hour
	defaultLedgerMaxEntries = 8192
)

// IdempotencyLedger records which idempotency keys were already accepted.
type IdempotencyLedger interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type MemoryLedger struct {
	mu         sync.Mutex
	defaultTTL time.Duration
	maxEntries int
	entries    map[string]time.Time
	Now        func() time.Time
}

func NewMemoryLedger(defaultTTL time.Duration) *MemoryLedger {
	return NewMemoryLedgerWithLimits(defaultTTL, defaultLedgerMaxEntries)
}

func NewMemoryLedgerWithLimits(defaultTTL time.Duration, maxEntries int) *MemoryLedger {
	if defaultTTL <= 0 {
		defaultTTL = defaultLedgerTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultLedgerMaxEntries
	}
	return &MemoryLedger{
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
		entries:    map[string]time.Time{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (l *MemoryLedger) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if l == nil {
		return false, fmt.Errorf("jobs: idempotency ledger is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("jobs: idempotency key is required")
	}
	if ttl <= 0 {
		ttl = l.defaultTTL
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneExpiredLocked(now)
	if expiresAt, ok := l.entries[key]; ok && now.Before(expiresAt) {
		return false, nil
	}
	l.enforceCapacityLocked()
	l.entries[key] = now.Add(ttl)
	return true, nil
}

func (l *MemoryLedger) Release(_ context.Context, key string) error {
	if l == nil {
		return fmt.Errorf("jobs: idempotency ledger is not configured")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, strings.TrimSpace(key))
	return nil
}

func (l *MemoryLedger) PurgeExpired(context.Context) (int, error) {
	if l == nil {
		return 0, fmt.Errorf("jobs: idempotency ledger is not configured")
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	before := len(l.entries)
	l.pruneExpiredLocked(now)
	return before - len(l.entries), nil
}

func (l *MemoryLedger) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *MemoryLedger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *MemoryLedger) pruneExpiredLocked(now time.Time) {
	for key, expiresAt := range l.entries {
		if !now.Before(expiresAt) {
			delete(l.entries, key)
		}
	}
}

// enforceCapacityLocked evicts the soonest-expiring keys to make room for one.
func (l *MemoryLedger) enforceCapacityLocked() {
	for len(l.entries) >= l.maxEntries {
		var oldestKey string
		var oldestExpiry time.Time
		for key, expiry := range l.entries {
			if oldestKey == "" || expiry.Before(oldestExpiry) {
				oldestKey = key
				oldestExpiry = expiry
			}
		}
		delete(l.entries, oldestKey)
	}
}

// StoreLedger claims keys in a go-job idempotency store, so every process
// sharing the store shares one ledger.
type StoreLedger struct {
	store      qidempotency.Store
	defaultTTL time.Duration
}

func NewStoreLedger(store qidempotency.Store, defaultTTL time.Duration) *StoreLedger {
	if defaultTTL <= 0 {
		defaultTTL = defaultLedgerTTL
	}
	return &StoreLedger{store: store, defaultTTL: defaultTTL}
}

// NewRedisLedger keeps the ledger in redis under prefix.
func NewRedisLedger(client redis.UniversalClient, prefix string, defaultTTL time.Duration) *StoreLedger {
	if strings.TrimSpace(prefix) == "" {
		prefix = "billing:idempotency"
	}
	store := redisidempotency.NewStore(gojob.NewIdempotencyClient(client), redisidempotency.WithPrefix(strings.TrimSuffix(prefix, ":")))
	return NewStoreLedger(store, defaultTTL)
}

func (l *StoreLedger) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if l == nil || l.store == nil {
		return false, fmt.Errorf("jobs: idempotency ledger is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("jobs: idempotency key is required")
	}
	if ttl <= 0 {
		ttl = l.defaultTTL
	}
	_, created, err := l.store.Acquire(ctx, key, ttl)
	if err != nil {
		return false, core.NewStateUnavailableError(err, "jobs: idempotency claim failed")
	}
	return created, nil
}

func (l *StoreLedger) Release(ctx context.Context, key string) error {
	if l == nil || l.store == nil {
		return fmt.Errorf("jobs: idempotency ledger is not configured")
	}
	return l.store.Delete(ctx, strings.TrimSpace(key))
}

// DedupEnqueuer drops messages whose idempotency key was already accepted
// when their dedup policy is "drop". Other messages pass through.
type DedupEnqueuer struct {
	Next     core.JobEnqueuer
	Ledger   IdempotencyLedger
	TTL      time.Duration
	Observer *core.Observer
}

func NewDedupEnqueuer(next core.JobEnqueuer, ledger IdempotencyLedger, observer *core.Observer) *DedupEnqueuer {
	return &DedupEnqueuer{Next: next, Ledger: ledger, Observer: observer}
}

func (e *DedupEnqueuer) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if e == nil || e.Next == nil {
		return fmt.Errorf("jobs: dedup enqueuer is not configured")
	}
	if msg == nil || e.Ledger == nil || strings.TrimSpace(msg.IdempotencyKey) == "" ||
		!strings.EqualFold(strings.TrimSpace(msg.DedupPolicy), DedupPolicyDrop) {
		return e.Next.Enqueue(ctx, msg)
	}
	key := strings.TrimSpace(msg.JobID) + ":" + strings.TrimSpace(msg.IdempotencyKey)
	accepted, err := e.Ledger.Claim(ctx, key, e.TTL)
	if err != nil {
		return err
	}
	if !accepted {
		e.Observer.LogInfo(ctx, "duplicate job dropped", map[string]any{
			"job_id":          msg.JobID,
			"idempotency_key": msg.IdempotencyKey,
		})
		return nil
	}
	if err := e.Next.Enqueue(ctx, msg); err != nil {
		return core.JoinErrors(err, e.Ledger.Release(ctx, key))
	}
	return nil
}

var (
	_ IdempotencyLedger = (*MemoryLedger)(nil)
	_ IdempotencyLedger = (*StoreLedger)(nil)
	_ core.JobEnqueuer  = (*DedupEnqueuer)(nil)
)
