package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-billing/core"
)

const stripeJobID = "billing.stripe.webhook"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingHook struct {
	mu       sync.Mutex
	attempts []int
	success  int
	failures int
	retries  []core.JobWorkerEvent
}

func (h *recordingHook) OnStart(_ context.Context, event core.JobWorkerEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attempts = append(h.attempts, event.Attempt)
}

func (h *recordingHook) OnSuccess(context.Context, core.JobWorkerEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.success++
}

func (h *recordingHook) OnFailure(context.Context, core.JobWorkerEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures++
}

func (h *recordingHook) OnRetry(_ context.Context, event core.JobWorkerEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.retries = append(h.retries, event)
}

func (h *recordingHook) snapshot() (attempts []int, success int, failures int, retries []core.JobWorkerEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int(nil), h.attempts...), h.success, h.failures, append([]core.JobWorkerEvent(nil), h.retries...)
}

func newClockedQueue(clock *testClock) *StorageQueue {
	storage := NewMemoryStorage()
	storage.Now = clock.Now
	return NewQueue("stripe-webhooks", DefaultPolicy(), storage)
}

func singleHandlerRouter(t *testing.T, handler core.JobHandlerFunc) *Router {
	t.Helper()
	router := NewRouter()
	if err := router.Handle(stripeJobID, handler); err != nil {
		t.Fatalf("register handler: %v", err)
	}
	return router
}

func startWorker(t *testing.T, queue Queue, router *Router, opts WorkerOptions) *Worker {
	t.Helper()
	if opts.IdleDelay == 0 {
		opts.IdleDelay = time.Millisecond
	}
	worker, err := NewWorker(queue, router, opts)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	if err := worker.Start(context.Background()); err != nil {
		t.Fatalf("start worker: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = worker.Stop(ctx)
	})
	return worker
}

func enqueueTestJob(t *testing.T, queue *StorageQueue) string {
	t.Helper()
	id, err := queue.EnqueueMessage(context.Background(), &core.JobExecutionMessage{
		JobID:      stripeJobID,
		ScriptPath: stripeJobID,
		Parameters: map[string]any{"payload": `{"id":"evt_1"}`},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return id
}

func waitForStats(t *testing.T, queue Queue, what string, cond func(Stats) bool) Stats {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		stats, err := queue.Stats(context.Background())
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if cond(stats) {
			return stats
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s, last stats %+v", what, stats)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestWorker_SuccessAcksAndKeepsJobLog(t *testing.T) {
	clock := newTestClock()
	queue := newClockedQueue(clock)
	jobID := enqueueTestJob(t, queue)

	hook := &recordingHook{}
	startWorker(t, queue, singleHandlerRouter(t, func(ctx context.Context, msg *core.JobExecutionMessage) core.JobOutcome {
		_ = core.JobLoggerFromContext(ctx).Log(ctx, "processed "+msg.JobID)
		if _, leaked := msg.Parameters["_billing.attempt"]; leaked {
			return core.JobOutcome{Err: errors.New("bookkeeping leaked into parameters"), Permanent: true}
		}
		return core.JobOutcome{Message: "applied"}
	}), WorkerOptions{Hook: hook})

	waitForStats(t, queue, "completion", func(s Stats) bool { return s.Completed == 1 })

	logs, _ := queue.Logs(context.Background(), jobID)
	if len(logs) != 1 || logs[0] != "processed "+stripeJobID {
		t.Fatalf("expected job log line, got %v", logs)
	}
	attempts, success, _, _ := hook.snapshot()
	if len(attempts) != 1 || attempts[0] != 1 || success != 1 {
		t.Fatalf("unexpected hook calls: attempts=%v success=%d", attempts, success)
	}
}

func TestWorker_DeferralsDoNotConsumeAttempts(t *testing.T) {
	clock := newTestClock()
	queue := newClockedQueue(clock)
	jobID := enqueueTestJob(t, queue)

	var calls atomic.Int32
	hook := &recordingHook{}
	startWorker(t, queue, singleHandlerRouter(t, func(ctx context.Context, _ *core.JobExecutionMessage) core.JobOutcome {
		if calls.Add(1) <= 5 {
			_ = core.JobLoggerFromContext(ctx).Log(ctx, "waiting on checkout")
			return core.JobOutcome{RequeueAfter: 5 * time.Second, Message: "deferred"}
		}
		return core.JobOutcome{}
	}), WorkerOptions{Hook: hook})

	for i := 1; i <= 5; i++ {
		waitForStats(t, queue, fmt.Sprintf("deferral %d", i), func(s Stats) bool {
			return s.Delayed == 1 && int(calls.Load()) == i
		})
		clock.Advance(5 * time.Second)
	}
	waitForStats(t, queue, "completion", func(s Stats) bool {
		return calls.Load() == 6 && s.Delayed == 0 && s.Waiting == 0 && s.Active == 0
	})

	stats, _ := queue.Stats(context.Background())
	if stats.DeadLettered != 0 {
		t.Fatalf("expected no dead letters after deferrals, got %+v", stats)
	}
	attempts, _, failures, _ := hook.snapshot()
	for i, attempt := range attempts {
		if attempt != 1 {
			t.Fatalf("expected every pass to stay on attempt 1, got %d on pass %d", attempt, i)
		}
	}
	if failures != 0 {
		t.Fatalf("expected no failures, got %d", failures)
	}
	logs, _ := queue.Logs(context.Background(), jobID)
	if len(logs) != 5 {
		t.Fatalf("expected deferred copies to share one job log, got %v", logs)
	}
}

func TestWorker_FailuresBackOffThenDeadLetter(t *testing.T) {
	clock := newTestClock()
	queue := newClockedQueue(clock)
	enqueueTestJob(t, queue)

	hook := &recordingHook{}
	startWorker(t, queue, singleHandlerRouter(t, func(context.Context, *core.JobExecutionMessage) core.JobOutcome {
		return core.JobOutcome{Err: errors.New("database unavailable")}
	}), WorkerOptions{Hook: hook})

	waitForStats(t, queue, "first retry", func(s Stats) bool { return s.Delayed == 1 })
	clock.Advance(time.Second)
	waitForStats(t, queue, "second retry", func(s Stats) bool {
		_, _, _, retries := hook.snapshot()
		return s.Delayed == 1 && len(retries) == 2
	})
	clock.Advance(2 * time.Second)
	waitForStats(t, queue, "dead letter", func(s Stats) bool { return s.DeadLettered == 1 })

	attempts, _, failures, retries := hook.snapshot()
	if fmt.Sprint(attempts) != "[1 2 3]" {
		t.Fatalf("unexpected attempts %v", attempts)
	}
	if len(retries) != 2 || retries[0].Delay != time.Second || retries[1].Delay != 2*time.Second {
		t.Fatalf("expected retry delays 1s then 2s, got %+v", retries)
	}
	if failures != 1 {
		t.Fatalf("expected one terminal failure, got %d", failures)
	}
	dead, _ := queue.DeadLettered(context.Background(), 0)
	if len(dead) != 1 || !strings.Contains(dead[0].LastError, "attempts exhausted (3)") || dead[0].Attempts != 3 {
		t.Fatalf("unexpected dead letters: %+v", dead)
	}
}

func TestWorker_DeferralKeepsAttemptsAlreadyConsumed(t *testing.T) {
	clock := newTestClock()
	queue := newClockedQueue(clock)
	enqueueTestJob(t, queue)

	var calls atomic.Int32
	hook := &recordingHook{}
	startWorker(t, queue, singleHandlerRouter(t, func(context.Context, *core.JobExecutionMessage) core.JobOutcome {
		if calls.Add(1) == 2 {
			return core.JobOutcome{RequeueAfter: time.Second}
		}
		return core.JobOutcome{Err: errors.New("mutation failed")}
	}), WorkerOptions{Hook: hook})

	for i := 1; i <= 3; i++ {
		waitForStats(t, queue, fmt.Sprintf("pass %d", i), func(s Stats) bool {
			return s.Delayed == 1 && int(calls.Load()) == i
		})
		clock.Advance(4 * time.Second)
	}
	waitForStats(t, queue, "dead letter", func(s Stats) bool { return s.DeadLettered == 1 })

	attempts, _, _, _ := hook.snapshot()
	if fmt.Sprint(attempts) != "[1 2 2 3]" {
		t.Fatalf("expected the deferral to repeat attempt 2, got %v", attempts)
	}
	dead, _ := queue.DeadLettered(context.Background(), 0)
	if len(dead) != 1 || dead[0].Attempts != 3 || dead[0].Deferrals != 1 {
		t.Fatalf("unexpected dead letters: %+v", dead)
	}
}

func TestWorker_PermanentDeadLettersImmediately(t *testing.T) {
	queue := newClockedQueue(newTestClock())
	enqueueTestJob(t, queue)

	startWorker(t, queue, singleHandlerRouter(t, func(context.Context, *core.JobExecutionMessage) core.JobOutcome {
		return core.JobOutcome{Err: errors.New("already processed checkout"), Permanent: true}
	}), WorkerOptions{})

	waitForStats(t, queue, "dead letter", func(s Stats) bool { return s.DeadLettered == 1 })
	dead, _ := queue.DeadLettered(context.Background(), 0)
	if len(dead) != 1 || dead[0].LastError != "already processed checkout" || dead[0].Attempts != 1 {
		t.Fatalf("unexpected dead letters: %+v", dead)
	}
}

func TestWorker_PanicIsRetried(t *testing.T) {
	queue := newClockedQueue(newTestClock())
	enqueueTestJob(t, queue)

	startWorker(t, queue, singleHandlerRouter(t, func(context.Context, *core.JobExecutionMessage) core.JobOutcome {
		panic("boom")
	}), WorkerOptions{})

	waitForStats(t, queue, "retry", func(s Stats) bool { return s.Delayed == 1 })
}

func TestWorker_DrainsWithBoundedSlots(t *testing.T) {
	queue := NewMemoryQueue("stripe-webhooks", DefaultPolicy())
	for i := 0; i < 8; i++ {
		if err := queue.Enqueue(context.Background(), &core.JobExecutionMessage{
			JobID:      stripeJobID,
			Parameters: map[string]any{"n": i},
		}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	var inFlight, maxInFlight atomic.Int32
	startWorker(t, queue, singleHandlerRouter(t, func(context.Context, *core.JobExecutionMessage) core.JobOutcome {
		current := inFlight.Add(1)
		for {
			seen := maxInFlight.Load()
			if current <= seen || maxInFlight.CompareAndSwap(seen, current) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return core.JobOutcome{}
	}), WorkerOptions{Slots: 3})

	waitForStats(t, queue, "drain", func(s Stats) bool { return s.Completed == 8 })
	if got := maxInFlight.Load(); got > 3 {
		t.Fatalf("expected at most 3 concurrent jobs, got %d", got)
	}
}

func TestWorker_RunStopsOnContextCancel(t *testing.T) {
	queue := NewMemoryQueue("stripe-webhooks", DefaultPolicy())
	worker, err := NewWorker(queue, singleHandlerRouter(t, func(context.Context, *core.JobExecutionMessage) core.JobOutcome {
		return core.JobOutcome{}
	}), WorkerOptions{IdleDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- worker.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop after cancel")
	}

	if err := queue.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := queue.Enqueue(context.Background(), &core.JobExecutionMessage{JobID: "x"}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected closed queue error, got %v", err)
	}
}

func TestRouter_RoutesByJobID(t *testing.T) {
	router := NewRouter()
	var seen []string
	for _, id := range []string{stripeJobID, "billing.webhooks.dispatch"} {
		if err := router.Handle(id, core.JobHandlerFunc(func(context.Context, *core.JobExecutionMessage) core.JobOutcome {
			seen = append(seen, id)
			return core.JobOutcome{}
		})); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	if err := router.Handle(stripeJobID, core.JobHandlerFunc(nil)); err == nil {
		t.Fatalf("expected duplicate registration error")
	}

	router.HandleJob(context.Background(), &core.JobExecutionMessage{JobID: "billing.webhooks.dispatch"})
	if len(seen) != 1 || seen[0] != "billing.webhooks.dispatch" {
		t.Fatalf("unexpected routing: %v", seen)
	}

	outcome := router.HandleJob(context.Background(), &core.JobExecutionMessage{JobID: "unknown"})
	if outcome.Err == nil || !outcome.Permanent {
		t.Fatalf("expected permanent failure for unknown job, got %+v", outcome)
	}
	if got := fmt.Sprint(router.JobIDs()); got != "[billing.stripe.webhook billing.webhooks.dispatch]" {
		t.Fatalf("unexpected job ids %s", got)
	}
}
