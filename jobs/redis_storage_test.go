package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-job/queue"

	"github.com/goliatone/go-billing/adapters/gojob"
	"github.com/goliatone/go-billing/core"
	"github.com/goliatone/go-billing/internal/redistest"
)

func newRedisTestQueue(t *testing.T, clock *testClock, policy Policy) *StorageQueue {
	t.Helper()
	storage := NewRedisStorage(redistest.NewClient(t), "billing-test:queue", "stripe-webhooks")
	storage.Now = clock.Now
	return NewQueue("stripe-webhooks", policy, storage)
}

func dequeueNow(t *testing.T, q Queue) queue.Delivery {
	t.Helper()
	delivery, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if delivery == nil {
		t.Fatalf("expected a ready delivery")
	}
	return delivery
}

func deliveryAttempt(t *testing.T, delivery queue.Delivery) int {
	t.Helper()
	reporter, ok := delivery.(interface{ Attempts() int })
	if !ok {
		t.Fatalf("delivery does not report attempts")
	}
	return reporter.Attempts()
}

func TestRedisStorage_RoundTripAndDeferral(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	q := newRedisTestQueue(t, clock, DefaultPolicy())

	executionID, err := q.EnqueueMessage(ctx, &core.JobExecutionMessage{
		JobID:          stripeJobID,
		Parameters:     map[string]any{"payload": `{"id":"evt_1"}`},
		IdempotencyKey: "evt_1",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	delivery := dequeueNow(t, q)
	msg := gojob.FromExecutionMessage(delivery.Message())
	if msg.JobID != stripeJobID || msg.Parameters["payload"] != `{"id":"evt_1"}` || msg.IdempotencyKey != "evt_1" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if err := q.AppendLog(ctx, delivery.Message().ExecutionID, "deferring"); err != nil {
		t.Fatalf("log: %v", err)
	}
	if _, err := q.EnqueueAfter(ctx, gojob.DeferredCopy(delivery.Message()), 5*time.Second); err != nil {
		t.Fatalf("defer: %v", err)
	}
	if err := delivery.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Delayed != 1 || stats.Active != 0 || stats.Waiting != 0 {
		t.Fatalf("expected one delayed job, got %+v", stats)
	}

	if next, err := q.Dequeue(ctx); err != nil || next != nil {
		t.Fatalf("expected nothing ready before the deferral elapses, got %v %v", next, err)
	}
	clock.Advance(5 * time.Second)
	delivery = dequeueNow(t, q)
	if attempt := deliveryAttempt(t, delivery); attempt != 1 {
		t.Fatalf("expected deferral to keep attempt 1, got %d", attempt)
	}
	if delivery.Message().ExecutionID != executionID {
		t.Fatalf("expected the deferred copy to keep execution id %s, got %s", executionID, delivery.Message().ExecutionID)
	}
	if err := delivery.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}

	stats, _ = q.Stats(ctx)
	if stats.Completed != 2 || stats.Active != 0 || stats.Delayed != 0 {
		t.Fatalf("unexpected stats after ack: %+v", stats)
	}
	logs, err := q.Logs(ctx, executionID)
	if err != nil || len(logs) != 1 || logs[0] != "deferring" {
		t.Fatalf("expected job logs to survive, got %v %v", logs, err)
	}
}

func TestRedisStorage_ExhaustedAttemptsDeadLetter(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	policy := Policy{MaxAttempts: 2}.Normalize()
	q := newRedisTestQueue(t, clock, policy)
	if err := q.Enqueue(ctx, &core.JobExecutionMessage{JobID: stripeJobID}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	failure := errTest("mutation failed")
	for i := 1; i <= 2; i++ {
		delivery := dequeueNow(t, q)
		attempt := deliveryAttempt(t, delivery)
		if attempt != i {
			t.Fatalf("expected attempt %d, got %d", i, attempt)
		}
		if err := delivery.Nack(ctx, policy.Decide(attempt, failure)); err != nil {
			t.Fatalf("nack %d: %v", i, err)
		}
		clock.Advance(time.Minute)
	}

	dead, err := q.DeadLettered(ctx, 10)
	if err != nil {
		t.Fatalf("dead letters: %v", err)
	}
	if len(dead) != 1 || dead[0].Attempts != 2 || dead[0].Status != StatusDeadLettered || dead[0].JobID != stripeJobID {
		t.Fatalf("unexpected dead letters: %+v", dead)
	}
	stats, _ := q.Stats(ctx)
	if stats.DeadLettered != 1 || stats.Delayed != 0 || stats.Active != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRedisStorage_ClosedRejectsWork(t *testing.T) {
	q := newRedisTestQueue(t, newTestClock(), DefaultPolicy())
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Enqueue(context.Background(), &core.JobExecutionMessage{JobID: stripeJobID}); err == nil {
		t.Fatalf("expected enqueue on a closed queue to fail")
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }
