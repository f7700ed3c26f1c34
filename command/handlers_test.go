package command

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-billing/core"
	"github.com/goliatone/go-billing/jobs"
	"github.com/goliatone/go-billing/stripe"
	"github.com/goliatone/go-billing/webhooks"
)

type stubReplayer struct {
	retryFn func(ctx context.Context, attemptID string) webhooks.ReplayResult
}

func (s stubReplayer) Retry(ctx context.Context, attemptID string) webhooks.ReplayResult {
	return s.retryFn(ctx, attemptID)
}

type stubNotifier struct {
	events []string
	data   []map[string]any
	err    error
}

func (s *stubNotifier) Notify(_ context.Context, event string, data map[string]any) error {
	s.events = append(s.events, event)
	s.data = append(s.data, data)
	return s.err
}

type recordingEnqueuer struct {
	next     core.JobEnqueuer
	messages []*core.JobExecutionMessage
}

func (r *recordingEnqueuer) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	r.messages = append(r.messages, msg)
	return r.next.Enqueue(ctx, msg)
}

func TestReplayWebhookCommand_StoresResult(t *testing.T) {
	cmd := NewReplayWebhookCommand(stubReplayer{
		retryFn: func(_ context.Context, attemptID string) webhooks.ReplayResult {
			if attemptID != "att_1" {
				t.Fatalf("unexpected attempt id %q", attemptID)
			}
			return webhooks.ReplayResult{Success: true, Message: "delivered"}
		},
	})

	collector := gocmd.NewResult[webhooks.ReplayResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	if err := cmd.Execute(ctx, ReplayWebhookMessage{WebhookEventID: " att_1 "}); err != nil {
		t.Fatalf("execute replay: %v", err)
	}
	result, ok := collector.Load()
	if !ok || !result.Success {
		t.Fatalf("expected stored successful replay result, got %#v", result)
	}
}

func TestReplayWebhookCommand_NilDependency(t *testing.T) {
	var cmd *ReplayWebhookCommand
	err := cmd.Execute(context.Background(), ReplayWebhookMessage{WebhookEventID: "att_1"})
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected rich error, got %T", err)
	}
	if richErr.TextCode != core.BillingErrorInternal {
		t.Fatalf("unexpected text code %q", richErr.TextCode)
	}
}

func TestCreateQueueCommand_IsIdempotent(t *testing.T) {
	registry := jobs.NewRegistry(jobs.MemoryQueueFactory(), jobs.DefaultPolicy())
	defer registry.Close()
	cmd := NewCreateQueueCommand(registry)

	for i, expectCreated := range []bool{true, false} {
		collector := gocmd.NewResult[CreateQueueResult]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		if err := cmd.Execute(ctx, CreateQueueMessage{QueueName: "stripe-webhooks"}); err != nil {
			t.Fatalf("create queue %d: %v", i, err)
		}
		result, _ := collector.Load()
		if result.Queue != "stripe-webhooks" || result.Created != expectCreated {
			t.Fatalf("call %d: unexpected result %#v", i, result)
		}
	}
}

func TestEnqueueStripeEventCommand_EnqueuesThroughWrapper(t *testing.T) {
	registry := jobs.NewRegistry(jobs.MemoryQueueFactory(), jobs.DefaultPolicy())
	defer registry.Close()
	if _, _, err := registry.Create("stripe-webhooks"); err != nil {
		t.Fatalf("create queue: %v", err)
	}
	var recorder *recordingEnqueuer
	cmd := NewEnqueueStripeEventCommand(registry, func(q jobs.Queue) core.JobEnqueuer {
		recorder = &recordingEnqueuer{next: q}
		return recorder
	})

	payload := json.RawMessage(`{"id":"evt_1","type":"invoice.paid","data":{"object":{"id":"in_1"}}}`)
	collector := gocmd.NewResult[EnqueueResult]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	if err := cmd.Execute(ctx, EnqueueStripeEventMessage{Queue: "stripe-webhooks", Payload: payload}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if recorder == nil || len(recorder.messages) != 1 {
		t.Fatalf("expected wrapper to see one message")
	}
	if recorder.messages[0].JobID != stripe.JobID {
		t.Fatalf("unexpected job id %q", recorder.messages[0].JobID)
	}
	result, _ := collector.Load()
	if result.EventID != "evt_1" || result.EventType != "invoice.paid" {
		t.Fatalf("unexpected enqueue result %#v", result)
	}

	queue, _ := registry.Get("stripe-webhooks")
	stats, err := queue.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Waiting != 1 {
		t.Fatalf("expected one waiting job, got %#v", stats)
	}
}

func TestEnqueueStripeEventCommand_UnknownQueue(t *testing.T) {
	registry := jobs.NewRegistry(jobs.MemoryQueueFactory(), jobs.DefaultPolicy())
	defer registry.Close()
	cmd := NewEnqueueStripeEventCommand(registry, nil)

	err := cmd.Execute(context.Background(), EnqueueStripeEventMessage{
		Queue:   "missing",
		Payload: json.RawMessage(`{"id":"evt_1","type":"invoice.paid"}`),
	})
	if !errors.Is(err, core.ErrNotFound) && core.HTTPStatus(err) != 404 {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDispatchEventCommand_DefaultsData(t *testing.T) {
	notifier := &stubNotifier{}
	cmd := NewDispatchEventCommand(notifier)
	if err := cmd.Execute(context.Background(), DispatchEventMessage{Event: " subscription.activated "}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(notifier.events) != 1 || notifier.events[0] != "subscription.activated" {
		t.Fatalf("unexpected events %#v", notifier.events)
	}
	if notifier.data[0] == nil {
		t.Fatalf("expected non-nil data map")
	}
}

func TestEndpointCommands_RoundTripMemoryStore(t *testing.T) {
	store := webhooks.NewMemoryEndpointStore()

	createCollector := gocmd.NewResult[core.WebhookEndpoint]()
	ctx := gocmd.ContextWithResult(context.Background(), createCollector)
	if err := NewCreateEndpointCommand(store).Execute(ctx, CreateEndpointMessage{Input: core.CreateEndpointInput{
		URL:      "https://example.com/hook",
		Events:   []string{"subscription.activated"},
		IsActive: true,
	}}); err != nil {
		t.Fatalf("create endpoint: %v", err)
	}
	created, ok := createCollector.Load()
	if !ok || created.ID == "" {
		t.Fatalf("expected created endpoint, got %#v", created)
	}

	inactive := false
	updateCollector := gocmd.NewResult[core.WebhookEndpoint]()
	ctx = gocmd.ContextWithResult(context.Background(), updateCollector)
	if err := NewUpdateEndpointCommand(store).Execute(ctx, UpdateEndpointMessage{
		EndpointID: created.ID,
		Input:      core.UpdateEndpointInput{IsActive: &inactive},
	}); err != nil {
		t.Fatalf("update endpoint: %v", err)
	}
	updated, _ := updateCollector.Load()
	if updated.IsActive {
		t.Fatalf("expected endpoint deactivated")
	}

	if err := NewDeleteEndpointCommand(store).Execute(context.Background(), DeleteEndpointMessage{EndpointID: created.ID}); err != nil {
		t.Fatalf("delete endpoint: %v", err)
	}
	if _, err := store.Get(context.Background(), created.ID); err == nil {
		t.Fatalf("expected endpoint removed")
	}
}
