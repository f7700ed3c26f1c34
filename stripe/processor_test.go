package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-billing/core"
	"github.com/goliatone/go-billing/state"
)

type recordingMutator struct {
	mu        sync.Mutex
	calls     []string
	checkouts []core.CheckoutSession
	invoices  []core.Invoice
	updates   []core.ProviderSubscription
	cancels   []core.ProviderSubscription
	err       error
}

func (m *recordingMutator) CompleteCheckout(_ context.Context, session core.CheckoutSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "checkout:"+session.SubscriptionID)
	if m.err != nil {
		return m.err
	}
	m.checkouts = append(m.checkouts, session)
	return nil
}

func (m *recordingMutator) MarkInvoicePaid(_ context.Context, invoice core.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "invoice:"+invoice.SubscriptionID)
	if m.err != nil {
		return m.err
	}
	m.invoices = append(m.invoices, invoice)
	return nil
}

func (m *recordingMutator) UpdateSubscription(_ context.Context, sub core.ProviderSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "update:"+sub.ID)
	if m.err != nil {
		return m.err
	}
	m.updates = append(m.updates, sub)
	return nil
}

func (m *recordingMutator) CancelSubscription(_ context.Context, sub core.ProviderSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "cancel:"+sub.ID)
	if m.err != nil {
		return m.err
	}
	m.cancels = append(m.cancels, sub)
	return nil
}

func (m *recordingMutator) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type recordingJobLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingJobLog) Log(_ context.Context, message string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, message)
	return nil
}

func newTestProcessor() (*Processor, *recordingMutator, *state.MemoryStore) {
	store := state.NewMemoryStore()
	mutator := &recordingMutator{}
	return NewProcessor(state.NewClient(store, ""), mutator, nil), mutator, store
}

func checkoutEvent(id, sub string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"type":"checkout.session.completed","data":{"object":{"id":"cs_1","subscription":%q,"customer":"cus_1","client_reference_id":"org_1","metadata":{"planId":"plan_pro"}}}}`, id, sub))
}

func invoiceEvent(id, sub string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"type":"invoice.paid","data":{"object":{"id":"in_1","subscription":%q,"customer":"cus_1","amount_paid":2500,"currency":"usd"}}}`, id, sub))
}

func subscriptionEvent(id, eventType, sub string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"type":%q,"data":{"object":{"id":%q,"customer":"cus_1","status":"active","current_period_end":1767225600,"items":{"data":[{"price":{"id":"price_1","product":"prod_1"}}]}}}}`, id, eventType, sub))
}

func storedState(t *testing.T, store *state.MemoryStore, sub string) (string, bool) {
	t.Helper()
	value, found, err := store.Get(context.Background(), "state:"+sub)
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	return value, found
}

func TestProcess_HappyPathAdvancesMarkerForward(t *testing.T) {
	ctx := context.Background()
	processor, mutator, store := newTestProcessor()

	steps := []struct {
		raw  []byte
		want string
	}{
		{raw: checkoutEvent("evt_1", "sub_1"), want: "checkout_done"},
		{raw: invoiceEvent("evt_2", "sub_1"), want: "invoice_paid"},
		{raw: subscriptionEvent("evt_3", EventSubscriptionUpdated, "sub_1"), want: "invoice_paid"},
	}
	for _, step := range steps {
		result := processor.Process(ctx, step.raw)
		if !result.Success || result.RequeueAfter != 0 {
			t.Fatalf("expected applied result, got %+v", result)
		}
		if got, _ := storedState(t, store, "sub_1"); got != step.want {
			t.Fatalf("expected marker %s, got %s", step.want, got)
		}
	}

	result := processor.Process(ctx, subscriptionEvent("evt_4", EventSubscriptionDeleted, "sub_1"))
	if !result.Success || result.Outcome != OutcomeApplied {
		t.Fatalf("expected deletion applied, got %+v", result)
	}
	if _, found := storedState(t, store, "sub_1"); found {
		t.Fatalf("expected marker removed after deletion")
	}
	if len(mutator.checkouts) != 1 || len(mutator.invoices) != 1 || len(mutator.updates) != 1 || len(mutator.cancels) != 1 {
		t.Fatalf("expected one mutation per transition, got %v", mutator.calls)
	}
	if mutator.checkouts[0].ClientReferenceID != "org_1" || mutator.checkouts[0].Metadata["planId"] != "plan_pro" {
		t.Fatalf("expected checkout fields decoded, got %+v", mutator.checkouts[0])
	}
	if mutator.updates[0].PriceID != "price_1" || mutator.updates[0].CurrentPeriodEnd == nil {
		t.Fatalf("expected subscription fields decoded, got %+v", mutator.updates[0])
	}
}

func TestProcess_DuplicateCheckoutIsRejectedOnce(t *testing.T) {
	ctx := context.Background()
	processor, mutator, _ := newTestProcessor()

	first := processor.Process(ctx, checkoutEvent("evt_1", "sub_dup"))
	if !first.Success {
		t.Fatalf("expected first checkout to succeed, got %+v", first)
	}
	second := processor.Process(ctx, checkoutEvent("evt_1", "sub_dup"))
	if second.Success {
		t.Fatalf("expected duplicate checkout to fail")
	}
	if second.Error != "already processed checkout" {
		t.Fatalf("expected already processed checkout message, got %q", second.Error)
	}
	if !second.Permanent || second.RequeueAfter != 0 {
		t.Fatalf("expected permanent reject without requeue, got %+v", second)
	}
	if mutator.callCount() != 1 {
		t.Fatalf("expected mutation invoked once, got %d", mutator.callCount())
	}
}

func TestProcess_EarlyInvoiceDefersWithoutMutation(t *testing.T) {
	processor, mutator, store := newTestProcessor()

	result := processor.Process(context.Background(), invoiceEvent("evt_2", "sub_early"))
	if !result.Success {
		t.Fatalf("expected deferred invoice to report success, got %+v", result)
	}
	if result.RequeueAfterMs() != 5000 {
		t.Fatalf("expected 5000ms requeue, got %d", result.RequeueAfterMs())
	}
	if result.Outcome != OutcomeDeferred {
		t.Fatalf("expected deferred outcome, got %s", result.Outcome)
	}
	if mutator.callCount() != 0 {
		t.Fatalf("expected no mutation for early invoice")
	}
	if _, found := storedState(t, store, "sub_early"); found {
		t.Fatalf("expected no state change for early invoice")
	}
}

func TestProcess_InvoiceAlreadyPaidIsNoop(t *testing.T) {
	ctx := context.Background()
	processor, mutator, store := newTestProcessor()
	_ = store.Set(ctx, "state:sub_paid", "invoice_paid")

	result := processor.Process(ctx, invoiceEvent("evt_2", "sub_paid"))
	if !result.Success || result.RequeueAfter != 0 || result.Outcome != OutcomeNoop {
		t.Fatalf("expected idempotent no-op, got %+v", result)
	}
	if mutator.callCount() != 0 {
		t.Fatalf("expected no mutation for repeated invoice")
	}
}

func TestProcess_UpdateAtInvoicePaidRunsOnceWithoutRequeue(t *testing.T) {
	ctx := context.Background()
	processor, mutator, store := newTestProcessor()
	_ = store.Set(ctx, "state:sub_u", "invoice_paid")

	result := processor.Process(ctx, subscriptionEvent("evt_3", EventSubscriptionUpdated, "sub_u"))
	if !result.Success || result.RequeueAfter != 0 {
		t.Fatalf("expected update to apply without requeue, got %+v", result)
	}
	if len(mutator.updates) != 1 {
		t.Fatalf("expected one update mutation, got %d", len(mutator.updates))
	}
}

func TestProcess_PrematureSubscriptionEventsDefer(t *testing.T) {
	ctx := context.Background()
	for _, eventType := range []string{EventSubscriptionUpdated, EventSubscriptionDeleted} {
		processor, mutator, store := newTestProcessor()
		_ = store.Set(ctx, "state:sub_p", "checkout_done")

		result := processor.Process(ctx, subscriptionEvent("evt_x", eventType, "sub_p"))
		if !result.Success || result.RequeueAfter != 5*time.Second {
			t.Fatalf("%s: expected defer, got %+v", eventType, result)
		}
		if mutator.callCount() != 0 {
			t.Fatalf("%s: expected no mutation", eventType)
		}
		if got, _ := storedState(t, store, "sub_p"); got != "checkout_done" {
			t.Fatalf("%s: expected marker unchanged, got %s", eventType, got)
		}
	}
}

func TestProcess_UnknownTypeIsIgnored(t *testing.T) {
	processor, mutator, _ := newTestProcessor()
	raw := []byte(`{"id":"evt_9","type":"customer.created","data":{"object":{"id":"cus_1"}}}`)
	result := processor.Process(context.Background(), raw)
	if !result.Success || result.Outcome != OutcomeIgnored {
		t.Fatalf("expected ignored success, got %+v", result)
	}
	if mutator.callCount() != 0 {
		t.Fatalf("expected no mutation for unknown type")
	}
}

func TestProcess_ValidationFailuresArePermanent(t *testing.T) {
	processor, mutator, _ := newTestProcessor()
	cases := map[string][]byte{
		"empty":           []byte(``),
		"malformed":       []byte(`{"id":`),
		"missing id":      []byte(`{"type":"invoice.paid","data":{"object":{"subscription":"sub_1"}}}`),
		"missing type":    []byte(`{"id":"evt_1","data":{"object":{"subscription":"sub_1"}}}`),
		"missing object":  []byte(`{"id":"evt_1","type":"invoice.paid","data":{}}`),
		"non-object data": []byte(`{"id":"evt_1","type":"invoice.paid","data":{"object":"nope"}}`),
		"missing subject": []byte(`{"id":"evt_1","type":"invoice.paid","data":{"object":{"id":"in_1"}}}`),
	}
	for name, raw := range cases {
		result := processor.Process(context.Background(), raw)
		if result.Success || !result.Permanent {
			t.Fatalf("%s: expected permanent failure, got %+v", name, result)
		}
		if !core.IsPermanent(result.Err) {
			t.Fatalf("%s: expected permanent error, got %v", name, result.Err)
		}
	}
	if mutator.callCount() != 0 {
		t.Fatalf("expected no mutation for invalid payloads")
	}
}

func TestProcess_MutationFailureIsRetryable(t *testing.T) {
	processor, mutator, store := newTestProcessor()
	mutator.err = errors.New("database unavailable")

	result := processor.Process(context.Background(), checkoutEvent("evt_1", "sub_f"))
	if result.Success || result.Permanent {
		t.Fatalf("expected retryable failure, got %+v", result)
	}
	if !strings.Contains(result.Error, "database unavailable") {
		t.Fatalf("expected mutator error text, got %q", result.Error)
	}
	if _, found := storedState(t, store, "sub_f"); found {
		t.Fatalf("expected marker untouched after mutation failure")
	}
	outcome := result.JobOutcome()
	if outcome.Err == nil || outcome.Permanent {
		t.Fatalf("expected retryable job outcome, got %+v", outcome)
	}
}

func TestProcess_ConcurrentDuplicateCheckoutsNeverDoubleAdvance(t *testing.T) {
	processor, _, store := newTestProcessor()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			processor.Process(context.Background(), checkoutEvent("evt_c", "sub_race"))
		}()
	}
	wg.Wait()
	if got, _ := storedState(t, store, "sub_race"); got != "checkout_done" {
		t.Fatalf("expected checkout_done after racing duplicates, got %s", got)
	}
}

func TestHandleJob_ReadsPayloadAndWritesJobLog(t *testing.T) {
	processor, mutator, _ := newTestProcessor()
	msg, err := NewJobMessage(checkoutEvent("evt_1", "sub_job"))
	if err != nil {
		t.Fatalf("new job message: %v", err)
	}
	if msg.JobID != JobID || msg.IdempotencyKey != "evt_1" {
		t.Fatalf("unexpected job message %+v", msg)
	}

	log := &recordingJobLog{}
	ctx := core.ContextWithJobLogger(context.Background(), log)
	outcome := processor.HandleJob(ctx, msg)
	if !outcome.Succeeded() {
		t.Fatalf("expected job success, got %+v", outcome)
	}
	if mutator.callCount() != 1 {
		t.Fatalf("expected one mutation")
	}
	if len(log.entries) == 0 {
		t.Fatalf("expected job log entries")
	}
}

func TestPayloadFromMessage_AcceptsDecodedMaps(t *testing.T) {
	var decoded map[string]any
	if err := json.Unmarshal(invoiceEvent("evt_2", "sub_m"), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	raw, err := PayloadFromMessage(&core.JobExecutionMessage{Parameters: map[string]any{PayloadParameter: decoded}})
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	event, err := ParseEvent(raw)
	if err != nil || event.ID != "evt_2" {
		t.Fatalf("expected round-tripped event, got %+v err=%v", event, err)
	}
	if _, err := PayloadFromMessage(&core.JobExecutionMessage{}); !core.IsPermanent(err) {
		t.Fatalf("expected missing payload to be permanent, got %v", err)
	}
}
