package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-billing/core"
	billingmigrations "github.com/goliatone/go-billing/migrations"
	"github.com/goliatone/go-billing/state"
	sqlstore "github.com/goliatone/go-billing/store/sql"
	"github.com/goliatone/go-billing/webhooks"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-billing-tests"
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	for _, table := range []string{"billing_subscriptions", "billing_webhook_endpoints", "billing_webhook_events", "billing_state_markers"} {
		var tableName string
		if err := client.DB().NewRaw(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
			table,
		).Scan(context.Background(), &tableName); err != nil {
			t.Fatalf("query sqlite master for %s: %v", table, err)
		}
		if tableName != table {
			t.Fatalf("expected %s table, got %q", table, tableName)
		}
	}
}

func TestSubscriptionStore_UpsertIsKeyedByStripeID(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	store := factory.SubscriptionStore()

	activated := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	first, err := store.Upsert(ctx, core.UpsertSubscriptionInput{
		StripeSubscriptionID: "sub_1",
		StripeCustomerID:     "cus_1",
		OrganizationID:       "org_1",
		Status:               core.SubscriptionStatusPending,
		Metadata:             map[string]any{"planId": "plan_pro"},
	})
	if err != nil {
		t.Fatalf("insert subscription: %v", err)
	}

	second, err := store.Upsert(ctx, core.UpsertSubscriptionInput{
		StripeSubscriptionID: "sub_1",
		StripeCustomerID:     "cus_1",
		OrganizationID:       "org_1",
		Status:               core.SubscriptionStatusActive,
		ActivatedAt:          &activated,
	})
	if err != nil {
		t.Fatalf("update subscription: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected upsert to keep id %s, got %s", first.ID, second.ID)
	}

	loaded, err := store.GetByStripeID(ctx, "sub_1")
	if err != nil {
		t.Fatalf("get by stripe id: %v", err)
	}
	if loaded.Status != core.SubscriptionStatusActive || loaded.ActivatedAt == nil || !loaded.ActivatedAt.Equal(activated) {
		t.Fatalf("unexpected loaded subscription: %+v", loaded)
	}

	if _, err := store.GetByStripeID(ctx, "sub_missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	all, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one subscription row, got %d", len(all))
	}
}

func TestEndpointStore_CRUDAndActiveResolution(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	store := factory.EndpointStore()

	created, err := store.Create(ctx, core.CreateEndpointInput{
		URL:      "https://example.com/hooks",
		Events:   []string{"subscription.activated", "subscription.updated"},
		IsActive: true,
		Secret:   "s3cret",
		Timeout:  1500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("create endpoint: %v", err)
	}
	if created.RetryCount != core.DefaultEndpointRetryCount || created.Timeout != 1500*time.Millisecond {
		t.Fatalf("unexpected created endpoint: %+v", created)
	}
	if _, err := store.Create(ctx, core.CreateEndpointInput{
		URL:      "https://example.com/other",
		Events:   []string{"subscription.deactivated"},
		IsActive: true,
	}); err != nil {
		t.Fatalf("create second endpoint: %v", err)
	}

	active, err := store.ListActiveForEvent(ctx, "subscription.updated")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].ID != created.ID {
		t.Fatalf("expected only the subscribed endpoint, got %+v", active)
	}

	disabled := false
	if _, err := store.Update(ctx, created.ID, core.UpdateEndpointInput{IsActive: &disabled}); err != nil {
		t.Fatalf("disable endpoint: %v", err)
	}
	active, err = store.ListActiveForEvent(ctx, "subscription.updated")
	if err != nil {
		t.Fatalf("list active after disable: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected disabled endpoint excluded, got %+v", active)
	}

	loaded, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get endpoint: %v", err)
	}
	if loaded.IsActive || loaded.Secret != "s3cret" || len(loaded.Events) != 2 {
		t.Fatalf("unexpected endpoint after update: %+v", loaded)
	}

	if err := store.Delete(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, created.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := store.Delete(ctx, created.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found on repeat delete, got %v", err)
	}

	if _, err := store.Create(ctx, core.CreateEndpointInput{URL: "nope", Events: []string{"x"}}); err == nil || !core.IsPermanent(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDeliveryLogStore_AppendAndFilter(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	log := factory.DeliveryLogStore()

	envelope := core.OutboundEvent{
		Event:     "subscription.activated",
		Data:      map[string]any{"stripeSubscriptionId": "sub_1"},
		Timestamp: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
		ID:        "evt-1",
	}
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	status := http.StatusInternalServerError
	for attempt := 1; attempt <= 3; attempt++ {
		record := core.DeliveryAttempt{
			EndpointID: "ep-1",
			EventID:    envelope.ID,
			Event:      envelope.Event,
			Payload:    envelope,
			Body:       []byte(`{"event":"subscription.activated","id":"evt-1","n":9007199254740993}`),
			Success:    attempt == 3,
			Attempt:    attempt,
			SentAt:     base.Add(time.Duration(attempt) * time.Second),
		}
		if attempt < 3 {
			record.StatusCode = &status
			record.Error = "HTTP 500: Internal Server Error"
		}
		if _, err := log.Append(ctx, record); err != nil {
			t.Fatalf("append attempt %d: %v", attempt, err)
		}
	}

	records, err := log.List(ctx, core.DeliveryAttemptFilter{EndpointID: "ep-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 3 || records[0].Attempt != 3 {
		t.Fatalf("expected newest first, got %+v", records)
	}

	failed := false
	failures, err := log.List(ctx, core.DeliveryAttemptFilter{EventID: "evt-1", Success: &failed, Limit: 1})
	if err != nil {
		t.Fatalf("list failures: %v", err)
	}
	if len(failures) != 1 || failures[0].Attempt != 2 || failures[0].StatusCode == nil || *failures[0].StatusCode != 500 {
		t.Fatalf("unexpected failures: %+v", failures)
	}

	loaded, err := log.Get(ctx, failures[0].ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Payload.ID != "evt-1" || loaded.Payload.Data["stripeSubscriptionId"] != "sub_1" {
		t.Fatalf("expected payload round trip, got %+v", loaded.Payload)
	}
	if string(loaded.Body) != `{"event":"subscription.activated","id":"evt-1","n":9007199254740993}` {
		t.Fatalf("expected raw body round trip, got %s", loaded.Body)
	}
	if _, err := log.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStateStore_BacksStateClient(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)
	client := state.NewClient(factory.StateStore(), "")

	current, err := client.Load(ctx, "sub_1")
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if current != core.StateWaitingCheckout {
		t.Fatalf("expected waiting_checkout, got %s", current)
	}
	if err := client.Advance(ctx, "sub_1", current, core.StateCheckoutDone); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := client.Advance(ctx, "sub_1", core.StateCheckoutDone, core.StateInvoicePaid); err != nil {
		t.Fatalf("advance again: %v", err)
	}
	current, err = client.Load(ctx, "sub_1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if current != core.StateInvoicePaid {
		t.Fatalf("expected invoice_paid, got %s", current)
	}
	if err := client.Clear(ctx, "sub_1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, found, err := factory.StateStore().Get(ctx, client.Key("sub_1")); err != nil || found {
		t.Fatalf("expected cleared marker, found=%v err=%v", found, err)
	}
}

func TestDispatcherWithSQLStores_AuditsEveryAttempt(t *testing.T) {
	ctx := context.Background()
	factory := newFactory(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	endpoint, err := factory.EndpointStore().Create(ctx, core.CreateEndpointInput{
		URL:        server.URL,
		Events:     []string{"subscription.activated"},
		IsActive:   true,
		RetryCount: 2,
	})
	if err != nil {
		t.Fatalf("create endpoint: %v", err)
	}

	dispatcher := webhooks.NewDispatcher(factory.EndpointStore(), factory.DeliveryLogStore(), nil)
	dispatcher.Sleep = func(context.Context, time.Duration) error { return nil }
	report := dispatcher.Dispatch(ctx, "subscription.activated", map[string]any{"stripeSubscriptionId": "sub_1"})
	if report.Failed != 1 {
		t.Fatalf("expected one failed endpoint, got %+v", report)
	}

	records, err := factory.DeliveryLogStore().List(ctx, core.DeliveryAttemptFilter{EndpointID: endpoint.ID})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected two audit rows, got %d", len(records))
	}

	disabled := false
	if _, err := factory.EndpointStore().Update(ctx, endpoint.ID, core.UpdateEndpointInput{IsActive: &disabled}); err != nil {
		t.Fatalf("disable endpoint: %v", err)
	}
	replay := webhooks.NewReplayCoordinator(factory.DeliveryLogStore(), factory.EndpointStore(), dispatcher, nil)
	result := replay.Retry(ctx, records[0].ID)
	if result.Success || result.Reason != webhooks.ReplayReasonEndpointInactive {
		t.Fatalf("expected inactive refusal, got %+v", result)
	}
}

func newFactory(t *testing.T) *sqlstore.RepositoryFactory {
	t.Helper()
	client, cleanup := newSQLiteClient(t)
	t.Cleanup(cleanup)
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	return factory
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:billing-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	if _, err := billingmigrations.Register(client, core.StoreConfig{Driver: "sqlite3", DSN: dsn}); err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}
