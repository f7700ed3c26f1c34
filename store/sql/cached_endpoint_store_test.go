package sqlstore

import (
	"context"
	"testing"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-billing/core"
	"github.com/goliatone/go-billing/webhooks"
)

type countingEndpointStore struct {
	*webhooks.MemoryEndpointStore
	listActiveCalls int
	getCalls        int
}

func (s *countingEndpointStore) ListActiveForEvent(ctx context.Context, event string) ([]core.WebhookEndpoint, error) {
	s.listActiveCalls++
	return s.MemoryEndpointStore.ListActiveForEvent(ctx, event)
}

func (s *countingEndpointStore) Get(ctx context.Context, id string) (core.WebhookEndpoint, error) {
	s.getCalls++
	return s.MemoryEndpointStore.Get(ctx, id)
}

func newTestEndpointCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}

func TestCachedEndpointStore_ListActiveForEvent_MissFetchThenHit(t *testing.T) {
	ctx := context.Background()
	base := &countingEndpointStore{MemoryEndpointStore: webhooks.NewMemoryEndpointStore()}
	store, err := NewCachedEndpointStore(base, newTestEndpointCacheService(t))
	if err != nil {
		t.Fatalf("new cached endpoint store: %v", err)
	}
	if _, err := store.Create(ctx, core.CreateEndpointInput{URL: "https://example.com/a", Events: []string{"subscription.activated"}, IsActive: true}); err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 3; i++ {
		endpoints, err := store.ListActiveForEvent(ctx, "subscription.activated")
		if err != nil {
			t.Fatalf("list active %d: %v", i, err)
		}
		if len(endpoints) != 1 {
			t.Fatalf("expected one endpoint, got %d", len(endpoints))
		}
	}
	if base.listActiveCalls != 1 {
		t.Fatalf("expected one base read, got %d", base.listActiveCalls)
	}
}

func TestCachedEndpointStore_WritesInvalidateEventAndIDKeys(t *testing.T) {
	ctx := context.Background()
	base := &countingEndpointStore{MemoryEndpointStore: webhooks.NewMemoryEndpointStore()}
	store, err := NewCachedEndpointStore(base, newTestEndpointCacheService(t))
	if err != nil {
		t.Fatalf("new cached endpoint store: %v", err)
	}
	created, err := store.Create(ctx, core.CreateEndpointInput{URL: "https://example.com/a", Events: []string{"subscription.activated"}, IsActive: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := store.ListActiveForEvent(ctx, "subscription.activated"); err != nil {
		t.Fatalf("prime list: %v", err)
	}
	if _, err := store.Get(ctx, created.ID); err != nil {
		t.Fatalf("prime get: %v", err)
	}

	disabled := false
	if _, err := store.Update(ctx, created.ID, core.UpdateEndpointInput{IsActive: &disabled}); err != nil {
		t.Fatalf("update: %v", err)
	}

	endpoints, err := store.ListActiveForEvent(ctx, "subscription.activated")
	if err != nil {
		t.Fatalf("list after update: %v", err)
	}
	if len(endpoints) != 0 {
		t.Fatalf("expected stale cache entry invalidated, got %+v", endpoints)
	}
	loaded, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if loaded.IsActive {
		t.Fatalf("expected fresh endpoint state after update")
	}

	// Creating an endpoint for the same event drops the cached empty list.
	if _, err := store.Create(ctx, core.CreateEndpointInput{URL: "https://example.com/b", Events: []string{"subscription.activated"}, IsActive: true}); err != nil {
		t.Fatalf("create second: %v", err)
	}
	endpoints, err = store.ListActiveForEvent(ctx, "subscription.activated")
	if err != nil {
		t.Fatalf("list after create: %v", err)
	}
	if len(endpoints) != 1 {
		t.Fatalf("expected new endpoint visible, got %d", len(endpoints))
	}

	if err := store.Delete(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, created.ID); err == nil {
		t.Fatalf("expected deleted endpoint to be gone")
	}
}

func TestEndpointCacheKeys(t *testing.T) {
	if got := EndpointEventCacheKey("subscription.activated"); got != "go-billing::webhook_endpoints::v1::event::subscription.activated" {
		t.Fatalf("unexpected event key %q", got)
	}
	if got := EndpointIDCacheKey("a/b"); got != "go-billing::webhook_endpoints::v1::id::a%2Fb" {
		t.Fatalf("unexpected id key %q", got)
	}
}
