package webhooks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-billing/core"
)

func TestMemoryEndpointStore_CRUD(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryEndpointStore()

	created, err := store.Create(ctx, core.CreateEndpointInput{
		URL:      " https://example.com/hook ",
		Events:   []string{"subscription.activated", "subscription.activated", " "},
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.URL != "https://example.com/hook" || len(created.Events) != 1 {
		t.Fatalf("expected normalized endpoint, got %+v", created)
	}
	if created.RetryCount != core.DefaultEndpointRetryCount || created.Timeout != core.DefaultEndpointTimeout {
		t.Fatalf("expected defaults, got retry=%d timeout=%s", created.RetryCount, created.Timeout)
	}

	inactive := false
	retries := 5
	timeout := 2 * time.Second
	updated, err := store.Update(ctx, created.ID, core.UpdateEndpointInput{
		IsActive:   &inactive,
		RetryCount: &retries,
		Timeout:    &timeout,
		Events:     []string{"subscription.updated"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.IsActive || updated.RetryCount != 5 || updated.Timeout != 2*time.Second || updated.Events[0] != "subscription.updated" {
		t.Fatalf("unexpected update result: %+v", updated)
	}

	active, err := store.ListActiveForEvent(ctx, "subscription.updated")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected inactive endpoint excluded")
	}

	if err := store.Delete(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, created.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := store.Delete(ctx, created.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestMemoryEndpointStore_RejectsInvalidInput(t *testing.T) {
	store := NewMemoryEndpointStore()
	tests := []struct {
		name string
		in   core.CreateEndpointInput
	}{
		{name: "missing url", in: core.CreateEndpointInput{Events: []string{"x"}}},
		{name: "bad url", in: core.CreateEndpointInput{URL: "not a url", Events: []string{"x"}}},
		{name: "no events", in: core.CreateEndpointInput{URL: "https://example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Create(context.Background(), tt.in)
			if err == nil || !core.IsPermanent(err) {
				t.Fatalf("expected permanent validation error, got %v", err)
			}
		})
	}

	zero := 0
	if _, err := ValidateUpdateEndpoint(core.UpdateEndpointInput{RetryCount: &zero}); err == nil {
		t.Fatalf("expected retry count of zero to be rejected on update")
	}
	if _, err := ValidateUpdateEndpoint(core.UpdateEndpointInput{Events: []string{" "}}); err == nil {
		t.Fatalf("expected empty event list to be rejected on update")
	}
}

func TestMemoryDeliveryLog_Filters(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryDeliveryLog()
	for i, success := range []bool{false, false, true} {
		if _, err := log.Append(ctx, core.DeliveryAttempt{EndpointID: "ep-1", EventID: "evt-1", Success: success, Attempt: i + 1}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, err := log.Append(ctx, core.DeliveryAttempt{EndpointID: "ep-2", EventID: "evt-1", Success: true, Attempt: 1}); err != nil {
		t.Fatalf("append: %v", err)
	}

	failed := false
	records, err := log.List(ctx, core.DeliveryAttemptFilter{EndpointID: "ep-1", Success: &failed})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 || records[0].Attempt != 2 {
		t.Fatalf("expected two failures newest first, got %+v", records)
	}

	limited, _ := log.List(ctx, core.DeliveryAttemptFilter{EventID: "evt-1", Limit: 1})
	if len(limited) != 1 || limited[0].EndpointID != "ep-2" {
		t.Fatalf("expected newest record only, got %+v", limited)
	}

	dup, _ := log.Append(ctx, core.DeliveryAttempt{ID: "fixed", EndpointID: "ep-3"})
	if _, err := log.Append(ctx, dup); err == nil {
		t.Fatalf("expected duplicate id to be rejected")
	}
}
