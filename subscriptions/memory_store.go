package subscriptions

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-billing/core"
)

// MemoryStore is an in-process SubscriptionStore keyed by provider id.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]core.Subscription
	Now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: map[string]core.Subscription{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *MemoryStore) Upsert(_ context.Context, in core.UpsertSubscriptionInput) (core.Subscription, error) {
	if s == nil {
		return core.Subscription{}, fmt.Errorf("subscriptions: memory store is not configured")
	}
	key := strings.TrimSpace(in.StripeSubscriptionID)
	if key == "" {
		return core.Subscription{}, fmt.Errorf("subscriptions: stripe subscription id is required")
	}
	now := s.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.items[key]
	if !exists {
		current = core.Subscription{
			ID:                   uuid.NewString(),
			StripeSubscriptionID: key,
			CreatedAt:            now,
		}
	}
	current.StripeCustomerID = in.StripeCustomerID
	current.CheckoutSessionID = in.CheckoutSessionID
	current.OrganizationID = in.OrganizationID
	current.PlanID = in.PlanID
	current.Status = in.Status
	current.ActivatedAt = in.ActivatedAt
	current.CanceledAt = in.CanceledAt
	current.CurrentPeriodEnd = in.CurrentPeriodEnd
	current.Metadata = cloneMetadata(in.Metadata)
	current.UpdatedAt = now
	s.items[key] = current
	return current, nil
}

func (s *MemoryStore) GetByStripeID(_ context.Context, stripeSubscriptionID string) (core.Subscription, error) {
	if s == nil {
		return core.Subscription{}, fmt.Errorf("subscriptions: memory store is not configured")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.items[strings.TrimSpace(stripeSubscriptionID)]
	if !ok {
		return core.Subscription{}, core.ErrNotFound
	}
	return sub, nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]core.Subscription, error) {
	if s == nil {
		return nil, fmt.Errorf("subscriptions: memory store is not configured")
	}
	s.mu.RLock()
	out := make([]core.Subscription, 0, len(s.items))
	for _, sub := range s.items {
		out = append(out, sub)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ core.SubscriptionStore = (*MemoryStore)(nil)
