package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-billing/core"
)

// Domain events emitted after a committed mutation.
const (
	EventActivated   = "subscription.activated"
	EventUpdated     = "subscription.updated"
	EventDeactivated = "subscription.deactivated"
)

// Mutator applies billing transitions to the subscription aggregate. Each
// method reads the current row, merges the provider fields and upserts by
// provider subscription id.
type Mutator struct {
	Store    core.SubscriptionStore
	Notifier core.EventNotifier
	Observer *core.Observer
	Now      func() time.Time
}

func NewMutator(store core.SubscriptionStore, notifier core.EventNotifier, observer *core.Observer) *Mutator {
	if observer == nil {
		observer = core.NewObserver(nil, nil)
	}
	return &Mutator{
		Store:    store,
		Notifier: notifier,
		Observer: observer,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (m *Mutator) CompleteCheckout(ctx context.Context, session core.CheckoutSession) error {
	existing, err := m.load(ctx, session.SubscriptionID)
	if err != nil {
		return err
	}
	in := toUpsertInput(existing)
	in.StripeSubscriptionID = session.SubscriptionID
	in.StripeCustomerID = firstNonEmpty(session.CustomerID, in.StripeCustomerID)
	in.CheckoutSessionID = firstNonEmpty(session.ID, in.CheckoutSessionID)
	in.OrganizationID = firstNonEmpty(
		session.Metadata["organizationId"],
		session.ClientReferenceID,
		in.OrganizationID,
	)
	in.PlanID = firstNonEmpty(session.Metadata["planId"], in.PlanID)
	if strings.TrimSpace(in.Status) == "" {
		in.Status = core.SubscriptionStatusPending
	}
	in.Metadata = mergeMetadata(in.Metadata, session.Metadata)

	_, err = m.upsert(ctx, "complete_checkout", in)
	return err
}

func (m *Mutator) MarkInvoicePaid(ctx context.Context, invoice core.Invoice) error {
	existing, err := m.load(ctx, invoice.SubscriptionID)
	if err != nil {
		return err
	}
	now := m.now()
	in := toUpsertInput(existing)
	in.StripeSubscriptionID = invoice.SubscriptionID
	in.StripeCustomerID = firstNonEmpty(invoice.CustomerID, in.StripeCustomerID)
	in.Status = core.SubscriptionStatusActive
	if in.ActivatedAt == nil {
		in.ActivatedAt = &now
	}
	in.CanceledAt = nil
	in.Metadata = mergeMetadata(in.Metadata, map[string]string{
		"lastInvoiceId": invoice.ID,
	})

	sub, err := m.upsert(ctx, "mark_invoice_paid", in)
	if err != nil {
		return err
	}
	m.notify(ctx, EventActivated, sub, map[string]any{
		"invoiceId":  invoice.ID,
		"amountPaid": invoice.AmountPaid,
		"currency":   invoice.Currency,
	})
	return nil
}

func (m *Mutator) UpdateSubscription(ctx context.Context, provider core.ProviderSubscription) error {
	existing, err := m.load(ctx, provider.ID)
	if err != nil {
		return err
	}
	in := toUpsertInput(existing)
	in.StripeSubscriptionID = provider.ID
	in.StripeCustomerID = firstNonEmpty(provider.CustomerID, in.StripeCustomerID)
	in.PlanID = firstNonEmpty(provider.Metadata["planId"], provider.PriceID, in.PlanID)
	in.Status = firstNonEmpty(normalizeStatus(provider.Status), in.Status)
	if provider.CurrentPeriodEnd != nil {
		in.CurrentPeriodEnd = provider.CurrentPeriodEnd
	}
	in.Metadata = mergeMetadata(in.Metadata, provider.Metadata)
	if provider.ProductID != "" {
		in.Metadata["productId"] = provider.ProductID
	}

	sub, err := m.upsert(ctx, "update_subscription", in)
	if err != nil {
		return err
	}
	m.notify(ctx, EventUpdated, sub, nil)
	return nil
}

func (m *Mutator) CancelSubscription(ctx context.Context, provider core.ProviderSubscription) error {
	existing, err := m.load(ctx, provider.ID)
	if err != nil {
		return err
	}
	now := m.now()
	in := toUpsertInput(existing)
	in.StripeSubscriptionID = provider.ID
	in.StripeCustomerID = firstNonEmpty(provider.CustomerID, in.StripeCustomerID)
	in.Status = core.SubscriptionStatusCanceled
	in.CanceledAt = &now
	in.Metadata = mergeMetadata(in.Metadata, provider.Metadata)

	sub, err := m.upsert(ctx, "cancel_subscription", in)
	if err != nil {
		return err
	}
	m.notify(ctx, EventDeactivated, sub, nil)
	return nil
}

func (m *Mutator) load(ctx context.Context, stripeSubscriptionID string) (core.Subscription, error) {
	if m == nil || m.Store == nil {
		return core.Subscription{}, fmt.Errorf("subscriptions: store is not configured")
	}
	stripeSubscriptionID = strings.TrimSpace(stripeSubscriptionID)
	if stripeSubscriptionID == "" {
		return core.Subscription{}, core.NewBadInputError("subscriptions: stripe subscription id is required")
	}
	existing, err := m.Store.GetByStripeID(ctx, stripeSubscriptionID)
	if errors.Is(err, core.ErrNotFound) {
		return core.Subscription{}, nil
	}
	if err != nil {
		return core.Subscription{}, fmt.Errorf("subscriptions: load %s: %w", stripeSubscriptionID, err)
	}
	return existing, nil
}

func (m *Mutator) upsert(ctx context.Context, operation string, in core.UpsertSubscriptionInput) (core.Subscription, error) {
	startedAt := m.now()
	sub, err := m.Store.Upsert(ctx, in)
	m.Observer.ObserveOperation(ctx, startedAt, "subscription_"+operation, err, map[string]any{
		"subject_id": in.StripeSubscriptionID,
		"sub_status": in.Status,
	})
	if err != nil {
		return core.Subscription{}, fmt.Errorf("subscriptions: %s: %w", operation, err)
	}
	return sub, nil
}

// notify publishes after the write has committed. Publish failures are logged
// and never undo or fail the mutation.
func (m *Mutator) notify(ctx context.Context, event string, sub core.Subscription, extra map[string]any) {
	if m == nil || m.Notifier == nil {
		return
	}
	data := SubscriptionData(sub)
	for key, value := range extra {
		data[key] = value
	}
	if err := m.Notifier.Notify(ctx, event, data); err != nil {
		m.Observer.LogError(ctx, "subscription event publish failed", map[string]any{
			"event":      event,
			"subject_id": sub.StripeSubscriptionID,
			"error":      err.Error(),
		})
	}
}

// SubscriptionData is the outbound webhook body for subscription events.
func SubscriptionData(sub core.Subscription) map[string]any {
	data := map[string]any{
		"id":                   sub.ID,
		"stripeSubscriptionId": sub.StripeSubscriptionID,
		"stripeCustomerId":     sub.StripeCustomerID,
		"organizationId":       sub.OrganizationID,
		"planId":               sub.PlanID,
		"status":               sub.Status,
	}
	if sub.ActivatedAt != nil {
		data["activatedAt"] = sub.ActivatedAt.UTC().Format(time.RFC3339)
	}
	if sub.CanceledAt != nil {
		data["canceledAt"] = sub.CanceledAt.UTC().Format(time.RFC3339)
	}
	if sub.CurrentPeriodEnd != nil {
		data["currentPeriodEnd"] = sub.CurrentPeriodEnd.UTC().Format(time.RFC3339)
	}
	return data
}

func (m *Mutator) now() time.Time {
	if m != nil && m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func toUpsertInput(sub core.Subscription) core.UpsertSubscriptionInput {
	return core.UpsertSubscriptionInput{
		StripeSubscriptionID: sub.StripeSubscriptionID,
		StripeCustomerID:     sub.StripeCustomerID,
		CheckoutSessionID:    sub.CheckoutSessionID,
		OrganizationID:       sub.OrganizationID,
		PlanID:               sub.PlanID,
		Status:               sub.Status,
		ActivatedAt:          sub.ActivatedAt,
		CanceledAt:           sub.CanceledAt,
		CurrentPeriodEnd:     sub.CurrentPeriodEnd,
		Metadata:             cloneMetadata(sub.Metadata),
	}
}

func normalizeStatus(status string) string {
	status = strings.TrimSpace(strings.ToLower(status))
	switch status {
	case "":
		return ""
	case "active", "trialing":
		return core.SubscriptionStatusActive
	case "canceled":
		return core.SubscriptionStatusCanceled
	default:
		return strings.ToUpper(status)
	}
}

func mergeMetadata(base map[string]any, extra map[string]string) map[string]any {
	out := cloneMetadata(base)
	for key, value := range extra {
		if strings.TrimSpace(value) == "" {
			continue
		}
		out[key] = value
	}
	return out
}

func cloneMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

var _ core.SubscriptionMutator = (*Mutator)(nil)
