package sqlstore

import (
	"slices"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-billing/core"
)

type subscriptionRecord struct {
	bun.BaseModel `bun:"table:billing_subscriptions,alias:bs"`

	ID                   string         `bun:"id,pk"`
	StripeSubscriptionID string         `bun:"stripe_subscription_id,notnull"`
	StripeCustomerID     string         `bun:"stripe_customer_id,notnull"`
	CheckoutSessionID    string         `bun:"checkout_session_id,notnull"`
	OrganizationID       string         `bun:"organization_id,notnull"`
	PlanID               string         `bun:"plan_id,notnull"`
	Status               string         `bun:"status,notnull"`
	ActivatedAt          *time.Time     `bun:"activated_at,nullzero"`
	CanceledAt           *time.Time     `bun:"canceled_at,nullzero"`
	CurrentPeriodEnd     *time.Time     `bun:"current_period_end,nullzero"`
	Metadata             map[string]any `bun:"metadata,type:jsonb,notnull"`
	CreatedAt            time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt            time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type endpointRecord struct {
	bun.BaseModel `bun:"table:billing_webhook_endpoints,alias:bwe"`

	ID         string    `bun:"id,pk"`
	URL        string    `bun:"url,notnull"`
	Events     []string  `bun:"events,type:jsonb,notnull"`
	IsActive   bool      `bun:"is_active,notnull"`
	Secret     string    `bun:"secret,notnull"`
	RetryCount int       `bun:"retry_count,notnull"`
	TimeoutMS  int64     `bun:"timeout_ms,notnull"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt  time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type deliveryAttemptRecord struct {
	bun.BaseModel `bun:"table:billing_webhook_events,alias:bwv"`

	ID         string             `bun:"id,pk"`
	EndpointID string             `bun:"endpoint_id,notnull"`
	EventID    string             `bun:"event_id,notnull"`
	Event      string             `bun:"event,notnull"`
	Payload    core.OutboundEvent `bun:"payload,type:jsonb,notnull"`
	Body       []byte             `bun:"body"`
	Success    bool               `bun:"success,notnull"`
	StatusCode *int               `bun:"status_code"`
	Error      string             `bun:"error,notnull"`
	Attempt    int                `bun:"attempt,notnull"`
	SentAt     time.Time          `bun:"sent_at,nullzero,notnull,default:current_timestamp"`
}

type stateMarkerRecord struct {
	bun.BaseModel `bun:"table:billing_state_markers,alias:bsm"`

	Key       string    `bun:"state_key,pk"`
	Value     string    `bun:"value,notnull"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newSubscriptionRecord(in core.UpsertSubscriptionInput, now time.Time) *subscriptionRecord {
	record := &subscriptionRecord{
		StripeSubscriptionID: strings.TrimSpace(in.StripeSubscriptionID),
		CreatedAt:            now,
	}
	record.apply(in, now)
	return record
}

func (r *subscriptionRecord) apply(in core.UpsertSubscriptionInput, now time.Time) {
	r.StripeCustomerID = strings.TrimSpace(in.StripeCustomerID)
	r.CheckoutSessionID = strings.TrimSpace(in.CheckoutSessionID)
	r.OrganizationID = strings.TrimSpace(in.OrganizationID)
	r.PlanID = strings.TrimSpace(in.PlanID)
	r.Status = strings.TrimSpace(in.Status)
	r.ActivatedAt = cloneTimePointer(in.ActivatedAt)
	r.CanceledAt = cloneTimePointer(in.CanceledAt)
	r.CurrentPeriodEnd = cloneTimePointer(in.CurrentPeriodEnd)
	r.Metadata = copyAnyMap(in.Metadata)
	r.UpdatedAt = now
}

func (r *subscriptionRecord) toDomain() core.Subscription {
	if r == nil {
		return core.Subscription{}
	}
	return core.Subscription{
		ID:                   r.ID,
		StripeSubscriptionID: r.StripeSubscriptionID,
		StripeCustomerID:     r.StripeCustomerID,
		CheckoutSessionID:    r.CheckoutSessionID,
		OrganizationID:       r.OrganizationID,
		PlanID:               r.PlanID,
		Status:               r.Status,
		ActivatedAt:          cloneTimePointer(r.ActivatedAt),
		CanceledAt:           cloneTimePointer(r.CanceledAt),
		CurrentPeriodEnd:     cloneTimePointer(r.CurrentPeriodEnd),
		Metadata:             copyAnyMap(r.Metadata),
		CreatedAt:            r.CreatedAt.UTC(),
		UpdatedAt:            r.UpdatedAt.UTC(),
	}
}

func newEndpointRecord(in core.CreateEndpointInput, now time.Time) *endpointRecord {
	return &endpointRecord{
		URL:        in.URL,
		Events:     slices.Clone(in.Events),
		IsActive:   in.IsActive,
		Secret:     in.Secret,
		RetryCount: in.RetryCount,
		TimeoutMS:  in.Timeout.Milliseconds(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func endpointRecordFromDomain(endpoint core.WebhookEndpoint) *endpointRecord {
	return &endpointRecord{
		ID:         endpoint.ID,
		URL:        endpoint.URL,
		Events:     slices.Clone(endpoint.Events),
		IsActive:   endpoint.IsActive,
		Secret:     endpoint.Secret,
		RetryCount: endpoint.RetryCount,
		TimeoutMS:  endpoint.Timeout.Milliseconds(),
		CreatedAt:  endpoint.CreatedAt,
		UpdatedAt:  endpoint.UpdatedAt,
	}
}

func (r *endpointRecord) toDomain() core.WebhookEndpoint {
	if r == nil {
		return core.WebhookEndpoint{}
	}
	return core.WebhookEndpoint{
		ID:         r.ID,
		URL:        r.URL,
		Events:     slices.Clone(r.Events),
		IsActive:   r.IsActive,
		Secret:     r.Secret,
		RetryCount: r.RetryCount,
		Timeout:    time.Duration(r.TimeoutMS) * time.Millisecond,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

func newDeliveryAttemptRecord(attempt core.DeliveryAttempt) *deliveryAttemptRecord {
	record := &deliveryAttemptRecord{
		ID:         strings.TrimSpace(attempt.ID),
		EndpointID: strings.TrimSpace(attempt.EndpointID),
		EventID:    strings.TrimSpace(attempt.EventID),
		Event:      strings.TrimSpace(attempt.Event),
		Payload:    attempt.Payload,
		Body:       attempt.Body,
		Success:    attempt.Success,
		Error:      attempt.Error,
		Attempt:    attempt.Attempt,
		SentAt:     attempt.SentAt.UTC(),
	}
	if attempt.StatusCode != nil {
		code := *attempt.StatusCode
		record.StatusCode = &code
	}
	return record
}

func (r *deliveryAttemptRecord) toDomain() core.DeliveryAttempt {
	if r == nil {
		return core.DeliveryAttempt{}
	}
	out := core.DeliveryAttempt{
		ID:         r.ID,
		EndpointID: r.EndpointID,
		EventID:    r.EventID,
		Event:      r.Event,
		Payload:    r.Payload,
		Body:       r.Body,
		Success:    r.Success,
		Error:      r.Error,
		Attempt:    r.Attempt,
		SentAt:     r.SentAt.UTC(),
	}
	if r.StatusCode != nil {
		code := *r.StatusCode
		out.StatusCode = &code
	}
	return out
}

func copyAnyMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}

func cloneTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}
