package core

import (
	"encoding/json"
	"slices"
	"strings"
	"time"
)

// SubscriptionState is the per-subject progress marker used to linearize
// out-of-order billing events.
type SubscriptionState string

const (
	StateWaitingCheckout SubscriptionState = "waiting_checkout"
	StateCheckoutDone    SubscriptionState = "checkout_done"
	StateInvoicePaid     SubscriptionState = "invoice_paid"
)

// Rank orders states along the only forward path. Unknown states rank below
// waiting_checkout.
func (s SubscriptionState) Rank() int {
	switch s {
	case StateWaitingCheckout:
		return 0
	case StateCheckoutDone:
		return 1
	case StateInvoicePaid:
		return 2
	default:
		return -1
	}
}

func (s SubscriptionState) Valid() bool {
	return s.Rank() >= 0
}

// ParseSubscriptionState maps a stored marker to a state. Empty values resolve
// to waiting_checkout.
func ParseSubscriptionState(raw string) (SubscriptionState, bool) {
	value := SubscriptionState(strings.TrimSpace(strings.ToLower(raw)))
	if value == "" {
		return StateWaitingCheckout, true
	}
	if !value.Valid() {
		return StateWaitingCheckout, false
	}
	return value, true
}

// BillingEvent is an inbound provider event after schema validation.
type BillingEvent struct {
	ID        string
	Type      string
	SubjectID string
	Payload   json.RawMessage
}

const (
	DefaultEndpointRetryCount = 3
	DefaultEndpointTimeout    = 10 * time.Second
)

// WebhookEndpoint is a registered consumer of outbound domain events.
type WebhookEndpoint struct {
	ID         string
	URL        string
	Events     []string
	IsActive   bool
	Secret     string
	RetryCount int
	Timeout    time.Duration
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (e WebhookEndpoint) Subscribes(event string) bool {
	event = strings.TrimSpace(event)
	if event == "" {
		return false
	}
	return slices.Contains(e.Events, event)
}

func (e WebhookEndpoint) EffectiveRetryCount() int {
	if e.RetryCount < 1 {
		return DefaultEndpointRetryCount
	}
	return e.RetryCount
}

func (e WebhookEndpoint) EffectiveTimeout() time.Duration {
	if e.Timeout <= 0 {
		return DefaultEndpointTimeout
	}
	return e.Timeout
}

type CreateEndpointInput struct {
	URL        string        `validate:"required,url"`
	Events     []string      `validate:"required,min=1,dive,required"`
	IsActive   bool          ``
	Secret     string        ``
	RetryCount int           `validate:"gte=0"`
	Timeout    time.Duration `validate:"gte=0"`
}

// Normalize applies endpoint defaults. Zero retry counts and timeouts take
// the defaults so stored endpoints always satisfy retryCount >= 1 and
// timeout > 0.
func (in CreateEndpointInput) Normalize() CreateEndpointInput {
	out := in
	out.URL = strings.TrimSpace(out.URL)
	out.Secret = strings.TrimSpace(out.Secret)
	out.Events = normalizeEventNames(out.Events)
	if out.RetryCount < 1 {
		out.RetryCount = DefaultEndpointRetryCount
	}
	if out.Timeout <= 0 {
		out.Timeout = DefaultEndpointTimeout
	}
	return out
}

type UpdateEndpointInput struct {
	URL        *string        `validate:"omitnil,url"`
	Events     []string       `validate:"omitempty,dive,required"`
	IsActive   *bool          ``
	Secret     *string        ``
	RetryCount *int           `validate:"omitnil,gte=1"`
	Timeout    *time.Duration `validate:"omitnil,gt=0"`
}

// OutboundEvent is the envelope posted to every endpoint of one dispatch.
type OutboundEvent struct {
	Event     string         `json:"event"`
	Data      map[string]any `json:"data"`
	Timestamp int64          `json:"timestamp"`
	ID        string         `json:"id"`
}

func (e OutboundEvent) SentAt() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

// DeliveryAttempt is one audit row per outbound delivery attempt.
type DeliveryAttempt struct {
	ID         string
	EndpointID string
	EventID    string
	Event      string
	Payload    OutboundEvent
	// Body is the exact request body sent. Replays re-send it verbatim.
	Body       []byte
	Success    bool
	StatusCode *int
	Error      string
	Attempt    int
	SentAt     time.Time
}

type DeliveryAttemptFilter struct {
	EndpointID string
	EventID    string
	Success    *bool
	Limit      int
}

const (
	SubscriptionStatusPending  = "PENDING"
	SubscriptionStatusActive   = "ACTIVE"
	SubscriptionStatusCanceled = "CANCELED"
)

// Subscription is the billing aggregate mutated by the subscription mutator.
type Subscription struct {
	ID                   string
	StripeSubscriptionID string
	StripeCustomerID     string
	CheckoutSessionID    string
	OrganizationID       string
	PlanID               string
	Status               string
	ActivatedAt          *time.Time
	CanceledAt           *time.Time
	CurrentPeriodEnd     *time.Time
	Metadata             map[string]any
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type UpsertSubscriptionInput struct {
	StripeSubscriptionID string
	StripeCustomerID     string
	CheckoutSessionID    string
	OrganizationID       string
	PlanID               string
	Status               string
	ActivatedAt          *time.Time
	CanceledAt           *time.Time
	CurrentPeriodEnd     *time.Time
	Metadata             map[string]any
}

// CheckoutSession carries the checkout.session.completed fields the mutator
// needs.
type CheckoutSession struct {
	ID                string
	SubscriptionID    string
	CustomerID        string
	ClientReferenceID string
	Metadata          map[string]string
	Raw               json.RawMessage
}

// ProviderSubscription carries customer.subscription.* fields.
type ProviderSubscription struct {
	ID               string
	CustomerID       string
	Status           string
	PriceID          string
	ProductID        string
	CurrentPeriodEnd *time.Time
	CancelAt         *time.Time
	Metadata         map[string]string
	Raw              json.RawMessage
}

// Invoice carries invoice.paid fields.
type Invoice struct {
	ID             string
	SubscriptionID string
	CustomerID     string
	AmountPaid     int64
	Currency       string
	Raw            json.RawMessage
}

func normalizeEventNames(events []string) []string {
	if len(events) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(events))
	out := make([]string, 0, len(events))
	for _, event := range events {
		trimmed := strings.TrimSpace(event)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func NormalizeEventNames(events []string) []string {
	return normalizeEventNames(events)
}
