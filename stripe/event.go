package stripe

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-billing/core"
)

// Event is the provider envelope as delivered on the queue.
type Event struct {
	ID      string    `json:"id" validate:"required"`
	Type    string    `json:"type" validate:"required"`
	Created int64     `json:"created,omitempty"`
	Data    EventData `json:"data" validate:"required"`
}

type EventData struct {
	Object json.RawMessage `json:"object" validate:"required"`
}

var eventValidator = validator.New()

// ParseEvent decodes and validates raw provider JSON. Failures are permanent
// bad-input errors.
func ParseEvent(raw []byte) (Event, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return Event{}, core.NewBadInputError("stripe: event payload is required")
	}
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return Event{}, core.NewBadInputError(fmt.Sprintf("stripe: malformed event payload: %v", err))
	}
	if err := ValidateEvent(event); err != nil {
		return Event{}, err
	}
	return event, nil
}

func ValidateEvent(event Event) error {
	err := eventValidator.Struct(event)
	if err == nil {
		if !isJSONObject(event.Data.Object) {
			return core.NewBadInputError("stripe: invalid event",
				goerrors.FieldError{Field: "data.object", Message: "must be a JSON object"})
		}
		return nil
	}
	var validationErrs validator.ValidationErrors
	if ok := asValidationErrors(err, &validationErrs); !ok {
		return core.NewBadInputError(fmt.Sprintf("stripe: invalid event: %v", err))
	}
	fields := make([]goerrors.FieldError, 0, len(validationErrs))
	for _, fieldErr := range validationErrs {
		fields = append(fields, goerrors.FieldError{
			Field:   fieldPath(fieldErr.Namespace()),
			Message: fieldErr.Tag(),
		})
	}
	return core.NewBadInputError("stripe: invalid event", fields...)
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	errs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = errs
	}
	return ok
}

func fieldPath(namespace string) string {
	namespace = strings.TrimPrefix(namespace, "Event.")
	switch namespace {
	case "ID":
		return "id"
	case "Type":
		return "type"
	case "Data":
		return "data"
	case "Data.Object":
		return "data.object"
	}
	return strings.ToLower(namespace)
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")
}

type objectRef struct {
	ID           string `json:"id"`
	Subscription string `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// SubjectID extracts the subscription the event pertains to.
// customer.subscription.* events carry it as object.id; the rest reference
// it through object.subscription.
func SubjectID(kind Kind, object json.RawMessage) string {
	var ref objectRef
	if err := json.Unmarshal(object, &ref); err != nil {
		return ""
	}
	subscription := strings.TrimSpace(ref.Subscription)
	if subscription == "" && ref.Parent != nil && ref.Parent.SubscriptionDetails != nil {
		subscription = strings.TrimSpace(ref.Parent.SubscriptionDetails.Subscription)
	}
	switch kind {
	case KindSubscriptionUpdated, KindSubscriptionDeleted:
		if id := strings.TrimSpace(ref.ID); id != "" {
			return id
		}
	}
	return subscription
}

// ToBillingEvent converts a validated provider event into the core shape.
func (e Event) ToBillingEvent() core.BillingEvent {
	return core.BillingEvent{
		ID:        e.ID,
		Type:      e.Type,
		SubjectID: SubjectID(Classify(e.Type), e.Data.Object),
		Payload:   e.Data.Object,
	}
}

type checkoutSessionObject struct {
	ID                string            `json:"id"`
	Subscription      string            `json:"subscription"`
	Customer          string            `json:"customer"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

func decodeCheckoutSession(subjectID string, object json.RawMessage) (core.CheckoutSession, error) {
	var raw checkoutSessionObject
	if err := json.Unmarshal(object, &raw); err != nil {
		return core.CheckoutSession{}, core.NewBadInputError(fmt.Sprintf("stripe: malformed checkout session: %v", err))
	}
	return core.CheckoutSession{
		ID:                raw.ID,
		SubscriptionID:    subjectID,
		CustomerID:        raw.Customer,
		ClientReferenceID: raw.ClientReferenceID,
		Metadata:          raw.Metadata,
		Raw:               object,
	}, nil
}

type invoiceObject struct {
	ID         string `json:"id"`
	Customer   string `json:"customer"`
	AmountPaid int64  `json:"amount_paid"`
	Currency   string `json:"currency"`
}

func decodeInvoice(subjectID string, object json.RawMessage) (core.Invoice, error) {
	var raw invoiceObject
	if err := json.Unmarshal(object, &raw); err != nil {
		return core.Invoice{}, core.NewBadInputError(fmt.Sprintf("stripe: malformed invoice: %v", err))
	}
	return core.Invoice{
		ID:             raw.ID,
		SubscriptionID: subjectID,
		CustomerID:     raw.Customer,
		AmountPaid:     raw.AmountPaid,
		Currency:       raw.Currency,
		Raw:            object,
	}, nil
}

type subscriptionObject struct {
	ID               string            `json:"id"`
	Customer         string            `json:"customer"`
	Status           string            `json:"status"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	CancelAt         int64             `json:"cancel_at"`
	Metadata         map[string]string `json:"metadata"`
	Items            struct {
		Data []struct {
			Price struct {
				ID      string `json:"id"`
				Product string `json:"product"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func decodeSubscription(subjectID string, object json.RawMessage) (core.ProviderSubscription, error) {
	var raw subscriptionObject
	if err := json.Unmarshal(object, &raw); err != nil {
		return core.ProviderSubscription{}, core.NewBadInputError(fmt.Sprintf("stripe: malformed subscription: %v", err))
	}
	out := core.ProviderSubscription{
		ID:               subjectID,
		CustomerID:       raw.Customer,
		Status:           raw.Status,
		CurrentPeriodEnd: unixTime(raw.CurrentPeriodEnd),
		CancelAt:         unixTime(raw.CancelAt),
		Metadata:         raw.Metadata,
		Raw:              object,
	}
	if len(raw.Items.Data) > 0 {
		out.PriceID = raw.Items.Data[0].Price.ID
		out.ProductID = raw.Items.Data[0].Price.Product
	}
	return out, nil
}

func unixTime(seconds int64) *time.Time {
	if seconds <= 0 {
		return nil
	}
	value := time.Unix(seconds, 0).UTC()
	return &value
}
