package command

import (
	"encoding/json"
	"testing"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-billing/core"
)

func TestMessages_ValidateReturnsRichValidationErrors(t *testing.T) {
	cases := map[string]interface{ Validate() error }{
		"replay":        ReplayWebhookMessage{},
		"queue empty":   CreateQueueMessage{},
		"queue invalid": CreateQueueMessage{QueueName: "bad name!"},
		"enqueue":       EnqueueStripeEventMessage{Queue: "q", Payload: json.RawMessage(`not json`)},
		"dispatch":      DispatchEventMessage{},
		"create":        CreateEndpointMessage{Input: core.CreateEndpointInput{URL: "https://example.com"}},
		"update":        UpdateEndpointMessage{},
		"delete":        DeleteEndpointMessage{},
	}
	for name, msg := range cases {
		err := msg.Validate()
		if err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
		var richErr *goerrors.Error
		if !goerrors.As(err, &richErr) {
			t.Fatalf("%s: expected rich error, got %T", name, err)
		}
		if richErr.Category != goerrors.CategoryValidation {
			t.Fatalf("%s: expected validation category, got %q", name, richErr.Category)
		}
		if richErr.TextCode != core.BillingErrorBadInput {
			t.Fatalf("%s: unexpected text code %q", name, richErr.TextCode)
		}
	}
}

func TestMessages_ValidAccepted(t *testing.T) {
	valid := []interface{ Validate() error }{
		ReplayWebhookMessage{WebhookEventID: "att_1"},
		CreateQueueMessage{QueueName: "stripe-webhooks"},
		EnqueueStripeEventMessage{Queue: "stripe-webhooks", Payload: json.RawMessage(`{"id":"evt_1"}`)},
		DispatchEventMessage{Event: "subscription.activated"},
		CreateEndpointMessage{Input: core.CreateEndpointInput{URL: "https://example.com", Events: []string{"a"}}},
		UpdateEndpointMessage{EndpointID: "ep_1"},
		DeleteEndpointMessage{EndpointID: "ep_1"},
	}
	for _, msg := range valid {
		if err := msg.Validate(); err != nil {
			t.Fatalf("%T: unexpected error %v", msg, err)
		}
	}
}

func TestCreateQueueMessage_InvalidNameKeepsFieldDetail(t *testing.T) {
	err := CreateQueueMessage{QueueName: "bad name!"}.Validate()
	mapped := core.MapError(err)
	if mapped.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", mapped.Category)
	}
	if mapped.Code != 400 {
		t.Fatalf("expected 400, got %d", mapped.Code)
	}
	fields := mapped.AllValidationErrors()
	if len(fields) != 1 || fields[0].Field != "queueName" {
		t.Fatalf("expected queueName field error, got %+v", fields)
	}
}
