package command

import (
	"encoding/json"
	"strings"

	"github.com/goliatone/go-billing/core"
	"github.com/goliatone/go-billing/jobs"
)

const (
	TypeReplayWebhook      = "billing.command.webhook.replay"
	TypeCreateQueue        = "billing.command.queue.create"
	TypeEnqueueStripeEvent = "billing.command.stripe_event.enqueue"
	TypeDispatchEvent      = "billing.command.webhook.dispatch"
	TypeCreateEndpoint     = "billing.command.endpoint.create"
	TypeUpdateEndpoint     = "billing.command.endpoint.update"
	TypeDeleteEndpoint     = "billing.command.endpoint.delete"
)

type ReplayWebhookMessage struct {
	WebhookEventID string `json:"webhookEventId"`
}

func (ReplayWebhookMessage) Type() string { return TypeReplayWebhook }

func (m ReplayWebhookMessage) Validate() error {
	if strings.TrimSpace(m.WebhookEventID) == "" {
		return commandValidationError("webhookEventId", "webhook event id is required")
	}
	return nil
}

type CreateQueueMessage struct {
	QueueName string `json:"queueName"`
}

func (CreateQueueMessage) Type() string { return TypeCreateQueue }

func (m CreateQueueMessage) Validate() error {
	if strings.TrimSpace(m.QueueName) == "" {
		return commandValidationError("queueName", "queue name is required")
	}
	if err := jobs.ValidateQueueName(m.QueueName); err != nil {
		return commandWrapValidation(err, "command: invalid queue name")
	}
	return nil
}

type CreateQueueResult struct {
	Queue   string `json:"queue"`
	Created bool   `json:"created"`
}

// EnqueueStripeEventMessage carries a raw provider event for a named queue.
type EnqueueStripeEventMessage struct {
	Queue   string
	Payload json.RawMessage
}

func (EnqueueStripeEventMessage) Type() string { return TypeEnqueueStripeEvent }

func (m EnqueueStripeEventMessage) Validate() error {
	if strings.TrimSpace(m.Queue) == "" {
		return commandValidationError("queue", "queue name is required")
	}
	if len(m.Payload) == 0 || !json.Valid(m.Payload) {
		return commandValidationError("payload", "payload must be a JSON document")
	}
	return nil
}

type EnqueueResult struct {
	Queue     string `json:"queue"`
	EventID   string `json:"eventId"`
	EventType string `json:"eventType"`
}

type DispatchEventMessage struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

func (DispatchEventMessage) Type() string { return TypeDispatchEvent }

func (m DispatchEventMessage) Validate() error {
	if strings.TrimSpace(m.Event) == "" {
		return commandValidationError("event", "event name is required")
	}
	return nil
}

type CreateEndpointMessage struct {
	Input core.CreateEndpointInput
}

func (CreateEndpointMessage) Type() string { return TypeCreateEndpoint }

func (m CreateEndpointMessage) Validate() error {
	if strings.TrimSpace(m.Input.URL) == "" {
		return commandValidationError("url", "endpoint url is required")
	}
	if len(core.NormalizeEventNames(m.Input.Events)) == 0 {
		return commandValidationError("events", "at least one event is required")
	}
	return nil
}

type UpdateEndpointMessage struct {
	EndpointID string
	Input      core.UpdateEndpointInput
}

func (UpdateEndpointMessage) Type() string { return TypeUpdateEndpoint }

func (m UpdateEndpointMessage) Validate() error {
	if strings.TrimSpace(m.EndpointID) == "" {
		return commandValidationError("id", "endpoint id is required")
	}
	return nil
}

type DeleteEndpointMessage struct {
	EndpointID string
}

func (DeleteEndpointMessage) Type() string { return TypeDeleteEndpoint }

func (m DeleteEndpointMessage) Validate() error {
	if strings.TrimSpace(m.EndpointID) == "" {
		return commandValidationError("id", "endpoint id is required")
	}
	return nil
}
