package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/goliatone/go-billing/adapters/gocommand"
	billingcommand "github.com/goliatone/go-billing/command"
	"github.com/goliatone/go-billing/core"
	"github.com/goliatone/go-billing/jobs"
	billingquery "github.com/goliatone/go-billing/query"
	"github.com/goliatone/go-billing/webhooks"
)

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

type replayRequest struct {
	WebhookEventID string `json:"webhookEventId"`
}

// replayWebhook answers 200 on success, 400 on validation or lookup failure
// and 500 on unexpected errors.
func (s *Server) replayWebhook(c *fiber.Ctx) error {
	var req replayRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(webhooks.ReplayResult{Message: "Invalid request body"})
	}
	if strings.TrimSpace(req.WebhookEventID) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(webhooks.ReplayResult{Message: "Webhook event ID is required"})
	}
	result, err := gocommand.ExecuteWithResult[billingcommand.ReplayWebhookMessage, webhooks.ReplayResult](
		c.UserContext(), billingcommand.ReplayWebhookMessage{WebhookEventID: req.WebhookEventID})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(webhooks.ReplayResult{
			Message: "Failed to retry webhook event: " + err.Error(),
		})
	}
	return c.Status(result.HTTPStatus()).JSON(result)
}

type createQueueRequest struct {
	QueueName string `json:"queueName"`
}

func (s *Server) createQueue(c *fiber.Ctx) error {
	var req createQueueRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, core.NewBadInputError("httpapi: invalid request body"))
	}
	result, err := gocommand.ExecuteWithResult[billingcommand.CreateQueueMessage, billingcommand.CreateQueueResult](
		c.UserContext(), billingcommand.CreateQueueMessage{QueueName: req.QueueName})
	if err != nil {
		return writeError(c, err)
	}
	s.options.Observer.LogInfo(c.UserContext(), "queue ready", map[string]any{
		"queue":   result.Queue,
		"created": result.Created,
	})
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) enqueueEvent(c *fiber.Ctx) error {
	startedAt := time.Now().UTC()
	body := append([]byte(nil), c.Body()...)
	if s.options.Verifier != nil {
		if err := s.options.Verifier.Verify(body, requestHeaders(c)); err != nil {
			s.options.Observer.LogWarn(c.UserContext(), "rejected unsigned event", map[string]any{"error": err.Error()})
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": errorBody{
				Code:    core.BillingErrorBadInput,
				Message: "invalid signature",
			}})
		}
	}
	result, err := gocommand.ExecuteWithResult[billingcommand.EnqueueStripeEventMessage, billingcommand.EnqueueResult](
		c.UserContext(), billingcommand.EnqueueStripeEventMessage{
			Queue:   c.Params("queue"),
			Payload: json.RawMessage(body),
		})
	s.options.Observer.ObserveOperation(c.UserContext(), startedAt, "event_ingest", err, map[string]any{
		"queue": c.Params("queue"),
		"event": result.EventType,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(result)
}

func (s *Server) queueStats(c *fiber.Ctx) error {
	result, err := gocommand.Ask[billingquery.QueueStatsMessage, billingquery.QueueStatsResult](
		c.UserContext(), billingquery.QueueStatsMessage{Queue: c.Params("queue")})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(result)
}

func (s *Server) jobLogs(c *fiber.Ctx) error {
	logs, err := gocommand.Ask[billingquery.JobLogsMessage, []string](
		c.UserContext(), billingquery.JobLogsMessage{Queue: c.Params("queue"), JobID: c.Params("job")})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"logs": logs})
}

func (s *Server) deadLettered(c *fiber.Ctx) error {
	dead, err := gocommand.Ask[billingquery.DeadLetteredJobsMessage, []jobs.Job](
		c.UserContext(), billingquery.DeadLetteredJobsMessage{Queue: c.Params("queue"), Limit: c.QueryInt("limit", 50)})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"jobs": dead})
}

type endpointRequest struct {
	URL        *string  `json:"url"`
	Events     []string `json:"events"`
	IsActive   *bool    `json:"isActive"`
	Secret     *string  `json:"secret"`
	RetryCount *int     `json:"retryCount"`
	TimeoutMS  *int64   `json:"timeoutMs"`
}

func (r endpointRequest) createInput() core.CreateEndpointInput {
	in := core.CreateEndpointInput{Events: r.Events, IsActive: true}
	if r.URL != nil {
		in.URL = *r.URL
	}
	if r.IsActive != nil {
		in.IsActive = *r.IsActive
	}
	if r.Secret != nil {
		in.Secret = *r.Secret
	}
	if r.RetryCount != nil {
		in.RetryCount = *r.RetryCount
	}
	if r.TimeoutMS != nil {
		in.Timeout = time.Duration(*r.TimeoutMS) * time.Millisecond
	}
	return in
}

func (r endpointRequest) updateInput() core.UpdateEndpointInput {
	in := core.UpdateEndpointInput{
		URL:        r.URL,
		Events:     r.Events,
		IsActive:   r.IsActive,
		Secret:     r.Secret,
		RetryCount: r.RetryCount,
	}
	if r.TimeoutMS != nil {
		timeout := time.Duration(*r.TimeoutMS) * time.Millisecond
		in.Timeout = &timeout
	}
	return in
}

type endpointView struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Events     []string  `json:"events"`
	IsActive   bool      `json:"isActive"`
	RetryCount int       `json:"retryCount"`
	TimeoutMS  int64     `json:"timeoutMs"`
	HasSecret  bool      `json:"hasSecret"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func viewEndpoint(endpoint core.WebhookEndpoint) endpointView {
	return endpointView{
		ID:         endpoint.ID,
		URL:        endpoint.URL,
		Events:     endpoint.Events,
		IsActive:   endpoint.IsActive,
		RetryCount: endpoint.EffectiveRetryCount(),
		TimeoutMS:  endpoint.EffectiveTimeout().Milliseconds(),
		HasSecret:  strings.TrimSpace(endpoint.Secret) != "",
		CreatedAt:  endpoint.CreatedAt,
		UpdatedAt:  endpoint.UpdatedAt,
	}
}

func (s *Server) listEndpoints(c *fiber.Ctx) error {
	endpoints, err := gocommand.Ask[billingquery.ListEndpointsMessage, []core.WebhookEndpoint](
		c.UserContext(), billingquery.ListEndpointsMessage{})
	if err != nil {
		return writeError(c, err)
	}
	views := make([]endpointView, 0, len(endpoints))
	for _, endpoint := range endpoints {
		views = append(views, viewEndpoint(endpoint))
	}
	return c.JSON(fiber.Map{"endpoints": views})
}

func (s *Server) getEndpoint(c *fiber.Ctx) error {
	endpoint, err := gocommand.Ask[billingquery.GetEndpointMessage, core.WebhookEndpoint](
		c.UserContext(), billingquery.GetEndpointMessage{EndpointID: c.Params("id")})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(viewEndpoint(endpoint))
}

func (s *Server) createEndpoint(c *fiber.Ctx) error {
	var req endpointRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, core.NewBadInputError("httpapi: invalid request body"))
	}
	endpoint, err := gocommand.ExecuteWithResult[billingcommand.CreateEndpointMessage, core.WebhookEndpoint](
		c.UserContext(), billingcommand.CreateEndpointMessage{Input: req.createInput()})
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(viewEndpoint(endpoint))
}

func (s *Server) updateEndpoint(c *fiber.Ctx) error {
	var req endpointRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, core.NewBadInputError("httpapi: invalid request body"))
	}
	endpoint, err := gocommand.ExecuteWithResult[billingcommand.UpdateEndpointMessage, core.WebhookEndpoint](
		c.UserContext(), billingcommand.UpdateEndpointMessage{EndpointID: c.Params("id"), Input: req.updateInput()})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(viewEndpoint(endpoint))
}

func (s *Server) deleteEndpoint(c *fiber.Ctx) error {
	if err := gocommand.Execute(c.UserContext(), billingcommand.DeleteEndpointMessage{EndpointID: c.Params("id")}); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) listDeliveries(c *fiber.Ctx) error {
	filter := core.DeliveryAttemptFilter{
		EndpointID: c.Query("endpointId"),
		EventID:    c.Query("eventId"),
		Limit:      c.QueryInt("limit", 100),
	}
	if raw := strings.TrimSpace(c.Query("success")); raw != "" {
		success, err := strconv.ParseBool(raw)
		if err != nil {
			return writeError(c, core.NewBadInputError("httpapi: success must be a boolean"))
		}
		filter.Success = &success
	}
	attempts, err := gocommand.Ask[billingquery.ListDeliveryAttemptsMessage, []core.DeliveryAttempt](
		c.UserContext(), billingquery.ListDeliveryAttemptsMessage{Filter: filter})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"attempts": attempts})
}

type dispatchRequest struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

func (s *Server) dispatchEvent(c *fiber.Ctx) error {
	var req dispatchRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, core.NewBadInputError("httpapi: invalid request body"))
	}
	if err := gocommand.Execute(c.UserContext(), billingcommand.DispatchEventMessage{Event: req.Event, Data: req.Data}); err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "ok"})
}

func (s *Server) listSubscriptions(c *fiber.Ctx) error {
	subs, err := gocommand.Ask[billingquery.ListSubscriptionsMessage, []core.Subscription](
		c.UserContext(), billingquery.ListSubscriptionsMessage{Limit: c.QueryInt("limit", 100)})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"subscriptions": subs})
}

func (s *Server) getSubscription(c *fiber.Ctx) error {
	sub, err := gocommand.Ask[billingquery.GetSubscriptionMessage, core.Subscription](
		c.UserContext(), billingquery.GetSubscriptionMessage{StripeSubscriptionID: c.Params("id")})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(sub)
}

func requestHeaders(c *fiber.Ctx) http.Header {
	headers := http.Header{}
	for key, values := range c.GetReqHeaders() {
		for _, value := range values {
			headers.Add(key, value)
		}
	}
	return headers
}
