package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-billing/core"
)

// Sender delivers one envelope to one endpoint with retries.
type Sender interface {
	SendOne(ctx context.Context, endpoint core.WebhookEndpoint, envelope core.OutboundEvent) (SendResult, error)
	// SendBody delivers a body encoded earlier, byte for byte. envelope only
	// supplies the headers.
	SendBody(ctx context.Context, endpoint core.WebhookEndpoint, envelope core.OutboundEvent, body []byte) (SendResult, error)
}

// Throttle paces posts to endpoints that signal rate limiting.
type Throttle interface {
	BeforeSend(ctx context.Context, endpointID string) (time.Duration, error)
	AfterSend(ctx context.Context, endpointID string, statusCode int, headers http.Header) error
}

type SendResult struct {
	EndpointID string
	EventID    string
	Success    bool
	StatusCode int
	Attempts   int
	Error      string
}

// DispatchReport summarizes one fan-out. Dispatch never fails; per-endpoint
// failures are reported here.
type DispatchReport struct {
	EventID   string
	Event     string
	Endpoints int
	Delivered int
	Failed    int
	Results   []SendResult
	Err       error
}

type Dispatcher struct {
	Endpoints   core.EndpointStore
	Audit       core.DeliveryAttemptStore
	Client      *http.Client
	Backoff     core.ExponentialBackoff
	UserAgent   string
	Concurrency int
	Throttle    Throttle
	Observer    *core.Observer
	Now         func() time.Time
	NewID       func() string
	Sleep       func(ctx context.Context, delay time.Duration) error
}

func NewDispatcher(endpoints core.EndpointStore, audit core.DeliveryAttemptStore, observer *core.Observer) *Dispatcher {
	if observer == nil {
		observer = core.NewObserver(nil, nil)
	}
	return &Dispatcher{
		Endpoints: endpoints,
		Audit:     audit,
		Client:    &http.Client{},
		Backoff:   core.ExponentialBackoff{Initial: time.Second, Max: 10 * time.Second},
		UserAgent: core.DefaultUserAgent,
		Observer:  observer,
		Now: func() time.Time {
			return time.Now().UTC()
		},
		NewID: uuid.NewString,
		Sleep: sleepContext,
	}
}

// NewEnvelope builds the immutable body shared by every endpoint of one
// dispatch.
func (d *Dispatcher) NewEnvelope(event string, data map[string]any) core.OutboundEvent {
	if data == nil {
		data = map[string]any{}
	}
	return core.OutboundEvent{
		Event:     strings.TrimSpace(event),
		Data:      data,
		Timestamp: d.now().UnixMilli(),
		ID:        d.newID(),
	}
}

// Dispatch fans event out to every active endpoint subscribed to it.
func (d *Dispatcher) Dispatch(ctx context.Context, event string, data map[string]any) DispatchReport {
	startedAt := d.now()
	envelope := d.NewEnvelope(event, data)
	report := DispatchReport{EventID: envelope.ID, Event: envelope.Event}

	if d == nil || d.Endpoints == nil {
		report.Err = fmt.Errorf("webhooks: endpoint store is not configured")
		d.observeDispatch(ctx, startedAt, report)
		return report
	}
	if envelope.Event == "" {
		report.Err = fmt.Errorf("webhooks: event name is required")
		d.observeDispatch(ctx, startedAt, report)
		return report
	}

	endpoints, err := d.Endpoints.ListActiveForEvent(ctx, envelope.Event)
	if err != nil {
		report.Err = fmt.Errorf("webhooks: resolve endpoints for %s: %w", envelope.Event, err)
		d.observeDispatch(ctx, startedAt, report)
		return report
	}
	endpoints = filterSubscribed(endpoints, envelope.Event)
	report.Endpoints = len(endpoints)
	if len(endpoints) == 0 {
		d.Observer.LogInfo(ctx, "No webhook endpoints found for event", map[string]any{"event": envelope.Event})
		d.observeDispatch(ctx, startedAt, report)
		return report
	}

	results := make([]SendResult, len(endpoints))
	group := new(errgroup.Group)
	if d.Concurrency > 0 {
		group.SetLimit(d.Concurrency)
	}
	for i, endpoint := range endpoints {
		group.Go(func() error {
			results[i] = d.sendContained(ctx, endpoint, envelope)
			return nil
		})
	}
	_ = group.Wait()

	report.Results = results
	for _, result := range results {
		if result.Success {
			report.Delivered++
		} else {
			report.Failed++
		}
	}
	d.observeDispatch(ctx, startedAt, report)
	return report
}

func (d *Dispatcher) sendContained(ctx context.Context, endpoint core.WebhookEndpoint, envelope core.OutboundEvent) (result SendResult) {
	defer func() {
		if recovered := recover(); recovered != nil {
			result = SendResult{
				EndpointID: endpoint.ID,
				EventID:    envelope.ID,
				Error:      fmt.Sprintf("webhooks: delivery panicked: %v", recovered),
			}
			d.Observer.LogError(ctx, "webhook delivery panicked", map[string]any{
				"endpoint_id": endpoint.ID,
				"event":       envelope.Event,
				"error":       result.Error,
			})
		}
	}()
	result, err := d.SendOne(ctx, endpoint, envelope)
	if err != nil {
		d.Observer.LogError(ctx, "Failed to send webhook", map[string]any{
			"endpoint_id": endpoint.ID,
			"url":         endpoint.URL,
			"event":       envelope.Event,
			"attempts":    result.Attempts,
			"error":       err.Error(),
		})
	}
	return result
}

// SendOne posts envelope to endpoint, retrying up to its retry count with
// capped exponential backoff. Every attempt is audited.
func (d *Dispatcher) SendOne(ctx context.Context, endpoint core.WebhookEndpoint, envelope core.OutboundEvent) (SendResult, error) {
	body, err := json.Marshal(envelope)
	if err != nil {
		return SendResult{EndpointID: endpoint.ID, EventID: envelope.ID}, fmt.Errorf("webhooks: encode envelope: %w", err)
	}
	return d.SendBody(ctx, endpoint, envelope, body)
}

func (d *Dispatcher) SendBody(ctx context.Context, endpoint core.WebhookEndpoint, envelope core.OutboundEvent, body []byte) (SendResult, error) {
	result := SendResult{EndpointID: endpoint.ID, EventID: envelope.ID}
	if d == nil {
		return result, fmt.Errorf("webhooks: dispatcher is not configured")
	}
	if strings.TrimSpace(endpoint.URL) == "" {
		return result, core.NewBadInputError("webhooks: endpoint url is required")
	}
	if len(body) == 0 {
		return result, core.NewBadInputError("webhooks: request body is required")
	}

	maxAttempts := endpoint.EffectiveRetryCount()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := d.awaitThrottle(ctx, endpoint.ID); err != nil {
			lastErr = core.JoinErrors(lastErr, err)
			result.Error = lastErr.Error()
			break
		}
		startedAt := d.now()
		statusCode, headers, sendErr := d.post(ctx, endpoint, envelope, body)
		d.recordThrottle(ctx, endpoint.ID, statusCode, headers)
		result.Attempts = attempt
		result.StatusCode = statusCode

		d.audit(ctx, endpoint, envelope, body, attempt, statusCode, sendErr)
		d.Observer.ObserveOperation(ctx, startedAt, "webhook_attempt", sendErr, map[string]any{
			"endpoint_id": endpoint.ID,
			"event":       envelope.Event,
			"event_id":    envelope.ID,
			"attempt":     attempt,
			"status_code": statusCode,
		})

		if sendErr == nil {
			result.Success = true
			result.Error = ""
			return result, nil
		}
		lastErr = sendErr
		result.Error = sendErr.Error()

		if attempt == maxAttempts {
			break
		}
		if err := d.sleep(ctx, d.Backoff.Delay(attempt)); err != nil {
			lastErr = core.JoinErrors(lastErr, err)
			result.Error = lastErr.Error()
			break
		}
	}
	return result, core.NewDeliveryFailedError(lastErr, endpoint.ID, envelope.ID, result.Attempts)
}

func (d *Dispatcher) post(ctx context.Context, endpoint core.WebhookEndpoint, envelope core.OutboundEvent, body []byte) (int, http.Header, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, endpoint.EffectiveTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("webhooks: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.userAgent())
	req.Header.Set(HeaderEvent, envelope.Event)
	req.Header.Set(HeaderID, envelope.ID)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(envelope.Timestamp, 10))
	if secret := strings.TrimSpace(endpoint.Secret); secret != "" {
		req.Header.Set(HeaderSignature, Sign(body, secret))
	}

	resp, err := d.client().Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, resp.Header, fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return resp.StatusCode, resp.Header, nil
}

// awaitThrottle sleeps out an active throttle window for the endpoint. Lookup
// failures are logged and do not block delivery.
func (d *Dispatcher) awaitThrottle(ctx context.Context, endpointID string) error {
	if d.Throttle == nil {
		return nil
	}
	wait, err := d.Throttle.BeforeSend(ctx, endpointID)
	if err != nil {
		d.Observer.LogWarn(ctx, "webhook throttle lookup failed", map[string]any{
			"endpoint_id": endpointID,
			"error":       err.Error(),
		})
		return nil
	}
	if wait <= 0 {
		return nil
	}
	d.Observer.LogInfo(ctx, "webhook endpoint throttled", map[string]any{
		"endpoint_id": endpointID,
		"wait_ms":     wait.Milliseconds(),
	})
	return d.sleep(ctx, wait)
}

func (d *Dispatcher) recordThrottle(ctx context.Context, endpointID string, statusCode int, headers http.Header) {
	if d.Throttle == nil {
		return
	}
	if err := d.Throttle.AfterSend(ctx, endpointID, statusCode, headers); err != nil {
		d.Observer.LogWarn(ctx, "webhook throttle update failed", map[string]any{
			"endpoint_id": endpointID,
			"error":       err.Error(),
		})
	}
}

// audit records one attempt. Write failures are logged and never change the
// delivery outcome.
func (d *Dispatcher) audit(ctx context.Context, endpoint core.WebhookEndpoint, envelope core.OutboundEvent, body []byte, attempt int, statusCode int, sendErr error) {
	if d.Audit == nil {
		return
	}
	record := core.DeliveryAttempt{
		EndpointID: endpoint.ID,
		EventID:    envelope.ID,
		Event:      envelope.Event,
		Payload:    envelope,
		Body:       slices.Clone(body),
		Success:    sendErr == nil,
		Attempt:    attempt,
		SentAt:     d.now(),
	}
	if statusCode > 0 {
		code := statusCode
		record.StatusCode = &code
	}
	if sendErr != nil {
		record.Error = sendErr.Error()
	}
	if _, err := d.Audit.Append(context.WithoutCancel(ctx), record); err != nil {
		d.Observer.LogError(ctx, "Failed to log webhook event", map[string]any{
			"endpoint_id": endpoint.ID,
			"event_id":    envelope.ID,
			"attempt":     attempt,
			"error":       err.Error(),
		})
	}
}

func (d *Dispatcher) observeDispatch(ctx context.Context, startedAt time.Time, report DispatchReport) {
	if d == nil || d.Observer == nil {
		return
	}
	d.Observer.ObserveOperation(ctx, startedAt, "webhook_dispatch", report.Err, map[string]any{
		"event":     report.Event,
		"event_id":  report.EventID,
		"endpoints": report.Endpoints,
		"delivered": report.Delivered,
		"failed":    report.Failed,
	})
}

func filterSubscribed(endpoints []core.WebhookEndpoint, event string) []core.WebhookEndpoint {
	out := make([]core.WebhookEndpoint, 0, len(endpoints))
	for _, endpoint := range endpoints {
		if endpoint.IsActive && endpoint.Subscribes(event) {
			out = append(out, endpoint)
		}
	}
	return out
}

func (d *Dispatcher) client() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return http.DefaultClient
}

func (d *Dispatcher) userAgent() string {
	if ua := strings.TrimSpace(d.UserAgent); ua != "" {
		return ua
	}
	return core.DefaultUserAgent
}

func (d *Dispatcher) now() time.Time {
	if d != nil && d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *Dispatcher) newID() string {
	if d != nil && d.NewID != nil {
		return d.NewID()
	}
	return uuid.NewString()
}

func (d *Dispatcher) sleep(ctx context.Context, delay time.Duration) error {
	if d.Sleep != nil {
		return d.Sleep(ctx, delay)
	}
	return sleepContext(ctx, delay)
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ Sender = (*Dispatcher)(nil)
