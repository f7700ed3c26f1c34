package webhooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-billing/core"
)

const (
	ReplayReasonNotFound         = "not_found"
	ReplayReasonEndpointMissing  = "endpoint_missing"
	ReplayReasonEndpointInactive = "endpoint_inactive"
	ReplayReasonDeliveryFailed   = "delivery_failed"
	ReplayReasonLookupError      = "lookup_error"
)

// ReplayResult is the outcome of re-sending one audited delivery.
type ReplayResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Reason  string `json:"-"`
}

// HTTPStatus maps the result onto the replay endpoint status codes.
func (r ReplayResult) HTTPStatus() int {
	switch {
	case r.Success:
		return http.StatusOK
	case r.Reason == ReplayReasonLookupError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// ReplayCoordinator re-sends a previously audited envelope to its endpoint.
type ReplayCoordinator struct {
	Audit     core.DeliveryAttemptStore
	Endpoints core.EndpointStore
	Sender    Sender
	Observer  *core.Observer
}

func NewReplayCoordinator(audit core.DeliveryAttemptStore, endpoints core.EndpointStore, sender Sender, observer *core.Observer) *ReplayCoordinator {
	return &ReplayCoordinator{
		Audit:     audit,
		Endpoints: endpoints,
		Sender:    sender,
		Observer:  observer,
	}
}

// Retry never returns an error; every failure is carried in the result.
func (r *ReplayCoordinator) Retry(ctx context.Context, attemptID string) ReplayResult {
	startedAt := time.Now().UTC()
	result := r.retry(ctx, strings.TrimSpace(attemptID))
	var err error
	if !result.Success {
		err = errors.New(result.Message)
	}
	if r != nil {
		r.Observer.ObserveOperation(ctx, startedAt, "webhook_replay", err, map[string]any{
			"attempt_id": attemptID,
			"reason":     result.Reason,
		})
	}
	return result
}

func (r *ReplayCoordinator) retry(ctx context.Context, attemptID string) ReplayResult {
	if r == nil || r.Audit == nil || r.Endpoints == nil || r.Sender == nil {
		return ReplayResult{
			Message: "Failed to retry webhook event: replay coordinator is not configured",
			Reason:  ReplayReasonLookupError,
		}
	}
	if attemptID == "" {
		return ReplayResult{
			Message: "Webhook event ID is required",
			Reason:  ReplayReasonNotFound,
		}
	}

	attempt, err := r.Audit.Get(ctx, attemptID)
	if err != nil {
		if isNotFound(err) {
			return ReplayResult{
				Message: fmt.Sprintf("Webhook event with ID %s not found", attemptID),
				Reason:  ReplayReasonNotFound,
			}
		}
		return ReplayResult{
			Message: fmt.Sprintf("Failed to retry webhook event: %s", err.Error()),
			Reason:  ReplayReasonLookupError,
		}
	}

	endpoint, err := r.Endpoints.Get(ctx, attempt.EndpointID)
	if err != nil {
		if isNotFound(err) {
			return ReplayResult{
				Message: fmt.Sprintf("Cannot retry webhook event: endpoint %s not found", attempt.EndpointID),
				Reason:  ReplayReasonEndpointMissing,
			}
		}
		return ReplayResult{
			Message: fmt.Sprintf("Failed to retry webhook event: %s", err.Error()),
			Reason:  ReplayReasonLookupError,
		}
	}
	if !endpoint.IsActive {
		return ReplayResult{
			Message: fmt.Sprintf("Cannot retry webhook event: endpoint %s is inactive", endpoint.ID),
			Reason:  ReplayReasonEndpointInactive,
		}
	}

	var sendErr error
	if len(attempt.Body) > 0 {
		_, sendErr = r.Sender.SendBody(ctx, endpoint, attempt.Payload, attempt.Body)
	} else {
		// Rows written before bodies were stored only have the decoded envelope.
		_, sendErr = r.Sender.SendOne(ctx, endpoint, attempt.Payload)
	}
	if err := sendErr; err != nil {
		return ReplayResult{
			Message: fmt.Sprintf("Failed to retry webhook event: %s", err.Error()),
			Reason:  ReplayReasonDeliveryFailed,
		}
	}
	return ReplayResult{
		Success: true,
		Message: fmt.Sprintf("Webhook event %s re-sent to endpoint %s", attemptID, endpoint.ID),
	}
}

func isNotFound(err error) bool {
	if errors.Is(err, core.ErrNotFound) {
		return true
	}
	mapped := core.MapError(err)
	return mapped != nil && mapped.TextCode == core.BillingErrorNotFound
}
