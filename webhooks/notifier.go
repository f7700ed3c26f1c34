package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-billing/core"
)

const (
	DispatchJobID          = "billing.webhooks.dispatch"
	DispatchEventParameter = "event"
	DispatchDataParameter  = "data"
)

// Dispatchable is satisfied by Dispatcher.
type Dispatchable interface {
	Dispatch(ctx context.Context, event string, data map[string]any) DispatchReport
}

// DirectNotifier dispatches synchronously in the caller's goroutine.
type DirectNotifier struct {
	Dispatcher Dispatchable
}

func (n DirectNotifier) Notify(ctx context.Context, event string, data map[string]any) error {
	if n.Dispatcher == nil {
		return fmt.Errorf("webhooks: dispatcher is not configured")
	}
	report := n.Dispatcher.Dispatch(ctx, event, data)
	return report.Err
}

// QueueNotifier enqueues a dispatch job so the caller never waits on
// outbound deliveries.
type QueueNotifier struct {
	Enqueuer core.JobEnqueuer
}

func NewQueueNotifier(enqueuer core.JobEnqueuer) *QueueNotifier {
	return &QueueNotifier{Enqueuer: enqueuer}
}

func (n *QueueNotifier) Notify(ctx context.Context, event string, data map[string]any) error {
	if n == nil || n.Enqueuer == nil {
		return fmt.Errorf("webhooks: job enqueuer is not configured")
	}
	msg, err := NewDispatchJobMessage(event, data)
	if err != nil {
		return err
	}
	return n.Enqueuer.Enqueue(ctx, msg)
}

// NewDispatchJobMessage encodes one domain event for the dispatch worker.
func NewDispatchJobMessage(event string, data map[string]any) (*core.JobExecutionMessage, error) {
	event = strings.TrimSpace(event)
	if event == "" {
		return nil, core.NewBadInputError("webhooks: event name is required")
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, core.NewBadInputError(fmt.Sprintf("webhooks: event data is not serializable: %v", err))
	}
	return &core.JobExecutionMessage{
		JobID: DispatchJobID,
		Parameters: map[string]any{
			DispatchEventParameter: event,
			DispatchDataParameter:  string(encoded),
		},
	}, nil
}

// DispatchJobHandler runs Dispatch for queued domain events. Per-endpoint
// failures are already retried inside SendOne, so the job itself only fails
// when endpoints cannot be resolved.
type DispatchJobHandler struct {
	Dispatcher Dispatchable
	Observer   *core.Observer
}

func (h DispatchJobHandler) HandleJob(ctx context.Context, msg *core.JobExecutionMessage) core.JobOutcome {
	startedAt := time.Now().UTC()
	if h.Dispatcher == nil {
		return core.JobOutcome{Err: fmt.Errorf("webhooks: dispatcher is not configured")}
	}
	event, data, err := decodeDispatchMessage(msg)
	if err != nil {
		h.Observer.ObserveOperation(ctx, startedAt, "dispatch_job", err, nil)
		return core.JobOutcome{Err: err, Permanent: true}
	}

	report := h.Dispatcher.Dispatch(ctx, event, data)
	jobLog := core.JobLoggerFromContext(ctx)
	_ = jobLog.Log(ctx, fmt.Sprintf("dispatched %s to %d endpoints: %d delivered, %d failed",
		event, report.Endpoints, report.Delivered, report.Failed))
	if report.Err != nil {
		return core.JobOutcome{Err: report.Err}
	}
	return core.JobOutcome{Message: fmt.Sprintf("delivered %d/%d", report.Delivered, report.Endpoints)}
}

func decodeDispatchMessage(msg *core.JobExecutionMessage) (string, map[string]any, error) {
	if msg == nil {
		return "", nil, core.NewBadInputError("webhooks: dispatch message is required")
	}
	event := strings.TrimSpace(fmt.Sprint(msg.Parameters[DispatchEventParameter]))
	if event == "" || event == "<nil>" {
		return "", nil, core.NewBadInputError("webhooks: dispatch message is missing the event name")
	}
	data := map[string]any{}
	switch raw := msg.Parameters[DispatchDataParameter].(type) {
	case nil:
	case map[string]any:
		data = raw
	case string:
		if strings.TrimSpace(raw) != "" {
			if err := json.Unmarshal([]byte(raw), &data); err != nil {
				return "", nil, core.NewBadInputError(fmt.Sprintf("webhooks: malformed dispatch data: %v", err))
			}
		}
	case []byte:
		if err := json.Unmarshal(raw, &data); err != nil {
			return "", nil, core.NewBadInputError(fmt.Sprintf("webhooks: malformed dispatch data: %v", err))
		}
	default:
		return "", nil, core.NewBadInputError(fmt.Sprintf("webhooks: unsupported dispatch data type %T", raw))
	}
	if data == nil {
		data = map[string]any{}
	}
	return event, data, nil
}

var (
	_ core.EventNotifier = DirectNotifier{}
	_ core.EventNotifier = (*QueueNotifier)(nil)
	_ core.JobHandler    = DispatchJobHandler{}
	_ Dispatchable       = (*Dispatcher)(nil)
)
