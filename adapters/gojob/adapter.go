package gojob

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-billing/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

const (
	JobIDStripeWebhook   = "billing.stripe.webhook"
	JobIDWebhookDispatch = "billing.webhooks.dispatch"
)

// Queue bookkeeping travels in reserved parameters so it survives any
// go-job storage. Handlers never see these keys.
const (
	reservedParamPrefix   = "_billing."
	ParamAttempt          = reservedParamPrefix + "attempt"
	ParamAttemptsConsumed = reservedParamPrefix + "attempts_consumed"
	ParamDeferrals        = reservedParamPrefix + "deferrals"
	ParamDedupPolicy      = reservedParamPrefix + "dedup_policy"
)

// ToExecutionMessage maps a billing job message to go-job. The dedup policy
// is carried as a parameter: duplicates are dropped at enqueue, and a policy
// on the wire would make go-job drop our own retries.
func ToExecutionMessage(msg *core.JobExecutionMessage) *job.ExecutionMessage {
	if msg == nil {
		return nil
	}
	jobID := strings.TrimSpace(msg.JobID)
	params := copyAnyMap(msg.Parameters)
	if policy := strings.TrimSpace(msg.DedupPolicy); policy != "" {
		params[ParamDedupPolicy] = policy
	}
	return &job.ExecutionMessage{
		JobID:          jobID,
		ScriptPath:     firstNonEmpty(msg.ScriptPath, jobID),
		Parameters:     params,
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
	}
}

// FromExecutionMessage maps a go-job message into the billing contract and
// drops the reserved parameters.
func FromExecutionMessage(msg *job.ExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	params := make(map[string]any, len(msg.Parameters))
	for key, value := range msg.Parameters {
		if !strings.HasPrefix(key, reservedParamPrefix) {
			params[key] = value
		}
	}
	policy := stringParam(msg.Parameters, ParamDedupPolicy)
	if policy == "" {
		policy = strings.TrimSpace(string(msg.DedupPolicy))
	}
	return &core.JobExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     params,
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    policy,
	}
}

// AttemptsConsumed is the number of failed attempts spent by earlier
// copies of a deferred message.
func AttemptsConsumed(msg *job.ExecutionMessage) int {
	if msg == nil {
		return 0
	}
	return intParam(msg.Parameters, ParamAttemptsConsumed)
}

func Deferrals(msg *job.ExecutionMessage) int {
	if msg == nil {
		return 0
	}
	return intParam(msg.Parameters, ParamDeferrals)
}

// Attempt is the 1-based attempt stamped by AttemptDequeuer.
func Attempt(msg *job.ExecutionMessage) int {
	if msg == nil {
		return 1
	}
	if attempt := intParam(msg.Parameters, ParamAttempt); attempt > 0 {
		return attempt
	}
	return AttemptsConsumed(msg) + 1
}

// DeferredCopy is the message re-enqueued for a deferral: same execution id
// and payload, one more deferral, and the attempt budget left untouched.
func DeferredCopy(msg *job.ExecutionMessage) *job.ExecutionMessage {
	if msg == nil {
		return nil
	}
	out := *msg
	out.Parameters = copyAnyMap(msg.Parameters)
	out.Result = nil
	out.OutputCallback = nil
	out.Parameters[ParamAttemptsConsumed] = Attempt(msg) - 1
	out.Parameters[ParamDeferrals] = Deferrals(msg) + 1
	delete(out.Parameters, ParamAttempt)
	return &out
}

// AttemptDequeuer reports attempts net of deferrals. go-job storages count
// every lease, so a deferral is re-enqueued as a fresh message that carries
// the attempts already consumed.
type AttemptDequeuer struct {
	Dequeuer queue.Dequeuer
}

func NewAttemptDequeuer(dequeuer queue.Dequeuer) *AttemptDequeuer {
	return &AttemptDequeuer{Dequeuer: dequeuer}
}

func (d *AttemptDequeuer) Dequeue(ctx context.Context) (queue.Delivery, error) {
	if d == nil || d.Dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is not configured")
	}
	delivery, err := d.Dequeuer.Dequeue(ctx)
	if err != nil || delivery == nil {
		return nil, err
	}
	attempt := AttemptsConsumed(delivery.Message()) + leaseCount(delivery)
	if msg := delivery.Message(); msg != nil {
		if msg.Parameters == nil {
			msg.Parameters = map[string]any{}
		}
		msg.Parameters[ParamAttempt] = attempt
	}
	return &attemptDelivery{Delivery: delivery, attempt: attempt}, nil
}

type attemptDelivery struct {
	queue.Delivery
	attempt int
}

func (d *attemptDelivery) Attempts() int {
	return d.attempt
}

func (d *attemptDelivery) ExtendLease(ctx context.Context, ttl time.Duration) error {
	extender, ok := d.Delivery.(queue.LeaseExtender)
	if !ok {
		return queue.ErrLeaseExtensionUnsupported
	}
	return extender.ExtendLease(ctx, ttl)
}

func leaseCount(delivery queue.Delivery) int {
	if reader, ok := delivery.(interface{ Attempts() int }); ok && reader.Attempts() > 0 {
		return reader.Attempts()
	}
	return 1
}

// WorkerHookAdapter forwards go-job worker events to a billing hook.
type WorkerHookAdapter struct {
	hook core.JobWorkerHook
}

func NewWorkerHookAdapter(hook core.JobWorkerHook) *WorkerHookAdapter {
	return &WorkerHookAdapter{hook: hook}
}

func (a *WorkerHookAdapter) OnStart(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnStart(ctx, mapWorkerEvent(event))
}

func (a *WorkerHookAdapter) OnSuccess(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnSuccess(ctx, mapWorkerEvent(event))
}

func (a *WorkerHookAdapter) OnFailure(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnFailure(ctx, mapWorkerEvent(event))
}

func (a *WorkerHookAdapter) OnRetry(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnRetry(ctx, mapWorkerEvent(event))
}

func mapWorkerEvent(event worker.Event) core.JobWorkerEvent {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	return core.JobWorkerEvent{
		Message:   FromExecutionMessage(message),
		Attempt:   event.Attempt,
		Delay:     event.Delay,
		Err:       event.Err,
		StartedAt: event.StartedAt,
		Duration:  event.Duration,
	}
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	return maps.Clone(in)
}

func stringParam(params map[string]any, key string) string {
	value, ok := params[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

// intParam reads counters back from JSON-decoded payloads.
func intParam(params map[string]any, key string) int {
	switch value := params[key].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	case json.Number:
		n, _ := value.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(value))
		return n
	default:
		return 0
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

var (
	_ queue.Dequeuer      = (*AttemptDequeuer)(nil)
	_ queue.LeaseExtender = (*attemptDelivery)(nil)
	_ worker.Hook         = (*WorkerHookAdapter)(nil)
)
