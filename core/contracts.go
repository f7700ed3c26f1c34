package core

import (
	"context"
	"errors"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// ErrNotFound is returned by stores when a keyed record does not exist.
var ErrNotFound = errors.New("core: record not found")

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// KeyValueStore is the non-transactional string store holding state markers.
// Get reports found=false for a missing key.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}

type SubscriptionStore interface {
	Upsert(ctx context.Context, in UpsertSubscriptionInput) (Subscription, error)
	GetByStripeID(ctx context.Context, stripeSubscriptionID string) (Subscription, error)
	List(ctx context.Context, limit int) ([]Subscription, error)
}

type EndpointStore interface {
	Create(ctx context.Context, in CreateEndpointInput) (WebhookEndpoint, error)
	Update(ctx context.Context, id string, in UpdateEndpointInput) (WebhookEndpoint, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (WebhookEndpoint, error)
	List(ctx context.Context) ([]WebhookEndpoint, error)
	ListActiveForEvent(ctx context.Context, event string) ([]WebhookEndpoint, error)
}

// DeliveryAttemptStore is the append-only webhook audit log.
type DeliveryAttemptStore interface {
	Append(ctx context.Context, attempt DeliveryAttempt) (DeliveryAttempt, error)
	Get(ctx context.Context, id string) (DeliveryAttempt, error)
	List(ctx context.Context, filter DeliveryAttemptFilter) ([]DeliveryAttempt, error)
}

// SubscriptionMutator applies one logical billing transition to the
// subscription aggregate.
type SubscriptionMutator interface {
	CompleteCheckout(ctx context.Context, session CheckoutSession) error
	MarkInvoicePaid(ctx context.Context, invoice Invoice) error
	UpdateSubscription(ctx context.Context, sub ProviderSubscription) error
	CancelSubscription(ctx context.Context, sub ProviderSubscription) error
}

// EventNotifier publishes outbound domain events.
type EventNotifier interface {
	Notify(ctx context.Context, event string, data map[string]any) error
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

// JobLogger appends lines to the log of the running job.
type JobLogger interface {
	Log(ctx context.Context, message string) error
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// JobHandler processes one job message.
type JobHandler interface {
	HandleJob(ctx context.Context, msg *JobExecutionMessage) JobOutcome
}

type JobHandlerFunc func(ctx context.Context, msg *JobExecutionMessage) JobOutcome

func (f JobHandlerFunc) HandleJob(ctx context.Context, msg *JobExecutionMessage) JobOutcome {
	return f(ctx, msg)
}

// JobOutcome is what a handler asks the worker to do with a delivery.
type JobOutcome struct {
	Err          error
	RequeueAfter time.Duration
	Permanent    bool
	Message      string
}

func (o JobOutcome) Succeeded() bool {
	return o.Err == nil && o.RequeueAfter <= 0
}

type CommandMessage interface {
	Type() string
}
