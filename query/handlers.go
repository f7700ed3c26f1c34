package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-billing/core"
	"github.com/goliatone/go-billing/jobs"
)

type EndpointReader interface {
	Get(ctx context.Context, id string) (core.WebhookEndpoint, error)
	List(ctx context.Context) ([]core.WebhookEndpoint, error)
}

type DeliveryAttemptReader interface {
	List(ctx context.Context, filter core.DeliveryAttemptFilter) ([]core.DeliveryAttempt, error)
}

type SubscriptionReader interface {
	GetByStripeID(ctx context.Context, stripeSubscriptionID string) (core.Subscription, error)
	List(ctx context.Context, limit int) ([]core.Subscription, error)
}

type QueueResolver interface {
	Get(name string) (jobs.Queue, bool)
}

type GetEndpointQuery struct {
	reader EndpointReader
}

func NewGetEndpointQuery(reader EndpointReader) *GetEndpointQuery {
	return &GetEndpointQuery{reader: reader}
}

func (q *GetEndpointQuery) Query(ctx context.Context, msg GetEndpointMessage) (core.WebhookEndpoint, error) {
	if q == nil || q.reader == nil {
		return core.WebhookEndpoint{}, queryDependencyError("query: endpoint reader is required")
	}
	return q.reader.Get(ctx, strings.TrimSpace(msg.EndpointID))
}

type ListEndpointsQuery struct {
	reader EndpointReader
}

func NewListEndpointsQuery(reader EndpointReader) *ListEndpointsQuery {
	return &ListEndpointsQuery{reader: reader}
}

func (q *ListEndpointsQuery) Query(ctx context.Context, _ ListEndpointsMessage) ([]core.WebhookEndpoint, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: endpoint reader is required")
	}
	return q.reader.List(ctx)
}

type ListDeliveryAttemptsQuery struct {
	reader DeliveryAttemptReader
}

func NewListDeliveryAttemptsQuery(reader DeliveryAttemptReader) *ListDeliveryAttemptsQuery {
	return &ListDeliveryAttemptsQuery{reader: reader}
}

func (q *ListDeliveryAttemptsQuery) Query(ctx context.Context, msg ListDeliveryAttemptsMessage) ([]core.DeliveryAttempt, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: delivery log reader is required")
	}
	return q.reader.List(ctx, msg.Filter)
}

type GetSubscriptionQuery struct {
	reader SubscriptionReader
}

func NewGetSubscriptionQuery(reader SubscriptionReader) *GetSubscriptionQuery {
	return &GetSubscriptionQuery{reader: reader}
}

func (q *GetSubscriptionQuery) Query(ctx context.Context, msg GetSubscriptionMessage) (core.Subscription, error) {
	if q == nil || q.reader == nil {
		return core.Subscription{}, queryDependencyError("query: subscription reader is required")
	}
	return q.reader.GetByStripeID(ctx, strings.TrimSpace(msg.StripeSubscriptionID))
}

type ListSubscriptionsQuery struct {
	reader SubscriptionReader
}

func NewListSubscriptionsQuery(reader SubscriptionReader) *ListSubscriptionsQuery {
	return &ListSubscriptionsQuery{reader: reader}
}

func (q *ListSubscriptionsQuery) Query(ctx context.Context, msg ListSubscriptionsMessage) ([]core.Subscription, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: subscription reader is required")
	}
	return q.reader.List(ctx, msg.Limit)
}

type QueueStatsResult struct {
	Queue string     `json:"queue"`
	Stats jobs.Stats `json:"stats"`
}

type QueueStatsQuery struct {
	queues QueueResolver
}

func NewQueueStatsQuery(queues QueueResolver) *QueueStatsQuery {
	return &QueueStatsQuery{queues: queues}
}

func (q *QueueStatsQuery) Query(ctx context.Context, msg QueueStatsMessage) (QueueStatsResult, error) {
	if q == nil || q.queues == nil {
		return QueueStatsResult{}, queryDependencyError("query: queue registry is required")
	}
	queue, err := resolveQueue(q.queues, msg.Queue)
	if err != nil {
		return QueueStatsResult{}, err
	}
	stats, err := queue.Stats(ctx)
	if err != nil {
		return QueueStatsResult{}, err
	}
	return QueueStatsResult{Queue: queue.Name(), Stats: stats}, nil
}

type JobLogsQuery struct {
	queues QueueResolver
}

func NewJobLogsQuery(queues QueueResolver) *JobLogsQuery {
	return &JobLogsQuery{queues: queues}
}

func (q *JobLogsQuery) Query(ctx context.Context, msg JobLogsMessage) ([]string, error) {
	if q == nil || q.queues == nil {
		return nil, queryDependencyError("query: queue registry is required")
	}
	queue, err := resolveQueue(q.queues, msg.Queue)
	if err != nil {
		return nil, err
	}
	return queue.Logs(ctx, strings.TrimSpace(msg.JobID))
}

type DeadLetteredJobsQuery struct {
	queues QueueResolver
}

func NewDeadLetteredJobsQuery(queues QueueResolver) *DeadLetteredJobsQuery {
	return &DeadLetteredJobsQuery{queues: queues}
}

func (q *DeadLetteredJobsQuery) Query(ctx context.Context, msg DeadLetteredJobsMessage) ([]jobs.Job, error) {
	if q == nil || q.queues == nil {
		return nil, queryDependencyError("query: queue registry is required")
	}
	queue, err := resolveQueue(q.queues, msg.Queue)
	if err != nil {
		return nil, err
	}
	return queue.DeadLettered(ctx, msg.Limit)
}

func resolveQueue(queues QueueResolver, name string) (jobs.Queue, error) {
	name = strings.TrimSpace(name)
	queue, ok := queues.Get(name)
	if !ok {
		return nil, core.NewNotFoundError(fmt.Sprintf("query: queue %s not found", name))
	}
	return queue, nil
}
