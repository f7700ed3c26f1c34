package query

import (
	"strings"

	"github.com/goliatone/go-billing/core"
)

const (
	TypeGetEndpoint          = "billing.query.endpoint.get"
	TypeListEndpoints        = "billing.query.endpoint.list"
	TypeListDeliveryAttempts = "billing.query.delivery_attempt.list"
	TypeGetSubscription      = "billing.query.subscription.get"
	TypeListSubscriptions    = "billing.query.subscription.list"
	TypeQueueStats           = "billing.query.queue.stats"
	TypeJobLogs              = "billing.query.queue.job_logs"
	TypeDeadLetteredJobs     = "billing.query.queue.dead_lettered"

	maxListLimit = 500
)

type GetEndpointMessage struct {
	EndpointID string
}

func (GetEndpointMessage) Type() string { return TypeGetEndpoint }

func (m GetEndpointMessage) Validate() error {
	if strings.TrimSpace(m.EndpointID) == "" {
		return queryValidationError("id", "endpoint id is required")
	}
	return nil
}

type ListEndpointsMessage struct{}

func (ListEndpointsMessage) Type() string { return TypeListEndpoints }

func (ListEndpointsMessage) Validate() error { return nil }

type ListDeliveryAttemptsMessage struct {
	Filter core.DeliveryAttemptFilter
}

func (ListDeliveryAttemptsMessage) Type() string { return TypeListDeliveryAttempts }

func (m ListDeliveryAttemptsMessage) Validate() error {
	if m.Filter.Limit < 0 || m.Filter.Limit > maxListLimit {
		return queryValidationError("limit", "limit must be between 0 and 500")
	}
	return nil
}

type GetSubscriptionMessage struct {
	StripeSubscriptionID string
}

func (GetSubscriptionMessage) Type() string { return TypeGetSubscription }

func (m GetSubscriptionMessage) Validate() error {
	if strings.TrimSpace(m.StripeSubscriptionID) == "" {
		return queryValidationError("stripeSubscriptionId", "stripe subscription id is required")
	}
	return nil
}

type ListSubscriptionsMessage struct {
	Limit int
}

func (ListSubscriptionsMessage) Type() string { return TypeListSubscriptions }

func (m ListSubscriptionsMessage) Validate() error {
	if m.Limit < 0 || m.Limit > maxListLimit {
		return queryValidationError("limit", "limit must be between 0 and 500")
	}
	return nil
}

type QueueStatsMessage struct {
	Queue string
}

func (QueueStatsMessage) Type() string { return TypeQueueStats }

func (m QueueStatsMessage) Validate() error {
	if strings.TrimSpace(m.Queue) == "" {
		return queryValidationError("queue", "queue name is required")
	}
	return nil
}

type JobLogsMessage struct {
	Queue string
	JobID string
}

func (JobLogsMessage) Type() string { return TypeJobLogs }

func (m JobLogsMessage) Validate() error {
	if strings.TrimSpace(m.Queue) == "" {
		return queryValidationError("queue", "queue name is required")
	}
	if strings.TrimSpace(m.JobID) == "" {
		return queryValidationError("jobId", "job id is required")
	}
	return nil
}

type DeadLetteredJobsMessage struct {
	Queue string
	Limit int
}

func (DeadLetteredJobsMessage) Type() string { return TypeDeadLetteredJobs }

func (m DeadLetteredJobsMessage) Validate() error {
	if strings.TrimSpace(m.Queue) == "" {
		return queryValidationError("queue", "queue name is required")
	}
	if m.Limit < 0 || m.Limit > maxListLimit {
		return queryValidationError("limit", "limit must be between 0 and 500")
	}
	return nil
}
