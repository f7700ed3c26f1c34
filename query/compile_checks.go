package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-billing/core"
	"github.com/goliatone/go-billing/jobs"
)

var (
	_ gocmd.Querier[GetEndpointMessage, core.WebhookEndpoint]            = (*GetEndpointQuery)(nil)
	_ gocmd.Querier[ListEndpointsMessage, []core.WebhookEndpoint]        = (*ListEndpointsQuery)(nil)
	_ gocmd.Querier[ListDeliveryAttemptsMessage, []core.DeliveryAttempt] = (*ListDeliveryAttemptsQuery)(nil)
	_ gocmd.Querier[GetSubscriptionMessage, core.Subscription]           = (*GetSubscriptionQuery)(nil)
	_ gocmd.Querier[ListSubscriptionsMessage, []core.Subscription]       = (*ListSubscriptionsQuery)(nil)
	_ gocmd.Querier[QueueStatsMessage, QueueStatsResult]                 = (*QueueStatsQuery)(nil)
	_ gocmd.Querier[JobLogsMessage, []string]                            = (*JobLogsQuery)(nil)
	_ gocmd.Querier[DeadLetteredJobsMessage, []jobs.Job]                 = (*DeadLetteredJobsQuery)(nil)
)
