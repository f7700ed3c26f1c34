package gocommand

import (
	"context"
	"encoding/json"
	"testing"

	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	billingcommand "github.com/goliatone/go-billing/command"
	"github.com/goliatone/go-billing/core"
	"github.com/goliatone/go-billing/jobs"
	billingquery "github.com/goliatone/go-billing/query"
	"github.com/goliatone/go-billing/subscriptions"
	"github.com/goliatone/go-billing/webhooks"
)

func TestBusRoutesBillingCommandsAndQueries(t *testing.T) {
	ctx := context.Background()
	registry := jobs.NewRegistry(jobs.MemoryQueueFactory(), jobs.DefaultPolicy())
	defer registry.Close()
	endpoints := webhooks.NewMemoryEndpointStore()
	queueCommands := jobqueuecommand.NewRegistry()

	bus, err := NewBus(BusDependencies{
		Queues:        registry,
		Endpoints:     endpoints,
		Deliveries:    webhooks.NewMemoryDeliveryLog(),
		Subscriptions: subscriptions.NewMemoryStore(),
		QueueCommands: queueCommands,
	})
	require.NoError(t, err)
	defer bus.Close()

	created, err := ExecuteWithResult[billingcommand.CreateQueueMessage, billingcommand.CreateQueueResult](
		ctx, billingcommand.CreateQueueMessage{QueueName: "stripe-webhooks"})
	require.NoError(t, err)
	assert.True(t, created.Created)

	require.NoError(t, Execute(ctx, billingcommand.EnqueueStripeEventMessage{
		Queue:   "stripe-webhooks",
		Payload: json.RawMessage(`{"id":"evt_1","type":"invoice.paid"}`),
	}))

	stats, err := Ask[billingquery.QueueStatsMessage, billingquery.QueueStatsResult](
		ctx, billingquery.QueueStatsMessage{Queue: "stripe-webhooks"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Stats.Waiting)

	endpoint, err := ExecuteWithResult[billingcommand.CreateEndpointMessage, core.WebhookEndpoint](
		ctx, billingcommand.CreateEndpointMessage{Input: core.CreateEndpointInput{
			URL:      "https://example.com/hook",
			Events:   []string{"subscription.activated"},
			IsActive: true,
		}})
	require.NoError(t, err)
	require.NotEmpty(t, endpoint.ID)

	listed, err := Ask[billingquery.ListEndpointsMessage, []core.WebhookEndpoint](ctx, billingquery.ListEndpointsMessage{})
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	_, ok := queueCommands.Get(billingcommand.TypeCreateQueue)
	assert.True(t, ok, "expected create-queue command mirrored into the go-job registry")
}

func TestExecuteRejectsInvalidMessageBeforeDispatch(t *testing.T) {
	err := Execute(context.Background(), billingcommand.CreateQueueMessage{QueueName: ""})
	require.Error(t, err)
	assert.Equal(t, 400, core.HTTPStatus(err))
}
