package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[ReplayWebhookMessage]      = (*ReplayWebhookCommand)(nil)
	_ gocmd.Commander[CreateQueueMessage]        = (*CreateQueueCommand)(nil)
	_ gocmd.Commander[EnqueueStripeEventMessage] = (*EnqueueStripeEventCommand)(nil)
	_ gocmd.Commander[DispatchEventMessage]      = (*DispatchEventCommand)(nil)
	_ gocmd.Commander[CreateEndpointMessage]     = (*CreateEndpointCommand)(nil)
	_ gocmd.Commander[UpdateEndpointMessage]     = (*UpdateEndpointCommand)(nil)
	_ gocmd.Commander[DeleteEndpointMessage]     = (*DeleteEndpointCommand)(nil)
)
