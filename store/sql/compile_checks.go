package sqlstore

import "github.com/goliatone/go-billing/core"

var (
	_ core.SubscriptionStore    = (*SubscriptionStore)(nil)
	_ core.EndpointStore        = (*EndpointStore)(nil)
	_ core.EndpointStore        = (*CachedEndpointStore)(nil)
	_ core.DeliveryAttemptStore = (*DeliveryLogStore)(nil)
	_ core.KeyValueStore        = (*StateStore)(nil)
)
