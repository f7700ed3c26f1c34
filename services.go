package billing

import "github.com/goliatone/go-billing/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type KeyValueStore = core.KeyValueStore
type SubscriptionStore = core.SubscriptionStore
type EndpointStore = core.EndpointStore
type DeliveryAttemptStore = core.DeliveryAttemptStore
type EventNotifier = core.EventNotifier

type Subscription = core.Subscription
type WebhookEndpoint = core.WebhookEndpoint
type DeliveryAttempt = core.DeliveryAttempt
type OutboundEvent = core.OutboundEvent

var (
	WithLogger               = core.WithLogger
	WithLoggerProvider       = core.WithLoggerProvider
	WithMetricsRecorder      = core.WithMetricsRecorder
	WithErrorFactory         = core.WithErrorFactory
	WithErrorMapper          = core.WithErrorMapper
	WithConfigProvider       = core.WithConfigProvider
	WithOptionsResolver      = core.WithOptionsResolver
	WithStateStore           = core.WithStateStore
	WithSubscriptionStore    = core.WithSubscriptionStore
	WithEndpointStore        = core.WithEndpointStore
	WithDeliveryAttemptStore = core.WithDeliveryAttemptStore
	WithJobEnqueuer          = core.WithJobEnqueuer
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}
