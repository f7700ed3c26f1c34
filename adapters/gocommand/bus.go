package gocommand

import (
	"context"
	"fmt"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	billingcommand "github.com/goliatone/go-billing/command"
	"github.com/goliatone/go-billing/core"
	"github.com/goliatone/go-billing/jobs"
	billingquery "github.com/goliatone/go-billing/query"
)

// QueueResolverKey names the resolver that mirrors billing commands into the
// go-job queue command registry.
const QueueResolverKey = "queue"

type BusDependencies struct {
	Replayer      billingcommand.Replayer
	Queues        *jobs.Registry
	Dedup         func(jobs.Queue) core.JobEnqueuer
	Notifier      core.EventNotifier
	Endpoints     core.EndpointStore
	Deliveries    core.DeliveryAttemptStore
	Subscriptions core.SubscriptionStore
	// QueueCommands receives every registered command when set.
	QueueCommands *jobqueuecommand.Registry
}

// Bus owns the dispatcher subscriptions of every billing command and query.
type Bus struct {
	adapter       *RegistryAdapter
	subscriptions []commanddispatcher.Subscription
}

// NewBus registers and subscribes the billing handlers whose dependencies are
// present, then initializes the registry.
func NewBus(deps BusDependencies) (*Bus, error) {
	bus := &Bus{adapter: NewRegistryAdapter(command.NewRegistry())}
	if deps.QueueCommands != nil {
		if err := bus.adapter.AddQueueResolver(QueueResolverKey, deps.QueueCommands); err != nil {
			return nil, err
		}
	}

	steps := []func() error{}
	if deps.Replayer != nil {
		steps = append(steps, func() error {
			return bus.command(RegisterAndSubscribe(bus.adapter, billingcommand.NewReplayWebhookCommand(deps.Replayer)))
		})
	}
	if deps.Queues != nil {
		steps = append(steps,
			func() error {
				return bus.command(RegisterAndSubscribe(bus.adapter, billingcommand.NewCreateQueueCommand(deps.Queues)))
			},
			func() error {
				return bus.command(RegisterAndSubscribe(bus.adapter, billingcommand.NewEnqueueStripeEventCommand(deps.Queues, deps.Dedup)))
			},
			func() error {
				return bus.command(RegisterAndSubscribeQuery(bus.adapter, billingquery.NewQueueStatsQuery(deps.Queues)))
			},
			func() error {
				return bus.command(RegisterAndSubscribeQuery(bus.adapter, billingquery.NewJobLogsQuery(deps.Queues)))
			},
			func() error {
				return bus.command(RegisterAndSubscribeQuery(bus.adapter, billingquery.NewDeadLetteredJobsQuery(deps.Queues)))
			},
		)
	}
	if deps.Notifier != nil {
		steps = append(steps, func() error {
			return bus.command(RegisterAndSubscribe(bus.adapter, billingcommand.NewDispatchEventCommand(deps.Notifier)))
		})
	}
	if deps.Endpoints != nil {
		steps = append(steps,
			func() error {
				return bus.command(RegisterAndSubscribe(bus.adapter, billingcommand.NewCreateEndpointCommand(deps.Endpoints)))
			},
			func() error {
				return bus.command(RegisterAndSubscribe(bus.adapter, billingcommand.NewUpdateEndpointCommand(deps.Endpoints)))
			},
			func() error {
				return bus.command(RegisterAndSubscribe(bus.adapter, billingcommand.NewDeleteEndpointCommand(deps.Endpoints)))
			},
			func() error {
				return bus.command(RegisterAndSubscribeQuery(bus.adapter, billingquery.NewGetEndpointQuery(deps.Endpoints)))
			},
			func() error {
				return bus.command(RegisterAndSubscribeQuery(bus.adapter, billingquery.NewListEndpointsQuery(deps.Endpoints)))
			},
		)
	}
	if deps.Deliveries != nil {
		steps = append(steps, func() error {
			return bus.command(RegisterAndSubscribeQuery(bus.adapter, billingquery.NewListDeliveryAttemptsQuery(deps.Deliveries)))
		})
	}
	if deps.Subscriptions != nil {
		steps = append(steps,
			func() error {
				return bus.command(RegisterAndSubscribeQuery(bus.adapter, billingquery.NewGetSubscriptionQuery(deps.Subscriptions)))
			},
			func() error {
				return bus.command(RegisterAndSubscribeQuery(bus.adapter, billingquery.NewListSubscriptionsQuery(deps.Subscriptions)))
			},
		)
	}

	for _, step := range steps {
		if err := step(); err != nil {
			bus.Close()
			return nil, err
		}
	}
	if err := bus.adapter.Initialize(); err != nil {
		bus.Close()
		return nil, fmt.Errorf("gocommand: initialize billing registry: %w", err)
	}
	return bus, nil
}

func (b *Bus) command(subscription commanddispatcher.Subscription, err error) error {
	if err != nil {
		return err
	}
	b.subscriptions = append(b.subscriptions, subscription)
	return nil
}

func (b *Bus) Registry() *RegistryAdapter {
	if b == nil {
		return nil
	}
	return b.adapter
}

// Execute validates msg and dispatches it to its subscribed command.
func Execute[T any](ctx context.Context, msg T) error {
	if err := ValidateMessageContract(msg); err != nil {
		return err
	}
	return Dispatch(ctx, msg)
}

// ExecuteWithResult dispatches msg and returns the value stored by its handler.
func ExecuteWithResult[T any, R any](ctx context.Context, msg T) (R, error) {
	var zero R
	if err := ValidateMessageContract(msg); err != nil {
		return zero, err
	}
	collector := command.NewResult[R]()
	if err := Dispatch(command.ContextWithResult(ctx, collector), msg); err != nil {
		return zero, err
	}
	value, _ := collector.Load()
	return value, nil
}

// Ask validates msg and runs its subscribed query.
func Ask[T any, R any](ctx context.Context, msg T) (R, error) {
	if err := ValidateMessageContract(msg); err != nil {
		var zero R
		return zero, err
	}
	return Query[T, R](ctx, msg)
}

// Close unsubscribes every handler.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	for _, subscription := range b.subscriptions {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
	b.subscriptions = nil
}
