package command

import (
	"context"
	"fmt"
	"strings"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-billing/core"
	"github.com/goliatone/go-billing/jobs"
	"github.com/goliatone/go-billing/stripe"
	"github.com/goliatone/go-billing/webhooks"
)

type Replayer interface {
	Retry(ctx context.Context, attemptID string) webhooks.ReplayResult
}

type QueueCreator interface {
	Create(name string) (jobs.Queue, bool, error)
}

type QueueResolver interface {
	Get(name string) (jobs.Queue, bool)
}

type ReplayWebhookCommand struct {
	replayer Replayer
}

func NewReplayWebhookCommand(replayer Replayer) *ReplayWebhookCommand {
	return &ReplayWebhookCommand{replayer: replayer}
}

// Execute stores the replay result. Replay failures are reported in the
// result, not as errors.
func (c *ReplayWebhookCommand) Execute(ctx context.Context, msg ReplayWebhookMessage) error {
	if c == nil || c.replayer == nil {
		return commandDependencyError("command: replay coordinator is required")
	}
	storeResult(ctx, c.replayer.Retry(ctx, strings.TrimSpace(msg.WebhookEventID)))
	return nil
}

type CreateQueueCommand struct {
	creator QueueCreator
}

func NewCreateQueueCommand(creator QueueCreator) *CreateQueueCommand {
	return &CreateQueueCommand{creator: creator}
}

func (c *CreateQueueCommand) Execute(ctx context.Context, msg CreateQueueMessage) error {
	if c == nil || c.creator == nil {
		return commandDependencyError("command: queue registry is required")
	}
	queue, created, err := c.creator.Create(msg.QueueName)
	if err != nil {
		return err
	}
	storeResult(ctx, CreateQueueResult{Queue: queue.Name(), Created: created})
	return nil
}

type EnqueueStripeEventCommand struct {
	queues QueueResolver
	wrap   func(jobs.Queue) core.JobEnqueuer
}

// NewEnqueueStripeEventCommand resolves target queues from queues. wrap, when
// set, decorates each queue before enqueueing (deduplication).
func NewEnqueueStripeEventCommand(queues QueueResolver, wrap func(jobs.Queue) core.JobEnqueuer) *EnqueueStripeEventCommand {
	return &EnqueueStripeEventCommand{queues: queues, wrap: wrap}
}

func (c *EnqueueStripeEventCommand) Execute(ctx context.Context, msg EnqueueStripeEventMessage) error {
	if c == nil || c.queues == nil {
		return commandDependencyError("command: queue registry is required")
	}
	queue, ok := c.queues.Get(msg.Queue)
	if !ok {
		return core.NewNotFoundError(fmt.Sprintf("command: queue %s not found", strings.TrimSpace(msg.Queue)))
	}
	jobMsg, err := stripe.NewJobMessage(msg.Payload)
	if err != nil {
		return commandWrapValidation(err, "command: invalid stripe event")
	}
	var enqueuer core.JobEnqueuer = queue
	if c.wrap != nil {
		enqueuer = c.wrap(queue)
	}
	if err := enqueuer.Enqueue(ctx, jobMsg); err != nil {
		return err
	}
	storeResult(ctx, EnqueueResult{
		Queue:     queue.Name(),
		EventID:   jobMsg.IdempotencyKey,
		EventType: fmt.Sprint(jobMsg.Parameters["event_type"]),
	})
	return nil
}

type DispatchEventCommand struct {
	notifier core.EventNotifier
}

func NewDispatchEventCommand(notifier core.EventNotifier) *DispatchEventCommand {
	return &DispatchEventCommand{notifier: notifier}
}

func (c *DispatchEventCommand) Execute(ctx context.Context, msg DispatchEventMessage) error {
	if c == nil || c.notifier == nil {
		return commandDependencyError("command: event notifier is required")
	}
	data := msg.Data
	if data == nil {
		data = map[string]any{}
	}
	return c.notifier.Notify(ctx, strings.TrimSpace(msg.Event), data)
}

type CreateEndpointCommand struct {
	store core.EndpointStore
}

func NewCreateEndpointCommand(store core.EndpointStore) *CreateEndpointCommand {
	return &CreateEndpointCommand{store: store}
}

func (c *CreateEndpointCommand) Execute(ctx context.Context, msg CreateEndpointMessage) error {
	if c == nil || c.store == nil {
		return commandDependencyError("command: endpoint store is required")
	}
	out, err := c.store.Create(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type UpdateEndpointCommand struct {
	store core.EndpointStore
}

func NewUpdateEndpointCommand(store core.EndpointStore) *UpdateEndpointCommand {
	return &UpdateEndpointCommand{store: store}
}

func (c *UpdateEndpointCommand) Execute(ctx context.Context, msg UpdateEndpointMessage) error {
	if c == nil || c.store == nil {
		return commandDependencyError("command: endpoint store is required")
	}
	out, err := c.store.Update(ctx, strings.TrimSpace(msg.EndpointID), msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DeleteEndpointCommand struct {
	store core.EndpointStore
}

func NewDeleteEndpointCommand(store core.EndpointStore) *DeleteEndpointCommand {
	return &DeleteEndpointCommand{store: store}
}

func (c *DeleteEndpointCommand) Execute(ctx context.Context, msg DeleteEndpointMessage) error {
	if c == nil || c.store == nil {
		return commandDependencyError("command: endpoint store is required")
	}
	return c.store.Delete(ctx, strings.TrimSpace(msg.EndpointID))
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
