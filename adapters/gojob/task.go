package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-billing/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

// TerminalCodePermanent marks handler outcomes that must dead-letter.
const TerminalCodePermanent job.TerminalErrorCode = "billing_permanent"

// Requeuer schedules a deferred copy of a message.
type Requeuer interface {
	EnqueueAfter(ctx context.Context, msg *job.ExecutionMessage, delay time.Duration) (queue.EnqueueReceipt, error)
}

// LogSink stores job log lines under the message execution id.
type LogSink interface {
	AppendLog(ctx context.Context, jobID string, line string) error
}

// Task runs one billing job id on a go-job worker. Outcomes map to go-job:
//
//	success              nil, delivery acked
//	RequeueAfter > 0     deferred copy enqueued, delivery acked
//	Permanent            terminal error, dead-lettered by the retry policy
//	Err                  plain error, retried by the retry policy
type Task struct {
	ID       string
	Handler  core.JobHandler
	Requeue  Requeuer
	Logs     LogSink
	JobLog   func(msg *core.JobExecutionMessage) core.JobLogger
	Observer *core.Observer
	Config   job.Config
}

func NewTask(id string, handler core.JobHandler, requeue Requeuer, observer *core.Observer) *Task {
	if observer == nil {
		observer = core.NewObserver(nil, nil)
	}
	return &Task{
		ID:       strings.TrimSpace(id),
		Handler:  handler,
		Requeue:  requeue,
		Observer: observer,
	}
}

func (t *Task) GetID() string                        { return t.ID }
func (t *Task) GetPath() string                      { return t.ID }
func (t *Task) GetConfig() job.Config                { return t.Config }
func (t *Task) GetHandlerConfig() job.HandlerOptions { return job.HandlerOptions{} }
func (t *Task) GetEngine() job.Engine                { return nil }

// GetHandler exists for go-job schedulers. Billing tasks only run from a
// queue delivery.
func (t *Task) GetHandler() func() error {
	return func() error {
		return fmt.Errorf("gojob: task %s runs from queue deliveries only", t.ID)
	}
}

func (t *Task) Execute(ctx context.Context, msg *job.ExecutionMessage) error {
	if t == nil || t.Handler == nil {
		return fmt.Errorf("gojob: task is not configured")
	}
	startedAt := time.Now()
	billingMsg := FromExecutionMessage(msg)
	attempt := Attempt(msg)
	ctx = core.ContextWithJobLogger(ctx, t.jobLogger(msg, billingMsg))

	outcome := t.handle(ctx, billingMsg)

	var err error
	status := "success"
	switch {
	case outcome.Err == nil && outcome.RequeueAfter > 0:
		status = "deferred"
		err = t.deferMessage(ctx, msg, outcome.RequeueAfter)
	case outcome.Err == nil:
	case outcome.Permanent:
		status = "dead_lettered"
		err = job.NewTerminalError(TerminalCodePermanent, outcome.Err.Error(), outcome.Err)
	default:
		status = "retry"
		err = outcome.Err
	}

	fields := map[string]any{
		"attempt": attempt,
		"outcome": firstNonEmpty(outcome.Message, status),
	}
	if billingMsg != nil {
		fields["job_id"] = billingMsg.JobID
		fields["idempotency_key"] = billingMsg.IdempotencyKey
	}
	if msg != nil && msg.ExecutionID != "" {
		fields["execution_id"] = msg.ExecutionID
	}
	if outcome.Err == nil {
		fields["status"] = status
	}
	t.Observer.ObserveOperation(ctx, startedAt, "job", outcome.Err, fields)
	return err
}

func (t *Task) handle(ctx context.Context, msg *core.JobExecutionMessage) (outcome core.JobOutcome) {
	defer func() {
		if recovered := recover(); recovered != nil {
			outcome = core.JobOutcome{Err: fmt.Errorf("gojob: handler panic: %v", recovered)}
		}
	}()
	if msg == nil {
		return core.JobOutcome{Err: core.NewBadInputError("gojob: delivery has no message"), Permanent: true}
	}
	return t.Handler.HandleJob(ctx, msg)
}

func (t *Task) deferMessage(ctx context.Context, msg *job.ExecutionMessage, delay time.Duration) error {
	if t.Requeue == nil {
		return fmt.Errorf("gojob: task %s cannot defer without a requeuer", t.ID)
	}
	if _, err := t.Requeue.EnqueueAfter(ctx, DeferredCopy(msg), delay); err != nil {
		return fmt.Errorf("gojob: defer %s: %w", t.ID, err)
	}
	return nil
}

func (t *Task) jobLogger(msg *job.ExecutionMessage, billingMsg *core.JobExecutionMessage) core.JobLogger {
	if t.Logs != nil && msg != nil && msg.ExecutionID != "" {
		return sinkLogger{sink: t.Logs, jobID: msg.ExecutionID}
	}
	if t.JobLog != nil {
		return t.JobLog(billingMsg)
	}
	return nil
}

type sinkLogger struct {
	sink  LogSink
	jobID string
}

func (l sinkLogger) Log(ctx context.Context, message string) error {
	return l.sink.AppendLog(ctx, l.jobID, message)
}

var _ job.Task = (*Task)(nil)
