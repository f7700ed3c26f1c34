package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue/worker"

	"github.com/goliatone/go-billing/adapters/gojob"
	"github.com/goliatone/go-billing/core"
)

const (
	defaultIdleDelay    = 250 * time.Millisecond
	defaultStopTimeout  = 10 * time.Second
	defaultLeaseRenewal = 15 * time.Second
)

// WorkerOptions configures a queue worker.
type WorkerOptions struct {
	Slots     int
	Hook      core.JobWorkerHook
	Observer  *core.Observer
	Logger    job.Logger
	IdleDelay time.Duration

	// JobLog supplies a job log for messages enqueued without an execution
	// id.
	JobLog func(msg *core.JobExecutionMessage) core.JobLogger
}

// Worker runs one queue on a go-job worker. Every job id on the router gets
// a task; settlement follows the queue policy.
type Worker struct {
	Queue  Queue
	engine *worker.Worker
}

func NewWorker(queue Queue, router *Router, opts WorkerOptions) (*Worker, error) {
	if queue == nil || router == nil {
		return nil, fmt.Errorf("jobs: worker needs a queue and a router")
	}
	observer := opts.Observer
	if observer == nil {
		observer = core.NewObserver(nil, nil)
	}
	slots := opts.Slots
	if slots <= 0 {
		slots = 1
	}
	idle := opts.IdleDelay
	if idle <= 0 {
		idle = defaultIdleDelay
	}

	options := []worker.Option{
		worker.WithConcurrency(slots),
		worker.WithIdleDelay(idle),
		worker.WithRetryPolicy(queue.Policy()),
		worker.WithTaskCommanderRetries(false),
		worker.WithLeaseHeartbeatInterval(defaultLeaseRenewal),
	}
	if opts.Logger != nil {
		options = append(options, worker.WithLogger(opts.Logger))
	}
	if opts.Hook != nil {
		options = append(options, worker.WithHooks(gojob.NewWorkerHookAdapter(opts.Hook)))
	}
	engine := worker.NewWorker(queue, options...)

	for _, jobID := range router.JobIDs() {
		task := gojob.NewTask(jobID, router, queue, observer)
		task.Logs = queue
		task.JobLog = opts.JobLog
		if err := engine.Register(task); err != nil {
			return nil, fmt.Errorf("jobs: register %s on %s: %w", jobID, queue.Name(), err)
		}
	}
	return &Worker{Queue: queue, engine: engine}, nil
}

// Start consumes in the background until Stop.
func (w *Worker) Start(ctx context.Context) error {
	if w == nil || w.engine == nil {
		return fmt.Errorf("jobs: worker is not configured")
	}
	return w.engine.Start(ctx)
}

// Stop waits for in-flight jobs to settle.
func (w *Worker) Stop(ctx context.Context) error {
	if w == nil || w.engine == nil {
		return nil
	}
	return w.engine.Stop(ctx)
}

// Run blocks until ctx is done, then stops the worker.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), defaultStopTimeout)
	defer cancel()
	return w.Stop(stopCtx)
}

func isTerminal(err error) bool {
	var terminal job.NonRetryableError
	return errors.As(err, &terminal) && terminal.NonRetryable()
}
