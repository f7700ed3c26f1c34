package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-billing/adapters/gocommand"
	"github.com/goliatone/go-billing/adapters/gologger"
	"github.com/goliatone/go-billing/core"
	"github.com/goliatone/go-billing/httpapi"
	"github.com/goliatone/go-billing/jobs"
	"github.com/goliatone/go-billing/ratelimit"
	"github.com/goliatone/go-billing/state"
	"github.com/goliatone/go-billing/stripe"
	"github.com/goliatone/go-billing/subscriptions"
	"github.com/goliatone/go-billing/webhooks"
)

// DispatchQueue carries outbound domain events to the dispatch worker.
const DispatchQueue = "webhook-dispatch"

const shutdownTimeout = 10 * time.Second

// Infrastructure supplies the backends a Runtime runs on. Stores missing from
// both Infrastructure and the service dependencies fall back to in-memory
// implementations.
type Infrastructure struct {
	Queues        jobs.QueueFactory
	Ledger        jobs.IdempotencyLedger
	HTTPClient    *http.Client
	Metrics       http.Handler
	QueueCommands *jobqueuecommand.Registry
	Closers       []func() error
}

// Runtime is the assembled billing worker: queues, the event processor, the
// webhook dispatcher, workers, the command bus and the HTTP surface.
type Runtime struct {
	Service    *core.Service
	Queues     *jobs.Registry
	State      *state.Client
	Mutator    *subscriptions.Mutator
	Processor  *stripe.Processor
	Dispatcher *webhooks.Dispatcher
	Replay     *webhooks.ReplayCoordinator
	Notifier   core.EventNotifier
	Router     *jobs.Router
	Bus        *gocommand.Bus
	HTTP       *httpapi.Server

	closers       []func() error
	workerOptions jobs.WorkerOptions

	mu      sync.Mutex
	workers []*jobs.Worker
	runCtx  context.Context
}

func NewRuntime(svc *core.Service, infra Infrastructure) (*Runtime, error) {
	if svc == nil {
		return nil, fmt.Errorf("billing: service is required")
	}
	cfg := svc.Config()
	deps := svc.Dependencies()
	observer := svc.Observer()

	stateStore := deps.StateStore
	if stateStore == nil {
		stateStore = state.NewMemoryStore()
	}
	subscriptionStore := deps.SubscriptionStore
	if subscriptionStore == nil {
		subscriptionStore = subscriptions.NewMemoryStore()
	}
	endpointStore := deps.EndpointStore
	if endpointStore == nil {
		endpointStore = webhooks.NewMemoryEndpointStore()
	}
	attemptStore := deps.AttemptStore
	if attemptStore == nil {
		attemptStore = webhooks.NewMemoryDeliveryLog()
	}
	ledger := infra.Ledger
	if ledger == nil {
		ledger = jobs.NewMemoryLedger(0)
	}

	rt := &Runtime{
		Service: svc,
		Queues:  jobs.NewRegistry(infra.Queues, jobs.PolicyFromConfig(cfg.Worker)),
		closers: infra.Closers,
	}

	dispatchQueue, _, err := rt.Queues.Create(DispatchQueue)
	if err != nil {
		return nil, rt.fail(err)
	}
	if _, _, err := rt.Queues.Create(firstNonEmpty(cfg.Worker.Queue, core.DefaultWebhookQueue)); err != nil {
		return nil, rt.fail(err)
	}

	rt.Dispatcher = webhooks.NewDispatcher(endpointStore, attemptStore, observer)
	if infra.HTTPClient != nil {
		rt.Dispatcher.Client = infra.HTTPClient
	}
	if ua := strings.TrimSpace(cfg.Webhooks.UserAgent); ua != "" {
		rt.Dispatcher.UserAgent = ua
	}
	if cfg.Webhooks.InitialBackoff > 0 {
		rt.Dispatcher.Backoff.Initial = cfg.Webhooks.InitialBackoff
	}
	if cfg.Webhooks.MaxBackoff > 0 {
		rt.Dispatcher.Backoff.Max = cfg.Webhooks.MaxBackoff
	}
	rt.Dispatcher.Concurrency = cfg.Webhooks.Concurrency
	throttle := ratelimit.NewEndpointThrottle(ratelimit.NewMemoryStateStore())
	throttle.InitialBackoff = rt.Dispatcher.Backoff.Initial
	if cfg.Webhooks.MaxBackoff > 0 {
		throttle.MaxBackoff = cfg.Webhooks.MaxBackoff
		throttle.MaxWait = cfg.Webhooks.MaxBackoff
	}
	rt.Dispatcher.Throttle = throttle
	rt.Replay = webhooks.NewReplayCoordinator(attemptStore, endpointStore, rt.Dispatcher, observer)

	notifyEnqueuer := deps.JobEnqueuer
	if notifyEnqueuer == nil {
		notifyEnqueuer = dispatchQueue
	}
	rt.Notifier = webhooks.NewQueueNotifier(notifyEnqueuer)

	rt.State = state.NewClient(stateStore, cfg.Processor.StateKeyPrefix)
	rt.Mutator = subscriptions.NewMutator(subscriptionStore, rt.Notifier, observer)
	rt.Processor = stripe.NewProcessor(rt.State, rt.Mutator, observer)
	if cfg.Processor.RequeueDelay > 0 {
		rt.Processor.RequeueDelay = cfg.Processor.RequeueDelay
	}

	rt.Router = jobs.NewRouter()
	if err := rt.Router.Handle(stripe.JobID, rt.Processor); err != nil {
		return nil, rt.fail(err)
	}
	if err := rt.Router.Handle(webhooks.DispatchJobID, webhooks.DispatchJobHandler{Dispatcher: rt.Dispatcher, Observer: observer}); err != nil {
		return nil, rt.fail(err)
	}

	jobsLogger := svc.Logger("jobs")
	rt.workerOptions = jobs.WorkerOptions{
		Slots:    cfg.Worker.Slots,
		Observer: observer,
		Logger:   gologger.ToJobLogger(jobsLogger),
		JobLog:   gologger.JobLogFactory(jobsLogger),
	}
	// Every queue gets a worker, including queues created at runtime.
	if err := rt.Queues.OnCreate(rt.attachWorker); err != nil {
		return nil, rt.fail(err)
	}

	dedupTTL := 24 * time.Hour
	rt.Bus, err = gocommand.NewBus(gocommand.BusDependencies{
		Replayer: rt.Replay,
		Queues:   rt.Queues,
		Dedup: func(queue jobs.Queue) core.JobEnqueuer {
			dedup := jobs.NewDedupEnqueuer(queue, ledger, observer)
			dedup.TTL = dedupTTL
			return dedup
		},
		Notifier:      rt.Notifier,
		Endpoints:     endpointStore,
		Deliveries:    attemptStore,
		Subscriptions: subscriptionStore,
		QueueCommands: infra.QueueCommands,
	})
	if err != nil {
		return nil, rt.fail(err)
	}

	var verifier httpapi.SignatureVerifier
	if secret := strings.TrimSpace(cfg.HTTP.StripeWebhookSecret); secret != "" {
		verifier = webhooks.StripeSignatureVerifier{Secret: secret}
	}
	rt.HTTP = httpapi.New(httpapi.Options{
		Config:   cfg.HTTP,
		Logger:   svc.Logger("http"),
		Observer: observer,
		Verifier: verifier,
		Metrics:  infra.Metrics,
	})
	return rt, nil
}

// Workers returns the queue workers, one per registered queue.
func (r *Runtime) Workers() []*jobs.Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*jobs.Worker(nil), r.workers...)
}

// attachWorker builds the worker for a new queue and starts it when the
// runtime is already running.
func (r *Runtime) attachWorker(queue jobs.Queue) error {
	worker, err := jobs.NewWorker(queue, r.Router, r.workerOptions)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runCtx != nil {
		if err := worker.Start(r.runCtx); err != nil {
			return err
		}
	}
	r.workers = append(r.workers, worker)
	return nil
}

// StartWorkers starts every queue worker. Queues created afterwards start
// their worker on creation. Workers stop when ctx is done or on StopWorkers.
func (r *Runtime) StartWorkers(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("billing: runtime is not configured")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runCtx != nil {
		return fmt.Errorf("billing: workers already started")
	}
	for _, worker := range r.workers {
		if err := worker.Start(ctx); err != nil {
			return err
		}
	}
	r.runCtx = ctx
	return nil
}

// StopWorkers waits for in-flight jobs on every worker.
func (r *Runtime) StopWorkers(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	workers := append([]*jobs.Worker(nil), r.workers...)
	r.runCtx = nil
	r.mu.Unlock()
	var errs error
	for _, worker := range workers {
		errs = core.JoinErrors(errs, worker.Stop(ctx))
	}
	return errs
}

// Run starts the workers and the HTTP server and blocks until ctx is done or
// the server fails. Workers are stopped before the queues are closed.
func (r *Runtime) Run(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("billing: runtime is not configured")
	}
	observer := r.Service.Observer()
	group, groupCtx := errgroup.WithContext(ctx)
	if err := r.StartWorkers(groupCtx); err != nil {
		return err
	}
	group.Go(func() error {
		addr := r.Service.Config().HTTP.Addr
		observer.LogInfo(groupCtx, "http server listening", map[string]any{"addr": addr})
		if err := r.HTTP.Listen(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		observer.LogInfo(shutdownCtx, "shutting down", nil)
		errs := core.JoinErrors(r.HTTP.Shutdown(shutdownCtx), r.StopWorkers(shutdownCtx))
		return core.JoinErrors(errs, r.Queues.Close())
	})
	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the bus, the queues and any infrastructure closers.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	r.Bus.Close()
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	errs := r.StopWorkers(stopCtx)
	if r.Queues != nil {
		errs = core.JoinErrors(errs, r.Queues.Close())
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		if r.closers[i] != nil {
			errs = core.JoinErrors(errs, r.closers[i]())
		}
	}
	r.closers = nil
	return errs
}

func (r *Runtime) fail(err error) error {
	return core.JoinErrors(err, r.Close())
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
