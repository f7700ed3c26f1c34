package jobs

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-billing/core"
)

var queueNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)

// QueueFactory builds a queue for a registry.
type QueueFactory func(name string, policy Policy) (Queue, error)

func MemoryQueueFactory() QueueFactory {
	return func(name string, policy Policy) (Queue, error) {
		return NewMemoryQueue(name, policy), nil
	}
}

// RedisQueueFactory builds queues on go-job's redis storage under prefix.
func RedisQueueFactory(client redis.UniversalClient, prefix string) QueueFactory {
	return func(name string, policy Policy) (Queue, error) {
		if client == nil {
			return nil, fmt.Errorf("jobs: redis client is required")
		}
		return NewQueue(name, policy, NewRedisStorage(client, prefix, name)), nil
	}
}

// CreateHook runs once for every queue the registry builds.
type CreateHook func(queue Queue) error

// Registry owns named queues created with a shared default policy.
type Registry struct {
	mu      sync.RWMutex
	factory QueueFactory
	policy  Policy
	queues  map[string]Queue
	hooks   []CreateHook
}

func NewRegistry(factory QueueFactory, policy Policy) *Registry {
	if factory == nil {
		factory = MemoryQueueFactory()
	}
	return &Registry{
		factory: factory,
		policy:  policy.Normalize(),
		queues:  map[string]Queue{},
	}
}

func ValidateQueueName(name string) error {
	if !queueNamePattern.MatchString(strings.TrimSpace(name)) {
		return core.NewBadInputError(fmt.Sprintf("jobs: queue name %q is invalid", name), goerrors.FieldError{
			Field:   "queueName",
			Message: "must start with a letter or digit and use only letters, digits, '.', '_', ':' or '-'",
		})
	}
	return nil
}

// Create returns the named queue, building it on first use. created reports
// whether this call built it.
func (r *Registry) Create(name string) (queue Queue, created bool, err error) {
	if r == nil {
		return nil, false, fmt.Errorf("jobs: queue registry is not configured")
	}
	name = strings.TrimSpace(name)
	if err := ValidateQueueName(name); err != nil {
		return nil, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.queues[name]; ok {
		return existing, false, nil
	}
	queue, err = r.factory(name, r.policy)
	if err != nil {
		return nil, false, err
	}
	for _, hook := range r.hooks {
		if err := hook(queue); err != nil {
			return nil, false, core.JoinErrors(err, queue.Close())
		}
	}
	r.queues[name] = queue
	return queue, true, nil
}

// OnCreate registers hook for queues built from now on and runs it for the
// queues that already exist.
func (r *Registry) OnCreate(hook CreateHook) error {
	if r == nil || hook == nil {
		return fmt.Errorf("jobs: queue registry and hook are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range sortedKeys(r.queues) {
		if err := hook(r.queues[name]); err != nil {
			return err
		}
	}
	r.hooks = append(r.hooks, hook)
	return nil
}

func (r *Registry) Get(name string) (Queue, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	queue, ok := r.queues[strings.TrimSpace(name)]
	return queue, ok
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.queues))
	for name := range r.queues {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Policy() Policy {
	if r == nil {
		return DefaultPolicy()
	}
	return r.policy
}

// Close closes every queue and returns the joined errors.
func (r *Registry) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs error
	for _, name := range sortedKeys(r.queues) {
		errs = core.JoinErrors(errs, r.queues[name].Close())
	}
	return errs
}

func sortedKeys(queues map[string]Queue) []string {
	out := make([]string, 0, len(queues))
	for name := range queues {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
