package jobs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-billing/core"
)

// Router sends each message to the handler registered for its JobID.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]core.JobHandler
}

func NewRouter() *Router {
	return &Router{handlers: map[string]core.JobHandler{}}
}

func (r *Router) Handle(jobID string, handler core.JobHandler) error {
	if r == nil {
		return fmt.Errorf("jobs: router is not configured")
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return fmt.Errorf("jobs: job id is required")
	}
	if handler == nil {
		return fmt.Errorf("jobs: handler for %s is required", jobID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[jobID]; exists {
		return fmt.Errorf("jobs: handler for %s already registered", jobID)
	}
	r.handlers[jobID] = handler
	return nil
}

func (r *Router) JobIDs() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// HandleJob dead-letters messages nobody handles.
func (r *Router) HandleJob(ctx context.Context, msg *core.JobExecutionMessage) core.JobOutcome {
	if r == nil || msg == nil {
		return core.JobOutcome{Err: core.NewBadInputError("jobs: message is required"), Permanent: true}
	}
	r.mu.RLock()
	handler, ok := r.handlers[strings.TrimSpace(msg.JobID)]
	r.mu.RUnlock()
	if !ok {
		return core.JobOutcome{
			Err:       core.NewBadInputError(fmt.Sprintf("jobs: no handler registered for %q", msg.JobID)),
			Permanent: true,
		}
	}
	return handler.HandleJob(ctx, msg)
}

var _ core.JobHandler = (*Router)(nil)
