package jobs

import (
	"fmt"
	"time"

	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"

	"github.com/goliatone/go-billing/core"
)

const (
	DefaultMaxAttempts    = 3
	DefaultBackoffInitial = time.Second
)

// Policy bounds retries for one queue. Deferred re-deliveries never count
// toward MaxAttempts.
type Policy struct {
	MaxAttempts int
	Backoff     core.ExponentialBackoff
}

// DefaultPolicy is 3 attempts with exponential backoff starting at 1000ms.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     core.ExponentialBackoff{Initial: DefaultBackoffInitial},
	}
}

// PolicyFromConfig builds the queue policy from worker settings.
func PolicyFromConfig(cfg core.WorkerConfig) Policy {
	return Policy{
		MaxAttempts: cfg.MaxAttempts,
		Backoff: core.ExponentialBackoff{
			Initial: cfg.BackoffInitial,
			Max:     cfg.BackoffMax,
		},
	}.Normalize()
}

func (p Policy) Normalize() Policy {
	out := p
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = DefaultMaxAttempts
	}
	if out.Backoff.Initial <= 0 {
		out.Backoff.Initial = DefaultBackoffInitial
	}
	if out.Backoff.Max > 0 && out.Backoff.Max < out.Backoff.Initial {
		out.Backoff.Max = out.Backoff.Initial
	}
	return out
}

// RetryDelay is the wait before the attempt following a failed attempt.
func (p Policy) RetryDelay(failedAttempt int) time.Duration {
	return p.Backoff.Delay(failedAttempt)
}

func (p Policy) Exhausted(consumedAttempts int) bool {
	return p.MaxAttempts > 0 && consumedAttempts >= p.MaxAttempts
}

// Decide settles a failed attempt for the go-job worker. Terminal errors and
// the attempt ceiling are judged by go-job's default policy; the retry delay
// is the billing backoff.
func (p Policy) Decide(attempt int, err error) queue.NackOptions {
	p = p.Normalize()
	opts := worker.DefaultRetryPolicy{
		MaxAttempts: p.MaxAttempts,
		Backoff:     worker.BackoffConfig{Strategy: worker.BackoffNone},
	}.Decide(attempt, err)
	switch opts.Disposition {
	case queue.NackDispositionRetry:
		opts.Delay = p.RetryDelay(attempt)
	case queue.NackDispositionDeadLetter:
		if p.Exhausted(attempt) && !isTerminal(err) {
			opts.Reason = fmt.Sprintf("attempts exhausted (%d): %s", attempt, opts.Reason)
		}
	}
	return opts
}

var _ worker.RetryPolicy = Policy{}
