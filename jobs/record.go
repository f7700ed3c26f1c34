package jobs

import (
	"errors"
	"strconv"
	"time"

	job "github.com/goliatone/go-job"

	"github.com/goliatone/go-billing/adapters/gojob"
)

var ErrQueueClosed = errors.New("jobs: queue is closed")

const (
	StatusWaiting      = "waiting"
	StatusDelayed      = "delayed"
	StatusActive       = "active"
	StatusDeadLettered = "dead_lettered"
)

// Job is the inspection view of a queued message. ID is the execution id
// that job logs are kept under; DispatchID is the storage's own id.
type Job struct {
	ID             string         `json:"id"`
	DispatchID     string         `json:"dispatch_id"`
	Queue          string         `json:"queue"`
	JobID          string         `json:"job_id"`
	ScriptPath     string         `json:"script_path,omitempty"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	DedupPolicy    string         `json:"dedup_policy,omitempty"`
	Status         string         `json:"status"`
	Attempts       int            `json:"attempts"`
	Deferrals      int            `json:"deferrals"`
	LastError      string         `json:"last_error,omitempty"`
	EnqueuedAt     time.Time      `json:"enqueued_at"`
	AvailableAt    time.Time      `json:"available_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// jobFromMessage builds the view for a stored message that was leased
// leases times.
func jobFromMessage(queueName string, dispatchID string, msg *job.ExecutionMessage, leases int) Job {
	out := Job{Queue: queueName, DispatchID: dispatchID}
	if msg == nil {
		return out
	}
	billingMsg := gojob.FromExecutionMessage(msg)
	out.ID = msg.ExecutionID
	out.JobID = billingMsg.JobID
	out.ScriptPath = billingMsg.ScriptPath
	out.Parameters = billingMsg.Parameters
	out.IdempotencyKey = billingMsg.IdempotencyKey
	out.DedupPolicy = billingMsg.DedupPolicy
	out.Attempts = gojob.AttemptsConsumed(msg) + leases
	out.Deferrals = gojob.Deferrals(msg)
	return out
}

// Stats is a point-in-time count of jobs per state. Completed counts acked
// deliveries, so a deferral hand-off counts once as well.
type Stats struct {
	Waiting      int64 `json:"waiting"`
	Delayed      int64 `json:"delayed"`
	Active       int64 `json:"active"`
	Completed    int64 `json:"completed"`
	DeadLettered int64 `json:"dead_lettered"`
}

func unixNano(value string) time.Time {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
