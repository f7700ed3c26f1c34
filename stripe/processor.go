package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-billing/core"
	"github.com/goliatone/go-billing/state"
)

// JobID names the queue job that carries provider events.
const JobID = "billing.stripe.webhook"

// PayloadParameter is the job parameter holding the raw event JSON.
const PayloadParameter = "payload"

type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeDeferred Outcome = "deferred"
	OutcomeRejected Outcome = "rejected"
	OutcomeNoop     Outcome = "noop"
	OutcomeIgnored  Outcome = "ignored"
	OutcomeInvalid  Outcome = "invalid"
	OutcomeFailed   Outcome = "failed"
)

// Result is the processor verdict for one job. A successful result with a
// positive RequeueAfter asks the queue to re-deliver the same payload later.
type Result struct {
	Success      bool
	Error        string
	RequeueAfter time.Duration
	Outcome      Outcome
	Permanent    bool
	Kind         Kind
	EventID      string
	SubjectID    string
	Err          error
}

func (r Result) RequeueAfterMs() int64 {
	return r.RequeueAfter.Milliseconds()
}

// JobOutcome converts the result into worker instructions.
func (r Result) JobOutcome() core.JobOutcome {
	outcome := core.JobOutcome{
		RequeueAfter: r.RequeueAfter,
		Permanent:    r.Permanent,
		Message:      string(r.Outcome),
	}
	if !r.Success {
		outcome.RequeueAfter = 0
		outcome.Err = r.Err
		if outcome.Err == nil {
			outcome.Err = fmt.Errorf("stripe: %s", r.Error)
		}
	}
	return outcome
}

// Processor applies provider events to per-subject state. It holds no
// per-call state and is safe for concurrent use.
type Processor struct {
	State        *state.Client
	Mutator      core.SubscriptionMutator
	Observer     *core.Observer
	RequeueDelay time.Duration
	Now          func() time.Time
}

func NewProcessor(stateClient *state.Client, mutator core.SubscriptionMutator, observer *core.Observer) *Processor {
	if observer == nil {
		observer = core.NewObserver(nil, nil)
	}
	return &Processor{
		State:        stateClient,
		Mutator:      mutator,
		Observer:     observer,
		RequeueDelay: core.DefaultRequeueDelay,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Process validates raw provider JSON and runs it through the state machine.
func (p *Processor) Process(ctx context.Context, raw []byte) Result {
	startedAt := p.now()
	event, err := ParseEvent(raw)
	if err != nil {
		result := Result{
			Success:   false,
			Error:     err.Error(),
			Outcome:   OutcomeInvalid,
			Permanent: true,
			Err:       err,
		}
		p.jobLog(ctx, fmt.Sprintf("Rejecting invalid event: %v", err))
		p.observe(ctx, startedAt, result)
		return result
	}
	return p.ProcessEvent(ctx, event)
}

// ProcessEvent runs an already parsed event through the state machine.
func (p *Processor) ProcessEvent(ctx context.Context, event Event) Result {
	startedAt := p.now()
	result := p.processEvent(ctx, event)
	p.observe(ctx, startedAt, result)
	return result
}

func (p *Processor) processEvent(ctx context.Context, event Event) Result {
	if err := ValidateEvent(event); err != nil {
		return Result{Success: false, Error: err.Error(), Outcome: OutcomeInvalid, Permanent: true, EventID: event.ID, Err: err}
	}
	if p == nil || p.State == nil || p.Mutator == nil {
		err := fmt.Errorf("stripe: processor requires state client and mutator")
		return Result{Success: false, Error: err.Error(), Outcome: OutcomeFailed, EventID: event.ID, Err: err}
	}

	kind := Classify(event.Type)
	result := Result{Kind: kind, EventID: event.ID}
	p.jobLog(ctx, fmt.Sprintf("Processing stripe event %s (%s)", event.ID, event.Type))

	if !kind.Handled() {
		p.jobLog(ctx, fmt.Sprintf("Event %s not supported", event.Type))
		result.Success = true
		result.Outcome = OutcomeIgnored
		return result
	}

	subjectID := SubjectID(kind, event.Data.Object)
	result.SubjectID = subjectID
	if subjectID == "" {
		err := core.NewBadInputError("stripe: subscription id is required")
		p.jobLog(ctx, fmt.Sprintf("Rejecting %s event %s with no subscription id", event.Type, event.ID))
		result.Success = false
		result.Error = err.Error()
		result.Outcome = OutcomeInvalid
		result.Permanent = true
		result.Err = err
		return result
	}

	current, err := p.State.Load(ctx, subjectID)
	if err != nil {
		return failed(result, err)
	}

	decision := Decide(kind, current)
	switch decision.Verdict {
	case VerdictIgnore:
		result.Success = true
		result.Outcome = OutcomeIgnored
		return result
	case VerdictNoop:
		p.jobLog(ctx, fmt.Sprintf("Skipping %s for %s: %s", event.Type, subjectID, decision.Reason))
		result.Success = true
		result.Outcome = OutcomeNoop
		return result
	case VerdictDefer:
		p.jobLog(ctx, fmt.Sprintf("%s for %s arrived too early (state %s). Rescheduling...", event.Type, subjectID, current))
		result.Success = true
		result.Outcome = OutcomeDeferred
		result.RequeueAfter = p.requeueDelay()
		return result
	case VerdictReject:
		err := core.NewPreconditionViolatedError(decision.Reason, map[string]any{
			"event_id":   event.ID,
			"subject_id": subjectID,
			"state":      string(current),
		})
		p.jobLog(ctx, fmt.Sprintf("Already processed checkout for %s, skipping", subjectID))
		result.Success = false
		result.Error = decision.Reason
		result.Outcome = OutcomeRejected
		result.Permanent = true
		result.Err = err
		return result
	}

	if err := p.apply(ctx, decision.Action, subjectID, event.Data.Object); err != nil {
		if core.IsPermanent(err) {
			result.Permanent = true
			result.Success = false
			result.Error = err.Error()
			result.Outcome = OutcomeInvalid
			result.Err = err
			return result
		}
		return failed(result, core.NewMutationFailedError(err, fmt.Sprintf("stripe: %s failed: %v", decision.Action, err)))
	}

	switch {
	case decision.ClearMarker:
		if err := p.State.Clear(ctx, subjectID); err != nil {
			return failed(result, err)
		}
	case decision.Advance:
		if err := p.State.Advance(ctx, subjectID, current, decision.Next); err != nil {
			return failed(result, err)
		}
	}
	p.jobLog(ctx, fmt.Sprintf("Processed %s for %s", event.Type, subjectID))
	result.Success = true
	result.Outcome = OutcomeApplied
	return result
}

func (p *Processor) apply(ctx context.Context, action Action, subjectID string, object json.RawMessage) error {
	switch action {
	case ActionCompleteCheckout:
		session, err := decodeCheckoutSession(subjectID, object)
		if err != nil {
			return err
		}
		return p.Mutator.CompleteCheckout(ctx, session)
	case ActionMarkInvoicePaid:
		invoice, err := decodeInvoice(subjectID, object)
		if err != nil {
			return err
		}
		return p.Mutator.MarkInvoicePaid(ctx, invoice)
	case ActionUpdateSubscription:
		sub, err := decodeSubscription(subjectID, object)
		if err != nil {
			return err
		}
		return p.Mutator.UpdateSubscription(ctx, sub)
	case ActionCancelSubscription:
		sub, err := decodeSubscription(subjectID, object)
		if err != nil {
			return err
		}
		return p.Mutator.CancelSubscription(ctx, sub)
	default:
		return fmt.Errorf("stripe: action %s is not applicable", action)
	}
}

// HandleJob adapts the processor to the job runtime.
func (p *Processor) HandleJob(ctx context.Context, msg *core.JobExecutionMessage) core.JobOutcome {
	raw, err := PayloadFromMessage(msg)
	if err != nil {
		return Result{Success: false, Error: err.Error(), Outcome: OutcomeInvalid, Permanent: true, Err: err}.JobOutcome()
	}
	return p.Process(ctx, raw).JobOutcome()
}

// NewJobMessage wraps a raw provider event for the queue. The event id is
// the idempotency key.
func NewJobMessage(raw []byte) (*core.JobExecutionMessage, error) {
	event, err := ParseEvent(raw)
	if err != nil {
		return nil, err
	}
	return &core.JobExecutionMessage{
		JobID:          JobID,
		ScriptPath:     JobID,
		Parameters:     map[string]any{PayloadParameter: string(raw), "event_type": event.Type},
		IdempotencyKey: event.ID,
		DedupPolicy:    "drop",
	}, nil
}

// PayloadFromMessage recovers the raw event JSON from a job message. The
// payload may have been round-tripped through a JSON-backed queue.
func PayloadFromMessage(msg *core.JobExecutionMessage) ([]byte, error) {
	if msg == nil {
		return nil, core.NewBadInputError("stripe: job message is required")
	}
	value, ok := msg.Parameters[PayloadParameter]
	if !ok || value == nil {
		return nil, core.NewBadInputError("stripe: job payload is required")
	}
	switch typed := value.(type) {
	case []byte:
		return typed, nil
	case json.RawMessage:
		return typed, nil
	case string:
		return []byte(typed), nil
	default:
		raw, err := json.Marshal(typed)
		if err != nil {
			return nil, core.NewBadInputError(fmt.Sprintf("stripe: job payload is invalid: %v", err))
		}
		return raw, nil
	}
}

func failed(result Result, err error) Result {
	result.Success = false
	result.Error = err.Error()
	result.Outcome = OutcomeFailed
	result.Permanent = false
	result.Err = err
	return result
}

func (p *Processor) requeueDelay() time.Duration {
	if p == nil || p.RequeueDelay <= 0 {
		return core.DefaultRequeueDelay
	}
	return p.RequeueDelay
}

func (p *Processor) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Processor) jobLog(ctx context.Context, message string) {
	if err := core.JobLoggerFromContext(ctx).Log(ctx, message); err != nil && p != nil && p.Observer != nil {
		p.Observer.LogWarn(ctx, "job log write failed", map[string]any{"error": err.Error()})
	}
}

func (p *Processor) observe(ctx context.Context, startedAt time.Time, result Result) {
	if p == nil || p.Observer == nil {
		return
	}
	var err error
	if !result.Success {
		err = result.Err
		if err == nil {
			err = fmt.Errorf("%s", strings.TrimSpace(result.Error))
		}
	}
	fields := map[string]any{
		"event_id":   result.EventID,
		"subject_id": result.SubjectID,
		"kind":       result.Kind.String(),
		"outcome":    string(result.Outcome),
		"status":     string(result.Outcome),
	}
	if result.RequeueAfter > 0 {
		fields["requeue_after_ms"] = result.RequeueAfterMs()
	}
	p.Observer.ObserveOperation(ctx, startedAt, "process_event", err, fields)
}

var _ core.JobHandler = (*Processor)(nil)
