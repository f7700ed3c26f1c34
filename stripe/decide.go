package stripe

import "github.com/goliatone/go-billing/core"

// Action is the mutation a decision asks for.
type Action int

const (
	ActionNone Action = iota
	ActionCompleteCheckout
	ActionMarkInvoicePaid
	ActionUpdateSubscription
	ActionCancelSubscription
)

func (a Action) String() string {
	switch a {
	case ActionCompleteCheckout:
		return "complete_checkout"
	case ActionMarkInvoicePaid:
		return "mark_invoice_paid"
	case ActionUpdateSubscription:
		return "update_subscription"
	case ActionCancelSubscription:
		return "cancel_subscription"
	default:
		return "none"
	}
}

// Verdict is the processor's reaction to a (kind, state) pair.
type Verdict int

const (
	VerdictApply Verdict = iota
	VerdictDefer
	VerdictReject
	VerdictNoop
	VerdictIgnore
)

func (v Verdict) String() string {
	switch v {
	case VerdictApply:
		return "apply"
	case VerdictDefer:
		return "defer"
	case VerdictReject:
		return "reject"
	case VerdictNoop:
		return "noop"
	default:
		return "ignore"
	}
}

const rejectAlreadyProcessedCheckout = "already processed checkout"

// Decision is the output of the transition table. Next is meaningful only
// when Advance is set; ClearMarker replaces the marker write.
type Decision struct {
	Verdict     Verdict
	Action      Action
	Next        core.SubscriptionState
	Advance     bool
	ClearMarker bool
	Reason      string
}

// Decide is the pure transition table.
func Decide(kind Kind, current core.SubscriptionState) Decision {
	switch kind {
	case KindCheckoutCompleted:
		if current == core.StateWaitingCheckout {
			return Decision{
				Verdict: VerdictApply,
				Action:  ActionCompleteCheckout,
				Next:    core.StateCheckoutDone,
				Advance: true,
			}
		}
		return Decision{Verdict: VerdictReject, Reason: rejectAlreadyProcessedCheckout}
	case KindInvoicePaid:
		switch current {
		case core.StateCheckoutDone:
			return Decision{
				Verdict: VerdictApply,
				Action:  ActionMarkInvoicePaid,
				Next:    core.StateInvoicePaid,
				Advance: true,
			}
		case core.StateInvoicePaid:
			return Decision{Verdict: VerdictNoop, Reason: "invoice already paid"}
		default:
			return Decision{Verdict: VerdictDefer, Reason: "invoice.paid arrived before checkout completion"}
		}
	case KindSubscriptionUpdated:
		if current == core.StateInvoicePaid {
			return Decision{Verdict: VerdictApply, Action: ActionUpdateSubscription}
		}
		return Decision{Verdict: VerdictDefer, Reason: "subscription update arrived before invoice payment"}
	case KindSubscriptionDeleted:
		if current == core.StateInvoicePaid {
			return Decision{
				Verdict:     VerdictApply,
				Action:      ActionCancelSubscription,
				ClearMarker: true,
			}
		}
		return Decision{Verdict: VerdictDefer, Reason: "subscription deletion arrived before invoice payment"}
	default:
		return Decision{Verdict: VerdictIgnore, Reason: "event type not supported"}
	}
}
