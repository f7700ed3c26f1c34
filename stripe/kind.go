package stripe

import "strings"

// Kind is the closed set of provider event types the processor handles.
type Kind int

const (
	KindUnknown Kind = iota
	KindCheckoutCompleted
	KindInvoicePaid
	KindSubscriptionUpdated
	KindSubscriptionDeleted
)

const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventInvoicePaid              = "invoice.paid"
	EventSubscriptionUpdated      = "customer.subscription.updated"
	EventSubscriptionDeleted      = "customer.subscription.deleted"
)

// Classify maps a provider event type to its Kind.
func Classify(eventType string) Kind {
	switch strings.TrimSpace(eventType) {
	case EventCheckoutSessionCompleted:
		return KindCheckoutCompleted
	case EventInvoicePaid:
		return KindInvoicePaid
	case EventSubscriptionUpdated:
		return KindSubscriptionUpdated
	case EventSubscriptionDeleted:
		return KindSubscriptionDeleted
	default:
		return KindUnknown
	}
}

func (k Kind) Handled() bool {
	return k != KindUnknown
}

func (k Kind) String() string {
	switch k {
	case KindCheckoutCompleted:
		return "checkout_completed"
	case KindInvoicePaid:
		return "invoice_paid"
	case KindSubscriptionUpdated:
		return "subscription_updated"
	case KindSubscriptionDeleted:
		return "subscription_deleted"
	default:
		return "unknown"
	}
}
