package billing

import "time"

// EventKind classifies verified webhook events into the handful of signals
// the lifecycle cares about.
type EventKind string

const (
	EventCheckoutCompleted   EventKind = "checkout.completed"
	EventCheckoutExpired     EventKind = "checkout.expired"
	EventSubscriptionUpdated EventKind = "subscription.updated"
	EventSubscriptionDeleted EventKind = "subscription.deleted"
	EventPaymentFailed       EventKind = "payment.failed"
	EventUnknown             EventKind = "unknown"
)

// Event is a provider webhook after signature verification and normalization.
// Exactly one of Checkout or Subscription is set depending on the kind.
type Event struct {
	ID         string
	Kind       EventKind
	OccurredAt time.Time

	Checkout     *CheckoutEventData
	Subscription *SubscriptionEventData
}

// CheckoutEventData carries the fields of a transaction-scoped event.
type CheckoutEventData struct {
	ProviderSessionID      string
	ProviderSubscriptionID string
	ProviderCustomerID     string
	ProviderStatus         string
	UserID                 string
	Email                  string
}

// SubscriptionEventData carries the fields of a subscription-scoped event.
type SubscriptionEventData struct {
	ProviderSubscriptionID string
	ProviderCustomerID     string
	ProviderStatus         string
	ScheduledCancel        bool
	CurrentPeriodEnd       time.Time
}
