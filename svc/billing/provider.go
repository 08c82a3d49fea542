package billing

import (
	"context"
	"time"

	"github.com/brightkit/billing/svc/pricing"
)

// CheckoutRequest is the input for creating a hosted checkout at the provider.
type CheckoutRequest struct {
	SessionID   string
	UserID      string
	Email       string
	PlanType    pricing.PlanType
	SeatCount   int
	TotalAmount int64
}

// CheckoutSessionRef points at the provider-hosted checkout page.
type CheckoutSessionRef struct {
	ProviderSessionID string
	Status            string
	URL               string
	ExpiresAt         time.Time
}

// ProviderSession is the provider's view of a checkout transaction, including
// the subscription it spawned once payment settles.
type ProviderSession struct {
	ID             string
	Status         string
	SubscriptionID string
}

// ProviderSubscription is the provider's authoritative view of a subscription,
// used by webhooks and reconciliation to overwrite local state.
type ProviderSubscription struct {
	ID               string
	CustomerID       string
	Status           string
	ScheduledCancel  bool
	CurrentPeriodEnd time.Time
}

// Provider abstracts the payment provider. The production implementation is
// PaddleProvider; tests substitute a mock.
type Provider interface {
	// CreateCheckout opens a hosted checkout session for the request.
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSessionRef, error)
	// GetCheckoutSession fetches the current state of a checkout transaction,
	// used by reconciliation to discover the subscription it produced.
	GetCheckoutSession(ctx context.Context, providerSessionID string) (*ProviderSession, error)
	// GetSubscription fetches current subscription state from the provider.
	GetSubscription(ctx context.Context, providerSubID string) (*ProviderSubscription, error)
	// CancelAtPeriodEnd schedules cancellation for the end of the paid period.
	CancelAtPeriodEnd(ctx context.Context, providerSubID string) error
	// ParseWebhook verifies the payload signature and normalizes the event.
	// A bad signature yields ErrSignatureInvalid; any verified payload the
	// provider does not understand yields an event of kind EventUnknown.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error)
}
