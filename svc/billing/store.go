package billing

import (
	"context"
	"time"
)

// SessionStore persists checkout sessions.
type SessionStore interface {
	// SaveSession writes the full session record, replacing any existing one
	// with the same ID.
	SaveSession(ctx context.Context, session *CheckoutSession) error
	// GetSession looks up a session by its ID. Returns ErrSessionNotFound
	// when no session matches.
	GetSession(ctx context.Context, sessionID string) (*CheckoutSession, error)
	// GetSessionByProviderID looks up a session by the provider's transaction ID.
	// Returns ErrSessionNotFound when no session matches.
	GetSessionByProviderID(ctx context.Context, providerSessionID string) (*CheckoutSession, error)
	// UpdateSessionStatus sets the local status of an existing session along
	// with the provider's raw status string for the same transition.
	UpdateSessionStatus(ctx context.Context, sessionID string, status SessionStatus, providerStatus string, updatedAt time.Time) error
	// DeletePendingByUser removes all pending sessions for a user, returning
	// the number removed. Starting a new checkout abandons older attempts.
	DeletePendingByUser(ctx context.Context, userID string) (int64, error)
}

// SubscriptionStore persists subscription records. Writes are absolute-state
// replacements: the caller supplies the full record and the last writer wins.
type SubscriptionStore interface {
	// UpsertSubscription replaces the record with the same ID, inserting if absent.
	UpsertSubscription(ctx context.Context, sub *Subscription) error
	// GetSubscription returns ErrSubscriptionNotFound when no record matches.
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	// GetBySessionID finds the subscription created by a checkout session.
	GetBySessionID(ctx context.Context, sessionID string) (*Subscription, error)
	// GetByProviderSubscriptionID returns ErrSubscriptionNotFound when no record matches.
	GetByProviderSubscriptionID(ctx context.Context, providerSubID string) (*Subscription, error)
	// LatestByUserEmail returns the newest subscription for the (user, email)
	// pair by creation time, or ErrSubscriptionNotFound.
	LatestByUserEmail(ctx context.Context, userID, email string) (*Subscription, error)
}

// ProjectionStore writes the billing summary embedded in user documents.
type ProjectionStore interface {
	UpsertBilling(ctx context.Context, userID string, projection BillingProjection) error
}
