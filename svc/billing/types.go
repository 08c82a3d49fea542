package billing

import (
	"time"

	"github.com/brightkit/billing/svc/pricing"
)

// SessionStatus tracks a checkout session through its short life.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionCompleted SessionStatus = "completed"
	SessionExpired   SessionStatus = "expired"
)

// Status is the lifecycle state of a subscription.
type Status string

const (
	StatusTrialing          Status = "trialing"
	StatusActive            Status = "active"
	StatusPastDue           Status = "past_due"
	StatusCancelAtPeriodEnd Status = "cancel_at_period_end"
	StatusCancelled         Status = "cancelled"
)

// Entitled reports whether the status still grants access to paid features.
// A subscription scheduled for cancellation keeps access until the period ends.
func (s Status) Entitled() bool {
	switch s {
	case StatusTrialing, StatusActive, StatusCancelAtPeriodEnd:
		return true
	default:
		return false
	}
}

// CheckoutSession is a pending purchase handed off to the payment provider.
// At most one pending session exists per user at a time.
type CheckoutSession struct {
	ID                string           `json:"id" bson:"_id"`
	UserID            string           `json:"user_id" bson:"user_id"`
	Email             string           `json:"email" bson:"email"`
	PlanType          pricing.PlanType `json:"plan_type" bson:"plan_type"`
	SeatCount         int              `json:"seat_count" bson:"seat_count"`
	PerSeatPrice      int64            `json:"per_seat_price" bson:"per_seat_price"`
	TotalAmount       int64            `json:"total_amount" bson:"total_amount"`
	DiscountRate      float64          `json:"discount_rate" bson:"discount_rate"`
	Status            SessionStatus    `json:"status" bson:"status"`
	ProviderStatus    string           `json:"-" bson:"provider_status"`
	CheckoutURL       string           `json:"checkout_url" bson:"checkout_url"`
	ProviderSessionID string           `json:"-" bson:"provider_session_id"`
	CreatedAt         time.Time        `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at" bson:"updated_at"`
}

// Subscription is the local record of a provider subscription. It is kept in
// sync by webhooks and reconciliation; provider state always wins.
type Subscription struct {
	ID                     string           `json:"id" bson:"_id"`
	UserID                 string           `json:"user_id" bson:"user_id"`
	Email                  string           `json:"email" bson:"email"`
	PlanType               pricing.PlanType `json:"plan_type" bson:"plan_type"`
	SeatCount              int              `json:"seat_count" bson:"seat_count"`
	Status                 Status           `json:"status" bson:"status"`
	SessionID              string           `json:"-" bson:"session_id"`
	ProviderCustomerID     string           `json:"provider_customer_id,omitempty" bson:"provider_customer_id"`
	ProviderSubscriptionID string           `json:"provider_subscription_id,omitempty" bson:"provider_subscription_id"`
	CurrentPeriodEnd       time.Time        `json:"current_period_end" bson:"current_period_end"`
	TrialStartsAt          time.Time        `json:"trial_starts_at,omitzero" bson:"trial_starts_at"`
	TrialEndsAt            time.Time        `json:"trial_ends_at,omitzero" bson:"trial_ends_at"`
	CreatedAt              time.Time        `json:"created_at" bson:"created_at"`
	UpdatedAt              time.Time        `json:"updated_at" bson:"updated_at"`
}

// BillingProjection is the denormalized billing summary embedded in the user
// document so reads never join against the subscription collection.
type BillingProjection struct {
	Status           Status           `json:"status" bson:"status"`
	PlanType         pricing.PlanType `json:"plan_type" bson:"plan_type"`
	SeatCount        int              `json:"seat_count" bson:"seat_count"`
	CurrentPeriodEnd time.Time        `json:"current_period_end" bson:"current_period_end"`
	UpdatedAt        time.Time        `json:"updated_at" bson:"updated_at"`
}

// projectionOf derives the user-facing projection from a subscription record.
func projectionOf(sub *Subscription, now time.Time) BillingProjection {
	return BillingProjection{
		Status:           sub.Status,
		PlanType:         sub.PlanType,
		SeatCount:        sub.SeatCount,
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
		UpdatedAt:        now,
	}
}
