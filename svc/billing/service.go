package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/brightkit/billing/pkg/email"
)

// Service coordinates checkout, webhook processing, reconciliation, and
// cancellation against the payment provider and the document store.
type Service struct {
	sessions    SessionStore
	subs        SubscriptionStore
	projections ProjectionStore
	provider    Provider

	dedup  DedupStore
	mailer email.EmailSender
	log    *slog.Logger
	now    func() time.Time

	trialDays int
}

// ServiceOption customizes optional Service collaborators.
type ServiceOption func(*Service)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log == nil {
			panic("billing: logger cannot be nil")
		}
		s.log = log
	}
}

// WithDedupStore enables webhook event deduplication.
func WithDedupStore(store DedupStore) ServiceOption {
	return func(s *Service) { s.dedup = store }
}

// WithMailer enables payment failure notifications.
func WithMailer(mailer email.EmailSender) ServiceOption {
	return func(s *Service) { s.mailer = mailer }
}

// WithClock overrides the time source, used in tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now == nil {
			panic("billing: clock cannot be nil")
		}
		s.now = now
	}
}

// WithTrialDays sets the trial length applied to new subscriptions that the
// provider reports as trialing. Defaults to 14.
func WithTrialDays(days int) ServiceOption {
	return func(s *Service) {
		if days < 0 {
			panic("billing: trial days cannot be negative")
		}
		s.trialDays = days
	}
}

// NewService wires the billing service. All four store/provider dependencies
// are required; missing ones are a programming error and panic.
func NewService(
	sessions SessionStore,
	subs SubscriptionStore,
	projections ProjectionStore,
	provider Provider,
	opts ...ServiceOption,
) *Service {
	if sessions == nil {
		panic("billing: session store is required")
	}
	if subs == nil {
		panic("billing: subscription store is required")
	}
	if projections == nil {
		panic("billing: projection store is required")
	}
	if provider == nil {
		panic("billing: provider is required")
	}

	s := &Service{
		sessions:    sessions,
		subs:        subs,
		projections: projections,
		provider:    provider,
		log:         slog.Default(),
		now:         time.Now,
		trialDays:   14,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// saveSubscription writes the subscription record and refreshes the user's
// billing projection. The projection is derived from the record so the two
// cannot drift apart.
func (s *Service) saveSubscription(ctx context.Context, sub *Subscription) error {
	if err := s.subs.UpsertSubscription(ctx, sub); err != nil {
		return err
	}
	return s.projections.UpsertBilling(ctx, sub.UserID, projectionOf(sub, s.now()))
}
