package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/brightkit/billing/pkg/logger"
	"github.com/brightkit/billing/svc/pricing"
)

// InitiateCheckout quotes the purchase, abandons earlier pending sessions for
// the user, opens a hosted checkout at the provider, and records the pending
// session plus a trialing subscription linked to it.
//
// The provider call comes before any insert: a provider failure leaves no
// orphan records behind. A persistence failure after the provider call is the
// opposite case, the checkout already exists remotely, so the session is
// still returned and the gap heals through webhooks or reconciliation.
func (s *Service) InitiateCheckout(ctx context.Context, userID, email string, plan pricing.PlanType, seatCount int) (*CheckoutSession, error) {
	quote, err := pricing.Calculate(seatCount, plan)
	if err != nil {
		return nil, err
	}

	abandoned, err := s.sessions.DeletePendingByUser(ctx, userID)
	if err != nil {
		return nil, errors.Join(ErrFailedToStoreSession, err)
	}
	if abandoned > 0 {
		s.log.InfoContext(ctx, "abandoned stale checkout sessions",
			logger.UserID(userID),
			logger.Count("count", int(abandoned)))
	}

	sessionID := uuid.NewString()
	ref, err := s.provider.CreateCheckout(ctx, CheckoutRequest{
		SessionID:   sessionID,
		UserID:      userID,
		Email:       email,
		PlanType:    quote.PlanType,
		SeatCount:   quote.SeatCount,
		TotalAmount: quote.TotalAmount,
	})
	if err != nil {
		return nil, errors.Join(ErrFailedToCreateCheckout, ErrProviderUnavailable, err)
	}

	now := s.now()
	session := &CheckoutSession{
		ID:                sessionID,
		UserID:            userID,
		Email:             email,
		PlanType:          quote.PlanType,
		SeatCount:         quote.SeatCount,
		PerSeatPrice:      quote.PerSeatPrice,
		TotalAmount:       quote.TotalAmount,
		DiscountRate:      quote.DiscountRate,
		Status:            SessionPending,
		ProviderStatus:    ref.Status,
		CheckoutURL:       ref.URL,
		ProviderSessionID: ref.ProviderSessionID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.sessions.SaveSession(ctx, session); err != nil {
		// The provider-side checkout already exists. Hand the URL back anyway
		// and let reconciliation rebuild the local record.
		s.log.ErrorContext(ctx, "checkout session not persisted",
			logger.UserID(userID),
			logger.SessionID(session.ID),
			logger.Error(err))
		return session, nil
	}

	sub := &Subscription{
		ID:            uuid.NewString(),
		UserID:        userID,
		Email:         email,
		PlanType:      quote.PlanType,
		SeatCount:     quote.SeatCount,
		Status:        StatusTrialing,
		SessionID:     session.ID,
		TrialStartsAt: now,
		TrialEndsAt:   now.AddDate(0, 0, s.trialDays),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.saveSubscription(ctx, sub); err != nil {
		s.log.ErrorContext(ctx, "trial subscription not persisted",
			logger.UserID(userID),
			logger.SessionID(session.ID),
			logger.Error(err))
		return session, nil
	}

	s.log.InfoContext(ctx, "checkout session created",
		logger.UserID(userID),
		logger.SessionID(session.ID),
		slog.String("plan", string(plan)),
		slog.Int("seats", seatCount))

	return session, nil
}

// Cancel schedules cancellation of a subscription at the end of the paid
// period. The provider call happens first; local state only changes once the
// provider has accepted the request.
func (s *Service) Cancel(ctx context.Context, subscriptionID string) (*Subscription, error) {
	sub, err := s.subs.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if IsTerminal(sub.Status) {
		return nil, ErrAlreadyCancelled
	}
	if sub.Status == StatusCancelAtPeriodEnd {
		// Cancellation is already scheduled with the provider; asking again
		// changes nothing and must not fail when the provider is down.
		return sub, nil
	}

	next, ok := Transition(sub.Status, SignalCancelRequested)
	if !ok {
		return nil, fmt.Errorf("cannot cancel subscription in status %s", sub.Status)
	}

	if sub.ProviderSubscriptionID != "" {
		if err := s.provider.CancelAtPeriodEnd(ctx, sub.ProviderSubscriptionID); err != nil {
			return nil, errors.Join(ErrProviderUnavailable, err)
		}
	}

	sub.Status = next
	sub.UpdatedAt = s.now()
	if err := s.saveSubscription(ctx, sub); err != nil {
		return nil, errors.Join(ErrFailedToStoreSubscription, err)
	}

	s.log.InfoContext(ctx, "subscription cancellation scheduled",
		logger.UserID(sub.UserID),
		logger.SubscriptionID(sub.ID))

	return sub, nil
}
