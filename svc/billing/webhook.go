package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/brightkit/billing/pkg/email"
	"github.com/brightkit/billing/pkg/logger"
)

// HandleWebhook verifies, deduplicates, and applies a provider webhook.
//
// The provider delivers at least once with no ordering guarantee, so every
// handler is an idempotent absolute-state write. Only a signature failure is
// returned as an error; everything else is acknowledged so the provider stops
// retrying, with problems logged instead.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.provider.ParseWebhook(ctx, payload, signature)
	if err != nil {
		if errors.Is(err, ErrSignatureInvalid) {
			return err
		}
		s.log.WarnContext(ctx, "unreadable webhook payload acknowledged", logger.Error(err))
		return nil
	}

	if event.ID != "" && s.dedup != nil {
		first, err := s.dedup.MarkProcessed(ctx, event.ID)
		if err != nil {
			s.log.WarnContext(ctx, "webhook dedup unavailable, processing anyway",
				logger.EventID(event.ID), logger.Error(err))
		} else if !first {
			s.log.DebugContext(ctx, "duplicate webhook skipped", logger.EventID(event.ID))
			return nil
		}
	}

	if err := s.applyEvent(ctx, event); err != nil {
		s.log.ErrorContext(ctx, "webhook event not applied",
			logger.EventID(event.ID),
			logger.EventKind(string(event.Kind)),
			logger.Error(err))
		return nil
	}

	s.log.InfoContext(ctx, "webhook event applied",
		logger.EventID(event.ID),
		logger.EventKind(string(event.Kind)))
	return nil
}

func (s *Service) applyEvent(ctx context.Context, event *Event) error {
	switch event.Kind {
	case EventCheckoutCompleted:
		return s.onCheckoutCompleted(ctx, event)
	case EventCheckoutExpired:
		return s.onCheckoutExpired(ctx, event)
	case EventSubscriptionUpdated:
		return s.onSubscriptionUpdated(ctx, event)
	case EventSubscriptionDeleted:
		return s.onSubscriptionDeleted(ctx, event)
	case EventPaymentFailed:
		return s.onPaymentFailed(ctx, event)
	default:
		s.log.DebugContext(ctx, "unhandled webhook event kind",
			logger.EventKind(string(event.Kind)))
		return nil
	}
}

// onCheckoutCompleted finalizes the session and creates the local
// subscription record from the provider's authoritative state.
func (s *Service) onCheckoutCompleted(ctx context.Context, event *Event) error {
	data := event.Checkout
	if data == nil {
		return errors.New("checkout event missing transaction data")
	}

	session, err := s.sessions.GetSessionByProviderID(ctx, data.ProviderSessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			s.log.WarnContext(ctx, "completed checkout for unknown session",
				slog.String("provider_session_id", data.ProviderSessionID))
			return nil
		}
		return err
	}

	now := s.now()
	if err := s.sessions.UpdateSessionStatus(ctx, session.ID, SessionCompleted, data.ProviderStatus, now); err != nil {
		return err
	}

	// Checkout initiation already created a trialing record linked to the
	// session; the completed event attaches the provider subscription to it.
	// If initiation lost the write, rebuild the record from the session.
	sub, err := s.subs.GetBySessionID(ctx, session.ID)
	if err != nil {
		if !errors.Is(err, ErrSubscriptionNotFound) {
			return err
		}
		sub = &Subscription{
			ID:            uuid.NewString(),
			UserID:        session.UserID,
			Email:         session.Email,
			PlanType:      session.PlanType,
			SeatCount:     session.SeatCount,
			Status:        StatusTrialing,
			SessionID:     session.ID,
			TrialStartsAt: now,
			TrialEndsAt:   now.AddDate(0, 0, s.trialDays),
			CreatedAt:     now,
		}
	}

	if IsTerminal(sub.Status) {
		return nil
	}

	if data.ProviderCustomerID != "" {
		sub.ProviderCustomerID = data.ProviderCustomerID
	}
	if data.ProviderSubscriptionID != "" {
		sub.ProviderSubscriptionID = data.ProviderSubscriptionID
		// Provider state wins over the trial default when it is reachable.
		if remote, err := s.provider.GetSubscription(ctx, data.ProviderSubscriptionID); err == nil {
			s.overlayProviderState(sub, remote)
		} else {
			s.log.WarnContext(ctx, "provider state fetch failed, keeping trial state",
				logger.SubscriptionID(sub.ID), logger.Error(err))
		}
	}

	sub.UpdatedAt = now
	return s.saveSubscription(ctx, sub)
}

// onCheckoutExpired releases the pending session so the user can try again.
func (s *Service) onCheckoutExpired(ctx context.Context, event *Event) error {
	data := event.Checkout
	if data == nil {
		return errors.New("checkout event missing transaction data")
	}

	session, err := s.sessions.GetSessionByProviderID(ctx, data.ProviderSessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}
	if session.Status != SessionPending {
		return nil
	}
	return s.sessions.UpdateSessionStatus(ctx, session.ID, SessionExpired, data.ProviderStatus, s.now())
}

func (s *Service) onSubscriptionUpdated(ctx context.Context, event *Event) error {
	data := event.Subscription
	if data == nil {
		return errors.New("subscription event missing subscription data")
	}

	sub, err := s.subs.GetByProviderSubscriptionID(ctx, data.ProviderSubscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			s.log.WarnContext(ctx, "update for unknown subscription acknowledged",
				slog.String("provider_subscription_id", data.ProviderSubscriptionID))
			return nil
		}
		return err
	}

	sig, ok := signalForProviderState(data.ProviderStatus, data.ScheduledCancel)
	if !ok {
		return fmt.Errorf("unrecognized provider status %q", data.ProviderStatus)
	}
	next, ok := Transition(sub.Status, sig)
	if !ok {
		s.log.DebugContext(ctx, "stale lifecycle signal ignored",
			logger.SubscriptionID(sub.ID),
			slog.String("status", string(sub.Status)),
			slog.String("signal", string(sig)))
		return nil
	}

	sub.Status = next
	if !data.CurrentPeriodEnd.IsZero() {
		sub.CurrentPeriodEnd = data.CurrentPeriodEnd
	}
	if data.ProviderCustomerID != "" {
		sub.ProviderCustomerID = data.ProviderCustomerID
	}
	sub.UpdatedAt = s.now()
	return s.saveSubscription(ctx, sub)
}

func (s *Service) onSubscriptionDeleted(ctx context.Context, event *Event) error {
	data := event.Subscription
	if data == nil {
		return errors.New("subscription event missing subscription data")
	}

	sub, err := s.subs.GetByProviderSubscriptionID(ctx, data.ProviderSubscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil
		}
		return err
	}
	if sub.Status == StatusCancelled {
		return nil
	}

	sub.Status = StatusCancelled
	sub.UpdatedAt = s.now()
	return s.saveSubscription(ctx, sub)
}

// onPaymentFailed marks the subscription past due and notifies the account
// owner. The notification is best effort.
func (s *Service) onPaymentFailed(ctx context.Context, event *Event) error {
	data := event.Subscription
	if data == nil {
		return errors.New("subscription event missing subscription data")
	}

	sub, err := s.subs.GetByProviderSubscriptionID(ctx, data.ProviderSubscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil
		}
		return err
	}

	next, ok := Transition(sub.Status, SignalPastDue)
	if !ok {
		return nil
	}

	sub.Status = next
	sub.UpdatedAt = s.now()
	if err := s.saveSubscription(ctx, sub); err != nil {
		return err
	}

	if s.mailer != nil && sub.Email != "" {
		params := email.SendEmailParams{
			SendTo:   sub.Email,
			Subject:  "Payment failed for your subscription",
			BodyHTML: paymentFailedBody(sub),
			Tag:      "payment-failed",
		}
		if err := s.mailer.SendEmail(ctx, params); err != nil {
			s.log.WarnContext(ctx, "payment failure notification not sent",
				logger.SubscriptionID(sub.ID), logger.Error(err))
		}
	}
	return nil
}

// overlayProviderState overwrites the mutable lifecycle fields of a local
// record with the provider's current view.
func (s *Service) overlayProviderState(sub *Subscription, remote *ProviderSubscription) {
	if sig, ok := signalForProviderState(remote.Status, remote.ScheduledCancel); ok {
		if mapped, ok := statusForSignal(sig); ok {
			sub.Status = mapped
		}
	}
	if !remote.CurrentPeriodEnd.IsZero() {
		sub.CurrentPeriodEnd = remote.CurrentPeriodEnd
	}
	if remote.CustomerID != "" {
		sub.ProviderCustomerID = remote.CustomerID
	}
}

// statusForSignal resolves the status a provider-reported signal describes,
// independent of local state. Used when the provider is authoritative.
func statusForSignal(sig Signal) (Status, bool) {
	switch sig {
	case SignalTrialStarted:
		return StatusTrialing, true
	case SignalActivated:
		return StatusActive, true
	case SignalPastDue:
		return StatusPastDue, true
	case SignalCancelRequested:
		return StatusCancelAtPeriodEnd, true
	case SignalDeleted:
		return StatusCancelled, true
	default:
		return "", false
	}
}

func paymentFailedBody(sub *Subscription) string {
	return fmt.Sprintf(
		"<p>We could not collect payment for your %s plan (%d seats).</p>"+
			"<p>Please update your payment method before %s to keep access for your students.</p>",
		sub.PlanType, sub.SeatCount, sub.CurrentPeriodEnd.Format(time.DateOnly))
}
