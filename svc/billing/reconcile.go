package billing

import (
	"context"
	"errors"
	"log/slog"

	"github.com/brightkit/billing/pkg/logger"
)

// SyncResult reports what reconciliation found and did.
type SyncResult struct {
	// Available is false while the provider has not produced a subscription
	// for the checkout yet. That is a normal outcome for an abandoned or
	// still-open checkout, not a failure.
	Available    bool          `json:"available"`
	Changed      bool          `json:"changed"`
	Subscription *Subscription `json:"subscription,omitempty"`
}

// Sync repairs the user's newest subscription from the provider's canonical
// records. It covers the webhook gap: when the completed event was lost, the
// local record still lacks a provider subscription ID, so Sync walks back
// through the linked checkout session to discover it, then overwrites local
// state with what the provider reports. Repeated calls converge: once local
// state matches the provider, Sync performs no further writes.
//
// Returns ErrSubscriptionNotFound when the user has no subscription at all.
func (s *Service) Sync(ctx context.Context, userID, email string) (*SyncResult, error) {
	sub, err := s.subs.LatestByUserEmail(ctx, userID, email)
	if err != nil {
		return nil, err
	}

	changed := false
	if sub.ProviderSubscriptionID == "" {
		providerSubID, err := s.discoverProviderSubscription(ctx, sub)
		if err != nil {
			return nil, err
		}
		if providerSubID == "" {
			return &SyncResult{Available: false, Subscription: sub}, nil
		}
		sub.ProviderSubscriptionID = providerSubID
		changed = true
	}

	remote, err := s.provider.GetSubscription(ctx, sub.ProviderSubscriptionID)
	if err != nil {
		return nil, errors.Join(ErrProviderUnavailable, err)
	}

	// A terminal record is never resurrected. If the provider still reports
	// it live the mismatch is logged and left for the delete webhook.
	if IsTerminal(sub.Status) {
		if sig, _ := signalForProviderState(remote.Status, remote.ScheduledCancel); sig != SignalDeleted {
			s.log.WarnContext(ctx, "provider still reports cancelled subscription live",
				logger.SubscriptionID(sub.ID))
		}
		return &SyncResult{Available: true, Subscription: sub}, nil
	}

	before := *sub
	s.overlayProviderState(sub, remote)
	if sub.Status != before.Status ||
		!sub.CurrentPeriodEnd.Equal(before.CurrentPeriodEnd) ||
		sub.ProviderCustomerID != before.ProviderCustomerID {
		changed = true
	}

	if !changed {
		return &SyncResult{Available: true, Subscription: sub}, nil
	}

	sub.UpdatedAt = s.now()
	if err := s.saveSubscription(ctx, sub); err != nil {
		return nil, errors.Join(ErrFailedToStoreSubscription, err)
	}

	s.log.InfoContext(ctx, "subscription reconciled",
		logger.UserID(userID),
		logger.SubscriptionID(sub.ID),
		slog.String("from", string(before.Status)),
		slog.String("to", string(sub.Status)))

	return &SyncResult{Available: true, Changed: true, Subscription: sub}, nil
}

// discoverProviderSubscription follows the subscription's checkout session to
// the provider transaction and returns the subscription ID it spawned, or ""
// when the provider has not created one yet.
func (s *Service) discoverProviderSubscription(ctx context.Context, sub *Subscription) (string, error) {
	if sub.SessionID == "" {
		return "", nil
	}
	session, err := s.sessions.GetSession(ctx, sub.SessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return "", nil
		}
		return "", err
	}
	if session.ProviderSessionID == "" {
		return "", nil
	}

	providerSession, err := s.provider.GetCheckoutSession(ctx, session.ProviderSessionID)
	if err != nil {
		return "", errors.Join(ErrProviderUnavailable, err)
	}
	return providerSession.SubscriptionID, nil
}
