package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/brightkit/billing/pkg/email"
	"github.com/brightkit/billing/svc/billing"
	"github.com/brightkit/billing/svc/pricing"
)

type mockSessionStore struct{ mock.Mock }

func (m *mockSessionStore) SaveSession(ctx context.Context, session *billing.CheckoutSession) error {
	return m.Called(ctx, session).Error(0)
}

func (m *mockSessionStore) GetSession(ctx context.Context, sessionID string) (*billing.CheckoutSession, error) {
	args := m.Called(ctx, sessionID)
	if s := args.Get(0); s != nil {
		return s.(*billing.CheckoutSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSessionStore) GetSessionByProviderID(ctx context.Context, providerSessionID string) (*billing.CheckoutSession, error) {
	args := m.Called(ctx, providerSessionID)
	if s := args.Get(0); s != nil {
		return s.(*billing.CheckoutSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSessionStore) UpdateSessionStatus(ctx context.Context, sessionID string, status billing.SessionStatus, providerStatus string, updatedAt time.Time) error {
	return m.Called(ctx, sessionID, status, providerStatus, updatedAt).Error(0)
}

func (m *mockSessionStore) DeletePendingByUser(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

type mockSubscriptionStore struct{ mock.Mock }

func (m *mockSubscriptionStore) UpsertSubscription(ctx context.Context, sub *billing.Subscription) error {
	return m.Called(ctx, sub).Error(0)
}

func (m *mockSubscriptionStore) GetSubscription(ctx context.Context, id string) (*billing.Subscription, error) {
	args := m.Called(ctx, id)
	if s := args.Get(0); s != nil {
		return s.(*billing.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSubscriptionStore) GetBySessionID(ctx context.Context, sessionID string) (*billing.Subscription, error) {
	args := m.Called(ctx, sessionID)
	if s := args.Get(0); s != nil {
		return s.(*billing.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSubscriptionStore) GetByProviderSubscriptionID(ctx context.Context, providerSubID string) (*billing.Subscription, error) {
	args := m.Called(ctx, providerSubID)
	if s := args.Get(0); s != nil {
		return s.(*billing.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSubscriptionStore) LatestByUserEmail(ctx context.Context, userID, email string) (*billing.Subscription, error) {
	args := m.Called(ctx, userID, email)
	if s := args.Get(0); s != nil {
		return s.(*billing.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockProjectionStore struct{ mock.Mock }

func (m *mockProjectionStore) UpsertBilling(ctx context.Context, userID string, projection billing.BillingProjection) error {
	return m.Called(ctx, userID, projection).Error(0)
}

type mockProvider struct{ mock.Mock }

func (m *mockProvider) CreateCheckout(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSessionRef, error) {
	args := m.Called(ctx, req)
	if r := args.Get(0); r != nil {
		return r.(*billing.CheckoutSessionRef), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) GetCheckoutSession(ctx context.Context, providerSessionID string) (*billing.ProviderSession, error) {
	args := m.Called(ctx, providerSessionID)
	if r := args.Get(0); r != nil {
		return r.(*billing.ProviderSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) GetSubscription(ctx context.Context, providerSubID string) (*billing.ProviderSubscription, error) {
	args := m.Called(ctx, providerSubID)
	if r := args.Get(0); r != nil {
		return r.(*billing.ProviderSubscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProvider) CancelAtPeriodEnd(ctx context.Context, providerSubID string) error {
	return m.Called(ctx, providerSubID).Error(0)
}

func (m *mockProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*billing.Event, error) {
	args := m.Called(ctx, payload, signature)
	if e := args.Get(0); e != nil {
		return e.(*billing.Event), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockDedupStore struct{ mock.Mock }

func (m *mockDedupStore) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	args := m.Called(ctx, eventID)
	return args.Bool(0), args.Error(1)
}

type mockMailer struct{ mock.Mock }

func (m *mockMailer) SendEmail(ctx context.Context, params email.SendEmailParams) error {
	return m.Called(ctx, params).Error(0)
}

type serviceMocks struct {
	sessions    *mockSessionStore
	subs        *mockSubscriptionStore
	projections *mockProjectionStore
	provider    *mockProvider
}

var testNow = time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, opts ...billing.ServiceOption) (*billing.Service, *serviceMocks) {
	t.Helper()

	m := &serviceMocks{
		sessions:    &mockSessionStore{},
		subs:        &mockSubscriptionStore{},
		projections: &mockProjectionStore{},
		provider:    &mockProvider{},
	}
	opts = append([]billing.ServiceOption{
		billing.WithClock(func() time.Time { return testNow }),
	}, opts...)
	svc := billing.NewService(m.sessions, m.subs, m.projections, m.provider, opts...)

	t.Cleanup(func() {
		m.sessions.AssertExpectations(t)
		m.subs.AssertExpectations(t)
		m.projections.AssertExpectations(t)
		m.provider.AssertExpectations(t)
	})
	return svc, m
}

func TestInitiateCheckout(t *testing.T) {
	t.Parallel()

	t.Run("creates session and trial subscription", func(t *testing.T) {
		t.Parallel()

		svc, m := newTestService(t)
		m.sessions.On("DeletePendingByUser", mock.Anything, "user-1").Return(int64(0), nil)
		m.provider.On("CreateCheckout", mock.Anything, mock.MatchedBy(func(req billing.CheckoutRequest) bool {
			return req.UserID == "user-1" && req.SeatCount == 1500 && req.TotalAmount == 8_356_500
		})).Return(&billing.CheckoutSessionRef{
			ProviderSessionID: "txn_123",
			Status:            "ready",
			URL:               "https://pay.example.com/txn_123",
		}, nil)
		m.sessions.On("SaveSession", mock.Anything, mock.MatchedBy(func(session *billing.CheckoutSession) bool {
			return session.Status == billing.SessionPending &&
				session.PerSeatPrice == 5571 &&
				session.DiscountRate == 0.07 &&
				session.ProviderStatus == "ready" &&
				session.ProviderSessionID == "txn_123"
		})).Return(nil)
		m.subs.On("UpsertSubscription", mock.Anything, mock.MatchedBy(func(sub *billing.Subscription) bool {
			return sub.Status == billing.StatusTrialing &&
				sub.UserID == "user-1" &&
				sub.SessionID != "" &&
				sub.TrialStartsAt.Equal(testNow) &&
				sub.TrialEndsAt.Equal(testNow.AddDate(0, 0, 14))
		})).Return(nil)
		m.projections.On("UpsertBilling", mock.Anything, "user-1", mock.MatchedBy(func(p billing.BillingProjection) bool {
			return p.Status == billing.StatusTrialing
		})).Return(nil)

		session, err := svc.InitiateCheckout(context.Background(), "user-1", "school@example.com", pricing.PlanPremium, 1500)
		require.NoError(t, err)

		assert.Equal(t, billing.SessionPending, session.Status)
		assert.Equal(t, int64(8_356_500), session.TotalAmount)
		assert.Equal(t, "https://pay.example.com/txn_123", session.CheckoutURL)
	})

	t.Run("abandons stale pending sessions first", func(t *testing.T) {
		t.Parallel()

		svc, m := newTestService(t)
		m.sessions.On("DeletePendingByUser", mock.Anything, "user-1").Return(int64(2), nil)
		m.provider.On("CreateCheckout", mock.Anything, mock.Anything).
			Return(&billing.CheckoutSessionRef{ProviderSessionID: "txn_1", URL: "https://pay.example.com/1"}, nil)
		m.sessions.On("SaveSession", mock.Anything, mock.Anything).Return(nil)
		m.subs.On("UpsertSubscription", mock.Anything, mock.Anything).Return(nil)
		m.projections.On("UpsertBilling", mock.Anything, "user-1", mock.Anything).Return(nil)

		_, err := svc.InitiateCheckout(context.Background(), "user-1", "school@example.com", pricing.PlanBasic, 10)
		require.NoError(t, err)
	})

	t.Run("rejects invalid seat count before any writes", func(t *testing.T) {
		t.Parallel()

		svc, _ := newTestService(t)
		_, err := svc.InitiateCheckout(context.Background(), "user-1", "school@example.com", pricing.PlanBasic, 0)
		assert.ErrorIs(t, err, pricing.ErrInvalidSeatCount)
	})

	t.Run("provider failure writes no records", func(t *testing.T) {
		t.Parallel()

		svc, m := newTestService(t)
		m.sessions.On("DeletePendingByUser", mock.Anything, "user-1").Return(int64(0), nil)
		m.provider.On("CreateCheckout", mock.Anything, mock.Anything).Return(nil, assert.AnError)

		_, err := svc.InitiateCheckout(context.Background(), "user-1", "school@example.com", pricing.PlanBasic, 10)
		assert.ErrorIs(t, err, billing.ErrProviderUnavailable)
		assert.ErrorIs(t, err, billing.ErrFailedToCreateCheckout)
	})

	t.Run("persistence failure after provider call still returns the session", func(t *testing.T) {
		t.Parallel()

		svc, m := newTestService(t)
		m.sessions.On("DeletePendingByUser", mock.Anything, "user-1").Return(int64(0), nil)
		m.provider.On("CreateCheckout", mock.Anything, mock.Anything).
			Return(&billing.CheckoutSessionRef{ProviderSessionID: "txn_1", URL: "https://pay.example.com/1"}, nil)
		m.sessions.On("SaveSession", mock.Anything, mock.Anything).Return(assert.AnError)

		session, err := svc.InitiateCheckout(context.Background(), "user-1", "school@example.com", pricing.PlanBasic, 10)
		require.NoError(t, err)
		assert.Equal(t, "https://pay.example.com/1", session.CheckoutURL)
	})
}

func TestCancel(t *testing.T) {
	t.Parallel()

	t.Run("schedules cancellation at provider then locally", func(t *testing.T) {
		t.Parallel()

		svc, m := newTestService(t)
		m.subs.On("GetSubscription", mock.Anything, "sub-1").
			Return(&billing.Subscription{
				ID:                     "sub-1",
				UserID:                 "user-1",
				Email:                  "school@example.com",
				Status:                 billing.StatusActive,
				ProviderSubscriptionID: "psub_1",
			}, nil)
		m.provider.On("CancelAtPeriodEnd", mock.Anything, "psub_1").Return(nil)
		m.subs.On("UpsertSubscription", mock.Anything, mock.MatchedBy(func(sub *billing.Subscription) bool {
			return sub.Status == billing.StatusCancelAtPeriodEnd
		})).Return(nil)
		m.projections.On("UpsertBilling", mock.Anything, "user-1", mock.MatchedBy(func(p billing.BillingProjection) bool {
			return p.Status == billing.StatusCancelAtPeriodEnd
		})).Return(nil)

		sub, err := svc.Cancel(context.Background(), "sub-1")
		require.NoError(t, err)
		assert.Equal(t, billing.StatusCancelAtPeriodEnd, sub.Status)
	})

	t.Run("repeat cancel returns the scheduled record without a provider call", func(t *testing.T) {
		t.Parallel()

		svc, m := newTestService(t)
		m.subs.On("GetSubscription", mock.Anything, "sub-1").
			Return(&billing.Subscription{
				ID:                     "sub-1",
				Status:                 billing.StatusCancelAtPeriodEnd,
				ProviderSubscriptionID: "psub_1",
			}, nil)

		sub, err := svc.Cancel(context.Background(), "sub-1")
		require.NoError(t, err)
		assert.Equal(t, billing.StatusCancelAtPeriodEnd, sub.Status)
		m.provider.AssertNotCalled(t, "CancelAtPeriodEnd", mock.Anything, mock.Anything)
	})

	t.Run("already cancelled", func(t *testing.T) {
		t.Parallel()

		svc, m := newTestService(t)
		m.subs.On("GetSubscription", mock.Anything, "sub-1").
			Return(&billing.Subscription{ID: "sub-1", Status: billing.StatusCancelled}, nil)

		_, err := svc.Cancel(context.Background(), "sub-1")
		assert.ErrorIs(t, err, billing.ErrAlreadyCancelled)
	})

	t.Run("provider failure keeps local state untouched", func(t *testing.T) {
		t.Parallel()

		svc, m := newTestService(t)
		m.subs.On("GetSubscription", mock.Anything, "sub-1").
			Return(&billing.Subscription{
				ID:                     "sub-1",
				Status:                 billing.StatusActive,
				ProviderSubscriptionID: "psub_1",
			}, nil)
		m.provider.On("CancelAtPeriodEnd", mock.Anything, "psub_1").Return(assert.AnError)

		_, err := svc.Cancel(context.Background(), "sub-1")
		assert.ErrorIs(t, err, billing.ErrProviderUnavailable)
	})

	t.Run("unknown subscription", func(t *testing.T) {
		t.Parallel()

		svc, m := newTestService(t)
		m.subs.On("GetSubscription", mock.Anything, "sub-missing").
			Return(nil, billing.ErrSubscriptionNotFound)

		_, err := svc.Cancel(context.Background(), "sub-missing")
		assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)
	})
}

func TestSync(t *testing.T) {
	t.Parallel()

	t.Run("no subscription at all", func(t *testing.T) {
		t.Parallel()

		svc, m := newTestService(t)
		m.subs.On("LatestByUserEmail", mock.Anything, "user-1", "school@example.com").
			Return(nil, billing.ErrSubscriptionNotFound)

		_, err := svc.Sync(context.Background(), "user-1", "school@example.com")
		assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)
	})

	t.Run("checkout has not produced a subscription yet", func(t *testing.T) {
		t.Parallel()

		svc, m := newTestService(t)
		m.subs.On("LatestByUserEmail", mock.Anything, "user-1", "school@example.com").
			Return(&billing.Subscription{ID: "sub-1", Status: billing.StatusTrialing, SessionID: "sess-1"}, nil)
		m.sessions.On("GetSession", mock.Anything, "sess-1").
			Return(&billing.CheckoutSession{ID: "sess-1", ProviderSessionID: "txn_1"}, nil)
		m.provider.On("GetCheckoutSession", mock.Anything, "txn_1").
			Return(&billing.ProviderSession{ID: "txn_1", Status: "ready"}, nil)

		result, err := svc.Sync(context.Background(), "user-1", "school@example.com")
		require.NoError(t, err)
		assert.False(t, result.Available)
		assert.False(t, result.Changed)
	})

	t.Run("discovers provider subscription through the session", func(t *testing.T) {
		t.Parallel()

		periodEnd := testNow.AddDate(0, 1, 0)
		svc, m := newTestService(t)
		m.subs.On("LatestByUserEmail", mock.Anything, "user-1", "school@example.com").
			Return(&billing.Subscription{
				ID:        "sub-1",
				UserID:    "user-1",
				Status:    billing.StatusTrialing,
				SessionID: "sess-1",
			}, nil)
		m.sessions.On("GetSession", mock.Anything, "sess-1").
			Return(&billing.CheckoutSession{ID: "sess-1", ProviderSessionID: "txn_1"}, nil)
		m.provider.On("GetCheckoutSession", mock.Anything, "txn_1").
			Return(&billing.ProviderSession{ID: "txn_1", Status: "completed", SubscriptionID: "psub_1"}, nil)
		m.provider.On("GetSubscription", mock.Anything, "psub_1").
			Return(&billing.ProviderSubscription{ID: "psub_1", CustomerID: "ctm_1", Status: "active", CurrentPeriodEnd: periodEnd}, nil)
		m.subs.On("UpsertSubscription", mock.Anything, mock.MatchedBy(func(sub *billing.Subscription) bool {
			return sub.ProviderSubscriptionID == "psub_1" &&
				sub.ProviderCustomerID == "ctm_1" &&
				sub.Status == billing.StatusActive &&
				sub.CurrentPeriodEnd.Equal(periodEnd)
		})).Return(nil)
		m.projections.On("UpsertBilling", mock.Anything, "user-1", mock.Anything).Return(nil)

		result, err := svc.Sync(context.Background(), "user-1", "school@example.com")
		require.NoError(t, err)
		assert.True(t, result.Available)
		assert.True(t, result.Changed)
		assert.Equal(t, billing.StatusActive, result.Subscription.Status)
	})

	t.Run("overwrites drifted local state", func(t *testing.T) {
		t.Parallel()

		periodEnd := testNow.AddDate(0, 1, 0)
		svc, m := newTestService(t)
		m.subs.On("LatestByUserEmail", mock.Anything, "user-1", "school@example.com").
			Return(&billing.Subscription{
				ID:                     "sub-1",
				UserID:                 "user-1",
				Status:                 billing.StatusPastDue,
				ProviderSubscriptionID: "psub_1",
			}, nil)
		m.provider.On("GetSubscription", mock.Anything, "psub_1").
			Return(&billing.ProviderSubscription{ID: "psub_1", Status: "active", CurrentPeriodEnd: periodEnd}, nil)
		m.subs.On("UpsertSubscription", mock.Anything, mock.MatchedBy(func(sub *billing.Subscription) bool {
			return sub.Status == billing.StatusActive && sub.CurrentPeriodEnd.Equal(periodEnd)
		})).Return(nil)
		m.projections.On("UpsertBilling", mock.Anything, "user-1", mock.Anything).Return(nil)

		result, err := svc.Sync(context.Background(), "user-1", "school@example.com")
		require.NoError(t, err)
		assert.True(t, result.Changed)
	})

	t.Run("converged state writes nothing", func(t *testing.T) {
		t.Parallel()

		periodEnd := testNow.AddDate(0, 1, 0)
		svc, m := newTestService(t)
		m.subs.On("LatestByUserEmail", mock.Anything, "user-1", "school@example.com").
			Return(&billing.Subscription{
				ID:                     "sub-1",
				Status:                 billing.StatusActive,
				ProviderSubscriptionID: "psub_1",
				CurrentPeriodEnd:       periodEnd,
			}, nil)
		m.provider.On("GetSubscription", mock.Anything, "psub_1").
			Return(&billing.ProviderSubscription{ID: "psub_1", Status: "active", CurrentPeriodEnd: periodEnd}, nil)

		result, err := svc.Sync(context.Background(), "user-1", "school@example.com")
		require.NoError(t, err)
		assert.True(t, result.Available)
		assert.False(t, result.Changed)
	})

	t.Run("newly reported customer id is persisted", func(t *testing.T) {
		t.Parallel()

		periodEnd := testNow.AddDate(0, 1, 0)
		svc, m := newTestService(t)
		m.subs.On("LatestByUserEmail", mock.Anything, "user-1", "school@example.com").
			Return(&billing.Subscription{
				ID:                     "sub-1",
				UserID:                 "user-1",
				Status:                 billing.StatusActive,
				ProviderSubscriptionID: "psub_1",
				CurrentPeriodEnd:       periodEnd,
			}, nil)
		m.provider.On("GetSubscription", mock.Anything, "psub_1").
			Return(&billing.ProviderSubscription{ID: "psub_1", CustomerID: "ctm_1", Status: "active", CurrentPeriodEnd: periodEnd}, nil)
		m.subs.On("UpsertSubscription", mock.Anything, mock.MatchedBy(func(sub *billing.Subscription) bool {
			return sub.ProviderCustomerID == "ctm_1"
		})).Return(nil)
		m.projections.On("UpsertBilling", mock.Anything, "user-1", mock.Anything).Return(nil)

		result, err := svc.Sync(context.Background(), "user-1", "school@example.com")
		require.NoError(t, err)
		assert.True(t, result.Changed)
	})

	t.Run("cancelled subscription is never resurrected", func(t *testing.T) {
		t.Parallel()

		svc, m := newTestService(t)
		m.subs.On("LatestByUserEmail", mock.Anything, "user-1", "school@example.com").
			Return(&billing.Subscription{
				ID:                     "sub-1",
				Status:                 billing.StatusCancelled,
				ProviderSubscriptionID: "psub_1",
			}, nil)
		m.provider.On("GetSubscription", mock.Anything, "psub_1").
			Return(&billing.ProviderSubscription{ID: "psub_1", Status: "active"}, nil)

		result, err := svc.Sync(context.Background(), "user-1", "school@example.com")
		require.NoError(t, err)
		assert.True(t, result.Available)
		assert.False(t, result.Changed)
		assert.Equal(t, billing.StatusCancelled, result.Subscription.Status)
	})

	t.Run("provider outage", func(t *testing.T) {
		t.Parallel()

		svc, m := newTestService(t)
		m.subs.On("LatestByUserEmail", mock.Anything, "user-1", "school@example.com").
			Return(&billing.Subscription{ID: "sub-1", Status: billing.StatusActive, ProviderSubscriptionID: "psub_1"}, nil)
		m.provider.On("GetSubscription", mock.Anything, "psub_1").Return(nil, assert.AnError)

		_, err := svc.Sync(context.Background(), "user-1", "school@example.com")
		assert.ErrorIs(t, err, billing.ErrProviderUnavailable)
	})
}
