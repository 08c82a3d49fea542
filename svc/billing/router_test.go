package billing_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/brightkit/billing/svc/billing"
)

func TestWebhookEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("bad signature returns 400", func(t *testing.T) {
		t.Parallel()

		svc, m := newTestService(t)
		m.provider.On("ParseWebhook", mock.Anything, mock.Anything, "bad").
			Return(nil, billing.ErrSignatureInvalid)
		router := billing.NewRouter(svc, nil)

		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{}`))
		req.Header.Set("Paddle-Signature", "bad")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("verified event for unknown records still returns 200", func(t *testing.T) {
		t.Parallel()

		svc, m := newTestService(t)
		m.provider.On("ParseWebhook", mock.Anything, mock.Anything, "sig").
			Return(&billing.Event{
				ID:           "evt_1",
				Kind:         billing.EventSubscriptionDeleted,
				Subscription: &billing.SubscriptionEventData{ProviderSubscriptionID: "psub_unknown"},
			}, nil)
		m.subs.On("GetByProviderSubscriptionID", mock.Anything, "psub_unknown").
			Return(nil, billing.ErrSubscriptionNotFound)
		router := billing.NewRouter(svc, nil)

		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{}`))
		req.Header.Set("Paddle-Signature", "sig")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("malformed checkout body returns 400", func(t *testing.T) {
		t.Parallel()

		svc, _ := newTestService(t)
		router := billing.NewRouter(svc, nil)

		req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{not json`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid seat count returns 422", func(t *testing.T) {
		t.Parallel()

		svc, _ := newTestService(t)
		router := billing.NewRouter(svc, nil)

		req := httptest.NewRequest(http.MethodPost, "/checkout",
			strings.NewReader(`{"user_id":"u1","email":"a@b.c","plan_type":"basic","seat_count":0}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}
