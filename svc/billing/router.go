package billing

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/brightkit/billing/core"
	"github.com/brightkit/billing/pkg/logger"
	"github.com/brightkit/billing/svc/pricing"
)

// maxWebhookBody caps incoming webhook payloads.
const maxWebhookBody = 1 << 20

// NewRouter exposes the billing service over HTTP. Mount under /billing.
func NewRouter(svc *Service, log *slog.Logger) http.Handler {
	if svc == nil {
		panic("billing: service is required")
	}
	if log == nil {
		log = slog.Default()
	}

	h := &handler{svc: svc, log: log}

	r := chi.NewRouter()
	r.Post("/checkout", h.initiateCheckout)
	r.Post("/webhook", h.handleWebhook)
	r.Post("/subscription/sync", h.syncSubscription)
	r.Post("/subscription/cancel", h.cancelSubscription)
	return r
}

type handler struct {
	svc *Service
	log *slog.Logger
}

type checkoutRequest struct {
	UserID    string           `json:"user_id"`
	Email     string           `json:"email"`
	PlanType  pricing.PlanType `json:"plan_type"`
	SeatCount int              `json:"seat_count"`
}

type syncRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

type cancelRequest struct {
	SubscriptionID string `json:"subscription_id"`
}

func (h *handler) initiateCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := core.DecodeJSON(r, &req); err != nil {
		core.JSONError(w, err)
		return
	}
	if req.UserID == "" || req.Email == "" {
		core.JSONError(w, core.ErrBadRequest)
		return
	}

	session, err := h.svc.InitiateCheckout(r.Context(), req.UserID, req.Email, req.PlanType, req.SeatCount)
	if err != nil {
		core.JSONError(w, h.mapError(r, err))
		return
	}
	core.JSON(w, http.StatusCreated, session)
}

// handleWebhook acknowledges everything the provider sends except payloads
// whose signature does not verify. Returning non-2xx for anything else would
// only cause redelivery of events that will never apply.
func (h *handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.log.WarnContext(r.Context(), "failed to read webhook body", logger.Error(err))
		core.JSONError(w, core.ErrBadRequest)
		return
	}

	signature := r.Header.Get("Paddle-Signature")
	if err := h.svc.HandleWebhook(r.Context(), payload, signature); err != nil {
		core.JSONError(w, core.ErrBadRequest)
		return
	}
	core.JSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *handler) syncSubscription(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := core.DecodeJSON(r, &req); err != nil {
		core.JSONError(w, err)
		return
	}
	if req.UserID == "" || req.Email == "" {
		core.JSONError(w, core.ErrBadRequest)
		return
	}

	result, err := h.svc.Sync(r.Context(), req.UserID, req.Email)
	if err != nil {
		core.JSONError(w, h.mapError(r, err))
		return
	}
	core.JSON(w, http.StatusOK, result)
}

func (h *handler) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := core.DecodeJSON(r, &req); err != nil {
		core.JSONError(w, err)
		return
	}
	if req.SubscriptionID == "" {
		core.JSONError(w, core.ErrBadRequest)
		return
	}

	sub, err := h.svc.Cancel(r.Context(), req.SubscriptionID)
	if err != nil {
		core.JSONError(w, h.mapError(r, err))
		return
	}
	core.JSON(w, http.StatusOK, sub)
}

func (h *handler) mapError(r *http.Request, err error) error {
	switch {
	case errors.Is(err, pricing.ErrInvalidSeatCount), errors.Is(err, pricing.ErrInvalidPlanType):
		return errors.Join(core.ErrUnprocessableEntity, err)
	case errors.Is(err, ErrSubscriptionNotFound), errors.Is(err, ErrSessionNotFound):
		return errors.Join(core.ErrNotFound, err)
	case errors.Is(err, ErrAlreadyCancelled):
		return errors.Join(core.ErrConflict, err)
	case errors.Is(err, ErrProviderUnavailable):
		h.log.ErrorContext(r.Context(), "billing provider unavailable", logger.Error(err))
		return errors.Join(core.ErrBadGateway, err)
	default:
		h.log.ErrorContext(r.Context(), "billing request failed", logger.Error(err))
		return err
	}
}
