package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"

	"github.com/brightkit/billing/svc/pricing"
)

// PaddleConfig holds configuration for the Paddle billing provider.
type PaddleConfig struct {
	APIKey         string `env:"PADDLE_API_KEY,required"`
	WebhookSecret  string `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment    string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
	BasicPriceID   string `env:"PADDLE_BASIC_PRICE_ID,required"`
	PremiumPriceID string `env:"PADDLE_PREMIUM_PRICE_ID,required"`
	SuccessURL     string `env:"PADDLE_SUCCESS_URL"`
}

// PaddleProvider implements Provider for Paddle.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	config   PaddleConfig
}

// NewPaddleProvider creates a new Paddle billing provider.
func NewPaddleProvider(config PaddleConfig) (*PaddleProvider, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	if config.BasicPriceID == "" || config.PremiumPriceID == "" {
		return nil, ErrMissingPriceID
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(config.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(config.APIKey)
	case "production", "":
		client, err = paddle.New(config.APIKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidProviderEnv, config.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(config.WebhookSecret),
		config:   config,
	}, nil
}

func (p *PaddleProvider) priceIDFor(plan pricing.PlanType) (string, error) {
	switch plan {
	case pricing.PlanBasic:
		return p.config.BasicPriceID, nil
	case pricing.PlanPremium:
		return p.config.PremiumPriceID, nil
	default:
		return "", ErrMissingPriceID
	}
}

// CreateCheckout creates a hosted checkout transaction in Paddle. The local
// session ID travels in custom data and comes back on every webhook, which is
// how events are tied back to the originating checkout.
func (p *PaddleProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSessionRef, error) {
	priceID, err := p.priceIDFor(req.PlanType)
	if err != nil {
		return nil, err
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  priceID,
		Quantity: req.SeatCount,
	})

	transactionReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"session_id": req.SessionID,
			"user_id":    req.UserID,
			"email":      req.Email,
			"seat_count": strconv.Itoa(req.SeatCount),
		},
	}
	if p.config.SuccessURL != "" {
		transactionReq.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(p.config.SuccessURL),
		}
	}

	transaction, err := p.client.TransactionsClient.CreateTransaction(ctx, transactionReq)
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle transaction: %w", err)
	}

	if transaction.Checkout == nil || transaction.Checkout.URL == nil {
		return nil, ErrNoCheckoutURL
	}

	return &CheckoutSessionRef{
		ProviderSessionID: transaction.ID,
		Status:            string(transaction.Status),
		URL:               *transaction.Checkout.URL,
		ExpiresAt:         time.Now().Add(24 * time.Hour),
	}, nil
}

// GetCheckoutSession fetches a checkout transaction from Paddle.
func (p *PaddleProvider) GetCheckoutSession(ctx context.Context, providerSessionID string) (*ProviderSession, error) {
	transaction, err := p.client.TransactionsClient.GetTransaction(ctx, &paddle.GetTransactionRequest{
		TransactionID: providerSessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get paddle transaction: %w", err)
	}

	out := &ProviderSession{
		ID:     transaction.ID,
		Status: string(transaction.Status),
	}
	if transaction.SubscriptionID != nil {
		out.SubscriptionID = *transaction.SubscriptionID
	}
	return out, nil
}

// GetSubscription fetches the current subscription state from Paddle.
func (p *PaddleProvider) GetSubscription(ctx context.Context, providerSubID string) (*ProviderSubscription, error) {
	sub, err := p.client.SubscriptionsClient.GetSubscription(ctx, &paddle.GetSubscriptionRequest{
		SubscriptionID: providerSubID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get paddle subscription: %w", err)
	}

	out := &ProviderSubscription{
		ID:         sub.ID,
		CustomerID: sub.CustomerID,
		Status:     string(sub.Status),
	}
	if sub.ScheduledChange != nil && sub.ScheduledChange.Action == paddle.ScheduledChangeActionCancel {
		out.ScheduledCancel = true
	}
	if sub.CurrentBillingPeriod != nil {
		if ends, err := time.Parse(time.RFC3339, sub.CurrentBillingPeriod.EndsAt); err == nil {
			out.CurrentPeriodEnd = ends
		}
	}
	return out, nil
}

// CancelAtPeriodEnd schedules cancellation for the end of the billing period.
func (p *PaddleProvider) CancelAtPeriodEnd(ctx context.Context, providerSubID string) error {
	_, err := p.client.SubscriptionsClient.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: providerSubID,
		EffectiveFrom:  paddle.PtrTo(paddle.EffectiveFromNextBillingPeriod),
	})
	if err != nil {
		return fmt.Errorf("failed to cancel paddle subscription: %w", err)
	}
	return nil
}

// ParseWebhook validates the Paddle signature and normalizes the payload into
// an Event. Verification failures return ErrSignatureInvalid; verified
// payloads that cannot be decoded return a plain error for the caller to log.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request for verification: %w", err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrSignatureInvalid, err)
	}
	if !valid {
		return nil, ErrSignatureInvalid
	}

	var paddleEvent struct {
		EventID    string         `json:"event_id"`
		EventType  string         `json:"event_type"`
		OccurredAt string         `json:"occurred_at"`
		Data       map[string]any `json:"data"`
	}
	if err := json.Unmarshal(payload, &paddleEvent); err != nil {
		return nil, fmt.Errorf("failed to parse webhook payload: %w", err)
	}

	event := &Event{
		ID:   paddleEvent.EventID,
		Kind: mapPaddleEventType(paddleEvent.EventType),
	}
	if occurred, err := time.Parse(time.RFC3339, paddleEvent.OccurredAt); err == nil {
		event.OccurredAt = occurred
	}

	switch {
	case strings.HasPrefix(paddleEvent.EventType, "transaction."):
		event.Checkout = parseTransactionData(paddleEvent.Data)
	case strings.HasPrefix(paddleEvent.EventType, "subscription."):
		event.Subscription = parseSubscriptionData(paddleEvent.Data)
	}

	// Paddle reports failed payments on the transaction, but the lifecycle
	// reacts at the subscription level.
	if event.Kind == EventPaymentFailed && event.Subscription == nil {
		event.Subscription = &SubscriptionEventData{ProviderStatus: "past_due"}
		if event.Checkout != nil {
			event.Subscription.ProviderSubscriptionID = event.Checkout.ProviderSubscriptionID
		}
	}

	return event, nil
}

func mapPaddleEventType(paddleEvent string) EventKind {
	switch paddleEvent {
	case "transaction.completed":
		return EventCheckoutCompleted
	case "transaction.canceled", "transaction.past_due":
		return EventCheckoutExpired
	case "subscription.updated", "subscription.created", "subscription.resumed":
		return EventSubscriptionUpdated
	case "subscription.canceled":
		return EventSubscriptionDeleted
	case "transaction.payment_failed":
		return EventPaymentFailed
	default:
		return EventUnknown
	}
}

func parseTransactionData(data map[string]any) *CheckoutEventData {
	out := &CheckoutEventData{}
	if id, ok := data["id"].(string); ok {
		out.ProviderSessionID = id
	}
	if subID, ok := data["subscription_id"].(string); ok {
		out.ProviderSubscriptionID = subID
	}
	if customerID, ok := data["customer_id"].(string); ok {
		out.ProviderCustomerID = customerID
	}
	if status, ok := data["status"].(string); ok {
		out.ProviderStatus = status
	}
	if customData, ok := data["custom_data"].(map[string]any); ok {
		if userID, ok := customData["user_id"].(string); ok {
			out.UserID = userID
		}
		if email, ok := customData["email"].(string); ok {
			out.Email = email
		}
	}
	return out
}

func parseSubscriptionData(data map[string]any) *SubscriptionEventData {
	out := &SubscriptionEventData{}
	if id, ok := data["id"].(string); ok {
		out.ProviderSubscriptionID = id
	}
	if status, ok := data["status"].(string); ok {
		out.ProviderStatus = status
	}
	if customerID, ok := data["customer_id"].(string); ok {
		out.ProviderCustomerID = customerID
	}
	if change, ok := data["scheduled_change"].(map[string]any); ok {
		if action, ok := change["action"].(string); ok && action == "cancel" {
			out.ScheduledCancel = true
		}
	}
	if period, ok := data["current_billing_period"].(map[string]any); ok {
		if endsAt, ok := period["ends_at"].(string); ok {
			if ends, err := time.Parse(time.RFC3339, endsAt); err == nil {
				out.CurrentPeriodEnd = ends
			}
		}
	}
	return out
}
