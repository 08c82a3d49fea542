package billing

import "errors"

var (
	ErrSignatureInvalid     = errors.New("webhook signature verification failed")
	ErrProviderUnavailable  = errors.New("billing provider request failed")
	ErrSessionNotFound      = errors.New("checkout session not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrAlreadyCancelled     = errors.New("subscription is already cancelled")

	ErrMissingAPIKey             = errors.New("provider API key is required")
	ErrMissingWebhookSecret      = errors.New("provider webhook secret is required")
	ErrInvalidProviderEnv        = errors.New("invalid provider environment")
	ErrMissingPriceID            = errors.New("no provider price configured for plan")
	ErrNoCheckoutURL             = errors.New("provider returned no checkout URL")
	ErrFailedToCreateCheckout    = errors.New("failed to create checkout session")
	ErrFailedToStoreSession      = errors.New("failed to store checkout session")
	ErrFailedToStoreSubscription = errors.New("failed to store subscription")
)
