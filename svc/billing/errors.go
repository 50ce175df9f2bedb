package billing

import "errors"

var (
	ErrAuthenticationRequired      = errors.New("authentication required")
	ErrUserNotFound                = errors.New("user not found")
	ErrUserExists                  = errors.New("user already exists")
	ErrNoBillingCustomer           = errors.New("user has no billing customer")
	ErrInvalidSession              = errors.New("invalid checkout session")
	ErrQuotaExhausted              = errors.New("prompt optimization quota exhausted")
	ErrSignatureVerificationFailed = errors.New("webhook signature verification failed")
	ErrUpstreamProvider            = errors.New("billing provider request failed")
	ErrPersistence                 = errors.New("entitlement store failure")
	ErrInvalidPayload              = errors.New("invalid webhook payload")
	ErrPriceNotFound               = errors.New("no price for lookup key")
	ErrMissingWebhookSecret        = errors.New("webhook secret is required when verification is enabled")
	ErrUnknownProvider             = errors.New("unknown billing provider")
	ErrEventInFlight               = errors.New("webhook event is being processed")
	ErrEmailNotVerified            = errors.New("email address is not verified")
)
