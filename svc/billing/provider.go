package billing

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// EventType is the provider-neutral kind of a webhook event.
type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout.completed"
	EventSubscriptionCreated EventType = "subscription.created"
	EventSubscriptionUpdated EventType = "subscription.updated"
	EventSubscriptionDeleted EventType = "subscription.deleted"
	EventTrialWillEnd        EventType = "subscription.trial_will_end"
	EventEntitlementsUpdated EventType = "entitlements.updated"
	EventUnhandled           EventType = "unhandled"
)

// Event is a verified webhook event normalized across providers.
type Event struct {
	ID string
	// Type is the normalized kind; ProviderType keeps the provider's name
	// for logging.
	Type         EventType
	ProviderType string
	CreatedAt    time.Time

	// Checkout is set for EventCheckoutCompleted.
	Checkout *CheckoutSession
	// Subscription is set for the subscription lifecycle events.
	Subscription *ProviderSubscription
}

// CheckoutRequest describes a hosted subscription checkout.
type CheckoutRequest struct {
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
	// ClientReference is echoed back by the provider on the session.
	ClientReference string
}

// Provider is a payment processor holding customers, subscriptions and
// hosted checkout/portal sessions.
type Provider interface {
	Name() string
	// ResolvePrice maps a price lookup key ("monthly", "yearly") to the
	// provider price id. ErrPriceNotFound when nothing matches.
	ResolvePrice(ctx context.Context, lookupKey string) (string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	GetSubscription(ctx context.Context, subscriptionID string) (ProviderSubscription, error)
	CreateCustomer(ctx context.Context, email string, userID uuid.UUID) (string, error)
	// ParseEvent verifies the webhook signature carried in header and
	// decodes payload. ErrSignatureVerificationFailed on a bad signature,
	// ErrInvalidPayload on undecodable input.
	ParseEvent(ctx context.Context, payload []byte, header http.Header) (Event, error)
}
