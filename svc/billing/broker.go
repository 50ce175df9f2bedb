package billing

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/promptr-app/promptr/pkg/logger"
	"github.com/promptr-app/promptr/pkg/metrics"
)

// CheckoutSessionPlaceholder is replaced by the provider with the session id.
const CheckoutSessionPlaceholder = "{CHECKOUT_SESSION_ID}"

// PortalRequest identifies the customer to open the billing portal for:
// either a completed checkout session or an authenticated user.
type PortalRequest struct {
	SessionID string
	UserID    uuid.UUID
}

// Broker creates hosted checkout and billing-portal sessions. It never
// mutates subscriptions; the reconciler does once the provider reports back.
type Broker struct {
	store    Store
	provider Provider
	baseURL  string
	log      *slog.Logger
}

// NewBroker creates a Broker redirecting users back to baseURL.
func NewBroker(store Store, provider Provider, baseURL string, log *slog.Logger) *Broker {
	if log == nil {
		log = logger.Discard()
	}
	return &Broker{
		store:    store,
		provider: provider,
		baseURL:  baseURL,
		log:      log.With(logger.Component("broker"), logger.Provider(provider.Name())),
	}
}

// SuccessURL is where the hosted checkout sends the user after paying. The
// provider fills in the session id placeholder.
func (b *Broker) SuccessURL() string {
	return b.baseURL + "/admin/thank-you?success=true&session_id=" + CheckoutSessionPlaceholder
}

// CancelURL is where an abandoned checkout returns.
func (b *Broker) CancelURL() string {
	return b.baseURL + "/admin/thank-you?canceled=true"
}

// ReturnURL is where the billing portal sends the user back.
func (b *Broker) ReturnURL() string {
	return b.baseURL + "/admin/pricing"
}

// CreateCheckoutSession opens a subscription checkout for the price behind
// lookupKey on the user's billing customer.
func (b *Broker) CreateCheckoutSession(ctx context.Context, userID uuid.UUID, lookupKey string) (CheckoutSession, error) {
	sess, err := b.createCheckoutSession(ctx, userID, lookupKey)
	if err != nil {
		metrics.SessionsTotal.WithLabelValues("checkout", "failed").Inc()
		return CheckoutSession{}, err
	}
	metrics.SessionsTotal.WithLabelValues("checkout", "created").Inc()
	return sess, nil
}

func (b *Broker) createCheckoutSession(ctx context.Context, userID uuid.UUID, lookupKey string) (CheckoutSession, error) {
	if userID == uuid.Nil {
		return CheckoutSession{}, ErrAuthenticationRequired
	}
	ent, err := b.store.Get(ctx, userID)
	if err != nil {
		return CheckoutSession{}, err
	}
	if ent.User.CustomerID == "" {
		return CheckoutSession{}, ErrNoBillingCustomer
	}

	priceID, err := b.provider.ResolvePrice(ctx, lookupKey)
	if err != nil {
		return CheckoutSession{}, err
	}

	sess, err := b.provider.CreateCheckoutSession(ctx, CheckoutRequest{
		CustomerID:      ent.User.CustomerID,
		PriceID:         priceID,
		SuccessURL:      b.SuccessURL(),
		CancelURL:       b.CancelURL(),
		ClientReference: userID.String(),
	})
	if err != nil {
		b.log.ErrorContext(ctx, "failed to create checkout session",
			logger.UserID(userID), logger.CustomerID(ent.User.CustomerID), logger.Error(err))
		return CheckoutSession{}, err
	}
	b.log.InfoContext(ctx, "checkout session created",
		logger.UserID(userID), logger.SessionID(sess.ID), slog.String("lookup_key", lookupKey))
	return sess, nil
}

// CreatePortalSession returns a billing portal URL. The session id takes
// precedence over the user's stored customer reference.
func (b *Broker) CreatePortalSession(ctx context.Context, req PortalRequest) (string, error) {
	customerID, err := b.portalCustomer(ctx, req)
	if err != nil {
		metrics.SessionsTotal.WithLabelValues("portal", "failed").Inc()
		return "", err
	}

	url, err := b.provider.CreatePortalSession(ctx, customerID, b.ReturnURL())
	if err != nil {
		metrics.SessionsTotal.WithLabelValues("portal", "failed").Inc()
		b.log.ErrorContext(ctx, "failed to create portal session", logger.CustomerID(customerID), logger.Error(err))
		return "", err
	}
	metrics.SessionsTotal.WithLabelValues("portal", "created").Inc()
	return url, nil
}

func (b *Broker) portalCustomer(ctx context.Context, req PortalRequest) (string, error) {
	if req.SessionID != "" {
		sess, err := b.provider.GetCheckoutSession(ctx, req.SessionID)
		if err != nil {
			return "", err
		}
		if sess.CustomerID == "" {
			return "", ErrInvalidSession
		}
		return sess.CustomerID, nil
	}

	if req.UserID == uuid.Nil {
		return "", ErrInvalidSession
	}
	ent, err := b.store.Get(ctx, req.UserID)
	if err != nil {
		return "", err
	}
	if ent.User.CustomerID == "" {
		return "", ErrNoBillingCustomer
	}
	return ent.User.CustomerID, nil
}

// CheckoutStatus correlates a checkout session with the subscription the
// reconciler stored for it, if it has arrived yet.
func (b *Broker) CheckoutStatus(ctx context.Context, sessionID string) (CheckoutStatus, error) {
	sess, err := b.provider.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return CheckoutStatus{}, err
	}
	if sess.SubscriptionID == "" {
		return CheckoutStatus{}, errors.Join(ErrInvalidSession, errors.New("session has no subscription"))
	}

	sub, err := b.store.SubscriptionByProviderID(ctx, sess.SubscriptionID)
	if err != nil {
		return CheckoutStatus{}, err
	}
	return CheckoutStatus{Session: sess, Subscription: sub}, nil
}
