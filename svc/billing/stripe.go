package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeSignatureHeader carries the Stripe webhook signature.
const StripeSignatureHeader = "Stripe-Signature"

// StripeProvider implements Provider on the Stripe API.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
}

// NewStripeProvider creates a Stripe provider. Without a webhook secret
// events are decoded without signature verification.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("stripe secret key is required")
	}
	return &StripeProvider{
		api:           client.New(strings.TrimSpace(cfg.SecretKey), nil),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
	}, nil
}

func (p *StripeProvider) Name() string { return ProviderStripe }

func (p *StripeProvider) ResolvePrice(ctx context.Context, lookupKey string) (string, error) {
	if lookupKey == "" {
		return "", ErrPriceNotFound
	}
	params := &stripe.PriceListParams{
		ListParams: stripe.ListParams{Context: ctx},
		LookupKeys: stripe.StringSlice([]string{lookupKey}),
		Active:     stripe.Bool(true),
	}
	it := p.api.Prices.List(params)
	if it.Next() {
		return it.Price().ID, nil
	}
	if err := it.Err(); err != nil {
		return "", errors.Join(ErrUpstreamProvider, err)
	}
	return "", fmt.Errorf("%w: %q", ErrPriceNotFound, lookupKey)
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Params:                   stripe.Params{Context: ctx},
		Mode:                     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:                 stripe.String(req.CustomerID),
		BillingAddressCollection: stripe.String(string(stripe.CheckoutSessionBillingAddressCollectionAuto)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	if req.ClientReference != "" {
		params.ClientReferenceID = stripe.String(req.ClientReference)
	}

	sess, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return CheckoutSession{}, errors.Join(ErrUpstreamProvider, err)
	}
	return stripeCheckoutSession(sess), nil
}

func (p *StripeProvider) GetCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, error) {
	if sessionID == "" {
		return CheckoutSession{}, ErrInvalidSession
	}
	sess, err := p.api.CheckoutSessions.Get(sessionID, &stripe.CheckoutSessionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && (serr.Code == stripe.ErrorCodeResourceMissing || serr.HTTPStatusCode == http.StatusNotFound) {
			return CheckoutSession{}, ErrInvalidSession
		}
		return CheckoutSession{}, errors.Join(ErrUpstreamProvider, err)
	}
	return stripeCheckoutSession(sess), nil
}

func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	sess, err := p.api.BillingPortalSessions.New(&stripe.BillingPortalSessionParams{
		Params:    stripe.Params{Context: ctx},
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	})
	if err != nil {
		return "", errors.Join(ErrUpstreamProvider, err)
	}
	return sess.URL, nil
}

func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (ProviderSubscription, error) {
	sub, err := p.api.Subscriptions.Get(subscriptionID, &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return ProviderSubscription{}, errors.Join(ErrUpstreamProvider, err)
	}

	out := ProviderSubscription{
		ID:     sub.ID,
		Status: string(sub.Status),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
		if item.Price != nil {
			out.PriceID = item.Price.ID
			out.LookupKey = item.Price.LookupKey
			if item.Price.Recurring != nil {
				out.Interval = string(item.Price.Recurring.Interval)
			}
		}
	}
	return out, nil
}

// CreateCustomer keys the request on the user id, so Stripe answers repeated
// calls for one user with the same customer.
func (p *StripeProvider) CreateCustomer(ctx context.Context, email string, userID uuid.UUID) (string, error) {
	cust, err := p.api.Customers.New(&stripe.CustomerParams{
		Params: stripe.Params{
			Context:        ctx,
			IdempotencyKey: stripe.String(customerIdempotencyKey(userID)),
		},
		Email:    stripe.String(email),
		Metadata: map[string]string{"user_id": userID.String()},
	})
	if err != nil {
		return "", errors.Join(ErrUpstreamProvider, err)
	}
	return cust.ID, nil
}

func customerIdempotencyKey(userID uuid.UUID) string {
	return "promptr-customer-" + userID.String()
}

func (p *StripeProvider) ParseEvent(_ context.Context, payload []byte, header http.Header) (Event, error) {
	return parseStripeEvent(payload, header.Get(StripeSignatureHeader), p.webhookSecret)
}

// parseStripeEvent verifies sig against secret and normalizes the event. An
// empty secret decodes the payload as-is.
func parseStripeEvent(payload []byte, sig, secret string) (Event, error) {
	var event stripe.Event
	if secret != "" {
		if strings.TrimSpace(sig) == "" {
			return Event{}, ErrSignatureVerificationFailed
		}
		var err error
		event, err = webhook.ConstructEventWithOptions(payload, sig, secret, webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
		if err != nil {
			return Event{}, errors.Join(ErrSignatureVerificationFailed, err)
		}
	} else if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, errors.Join(ErrInvalidPayload, err)
	}
	if event.ID == "" || event.Type == "" || event.Data == nil {
		return Event{}, fmt.Errorf("%w: missing id, type or data", ErrInvalidPayload)
	}

	out := Event{
		ID:           event.ID,
		ProviderType: string(event.Type),
		CreatedAt:    unixTime(event.Created),
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var sess stripeCheckoutObject
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return Event{}, errors.Join(ErrInvalidPayload, err)
		}
		out.Type = EventCheckoutCompleted
		out.Checkout = &CheckoutSession{
			ID:             sess.ID,
			CustomerID:     sess.Customer,
			SubscriptionID: sess.Subscription,
			Status:         sess.Status,
		}

	case "customer.subscription.created", "customer.subscription.updated",
		"customer.subscription.deleted", "customer.subscription.trial_will_end":
		var sub stripeSubscriptionObject
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return Event{}, errors.Join(ErrInvalidPayload, err)
		}
		out.Type = stripeSubscriptionEventTypes[string(event.Type)]
		ps := sub.normalize()
		out.Subscription = &ps

	case "entitlements.active_entitlement_summary.updated":
		out.Type = EventEntitlementsUpdated

	default:
		out.Type = EventUnhandled
	}
	return out, nil
}

var stripeSubscriptionEventTypes = map[string]EventType{
	"customer.subscription.created":        EventSubscriptionCreated,
	"customer.subscription.updated":        EventSubscriptionUpdated,
	"customer.subscription.deleted":        EventSubscriptionDeleted,
	"customer.subscription.trial_will_end": EventTrialWillEnd,
}

// stripeCheckoutObject is the checkout.session object of a webhook event.
// Customer and subscription arrive unexpanded.
type stripeCheckoutObject struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Status       string `json:"status"`
}

type stripeSubscriptionObject struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Status   string `json:"status"`
	// CurrentPeriodEnd is only sent by API versions that predate per-item
	// billing periods.
	CurrentPeriodEnd int64 `json:"current_period_end"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID        string `json:"id"`
				LookupKey string `json:"lookup_key"`
				Recurring *struct {
					Interval string `json:"interval"`
				} `json:"recurring"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (s stripeSubscriptionObject) normalize() ProviderSubscription {
	out := ProviderSubscription{
		ID:               s.ID,
		CustomerID:       s.Customer,
		Status:           s.Status,
		CurrentPeriodEnd: unixTime(s.CurrentPeriodEnd),
	}
	if len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		if item.CurrentPeriodEnd > 0 {
			out.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
		}
		out.PriceID = item.Price.ID
		out.LookupKey = item.Price.LookupKey
		if item.Price.Recurring != nil {
			out.Interval = item.Price.Recurring.Interval
		}
	}
	return out
}

func stripeCheckoutSession(sess *stripe.CheckoutSession) CheckoutSession {
	out := CheckoutSession{
		ID:     sess.ID,
		URL:    sess.URL,
		Status: string(sess.Status),
	}
	if sess.Customer != nil {
		out.CustomerID = sess.Customer.ID
	}
	if sess.Subscription != nil {
		out.SubscriptionID = sess.Subscription.ID
	}
	return out
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
