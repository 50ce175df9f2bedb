package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/google/uuid"
)

// PaddleSignatureHeader carries the Paddle webhook signature.
const PaddleSignatureHeader = "Paddle-Signature"

// PaddleProvider implements Provider on Paddle Billing. Paddle has no
// checkout session object; a checkout is a transaction and its id plays the
// session id.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	// prices maps lookup keys to price ids; lookupKeys is the reverse.
	prices     map[string]string
	lookupKeys map[string]string
}

// NewPaddleProvider creates a Paddle provider. Without a webhook secret
// events are decoded without signature verification.
func NewPaddleProvider(cfg PaddleConfig) (*PaddleProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("paddle API key is required")
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	p := &PaddleProvider{
		client:     client,
		prices:     make(map[string]string, len(cfg.Prices)),
		lookupKeys: make(map[string]string, len(cfg.Prices)),
	}
	for key, priceID := range cfg.Prices {
		key, priceID = strings.ToLower(strings.TrimSpace(key)), strings.TrimSpace(priceID)
		p.prices[key] = priceID
		p.lookupKeys[priceID] = key
	}
	if cfg.WebhookSecret != "" {
		p.verifier = paddle.NewWebhookVerifier(cfg.WebhookSecret)
	}
	return p, nil
}

func (p *PaddleProvider) Name() string { return ProviderPaddle }

func (p *PaddleProvider) ResolvePrice(_ context.Context, lookupKey string) (string, error) {
	if id, ok := p.prices[strings.ToLower(lookupKey)]; ok && id != "" {
		return id, nil
	}
	return "", fmt.Errorf("%w: %q", ErrPriceNotFound, lookupKey)
}

func (p *PaddleProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	if req.PriceID == "" {
		return CheckoutSession{}, ErrPriceNotFound
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})
	txReq := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomerID: paddle.PtrTo(req.CustomerID),
		CustomData: paddle.CustomData{
			"user_id": req.ClientReference,
		},
	}
	if req.SuccessURL != "" {
		// Paddle does not substitute the session placeholder.
		txReq.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(strings.ReplaceAll(req.SuccessURL, CheckoutSessionPlaceholder, "")),
		}
	}

	tx, err := p.client.TransactionsClient.CreateTransaction(ctx, txReq)
	if err != nil {
		return CheckoutSession{}, errors.Join(ErrUpstreamProvider, err)
	}
	if tx.Checkout == nil || tx.Checkout.URL == nil {
		return CheckoutSession{}, fmt.Errorf("%w: no checkout URL returned from paddle", ErrUpstreamProvider)
	}

	return CheckoutSession{
		ID:         tx.ID,
		URL:        *tx.Checkout.URL,
		CustomerID: req.CustomerID,
		Status:     string(tx.Status),
	}, nil
}

func (p *PaddleProvider) GetCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, error) {
	if sessionID == "" {
		return CheckoutSession{}, ErrInvalidSession
	}
	tx, err := p.client.TransactionsClient.GetTransaction(ctx, &paddle.GetTransactionRequest{
		TransactionID: sessionID,
	})
	if err != nil {
		return CheckoutSession{}, errors.Join(ErrUpstreamProvider, err)
	}

	out := CheckoutSession{
		ID:             tx.ID,
		Status:         string(tx.Status),
		CustomerID:     deref(tx.CustomerID),
		SubscriptionID: deref(tx.SubscriptionID),
	}
	if tx.Checkout != nil {
		out.URL = deref(tx.Checkout.URL)
	}
	return out, nil
}

func (p *PaddleProvider) CreatePortalSession(ctx context.Context, customerID, _ string) (string, error) {
	sess, err := p.client.CustomerPortalSessionsClient.CreateCustomerPortalSession(ctx, &paddle.CreateCustomerPortalSessionRequest{
		CustomerID: customerID,
	})
	if err != nil {
		return "", errors.Join(ErrUpstreamProvider, err)
	}
	if sess.URLs.General.Overview == "" {
		return "", fmt.Errorf("%w: no portal URL returned from paddle", ErrUpstreamProvider)
	}
	return sess.URLs.General.Overview, nil
}

func (p *PaddleProvider) GetSubscription(ctx context.Context, subscriptionID string) (ProviderSubscription, error) {
	sub, err := p.client.SubscriptionsClient.GetSubscription(ctx, &paddle.GetSubscriptionRequest{
		SubscriptionID: subscriptionID,
	})
	if err != nil {
		return ProviderSubscription{}, errors.Join(ErrUpstreamProvider, err)
	}

	out := ProviderSubscription{
		ID:         sub.ID,
		CustomerID: sub.CustomerID,
		Status:     string(sub.Status),
		Interval:   string(sub.BillingCycle.Interval),
	}
	if sub.CurrentBillingPeriod != nil {
		out.CurrentPeriodEnd = parsePaddleTime(sub.CurrentBillingPeriod.EndsAt)
	}
	if len(sub.Items) > 0 {
		out.PriceID = sub.Items[0].Price.ID
		out.LookupKey = p.lookupKeys[out.PriceID]
	}
	return out, nil
}

func (p *PaddleProvider) CreateCustomer(ctx context.Context, email string, userID uuid.UUID) (string, error) {
	cust, err := p.client.CustomersClient.CreateCustomer(ctx, &paddle.CreateCustomerRequest{
		Email:      email,
		CustomData: paddle.CustomData{"user_id": userID.String()},
	})
	if err != nil {
		return "", errors.Join(ErrUpstreamProvider, err)
	}
	return cust.ID, nil
}

func (p *PaddleProvider) ParseEvent(ctx context.Context, payload []byte, header http.Header) (Event, error) {
	if p.verifier != nil {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
		if err != nil {
			return Event{}, fmt.Errorf("failed to create request for verification: %w", err)
		}
		req.Header.Set(PaddleSignatureHeader, header.Get(PaddleSignatureHeader))

		valid, err := p.verifier.Verify(req)
		if err != nil || !valid {
			return Event{}, errors.Join(ErrSignatureVerificationFailed, err)
		}
	}
	return p.decodeEvent(payload)
}

func (p *PaddleProvider) decodeEvent(payload []byte) (Event, error) {
	var raw struct {
		EventID    string          `json:"event_id"`
		EventType  string          `json:"event_type"`
		OccurredAt string          `json:"occurred_at"`
		Data       json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Event{}, errors.Join(ErrInvalidPayload, err)
	}
	if raw.EventID == "" || raw.EventType == "" {
		return Event{}, fmt.Errorf("%w: missing event_id or event_type", ErrInvalidPayload)
	}

	out := Event{
		ID:           raw.EventID,
		ProviderType: raw.EventType,
		Type:         paddleEventType(raw.EventType),
		CreatedAt:    parsePaddleTime(raw.OccurredAt),
	}

	switch {
	case out.Type == EventCheckoutCompleted:
		var tx struct {
			ID             string `json:"id"`
			Status         string `json:"status"`
			CustomerID     string `json:"customer_id"`
			SubscriptionID string `json:"subscription_id"`
		}
		if err := json.Unmarshal(raw.Data, &tx); err != nil {
			return Event{}, errors.Join(ErrInvalidPayload, err)
		}
		out.Checkout = &CheckoutSession{
			ID:             tx.ID,
			CustomerID:     tx.CustomerID,
			SubscriptionID: tx.SubscriptionID,
			Status:         tx.Status,
		}

	case strings.HasPrefix(raw.EventType, "subscription."):
		var sub struct {
			ID                   string `json:"id"`
			Status               string `json:"status"`
			CustomerID           string `json:"customer_id"`
			CurrentBillingPeriod *struct {
				EndsAt string `json:"ends_at"`
			} `json:"current_billing_period"`
			BillingCycle struct {
				Interval string `json:"interval"`
			} `json:"billing_cycle"`
			Items []struct {
				Price struct {
					ID string `json:"id"`
				} `json:"price"`
			} `json:"items"`
		}
		if err := json.Unmarshal(raw.Data, &sub); err != nil {
			return Event{}, errors.Join(ErrInvalidPayload, err)
		}
		ps := ProviderSubscription{
			ID:         sub.ID,
			CustomerID: sub.CustomerID,
			Status:     sub.Status,
			Interval:   sub.BillingCycle.Interval,
		}
		if sub.CurrentBillingPeriod != nil {
			ps.CurrentPeriodEnd = parsePaddleTime(sub.CurrentBillingPeriod.EndsAt)
		}
		if len(sub.Items) > 0 {
			ps.PriceID = sub.Items[0].Price.ID
			ps.LookupKey = p.lookupKeys[ps.PriceID]
		}
		out.Subscription = &ps
	}
	return out, nil
}

// paddleEventType maps Paddle notifications onto the normalized kinds. Every
// status transition carries the full subscription entity, so they all
// reconcile as updates.
func paddleEventType(eventType string) EventType {
	switch eventType {
	case "transaction.completed":
		return EventCheckoutCompleted
	case "subscription.created":
		return EventSubscriptionCreated
	case "subscription.updated", "subscription.activated", "subscription.past_due",
		"subscription.paused", "subscription.resumed", "subscription.canceled":
		return EventSubscriptionUpdated
	default:
		return EventUnhandled
	}
}

func parsePaddleTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
