package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/promptr-app/promptr/pkg/logger"
	"github.com/promptr-app/promptr/pkg/metrics"
)

// Outcome is what reconciling one webhook event did to the store.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeStale     Outcome = "stale"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDuplicate Outcome = "duplicate"
)

// Result reports a handled webhook.
type Result struct {
	Event   Event
	Outcome Outcome
	UserID  uuid.UUID
}

// Reconciler applies verified provider webhook events to the Store. It is
// the only writer of subscription rows after onboarding.
type Reconciler struct {
	store    Store
	provider Provider
	ledger   EventLedger
	log      *slog.Logger
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithLedger deduplicates events by id before applying them.
func WithLedger(l EventLedger) ReconcilerOption {
	return func(r *Reconciler) {
		if l != nil {
			r.ledger = l
		}
	}
}

// WithReconcilerLogger sets the logger. Defaults to a discarding logger.
func WithReconcilerLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if l != nil {
			r.log = l
		}
	}
}

// NewReconciler creates a Reconciler. Panics if store or provider is nil.
func NewReconciler(store Store, provider Provider, opts ...ReconcilerOption) *Reconciler {
	if store == nil {
		panic("billing: Store is required")
	}
	if provider == nil {
		panic("billing: Provider is required")
	}
	r := &Reconciler{
		store:    store,
		provider: provider,
		log:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(logger.Component("reconciler"), logger.Provider(provider.Name()))
	return r
}

// HandleWebhook verifies and applies one raw webhook delivery. Nothing is
// written when verification fails.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, header http.Header) (Result, error) {
	event, err := r.provider.ParseEvent(ctx, payload, header)
	if err != nil {
		return Result{}, err
	}

	if r.ledger == nil {
		res, err := r.Apply(ctx, event)
		r.record(res, err)
		return res, err
	}

	var res Result
	already, err := r.ledger.Do(ctx, event.ID, func(ctx context.Context) error {
		var applyErr error
		res, applyErr = r.Apply(ctx, event)
		return applyErr
	})
	if already {
		res = Result{Event: event, Outcome: OutcomeDuplicate}
		r.log.InfoContext(ctx, "duplicate webhook event acknowledged",
			logger.EventID(event.ID), logger.EventType(event.ProviderType))
	}
	if res.Event.ID == "" {
		res.Event = event
	}
	r.record(res, err)
	return res, err
}

// Apply reconciles a verified event.
func (r *Reconciler) Apply(ctx context.Context, event Event) (Result, error) {
	log := r.log.With(logger.EventID(event.ID), logger.EventType(event.ProviderType))
	res := Result{Event: event, Outcome: OutcomeIgnored}

	switch event.Type {
	case EventCheckoutCompleted:
		return r.applyCheckout(ctx, log, event)
	case EventSubscriptionUpdated:
		return r.applySubscriptionUpdate(ctx, log, event)
	case EventSubscriptionCreated, EventSubscriptionDeleted, EventTrialWillEnd:
		var status string
		if event.Subscription != nil {
			status = event.Subscription.Status
		}
		log.InfoContext(ctx, "subscription lifecycle event acknowledged", logger.Status(status))
	case EventEntitlementsUpdated:
		log.InfoContext(ctx, "entitlement summary updated")
	default:
		log.InfoContext(ctx, "unhandled webhook event type")
	}
	return res, nil
}

func (r *Reconciler) applyCheckout(ctx context.Context, log *slog.Logger, event Event) (Result, error) {
	res := Result{Event: event}
	sess := event.Checkout
	if sess == nil || sess.CustomerID == "" || sess.SubscriptionID == "" {
		return res, fmt.Errorf("%w: checkout session without customer or subscription", ErrInvalidPayload)
	}
	log = log.With(logger.SessionID(sess.ID), logger.CustomerID(sess.CustomerID), logger.SubscriptionID(sess.SubscriptionID))

	ps, err := r.provider.GetSubscription(ctx, sess.SubscriptionID)
	if err != nil {
		log.ErrorContext(ctx, "failed to fetch subscription", logger.Error(err))
		return res, err
	}

	user, err := r.store.UserByCustomerID(ctx, sess.CustomerID)
	if err != nil {
		log.WarnContext(ctx, "no user for billing customer", logger.Error(err))
		return res, err
	}
	res.UserID = user.ID

	sub := Subscription{
		UserID:                 user.ID,
		ProviderSubscriptionID: ps.ID,
		Plan:                   DerivePlan(ps),
		Status:                 StatusActive,
		CurrentPeriodEnd:       ps.CurrentPeriodEnd,
		ProviderEventAt:        event.CreatedAt,
	}
	return r.upsert(ctx, log, res, sub)
}

func (r *Reconciler) applySubscriptionUpdate(ctx context.Context, log *slog.Logger, event Event) (Result, error) {
	res := Result{Event: event}
	ps := event.Subscription
	if ps == nil || (ps.CustomerID == "" && ps.ID == "") {
		return res, fmt.Errorf("%w: subscription without customer", ErrInvalidPayload)
	}
	log = log.With(logger.CustomerID(ps.CustomerID), logger.SubscriptionID(ps.ID))

	userID, err := r.resolveUser(ctx, *ps)
	if err != nil {
		log.WarnContext(ctx, "no user for subscription", logger.Error(err))
		return res, err
	}
	res.UserID = userID

	sub := Subscription{
		UserID:                 userID,
		ProviderSubscriptionID: ps.ID,
		Plan:                   DerivePlan(*ps),
		Status:                 MapStatus(ps.Status),
		CurrentPeriodEnd:       ps.CurrentPeriodEnd,
		ProviderEventAt:        event.CreatedAt,
	}
	return r.upsert(ctx, log, res, sub)
}

// resolveUser finds the subscription owner by customer reference, falling
// back to a previously stored provider subscription id.
func (r *Reconciler) resolveUser(ctx context.Context, ps ProviderSubscription) (uuid.UUID, error) {
	user, err := r.store.UserByCustomerID(ctx, ps.CustomerID)
	if err == nil {
		return user.ID, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return uuid.Nil, err
	}
	existing, serr := r.store.SubscriptionByProviderID(ctx, ps.ID)
	if serr != nil {
		return uuid.Nil, serr
	}
	if existing == nil {
		return uuid.Nil, ErrUserNotFound
	}
	return existing.UserID, nil
}

func (r *Reconciler) upsert(ctx context.Context, log *slog.Logger, res Result, sub Subscription) (Result, error) {
	applied, err := r.store.Upsert(ctx, sub)
	if err != nil {
		log.ErrorContext(ctx, "failed to persist subscription", logger.UserID(sub.UserID), logger.Error(err))
		return res, err
	}
	if !applied {
		res.Outcome = OutcomeStale
		log.InfoContext(ctx, "stale subscription event skipped", logger.UserID(sub.UserID))
		return res, nil
	}
	res.Outcome = OutcomeApplied
	log.InfoContext(ctx, "subscription reconciled",
		logger.UserID(sub.UserID),
		logger.Status(string(sub.Status)),
		logger.Plan(string(sub.Plan)),
	)
	return res, nil
}

func (r *Reconciler) record(res Result, err error) {
	switch {
	case err != nil:
		metrics.ReconciledTotal.WithLabelValues("failed").Inc()
	case res.Outcome != "":
		metrics.ReconciledTotal.WithLabelValues(string(res.Outcome)).Inc()
	}
}
