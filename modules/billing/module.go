// Package billing exposes the entitlement service over HTTP: provider
// webhooks, hosted checkout and portal sessions, the subscription read
// endpoint and the quota-gated prompt optimizer.
package billing

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/promptr-app/promptr/handler"
	"github.com/promptr-app/promptr/pkg/binder"
	"github.com/promptr-app/promptr/pkg/jwt"
	"github.com/promptr-app/promptr/pkg/logger"
	"github.com/promptr-app/promptr/pkg/ratelimiter"
	svcbilling "github.com/promptr-app/promptr/svc/billing"
	"github.com/promptr-app/promptr/svc/optimizer"
)

// Optimizer opens a prompt rewrite stream.
type Optimizer interface {
	Optimize(ctx context.Context, req optimizer.Request) (*optimizer.Stream, error)
}

// Deps are the services the module routes to. Limiter is optional.
type Deps struct {
	Store      svcbilling.Store
	Reconciler *svcbilling.Reconciler
	Broker     *svcbilling.Broker
	Gate       *svcbilling.Gate
	Optimizer  Optimizer
	Auth       *jwt.Service
	Limiter    *ratelimiter.Limiter
	Logger     *slog.Logger
}

// Module serves the /api routes.
type Module struct {
	store      svcbilling.Store
	reconciler *svcbilling.Reconciler
	broker     *svcbilling.Broker
	gate       *svcbilling.Gate
	optimizer  Optimizer
	auth       *jwt.Service
	limiter    *ratelimiter.Limiter
	log        *slog.Logger
	errHandler handler.ErrorHandler
}

// New creates the module. Panics when a required dependency is missing.
func New(d Deps) *Module {
	if d.Store == nil || d.Reconciler == nil || d.Broker == nil || d.Gate == nil || d.Optimizer == nil || d.Auth == nil {
		panic("billing module: missing dependency")
	}
	log := d.Logger
	if log == nil {
		log = logger.Discard()
	}
	log = log.With(logger.Component("billing_http"))
	return &Module{
		store:      d.Store,
		reconciler: d.Reconciler,
		broker:     d.Broker,
		gate:       d.Gate,
		optimizer:  d.Optimizer,
		auth:       d.Auth,
		limiter:    d.Limiter,
		log:        log,
		errHandler: handler.NewErrorHandler(log, classify),
	}
}

// Routes returns the router to mount under /api.
func (m *Module) Routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/webhooks", m.webhook)
	r.Get("/checkout-session", wrap(m, m.checkoutSession, binder.Form))

	r.Group(func(r chi.Router) {
		r.Use(jwt.OptionalMiddleware(m.auth))
		r.Post("/create-portal-session", wrap(m, m.createPortalSession, binder.Bind))
	})

	r.Group(func(r chi.Router) {
		r.Use(jwt.Middleware(m.auth))
		r.Post("/create-checkout-session", wrap(m, m.createCheckoutSession, binder.Bind))
		r.Get("/subscriptions", wrap(m, m.subscriptions))
		r.Post("/trial/decrease", wrap(m, m.decreaseTrial))

		r.Group(func(r chi.Router) {
			if m.limiter != nil {
				r.Use(ratelimiter.Middleware(m.limiter, userKey, m.log))
			}
			r.Post("/optimize-prompt", wrap(m, m.optimizePrompt, binder.JSON))
		})
	})

	return r
}

func wrap[R any](m *Module, h handler.HandlerFunc[R], binders ...handler.Bind) http.HandlerFunc {
	return handler.Wrap(h,
		handler.WithErrorHandler[R](m.errHandler),
		handler.WithBinders[R](binders...),
	)
}

// userKey keys the rate limiter by authenticated user.
func userKey(r *http.Request) string {
	if id := jwt.UserIDFromContext(r.Context()); id != "" {
		return "optimize:" + id
	}
	return ""
}

// currentUser returns the authenticated user id. Tokens whose subject is
// not a UUID are treated as unauthenticated.
func currentUser(ctx context.Context) (uuid.UUID, error) {
	raw := jwt.UserIDFromContext(ctx)
	if raw == "" {
		return uuid.Nil, svcbilling.ErrAuthenticationRequired
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, svcbilling.ErrAuthenticationRequired
	}
	return id, nil
}
