package billing

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/promptr-app/promptr/pkg/logger"
)

// trialPeriod is how long the initial TRIAL row nominally lasts. The trial
// is bounded by quota, not time.
const trialPeriod = 10 * 365 * 24 * time.Hour

// Onboarder provisions billing state for users whose email was verified.
type Onboarder struct {
	store    Store
	provider Provider
	log      *slog.Logger
	now      func() time.Time
	flight   singleflight.Group
}

// NewOnboarder returns an Onboarder creating customers at provider. A nil
// log discards output.
func NewOnboarder(store Store, provider Provider, log *slog.Logger) *Onboarder {
	if log == nil {
		log = logger.Discard()
	}
	return &Onboarder{
		store:    store,
		provider: provider,
		log:      log.With(logger.Component("onboarding")),
		now:      time.Now,
	}
}

// Provision ensures the verified user u has a billing customer and a
// subscription row, creating the user when missing. Calling it again for a
// provisioned user is a no-op. Concurrent calls for the same email share one
// run; across processes the customer claim and the insert-only trial row
// keep the first writer's state.
func (o *Onboarder) Provision(ctx context.Context, u User) (Entitlement, error) {
	if !u.EmailVerified {
		return Entitlement{}, ErrEmailNotVerified
	}
	key := strings.ToLower(strings.TrimSpace(u.Email))
	v, err, _ := o.flight.Do(key, func() (any, error) {
		return o.provision(ctx, u)
	})
	if err != nil {
		return Entitlement{}, err
	}
	return v.(Entitlement), nil
}

func (o *Onboarder) provision(ctx context.Context, u User) (Entitlement, error) {
	user, err := o.store.UserByEmail(ctx, u.Email)
	switch {
	case errors.Is(err, ErrUserNotFound):
		user, err = o.store.CreateUser(ctx, u)
		if errors.Is(err, ErrUserExists) {
			user, err = o.store.UserByEmail(ctx, u.Email)
		}
		if err != nil {
			return Entitlement{}, err
		}
		o.log.InfoContext(ctx, "user created", logger.UserID(user.ID))
	case err != nil:
		return Entitlement{}, err
	}

	if user.CustomerID == "" {
		customerID, err := o.provider.CreateCustomer(ctx, user.Email, user.ID)
		if err != nil {
			o.log.ErrorContext(ctx, "failed to create billing customer", logger.UserID(user.ID), logger.Error(err))
			return Entitlement{}, err
		}
		stored, err := o.store.ClaimCustomerID(ctx, user.ID, customerID)
		if err != nil {
			return Entitlement{}, err
		}
		if stored != customerID {
			o.log.WarnContext(ctx, "billing customer already claimed, discarding new one",
				logger.UserID(user.ID), logger.CustomerID(stored), slog.String("discarded_customer_id", customerID))
		} else {
			o.log.InfoContext(ctx, "billing customer created", logger.UserID(user.ID), logger.CustomerID(customerID))
		}
	}

	created, err := o.store.CreateTrial(ctx, Subscription{
		UserID:           user.ID,
		Plan:             PlanMonthly,
		Status:           StatusTrial,
		CurrentPeriodEnd: o.now().UTC().Add(trialPeriod),
	})
	if err != nil {
		return Entitlement{}, err
	}
	if created {
		o.log.InfoContext(ctx, "trial subscription created", logger.UserID(user.ID))
	}
	return o.store.Get(ctx, user.ID)
}
