package billing

import (
	"context"

	"github.com/google/uuid"
)

// Store persists users' quota and subscriptions.
type Store interface {
	// CreateUser inserts u with the store's free allowance as quota, unless
	// WithQuota sets another one. u.PromptOptimizations is ignored.
	CreateUser(ctx context.Context, u User, opts ...UserOption) (User, error)
	// Get returns the user and their subscription, if any.
	Get(ctx context.Context, userID uuid.UUID) (Entitlement, error)
	UserByEmail(ctx context.Context, email string) (User, error)
	UserByCustomerID(ctx context.Context, customerID string) (User, error)
	// ClaimCustomerID stores customerID on the user only when no customer
	// reference is set yet, and returns the reference the user holds
	// afterwards: customerID when the claim won, the existing one otherwise.
	ClaimCustomerID(ctx context.Context, userID uuid.UUID, customerID string) (string, error)
	SubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*Subscription, error)
	// CreateTrial inserts sub only when the user has no subscription row.
	// It never overwrites a row and reports whether it inserted one.
	CreateTrial(ctx context.Context, sub Subscription) (created bool, err error)
	// Upsert creates or replaces the subscription keyed by user id. It
	// returns false without writing when the stored row was produced by a
	// newer provider event than sub.ProviderEventAt.
	Upsert(ctx context.Context, sub Subscription) (applied bool, err error)
	// DecrementQuota atomically takes one optimization from the user's
	// quota and returns what is left, or ErrQuotaExhausted when none is left.
	DecrementQuota(ctx context.Context, userID uuid.UUID) (remaining int, err error)
}

// UserOption adjusts a user created by Store.CreateUser.
type UserOption func(*userOptions)

type userOptions struct {
	quota    int
	hasQuota bool
}

// WithQuota creates the user with n optimizations instead of the free
// allowance. Zero is a valid quota.
func WithQuota(n int) UserOption {
	return func(o *userOptions) {
		o.quota = n
		o.hasQuota = true
	}
}

// initialQuota resolves the quota of a new user.
func initialQuota(freeQuota int, opts []UserOption) int {
	var o userOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.hasQuota {
		return o.quota
	}
	return freeQuota
}

// supersedes reports whether an incoming event time may overwrite the stored
// one. Unknown times on either side never block a write; equal times
// re-apply so that replays stay idempotent.
func supersedes(stored, incoming Subscription) bool {
	if stored.ProviderEventAt.IsZero() || incoming.ProviderEventAt.IsZero() {
		return true
	}
	return !incoming.ProviderEventAt.Before(stored.ProviderEventAt)
}
