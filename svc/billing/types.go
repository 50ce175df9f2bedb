package billing

import (
	"time"

	"github.com/google/uuid"
)

// Plan is the billing cadence of a subscription.
type Plan string

const (
	PlanMonthly Plan = "MONTHLY"
	PlanYearly  Plan = "YEARLY"
)

// Status is the local, provider-neutral subscription status.
type Status string

const (
	StatusTrial    Status = "TRIAL"
	StatusActive   Status = "ACTIVE"
	StatusWarning  Status = "WARNING"
	StatusCanceled Status = "CANCELED"
)

// Paid reports whether the status bypasses the free-tier quota.
func (s Status) Paid() bool {
	return s == StatusActive || s == StatusWarning
}

// User is the account the entitlement belongs to.
type User struct {
	ID                  uuid.UUID `json:"id"`
	Email               string    `json:"email"`
	EmailVerified       bool      `json:"emailVerified"`
	CustomerID          string    `json:"-"`
	PromptOptimizations int       `json:"promptOptimizations"`
	CreatedAt           time.Time `json:"createdAt"`
}

// Subscription is the locally persisted mirror of the provider subscription.
// At most one exists per user.
type Subscription struct {
	ID                     uuid.UUID `json:"id"`
	UserID                 uuid.UUID `json:"userId"`
	ProviderSubscriptionID string    `json:"providerSubscriptionId,omitempty"`
	Plan                   Plan      `json:"plan"`
	Status                 Status    `json:"status"`
	CurrentPeriodEnd       time.Time `json:"currentPeriodEnd"`
	// ProviderEventAt is the creation time of the provider event that last
	// wrote this row. Zero for rows written outside the webhook path.
	ProviderEventAt time.Time `json:"-"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Entitlement is the user together with their optional subscription.
type Entitlement struct {
	User         User
	Subscription *Subscription
}

// Paid reports whether the entitlement bypasses the quota.
func (e Entitlement) Paid() bool {
	return e.Subscription != nil && e.Subscription.Status.Paid()
}

// CheckoutSession is a hosted checkout session at the provider.
type CheckoutSession struct {
	ID             string
	URL            string
	CustomerID     string
	SubscriptionID string
	Status         string
}

// CheckoutStatus correlates a finished checkout with the local subscription.
type CheckoutStatus struct {
	Session      CheckoutSession
	Subscription *Subscription
}

// ProviderSubscription is the provider's view of a subscription.
type ProviderSubscription struct {
	ID               string
	CustomerID       string
	Status           string
	PriceID          string
	LookupKey        string
	Interval         string
	CurrentPeriodEnd time.Time
}
