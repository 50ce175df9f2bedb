package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promptr-app/promptr/pkg/pg"
)

// PGStore is the PostgreSQL Store.
type PGStore struct {
	db        *pgxpool.Pool
	freeQuota int
}

// NewPGStore returns a Store on pool granting freeQuota optimizations to new users.
func NewPGStore(pool *pgxpool.Pool, freeQuota int) *PGStore {
	return &PGStore{db: pool, freeQuota: freeQuota}
}

const userColumns = `u.id::text, u.email, u.email_verified, COALESCE(u.billing_customer_id, ''), u.prompt_optimizations, u.created_at`

// CreateUser inserts u, mapping a duplicate email to ErrUserExists.
func (s *PGStore) CreateUser(ctx context.Context, u User, opts ...UserOption) (User, error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.PromptOptimizations = initialQuota(s.freeQuota, opts)
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))

	_, err := s.db.Exec(ctx, `
		INSERT INTO users (id, email, email_verified, billing_customer_id, prompt_optimizations, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)`,
		u.ID.String(), u.Email, u.EmailVerified, u.CustomerID, u.PromptOptimizations, u.CreatedAt,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return User{}, ErrUserExists
		}
		return User{}, errors.Join(ErrPersistence, err)
	}
	return u, nil
}

// Get loads the user joined with their subscription.
func (s *PGStore) Get(ctx context.Context, userID uuid.UUID) (Entitlement, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+userColumns+`,
			s.id::text, COALESCE(s.provider_subscription_id, ''), s.plan, s.status,
			s.current_period_end, s.provider_event_at, s.created_at, s.updated_at
		FROM users u
		LEFT JOIN subscriptions s ON s.user_id = u.id
		WHERE u.id = $1`, userID.String())

	var (
		u                          User
		rawUserID                  string
		subID, subProvider         *string
		subPlan, subStatus         *string
		periodEnd, eventAt         *time.Time
		subCreatedAt, subUpdatedAt *time.Time
	)
	err := row.Scan(
		&rawUserID, &u.Email, &u.EmailVerified, &u.CustomerID, &u.PromptOptimizations, &u.CreatedAt,
		&subID, &subProvider, &subPlan, &subStatus, &periodEnd, &eventAt, &subCreatedAt, &subUpdatedAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return Entitlement{}, ErrUserNotFound
		}
		return Entitlement{}, errors.Join(ErrPersistence, err)
	}
	u.ID = userID

	ent := Entitlement{User: u}
	if subID != nil {
		sub := Subscription{
			UserID:                 userID,
			ProviderSubscriptionID: deref(subProvider),
			Plan:                   Plan(deref(subPlan)),
			Status:                 Status(deref(subStatus)),
		}
		sub.ID, _ = uuid.Parse(*subID)
		if periodEnd != nil {
			sub.CurrentPeriodEnd = periodEnd.UTC()
		}
		if eventAt != nil {
			sub.ProviderEventAt = eventAt.UTC()
		}
		if subCreatedAt != nil {
			sub.CreatedAt = subCreatedAt.UTC()
		}
		if subUpdatedAt != nil {
			sub.UpdatedAt = subUpdatedAt.UTC()
		}
		ent.Subscription = &sub
	}
	return ent, nil
}

// UserByEmail looks the user up by case-insensitive email.
func (s *PGStore) UserByEmail(ctx context.Context, email string) (User, error) {
	return s.queryUser(ctx, `SELECT `+userColumns+` FROM users u WHERE u.email = $1`,
		strings.ToLower(strings.TrimSpace(email)))
}

// UserByCustomerID looks the user up by billing customer reference.
func (s *PGStore) UserByCustomerID(ctx context.Context, customerID string) (User, error) {
	if customerID == "" {
		return User{}, ErrUserNotFound
	}
	return s.queryUser(ctx, `SELECT `+userColumns+` FROM users u WHERE u.billing_customer_id = $1`, customerID)
}

func (s *PGStore) queryUser(ctx context.Context, query string, arg any) (User, error) {
	var (
		u     User
		rawID string
	)
	err := s.db.QueryRow(ctx, query, arg).Scan(
		&rawID, &u.Email, &u.EmailVerified, &u.CustomerID, &u.PromptOptimizations, &u.CreatedAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return User{}, ErrUserNotFound
		}
		return User{}, errors.Join(ErrPersistence, err)
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return User{}, errors.Join(ErrPersistence, err)
	}
	u.ID = id
	return u, nil
}

// ClaimCustomerID is a conditional UPDATE on the user row. When another
// writer claimed the row first it re-reads the stored reference.
func (s *PGStore) ClaimCustomerID(ctx context.Context, userID uuid.UUID, customerID string) (string, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE users SET billing_customer_id = $2
		WHERE id = $1 AND billing_customer_id IS NULL`, userID.String(), customerID)
	if err != nil {
		return "", errors.Join(ErrPersistence, err)
	}
	if tag.RowsAffected() == 1 {
		return customerID, nil
	}

	var current *string
	err = s.db.QueryRow(ctx, `SELECT billing_customer_id FROM users WHERE id = $1`, userID.String()).Scan(&current)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return "", ErrUserNotFound
		}
		return "", errors.Join(ErrPersistence, err)
	}
	return deref(current), nil
}

// SubscriptionByProviderID returns the subscription mirroring the provider
// subscription, or nil when none does.
func (s *PGStore) SubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*Subscription, error) {
	if providerSubscriptionID == "" {
		return nil, nil
	}
	var (
		sub          Subscription
		rawID, rawUs string
		eventAt      *time.Time
	)
	err := s.db.QueryRow(ctx, `
		SELECT id::text, user_id::text, provider_subscription_id, plan, status,
			current_period_end, provider_event_at, created_at, updated_at
		FROM subscriptions
		WHERE provider_subscription_id = $1
		ORDER BY updated_at DESC
		LIMIT 1`, providerSubscriptionID,
	).Scan(&rawID, &rawUs, &sub.ProviderSubscriptionID, &sub.Plan, &sub.Status,
		&sub.CurrentPeriodEnd, &eventAt, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, errors.Join(ErrPersistence, err)
	}
	sub.ID, _ = uuid.Parse(rawID)
	sub.UserID, _ = uuid.Parse(rawUs)
	if eventAt != nil {
		sub.ProviderEventAt = eventAt.UTC()
	}
	return &sub, nil
}

// CreateTrial inserts sub with ON CONFLICT DO NOTHING, so a row written by a
// webhook in the meantime is kept.
func (s *PGStore) CreateTrial(ctx context.Context, sub Subscription) (bool, error) {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO subscriptions
			(id, user_id, provider_subscription_id, plan, status, current_period_end, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, now(), now())
		ON CONFLICT (user_id) DO NOTHING`,
		sub.ID.String(), sub.UserID.String(), sub.ProviderSubscriptionID, string(sub.Plan), string(sub.Status),
		sub.CurrentPeriodEnd.UTC(),
	)
	if err != nil {
		if pg.IsForeignKeyViolationError(err) {
			return false, ErrUserNotFound
		}
		return false, errors.Join(ErrPersistence, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Upsert relies on the unique user_id constraint; the conditional DO UPDATE
// leaves the row untouched (and returns no row) for events older than the
// one stored.
func (s *PGStore) Upsert(ctx context.Context, sub Subscription) (bool, error) {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	var eventAt *time.Time
	if !sub.ProviderEventAt.IsZero() {
		t := sub.ProviderEventAt.UTC()
		eventAt = &t
	}

	var id string
	err := s.db.QueryRow(ctx, `
		INSERT INTO subscriptions
			(id, user_id, provider_subscription_id, plan, status, current_period_end, provider_event_at, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, now(), now())
		ON CONFLICT (user_id) DO UPDATE SET
			provider_subscription_id = EXCLUDED.provider_subscription_id,
			plan                     = EXCLUDED.plan,
			status                   = EXCLUDED.status,
			current_period_end       = EXCLUDED.current_period_end,
			provider_event_at        = COALESCE(EXCLUDED.provider_event_at, subscriptions.provider_event_at),
			updated_at               = now()
		WHERE subscriptions.provider_event_at IS NULL
			OR EXCLUDED.provider_event_at IS NULL
			OR subscriptions.provider_event_at <= EXCLUDED.provider_event_at
		RETURNING id::text`,
		sub.ID.String(), sub.UserID.String(), sub.ProviderSubscriptionID, string(sub.Plan), string(sub.Status),
		sub.CurrentPeriodEnd.UTC(), eventAt,
	).Scan(&id)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return false, nil
		case pg.IsForeignKeyViolationError(err):
			return false, ErrUserNotFound
		default:
			return false, errors.Join(ErrPersistence, err)
		}
	}
	return true, nil
}

// DecrementQuota is a single conditional UPDATE, so concurrent callers can
// never take the quota below zero.
func (s *PGStore) DecrementQuota(ctx context.Context, userID uuid.UUID) (int, error) {
	var remaining int
	err := s.db.QueryRow(ctx, `
		UPDATE users
		SET prompt_optimizations = prompt_optimizations - 1
		WHERE id = $1 AND prompt_optimizations > 0
		RETURNING prompt_optimizations`, userID.String(),
	).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !pg.IsNotFoundError(err) {
		return 0, errors.Join(ErrPersistence, err)
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID.String()).Scan(&exists); err != nil {
		return 0, errors.Join(ErrPersistence, err)
	}
	if !exists {
		return 0, ErrUserNotFound
	}
	return 0, ErrQuotaExhausted
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
