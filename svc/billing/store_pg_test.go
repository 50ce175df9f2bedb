package billing_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptr-app/promptr/pkg/logger"
	"github.com/promptr-app/promptr/pkg/pg"
	"github.com/promptr-app/promptr/svc/billing"
)

// newPGStore connects to TEST_PG_CONN_URL and applies migrations. Tests are
// skipped when it is unset.
func newPGStore(t *testing.T) *billing.PGStore {
	t.Helper()
	connURL := os.Getenv("TEST_PG_CONN_URL")
	if connURL == "" || testing.Short() {
		t.Skip("TEST_PG_CONN_URL not set")
	}

	ctx := context.Background()
	cfg := pg.Config{
		ConnectionString:  connURL,
		MaxOpenConns:      5,
		MaxIdleConns:      1,
		HealthCheckPeriod: time.Minute,
		MaxConnIdleTime:   time.Minute,
		MaxConnLifetime:   time.Hour,
		RetryAttempts:     1,
		RetryInterval:     time.Second,
		MigrationsTable:   "schema_migrations",
	}
	pool, err := pg.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pg.Migrate(ctx, pool, cfg, billing.Migrations, billing.MigrationsDir, logger.Discard()))
	return billing.NewPGStore(pool, 5)
}

func TestPGStore(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()

	u, err := store.CreateUser(ctx, billing.User{Email: uuid.NewString() + "@example.com", EmailVerified: true})
	require.NoError(t, err)

	t.Run("duplicate email", func(t *testing.T) {
		_, err := store.CreateUser(ctx, billing.User{Email: u.Email})
		assert.ErrorIs(t, err, billing.ErrUserExists)
	})

	t.Run("customer reference", func(t *testing.T) {
		customerID := "cus_" + uuid.NewString()
		stored, err := store.ClaimCustomerID(ctx, u.ID, customerID)
		require.NoError(t, err)
		assert.Equal(t, customerID, stored)
		got, err := store.UserByCustomerID(ctx, customerID)
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)

		stored, err = store.ClaimCustomerID(ctx, u.ID, "cus_"+uuid.NewString())
		require.NoError(t, err)
		assert.Equal(t, customerID, stored)

		_, err = store.ClaimCustomerID(ctx, uuid.New(), "cus_x")
		assert.ErrorIs(t, err, billing.ErrUserNotFound)
	})

	t.Run("explicit zero quota", func(t *testing.T) {
		z, err := store.CreateUser(ctx, billing.User{Email: uuid.NewString() + "@example.com"}, billing.WithQuota(0))
		require.NoError(t, err)
		_, err = store.DecrementQuota(ctx, z.ID)
		assert.ErrorIs(t, err, billing.ErrQuotaExhausted)
	})

	t.Run("trial insert keeps webhook row", func(t *testing.T) {
		other, err := store.CreateUser(ctx, billing.User{Email: uuid.NewString() + "@example.com"})
		require.NoError(t, err)

		created, err := store.CreateTrial(ctx, billing.Subscription{
			UserID: other.ID, Plan: billing.PlanMonthly, Status: billing.StatusTrial, CurrentPeriodEnd: time.Now(),
		})
		require.NoError(t, err)
		assert.True(t, created)

		applied, err := store.Upsert(ctx, billing.Subscription{
			UserID: other.ID, Plan: billing.PlanYearly, Status: billing.StatusActive,
			CurrentPeriodEnd: time.Now(), ProviderEventAt: time.Now(),
		})
		require.NoError(t, err)
		require.True(t, applied)

		created, err = store.CreateTrial(ctx, billing.Subscription{
			UserID: other.ID, Plan: billing.PlanMonthly, Status: billing.StatusTrial, CurrentPeriodEnd: time.Now(),
		})
		require.NoError(t, err)
		assert.False(t, created)

		ent, err := store.Get(ctx, other.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, ent.Subscription.Status)
	})

	t.Run("upsert ordering guard", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Microsecond)
		subID := "sub_" + uuid.NewString()

		applied, err := store.Upsert(ctx, billing.Subscription{
			UserID: u.ID, ProviderSubscriptionID: subID, Plan: billing.PlanMonthly,
			Status: billing.StatusCanceled, CurrentPeriodEnd: now, ProviderEventAt: now,
		})
		require.NoError(t, err)
		assert.True(t, applied)

		applied, err = store.Upsert(ctx, billing.Subscription{
			UserID: u.ID, ProviderSubscriptionID: subID, Plan: billing.PlanMonthly,
			Status: billing.StatusActive, CurrentPeriodEnd: now, ProviderEventAt: now.Add(-time.Minute),
		})
		require.NoError(t, err)
		assert.False(t, applied)

		ent, err := store.Get(ctx, u.ID)
		require.NoError(t, err)
		require.NotNil(t, ent.Subscription)
		assert.Equal(t, billing.StatusCanceled, ent.Subscription.Status)

		found, err := store.SubscriptionByProviderID(ctx, subID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, u.ID, found.UserID)
	})

	t.Run("upsert unknown user", func(t *testing.T) {
		_, err := store.Upsert(ctx, billing.Subscription{UserID: uuid.New(), Plan: billing.PlanMonthly, Status: billing.StatusTrial, CurrentPeriodEnd: time.Now()})
		assert.ErrorIs(t, err, billing.ErrUserNotFound)
	})

	t.Run("concurrent decrements never overdraw", func(t *testing.T) {
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.DecrementQuota(ctx, u.ID)
				if err != nil && !errors.Is(err, billing.ErrQuotaExhausted) {
					t.Errorf("unexpected error: %v", err)
					return
				}
				if err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 5, succeeded)

		_, err := store.DecrementQuota(ctx, uuid.New())
		assert.ErrorIs(t, err, billing.ErrUserNotFound)
	})
}
