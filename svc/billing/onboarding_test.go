package billing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/promptr-app/promptr/svc/billing"
)

func TestOnboarderProvision(t *testing.T) {
	t.Parallel()

	t.Run("creates customer and trial", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		store := billing.NewMemoryStore(5)
		provider := &mockProvider{}
		provider.On("CreateCustomer", mock.Anything, "new@example.com", mock.Anything).Return("cus_new", nil).Once()

		ent, err := billing.NewOnboarder(store, provider, nil).
			Provision(ctx, billing.User{Email: "new@example.com", EmailVerified: true})
		require.NoError(t, err)
		assert.Equal(t, "cus_new", ent.User.CustomerID)
		assert.Equal(t, 5, ent.User.PromptOptimizations)
		require.NotNil(t, ent.Subscription)
		assert.Equal(t, billing.StatusTrial, ent.Subscription.Status)
		assert.Equal(t, billing.PlanMonthly, ent.Subscription.Plan)
		assert.True(t, ent.Subscription.CurrentPeriodEnd.After(time.Now().AddDate(5, 0, 0)))
		assert.False(t, ent.Paid())
	})

	t.Run("second call is a no-op", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		store := billing.NewMemoryStore(5)
		provider := &mockProvider{}
		provider.On("CreateCustomer", mock.Anything, "again@example.com", mock.Anything).Return("cus_1", nil).Once()
		o := billing.NewOnboarder(store, provider, nil)

		first, err := o.Provision(ctx, billing.User{Email: "again@example.com", EmailVerified: true})
		require.NoError(t, err)
		second, err := o.Provision(ctx, billing.User{Email: "again@example.com", EmailVerified: true})
		require.NoError(t, err)

		assert.Equal(t, first.User.ID, second.User.ID)
		assert.Equal(t, first.Subscription.ID, second.Subscription.ID)
		provider.AssertNumberOfCalls(t, "CreateCustomer", 1)
	})

	t.Run("existing paid subscription untouched", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		store := billing.NewMemoryStore(5)
		u := newUser(t, store, "paid@example.com", "cus_paid")
		_, err := store.Upsert(ctx, billing.Subscription{UserID: u.ID, Plan: billing.PlanYearly, Status: billing.StatusActive})
		require.NoError(t, err)

		ent, err := billing.NewOnboarder(store, &mockProvider{}, nil).
			Provision(ctx, billing.User{Email: "paid@example.com", EmailVerified: true})
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, ent.Subscription.Status)
	})

	t.Run("unverified email", func(t *testing.T) {
		t.Parallel()
		_, err := billing.NewOnboarder(billing.NewMemoryStore(5), &mockProvider{}, nil).
			Provision(context.Background(), billing.User{Email: "x@example.com"})
		assert.ErrorIs(t, err, billing.ErrEmailNotVerified)
	})

	t.Run("provider failure leaves no customer", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		store := billing.NewMemoryStore(5)
		provider := &mockProvider{}
		provider.On("CreateCustomer", mock.Anything, mock.Anything, mock.Anything).
			Return("", errors.Join(billing.ErrUpstreamProvider, errors.New("down")))

		_, err := billing.NewOnboarder(store, provider, nil).
			Provision(ctx, billing.User{Email: "fail@example.com", EmailVerified: true})
		assert.ErrorIs(t, err, billing.ErrUpstreamProvider)

		u, err := store.UserByEmail(ctx, "fail@example.com")
		require.NoError(t, err)
		assert.Empty(t, u.CustomerID)
	})

	t.Run("webhook row written mid-provisioning is kept", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		store := billing.NewMemoryStore(5)
		u := newUser(t, store, "race@example.com", "cus_race")
		racing := &webhookFirstStore{Store: store, write: billing.Subscription{
			UserID: u.ID, Plan: billing.PlanYearly, Status: billing.StatusActive, ProviderEventAt: time.Now(),
		}}

		ent, err := billing.NewOnboarder(racing, &mockProvider{}, nil).
			Provision(ctx, billing.User{Email: "race@example.com", EmailVerified: true})
		require.NoError(t, err)
		require.NotNil(t, ent.Subscription)
		assert.Equal(t, billing.StatusActive, ent.Subscription.Status)
		assert.Equal(t, billing.PlanYearly, ent.Subscription.Plan)
	})

	t.Run("concurrent calls create one customer", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		store := billing.NewMemoryStore(5)
		newUser(t, store, "twice@example.com", "")
		provider := &mockProvider{}
		provider.On("CreateCustomer", mock.Anything, "twice@example.com", mock.Anything).
			After(20*time.Millisecond).Return("cus_once", nil)
		o := billing.NewOnboarder(store, provider, nil)

		const callers = 8
		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
			errs  = make(chan error, callers)
		)
		for range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				ent, err := o.Provision(ctx, billing.User{Email: "twice@example.com", EmailVerified: true})
				if err == nil && ent.User.CustomerID != "cus_once" {
					err = errors.New("unexpected customer " + ent.User.CustomerID)
				}
				errs <- err
			}()
		}
		close(start)
		wg.Wait()
		close(errs)

		for err := range errs {
			assert.NoError(t, err)
		}
		provider.AssertNumberOfCalls(t, "CreateCustomer", 1)
	})

	t.Run("separate onboarders agree on the first customer", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		store := billing.NewMemoryStore(5)
		u := newUser(t, store, "multi@example.com", "")

		var (
			wg      sync.WaitGroup
			results = make([]billing.Entitlement, 2)
		)
		for i := range results {
			provider := &mockProvider{}
			provider.On("CreateCustomer", mock.Anything, mock.Anything, mock.Anything).
				After(10*time.Millisecond).Return("cus_"+string(rune('a'+i)), nil)
			o := billing.NewOnboarder(store, provider, nil)
			wg.Add(1)
			go func() {
				defer wg.Done()
				ent, err := o.Provision(ctx, billing.User{Email: "multi@example.com", EmailVerified: true})
				assert.NoError(t, err)
				results[i] = ent
			}()
		}
		wg.Wait()

		ent, err := store.Get(ctx, u.ID)
		require.NoError(t, err)
		require.NotEmpty(t, ent.User.CustomerID)
		for _, r := range results {
			assert.Equal(t, ent.User.CustomerID, r.User.CustomerID)
		}
	})
}

// webhookFirstStore lets a paid subscription land right before the trial row
// is inserted.
type webhookFirstStore struct {
	billing.Store
	write billing.Subscription
	once  sync.Once
}

func (s *webhookFirstStore) CreateTrial(ctx context.Context, sub billing.Subscription) (bool, error) {
	var err error
	s.once.Do(func() {
		_, err = s.Store.Upsert(ctx, s.write)
	})
	if err != nil {
		return false, err
	}
	return s.Store.CreateTrial(ctx, sub)
}
