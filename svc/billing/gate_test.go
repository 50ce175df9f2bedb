package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptr-app/promptr/svc/billing"
)

func TestGateAdmit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		status        billing.Status // empty: no subscription
		quota         int
		wantGated     bool
		wantErr       error
		wantRemaining int
		wantQuota     int
	}{
		{name: "active bypasses", status: billing.StatusActive, quota: 0, wantGated: false, wantQuota: 0},
		{name: "warning bypasses", status: billing.StatusWarning, quota: 3, wantGated: false, wantQuota: 3},
		{name: "trial consumes", status: billing.StatusTrial, quota: 3, wantGated: true, wantRemaining: 2, wantQuota: 2},
		{name: "canceled consumes", status: billing.StatusCanceled, quota: 1, wantGated: true, wantRemaining: 0, wantQuota: 0},
		{name: "no subscription consumes", quota: 2, wantGated: true, wantRemaining: 1, wantQuota: 1},
		{name: "trial exhausted", status: billing.StatusTrial, quota: 0, wantGated: true, wantErr: billing.ErrQuotaExhausted, wantQuota: 0},
		{name: "canceled exhausted", status: billing.StatusCanceled, quota: 0, wantGated: true, wantErr: billing.ErrQuotaExhausted, wantQuota: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := billing.NewMemoryStore(5)
			u, err := store.CreateUser(ctx, billing.User{Email: "g@example.com"}, billing.WithQuota(tt.quota))
			require.NoError(t, err)
			if tt.status != "" {
				_, err := store.Upsert(ctx, billing.Subscription{
					UserID: u.ID, Plan: billing.PlanMonthly, Status: tt.status, CurrentPeriodEnd: time.Now().Add(time.Hour),
				})
				require.NoError(t, err)
			}

			adm, err := billing.NewGate(store, nil).Admit(ctx, u.ID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantRemaining, adm.Remaining)
			}
			assert.Equal(t, tt.wantGated, adm.Gated)

			ent, err := store.Get(ctx, u.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantQuota, ent.User.PromptOptimizations)
		})
	}
}

func TestGateCheck(t *testing.T) {
	t.Parallel()

	t.Run("does not consume", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		store := billing.NewMemoryStore(3)
		u := newUser(t, store, "c@example.com", "")

		adm, err := billing.NewGate(store, nil).Check(ctx, u.ID)
		require.NoError(t, err)
		assert.True(t, adm.Gated)
		assert.Equal(t, 3, adm.Remaining)

		ent, err := store.Get(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, ent.User.PromptOptimizations)
	})

	t.Run("unknown user", func(t *testing.T) {
		t.Parallel()
		_, err := billing.NewGate(billing.NewMemoryStore(3), nil).Check(context.Background(), uuid.New())
		assert.ErrorIs(t, err, billing.ErrUserNotFound)
	})

	t.Run("anonymous", func(t *testing.T) {
		t.Parallel()
		_, err := billing.NewGate(billing.NewMemoryStore(3), nil).Check(context.Background(), uuid.Nil)
		assert.ErrorIs(t, err, billing.ErrAuthenticationRequired)
	})
}
