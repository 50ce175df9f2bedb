package billing_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/promptr-app/promptr/svc/billing"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) ResolvePrice(ctx context.Context, lookupKey string) (string, error) {
	args := m.Called(ctx, lookupKey)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (billing.CheckoutSession, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(billing.CheckoutSession), args.Error(1)
}

func (m *mockProvider) GetCheckoutSession(ctx context.Context, sessionID string) (billing.CheckoutSession, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).(billing.CheckoutSession), args.Error(1)
}

func (m *mockProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	args := m.Called(ctx, customerID, returnURL)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) GetSubscription(ctx context.Context, subscriptionID string) (billing.ProviderSubscription, error) {
	args := m.Called(ctx, subscriptionID)
	return args.Get(0).(billing.ProviderSubscription), args.Error(1)
}

func (m *mockProvider) CreateCustomer(ctx context.Context, email string, userID uuid.UUID) (string, error) {
	args := m.Called(ctx, email, userID)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) ParseEvent(ctx context.Context, payload []byte, header http.Header) (billing.Event, error) {
	args := m.Called(ctx, payload, header)
	return args.Get(0).(billing.Event), args.Error(1)
}

// newUser creates a verified user with a billing customer in store.
func newUser(t *testing.T, store billing.Store, email, customerID string) billing.User {
	t.Helper()
	u, err := store.CreateUser(context.Background(), billing.User{Email: email, EmailVerified: true, CustomerID: customerID})
	require.NoError(t, err)
	return u
}
