package billing_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/promptr-app/promptr/modules/billing"
	"github.com/promptr-app/promptr/pkg/jwt"
	"github.com/promptr-app/promptr/pkg/metrics"
	"github.com/promptr-app/promptr/pkg/ratelimiter"
	svcbilling "github.com/promptr-app/promptr/svc/billing"
	"github.com/promptr-app/promptr/svc/optimizer"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) ResolvePrice(ctx context.Context, lookupKey string) (string, error) {
	args := m.Called(ctx, lookupKey)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) CreateCheckoutSession(ctx context.Context, req svcbilling.CheckoutRequest) (svcbilling.CheckoutSession, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(svcbilling.CheckoutSession), args.Error(1)
}

func (m *mockProvider) GetCheckoutSession(ctx context.Context, sessionID string) (svcbilling.CheckoutSession, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).(svcbilling.CheckoutSession), args.Error(1)
}

func (m *mockProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	args := m.Called(ctx, customerID, returnURL)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) GetSubscription(ctx context.Context, subscriptionID string) (svcbilling.ProviderSubscription, error) {
	args := m.Called(ctx, subscriptionID)
	return args.Get(0).(svcbilling.ProviderSubscription), args.Error(1)
}

func (m *mockProvider) CreateCustomer(ctx context.Context, email string, userID uuid.UUID) (string, error) {
	args := m.Called(ctx, email, userID)
	return args.String(0), args.Error(1)
}

// ParseEvent decodes a bare JSON svcbilling.Event, standing in for a
// provider that trusts its payloads.
func (m *mockProvider) ParseEvent(_ context.Context, payload []byte, _ http.Header) (svcbilling.Event, error) {
	var e svcbilling.Event
	if err := json.Unmarshal(payload, &e); err != nil || e.ID == "" {
		return svcbilling.Event{}, svcbilling.ErrInvalidPayload
	}
	return e, nil
}

type harness struct {
	store    *svcbilling.MemoryStore
	provider *mockProvider
	auth     *jwt.Service
	server   *httptest.Server
	upstream *atomic.Int32
}

// newHarness serves the module under /api with an in-memory store and an
// upstream completion API that streams "Better prompt".
func newHarness(t *testing.T, limiter *ratelimiter.Limiter) *harness {
	t.Helper()

	calls := &atomic.Int32{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range []string{"Better ", "prompt"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", d)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(upstream.Close)

	opt, err := optimizer.New(optimizer.Config{APIKey: "gsk-test", BaseURL: upstream.URL})
	require.NoError(t, err)
	auth, err := jwt.NewFromString("test-signing-key", "promptr")
	require.NoError(t, err)

	store := svcbilling.NewMemoryStore(5)
	provider := &mockProvider{}
	m := billing.New(billing.Deps{
		Store:      store,
		Reconciler: svcbilling.NewReconciler(store, provider, svcbilling.WithLedger(svcbilling.NewMemoryLedger())),
		Broker:     svcbilling.NewBroker(store, provider, "https://promptr.test", nil),
		Gate:       svcbilling.NewGate(store, nil),
		Optimizer:  opt,
		Auth:       auth,
		Limiter:    limiter,
	})

	mux := http.NewServeMux()
	mux.Handle("/api/", http.StripPrefix("/api", m.Routes()))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &harness{store: store, provider: provider, auth: auth, server: srv, upstream: calls}
}

func (h *harness) user(t *testing.T, customerID string) (svcbilling.User, string) {
	t.Helper()
	u, err := h.store.CreateUser(context.Background(), svcbilling.User{
		Email: uuid.NewString() + "@example.com", EmailVerified: true, CustomerID: customerID,
	})
	require.NoError(t, err)
	token, err := h.auth.Issue(u.ID.String(), u.Email, time.Hour)
	require.NoError(t, err)
	return u, token
}

func (h *harness) do(t *testing.T, method, path, token string, body string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, h.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func jsonHeader() http.Header {
	return http.Header{"Content-Type": {"application/json"}}
}

func TestWebhook(t *testing.T) {
	t.Parallel()

	event := func(id, customerID, status string, at time.Time) string {
		b, _ := json.Marshal(svcbilling.Event{
			ID: id, Type: svcbilling.EventSubscriptionUpdated, ProviderType: "customer.subscription.updated", CreatedAt: at,
			Subscription: &svcbilling.ProviderSubscription{
				ID: "sub_1", CustomerID: customerID, Status: status, Interval: "year",
				CurrentPeriodEnd: at.AddDate(1, 0, 0),
			},
		})
		return string(b)
	}

	t.Run("applies and acknowledges duplicates", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nil)
		u, _ := h.user(t, "cus_webhook")
		payload := event("evt_1", "cus_webhook", "past_due", time.Now())

		resp := h.do(t, http.MethodPost, "/api/webhooks", "", payload, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, map[string]any{"received": true, "status": "applied"}, decode(t, resp))

		ent, err := h.store.Get(context.Background(), u.ID)
		require.NoError(t, err)
		require.NotNil(t, ent.Subscription)
		assert.Equal(t, svcbilling.StatusWarning, ent.Subscription.Status)
		assert.Equal(t, svcbilling.PlanYearly, ent.Subscription.Plan)

		resp = h.do(t, http.MethodPost, "/api/webhooks", "", payload, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "duplicate", decode(t, resp)["status"])
	})

	t.Run("malformed payload", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nil)
		resp := h.do(t, http.MethodPost, "/api/webhooks", "", "{", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "invalid_payload", decode(t, resp)["code"])
	})

	t.Run("unknown customer", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nil)
		resp := h.do(t, http.MethodPost, "/api/webhooks", "", event("evt_2", "cus_nobody", "active", time.Now()), nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("payload event type is not a metric label", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nil)
		rawType := "custom." + uuid.NewString()
		before := testutil.ToFloat64(metrics.WebhookRequestsTotal.WithLabelValues("unhandled", "200"))

		b, err := json.Marshal(svcbilling.Event{ID: "evt_" + uuid.NewString(), Type: svcbilling.EventType(rawType), ProviderType: rawType})
		require.NoError(t, err)
		resp := h.do(t, http.MethodPost, "/api/webhooks", "", string(b), nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ignored", decode(t, resp)["status"])

		assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.WebhookRequestsTotal.WithLabelValues("unhandled", "200")), before+1)
		assert.Zero(t, testutil.ToFloat64(metrics.WebhookRequestsTotal.WithLabelValues(rawType, "200")))
	})
}

func TestCreateCheckoutSession(t *testing.T) {
	t.Parallel()

	t.Run("form post redirects", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nil)
		_, token := h.user(t, "cus_checkout")
		h.provider.On("ResolvePrice", mock.Anything, "yearly").Return("price_year", nil)
		h.provider.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(r svcbilling.CheckoutRequest) bool {
			return r.CustomerID == "cus_checkout" && r.PriceID == "price_year" &&
				r.SuccessURL == "https://promptr.test/admin/thank-you?success=true&session_id={CHECKOUT_SESSION_ID}"
		})).Return(svcbilling.CheckoutSession{ID: "cs_1", URL: "https://pay.test/cs_1"}, nil)

		resp := h.do(t, http.MethodPost, "/api/create-checkout-session", token,
			url.Values{"lookup_key": {"yearly"}}.Encode(),
			http.Header{"Content-Type": {"application/x-www-form-urlencoded"}})
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
		assert.Equal(t, "https://pay.test/cs_1", resp.Header.Get("Location"))
	})

	t.Run("api client gets json", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nil)
		_, token := h.user(t, "cus_api")
		h.provider.On("ResolvePrice", mock.Anything, "monthly").Return("price_month", nil)
		h.provider.On("CreateCheckoutSession", mock.Anything, mock.Anything).
			Return(svcbilling.CheckoutSession{ID: "cs_2", URL: "https://pay.test/cs_2"}, nil)

		header := jsonHeader()
		header.Set("X-Request-Source", "api")
		resp := h.do(t, http.MethodPost, "/api/create-checkout-session", token, `{"lookup_key":"monthly"}`, header)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "https://pay.test/cs_2", decode(t, resp)["url"])
	})

	t.Run("unknown lookup key", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nil)
		_, token := h.user(t, "cus_price")
		h.provider.On("ResolvePrice", mock.Anything, "weekly").Return("", svcbilling.ErrPriceNotFound)

		resp := h.do(t, http.MethodPost, "/api/create-checkout-session", token, `{"lookup_key":"weekly"}`, jsonHeader())
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "price_not_found", decode(t, resp)["code"])
	})

	t.Run("requires authentication", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nil)
		resp := h.do(t, http.MethodPost, "/api/create-checkout-session", "", `{"lookup_key":"monthly"}`, jsonHeader())
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		h.provider.AssertNotCalled(t, "CreateCheckoutSession", mock.Anything, mock.Anything)
	})
}

func TestCreatePortalSession(t *testing.T) {
	t.Parallel()

	t.Run("from checkout session", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nil)
		h.provider.On("GetCheckoutSession", mock.Anything, "cs_1").
			Return(svcbilling.CheckoutSession{ID: "cs_1", CustomerID: "cus_portal"}, nil)
		h.provider.On("CreatePortalSession", mock.Anything, "cus_portal", "https://promptr.test/admin/pricing").
			Return("https://portal.test/p_1", nil)

		resp := h.do(t, http.MethodPost, "/api/create-portal-session", "", `{"session_id":"cs_1"}`, jsonHeader())
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "https://portal.test/p_1", decode(t, resp)["url"])
	})

	t.Run("from authenticated user", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nil)
		_, token := h.user(t, "cus_self")
		h.provider.On("CreatePortalSession", mock.Anything, "cus_self", mock.Anything).Return("https://portal.test/p_2", nil)

		resp := h.do(t, http.MethodPost, "/api/create-portal-session", token, "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "https://portal.test/p_2", decode(t, resp)["url"])
	})

	t.Run("neither session nor user", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nil)
		resp := h.do(t, http.MethodPost, "/api/create-portal-session", "", "", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("user without customer", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, nil)
		_, token := h.user(t, "")
		resp := h.do(t, http.MethodPost, "/api/create-portal-session", token, "", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "no_billing_customer", decode(t, resp)["code"])
	})
}

func TestCheckoutSessionStatus(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	u, _ := h.user(t, "cus_status")
	_, err := h.store.Upsert(context.Background(), svcbilling.Subscription{
		UserID: u.ID, ProviderSubscriptionID: "sub_status", Plan: svcbilling.PlanMonthly, Status: svcbilling.StatusActive,
	})
	require.NoError(t, err)
	h.provider.On("GetCheckoutSession", mock.Anything, "cs_ok").
		Return(svcbilling.CheckoutSession{ID: "cs_ok", CustomerID: "cus_status", SubscriptionID: "sub_status", Status: "complete"}, nil)
	h.provider.On("GetCheckoutSession", mock.Anything, "cs_open").
		Return(svcbilling.CheckoutSession{ID: "cs_open", CustomerID: "cus_status"}, nil)

	resp := h.do(t, http.MethodGet, "/api/checkout-session?session_id=cs_ok", "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "sub_status", body["subscriptionId"])
	require.NotNil(t, body["subscription"])
	assert.Equal(t, "ACTIVE", body["subscription"].(map[string]any)["status"])

	resp = h.do(t, http.MethodGet, "/api/checkout-session?session_id=cs_open", "", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/api/checkout-session", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubscriptions(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	u, token := h.user(t, "cus_sub")

	resp := h.do(t, http.MethodGet, "/api/subscriptions", token, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Nil(t, body["subscription"])
	assert.EqualValues(t, 5, body["promptOptimizations"])

	_, err := h.store.Upsert(context.Background(), svcbilling.Subscription{UserID: u.ID, Plan: svcbilling.PlanYearly, Status: svcbilling.StatusTrial})
	require.NoError(t, err)
	resp = h.do(t, http.MethodGet, "/api/subscriptions", token, "", nil)
	body = decode(t, resp)
	sub := body["subscription"].(map[string]any)
	assert.Equal(t, "YEARLY", sub["plan"])
	assert.Equal(t, "TRIAL", sub["status"])

	resp = h.do(t, http.MethodGet, "/api/subscriptions", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
