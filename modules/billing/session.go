package billing

import (
	"errors"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/promptr-app/promptr/handler"
	"github.com/promptr-app/promptr/pkg/jwt"
	svcbilling "github.com/promptr-app/promptr/svc/billing"
)

type checkoutRequest struct {
	LookupKey string `json:"lookup_key" form:"lookup_key"`
}

type portalRequest struct {
	SessionID string `json:"session_id" form:"session_id"`
}

type checkoutSessionQuery struct {
	SessionID string `form:"session_id"`
}

type urlResponse struct {
	URL string `json:"url"`
}

type checkoutSessionResponse struct {
	SessionID      string                   `json:"sessionId"`
	Status         string                   `json:"status,omitempty"`
	CustomerID     string                   `json:"customerId"`
	SubscriptionID string                   `json:"subscriptionId"`
	Subscription   *svcbilling.Subscription `json:"subscription"`
}

// wantsJSON reports whether the caller is an API client rather than a
// browser form post.
func wantsJSON(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get("X-Request-Source"), "api") {
		return true
	}
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		if mt, _, err := mime.ParseMediaType(strings.TrimSpace(part)); err == nil && mt == "application/json" {
			return true
		}
	}
	return false
}

func (m *Module) createCheckoutSession(ctx handler.Context, req checkoutRequest) handler.Response {
	userID, err := currentUser(ctx)
	if err != nil {
		return handler.Fail(err)
	}
	if req.LookupKey == "" {
		return handler.Error(errMissingLookupKey)
	}

	sess, err := m.broker.CreateCheckoutSession(ctx, userID, req.LookupKey)
	if err != nil {
		return handler.Fail(err)
	}
	if wantsJSON(ctx.Request()) {
		return handler.JSON(urlResponse{URL: sess.URL})
	}
	return handler.Redirect(sess.URL)
}

func (m *Module) createPortalSession(ctx handler.Context, req portalRequest) handler.Response {
	pr := svcbilling.PortalRequest{SessionID: req.SessionID}
	if pr.SessionID == "" {
		if raw := jwt.UserIDFromContext(ctx); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				return handler.Fail(svcbilling.ErrAuthenticationRequired)
			}
			pr.UserID = id
		}
	}
	if pr.SessionID == "" && pr.UserID == uuid.Nil {
		return handler.Error(errMissingSessionID)
	}

	url, err := m.broker.CreatePortalSession(ctx, pr)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(urlResponse{URL: url})
}

func (m *Module) checkoutSession(ctx handler.Context, q checkoutSessionQuery) handler.Response {
	if q.SessionID == "" {
		return handler.Error(errMissingSessionID)
	}
	st, err := m.broker.CheckoutStatus(ctx, q.SessionID)
	if err != nil {
		if errors.Is(err, svcbilling.ErrInvalidSession) {
			return handler.Error(handler.ErrNotFound.WithMessage("subscription not found for session"))
		}
		return handler.Fail(err)
	}
	return handler.JSON(checkoutSessionResponse{
		SessionID:      st.Session.ID,
		Status:         st.Session.Status,
		CustomerID:     st.Session.CustomerID,
		SubscriptionID: st.Session.SubscriptionID,
		Subscription:   st.Subscription,
	})
}

type subscriptionResponse struct {
	Subscription        *subscriptionView `json:"subscription"`
	PromptOptimizations int               `json:"promptOptimizations"`
}

type subscriptionView struct {
	ID                     uuid.UUID         `json:"id"`
	Plan                   svcbilling.Plan   `json:"plan"`
	Status                 svcbilling.Status `json:"status"`
	CurrentPeriodEnd       time.Time         `json:"currentPeriodEnd"`
	CreatedAt              time.Time         `json:"createdAt"`
	ProviderSubscriptionID string            `json:"providerSubscriptionId,omitempty"`
}

func (m *Module) subscriptions(ctx handler.Context, _ struct{}) handler.Response {
	userID, err := currentUser(ctx)
	if err != nil {
		return handler.Fail(err)
	}
	ent, err := m.store.Get(ctx, userID)
	if err != nil {
		return handler.Fail(err)
	}

	resp := subscriptionResponse{PromptOptimizations: ent.User.PromptOptimizations}
	if s := ent.Subscription; s != nil {
		resp.Subscription = &subscriptionView{
			ID:                     s.ID,
			Plan:                   s.Plan,
			Status:                 s.Status,
			CurrentPeriodEnd:       s.CurrentPeriodEnd,
			CreatedAt:              s.CreatedAt,
			ProviderSubscriptionID: s.ProviderSubscriptionID,
		}
	}
	return handler.JSON(resp)
}
