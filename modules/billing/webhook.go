package billing

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/promptr-app/promptr/pkg/logger"
	"github.com/promptr-app/promptr/pkg/metrics"
	svcbilling "github.com/promptr-app/promptr/svc/billing"
)

// maxWebhookBody bounds a provider event envelope.
const maxWebhookBody = 1 << 20

// webhook reads the raw body, which signature verification needs byte for
// byte, and hands it to the reconciler. Every outcome gets an explicit
// status: 2xx stops provider retries, 5xx asks for one.
func (m *Module) webhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		m.writeWebhook(w, "unknown", start, http.StatusBadRequest, map[string]any{"error": "unreadable body", "code": "bad_request"})
		return
	}

	res, err := m.reconciler.HandleWebhook(ctx, payload, r.Header)
	eventType := eventLabel(res.Event.Type)
	if err != nil {
		status, code, msg := webhookFailure(err)
		log := m.log.With(logger.EventID(res.Event.ID), logger.EventType(res.Event.ProviderType), logger.Error(err))
		if status >= http.StatusInternalServerError {
			log.ErrorContext(ctx, "webhook processing failed")
		} else {
			log.WarnContext(ctx, "webhook rejected", slog.Int("status_code", status))
		}
		m.writeWebhook(w, eventType, start, status, map[string]any{"error": msg, "code": code})
		return
	}

	m.writeWebhook(w, eventType, start, http.StatusOK, map[string]any{"received": true, "status": string(res.Outcome)})
}

// eventLabel maps an event type onto the fixed set of metric labels.
func eventLabel(t svcbilling.EventType) string {
	switch t {
	case svcbilling.EventCheckoutCompleted,
		svcbilling.EventSubscriptionCreated,
		svcbilling.EventSubscriptionUpdated,
		svcbilling.EventSubscriptionDeleted,
		svcbilling.EventTrialWillEnd,
		svcbilling.EventEntitlementsUpdated:
		return string(t)
	case "":
		return "unknown"
	default:
		return string(svcbilling.EventUnhandled)
	}
}

func webhookFailure(err error) (int, string, string) {
	switch {
	case errors.Is(err, svcbilling.ErrSignatureVerificationFailed):
		return http.StatusBadRequest, "invalid_signature", "webhook signature verification failed"
	case errors.Is(err, svcbilling.ErrInvalidPayload):
		return http.StatusBadRequest, "invalid_payload", "invalid webhook payload"
	case errors.Is(err, svcbilling.ErrUserNotFound):
		return http.StatusNotFound, "user_not_found", "user not found"
	case errors.Is(err, svcbilling.ErrEventInFlight):
		return http.StatusConflict, "event_in_flight", "event is being processed"
	default:
		return http.StatusInternalServerError, "internal_error", "webhook processing failed"
	}
}

func (m *Module) writeWebhook(w http.ResponseWriter, eventType string, start time.Time, status int, body map[string]any) {
	metrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
	metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
