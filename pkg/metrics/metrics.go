// Package metrics declares the Prometheus collectors promptr exports on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "promptr"

var (
	// WebhookRequestsTotal counts billing webhook deliveries by event type and HTTP status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Total billing webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Billing webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// ReconciledTotal counts subscription writes by outcome (applied, stale, duplicate).
	ReconciledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "reconciled_total",
		Help:      "Subscription reconciliation outcomes.",
	}, []string{"outcome"})

	// SessionsTotal counts hosted checkout / portal sessions by kind and outcome.
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "sessions_total",
		Help:      "Hosted billing sessions created by kind and outcome.",
	}, []string{"kind", "outcome"})

	// QuotaDecisionsTotal counts quota gate decisions (bypass, consumed, exhausted).
	QuotaDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "quota",
		Name:      "decisions_total",
		Help:      "Quota gate decisions.",
	}, []string{"decision"})

	// OptimizeStreamsTotal counts prompt optimization streams by outcome.
	OptimizeStreamsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "optimizer",
		Name:      "streams_total",
		Help:      "Prompt optimization streams by outcome.",
	}, []string{"outcome"})
)
