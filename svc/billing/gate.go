package billing

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/promptr-app/promptr/pkg/logger"
	"github.com/promptr-app/promptr/pkg/metrics"
)

// Admission is the gate's decision for one paid-feature request.
type Admission struct {
	// Gated is false for ACTIVE and WARNING subscribers.
	Gated bool
	// Remaining is the free quota left after this request; meaningful only
	// when Gated.
	Remaining int
}

// Gate decides whether a user may use the paid feature and consumes
// free-tier quota for users without a paid subscription.
type Gate struct {
	store Store
	log   *slog.Logger
}

// NewGate returns a Gate over store. A nil log discards output.
func NewGate(store Store, log *slog.Logger) *Gate {
	if log == nil {
		log = logger.Discard()
	}
	return &Gate{store: store, log: log.With(logger.Component("quota_gate"))}
}

// Check is the read-only pre-check: it reports whether the user is gated
// and fails with ErrQuotaExhausted when a gated user has nothing left.
func (g *Gate) Check(ctx context.Context, userID uuid.UUID) (Admission, error) {
	if userID == uuid.Nil {
		return Admission{}, ErrAuthenticationRequired
	}
	ent, err := g.store.Get(ctx, userID)
	if err != nil {
		return Admission{}, err
	}
	if ent.Paid() {
		metrics.QuotaDecisionsTotal.WithLabelValues("bypass").Inc()
		return Admission{}, nil
	}
	if ent.User.PromptOptimizations <= 0 {
		metrics.QuotaDecisionsTotal.WithLabelValues("exhausted").Inc()
		return Admission{Gated: true}, ErrQuotaExhausted
	}
	return Admission{Gated: true, Remaining: ent.User.PromptOptimizations}, nil
}

// Consume takes one optimization from a gated user's quota.
func (g *Gate) Consume(ctx context.Context, userID uuid.UUID) (int, error) {
	remaining, err := g.store.DecrementQuota(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrQuotaExhausted) {
			metrics.QuotaDecisionsTotal.WithLabelValues("exhausted").Inc()
		}
		return 0, err
	}
	metrics.QuotaDecisionsTotal.WithLabelValues("consumed").Inc()
	g.log.DebugContext(ctx, "quota consumed", logger.UserID(userID), logger.Remaining(remaining))
	return remaining, nil
}

// Admit checks and, for gated users, consumes in one step.
func (g *Gate) Admit(ctx context.Context, userID uuid.UUID) (Admission, error) {
	adm, err := g.Check(ctx, userID)
	if err != nil || !adm.Gated {
		return adm, err
	}

	remaining, err := g.Consume(ctx, userID)
	if err != nil {
		return Admission{Gated: true}, err
	}
	return Admission{Gated: true, Remaining: remaining}, nil
}
