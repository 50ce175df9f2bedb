package syncagent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/promptr-app/promptr/pkg/logger"
)

// DefaultInterval is how often the agent polls.
const DefaultInterval = 30 * time.Second

// Agent refreshes a Session's view on a timer and on Nudge.
type Agent struct {
	session  *Session
	fetcher  Fetcher
	interval time.Duration
	log      *slog.Logger

	group singleflight.Group
	nudge chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Agent)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.interval = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.log = l
		}
	}
}

// New creates an Agent for session.
func New(session *Session, fetcher Fetcher, opts ...Option) *Agent {
	a := &Agent{
		session:  session,
		fetcher:  fetcher,
		interval: DefaultInterval,
		log:      logger.Discard(),
		nudge:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.With(logger.Component("sync_agent"))
	return a
}

// Start refreshes once and then keeps polling until ctx is done or Stop is
// called.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return ErrAlreadyRun
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.run(ctx, a.done)
	return nil
}

// Stop cancels polling and waits for the loop to exit. It is safe to call
// more than once.
func (a *Agent) Stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Nudge asks for an immediate refresh, e.g. when the window regains focus.
// It never blocks; nudges arriving during a refresh are collapsed.
func (a *Agent) Nudge() {
	select {
	case a.nudge <- struct{}{}:
	default:
	}
}

func (a *Agent) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.refreshAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.refreshAndLog(ctx)
		case <-a.nudge:
			a.refreshAndLog(ctx)
		}
	}
}

func (a *Agent) refreshAndLog(ctx context.Context) {
	if _, err := a.Refresh(ctx); err != nil && ctx.Err() == nil {
		a.log.WarnContext(ctx, "entitlement refresh failed", logger.Error(err))
	}
}

// Refresh fetches the view once and replaces the session's view when plan,
// status or period end changed. Concurrent calls share one fetch. Without
// an authenticated session it does nothing.
func (a *Agent) Refresh(ctx context.Context) (bool, error) {
	token, ok := a.session.Token()
	if !ok {
		return false, nil
	}

	v, err, _ := a.group.Do(token, func() (any, error) {
		return a.fetcher.Fetch(ctx, token)
	})
	if err != nil {
		return false, err
	}

	view := v.(View)
	changed := a.session.replace(token, view)
	if changed {
		a.log.DebugContext(ctx, "entitlement view replaced",
			logger.Plan(string(view.Plan)), logger.Status(string(view.Status)))
	}
	return changed, nil
}
