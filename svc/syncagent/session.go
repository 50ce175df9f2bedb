package syncagent

import (
	"sync"
	"time"

	"github.com/promptr-app/promptr/svc/billing"
)

// View is the client's cached entitlement.
type View struct {
	// Subscribed is false when the server reports no subscription; Plan,
	// Status and CurrentPeriodEnd are then zero.
	Subscribed          bool
	Plan                billing.Plan
	Status              billing.Status
	CurrentPeriodEnd    time.Time
	PromptOptimizations int
}

// Differs reports whether v and other disagree on plan, status or period end.
func (v View) Differs(other View) bool {
	return v.Subscribed != other.Subscribed ||
		v.Plan != other.Plan ||
		v.Status != other.Status ||
		!v.CurrentPeriodEnd.Equal(other.CurrentPeriodEnd)
}

// Session is the logged-in client state. It is written only by login
// (NewSession), logout (Close) and the Agent's refresh.
type Session struct {
	mu      sync.RWMutex
	token   string
	view    View
	hasView bool
	closed  bool
	changes chan View
}

// NewSession starts a session for token. initial is the view returned at
// login, if any.
func NewSession(token string, initial *View) *Session {
	s := &Session{token: token, changes: make(chan View, 1)}
	if initial != nil {
		s.view = *initial
		s.hasView = true
	}
	return s
}

// Token returns the credential, or false after Close.
func (s *Session) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, !s.closed && s.token != ""
}

// View returns the cached view, or false when none has been loaded.
func (s *Session) View() (View, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view, s.hasView && !s.closed
}

// Changes delivers the latest replaced view. Only the most recent value is
// kept when the reader falls behind. The channel is closed by Close.
func (s *Session) Changes() <-chan View {
	return s.changes
}

// Close logs the session out and drops the cached view.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.token = ""
	s.view = View{}
	s.hasView = false
	close(s.changes)
}

// replace stores v when the session still carries token and v differs from
// the cached view. It reports whether the view was replaced.
func (s *Session) replace(token string, v View) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.token != token {
		return false
	}
	if s.hasView && !s.view.Differs(v) {
		return false
	}
	s.view = v
	s.hasView = true

	select {
	case <-s.changes:
	default:
	}
	s.changes <- v
	return true
}
