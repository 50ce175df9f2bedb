package ratelimiter

import "time"

// Config defines a fixed window: at most Limit hits per Window.
type Config struct {
	Limit  int           `env:"OPTIMIZE_RATE_LIMIT" envDefault:"30"`
	Window time.Duration `env:"OPTIMIZE_RATE_WINDOW" envDefault:"1m"`
}

// Result contains the outcome of a rate limit check.
type Result struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Allowed reports whether the hit fit in the window.
func (r *Result) Allowed() bool {
	return r.Remaining >= 0
}

// RetryAfter returns how long to wait before the next hit. 0 if allowed.
func (r *Result) RetryAfter() time.Duration {
	if r.Allowed() {
		return 0
	}
	return max(time.Until(r.ResetAt), 0)
}
