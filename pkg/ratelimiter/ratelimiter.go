// Package ratelimiter implements a fixed-window request limiter with Redis
// and in-memory counters, plus an HTTP middleware.
package ratelimiter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Store counts hits per key within a window.
type Store interface {
	// Incr adds one hit to key and returns the count in the current window
	// together with the time the window closes.
	Incr(ctx context.Context, key string, window time.Duration) (count int, resetAt time.Time, err error)
}

// Limiter applies Config over a Store.
type Limiter struct {
	store  Store
	config Config
}

func New(store Store, config Config) (*Limiter, error) {
	if config.Limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidConfig, config.Limit)
	}
	if config.Window <= 0 {
		return nil, fmt.Errorf("%w: window must be positive, got %v", ErrInvalidConfig, config.Window)
	}
	return &Limiter{store: store, config: config}, nil
}

// Allow records a hit for key.
func (l *Limiter) Allow(ctx context.Context, key string) (*Result, error) {
	count, resetAt, err := l.store.Incr(ctx, key, l.config.Window)
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	return &Result{
		Limit:     l.config.Limit,
		Remaining: l.config.Limit - count,
		ResetAt:   resetAt,
	}, nil
}
