package billing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventLedger gives webhook processing at-least-once, at-most-once-success
// semantics per provider event id.
type EventLedger interface {
	// Do runs fn unless eventID already completed. A failed fn leaves the
	// event unrecorded so the provider's retry processes it again.
	// ErrEventInFlight when another worker holds the event.
	Do(ctx context.Context, eventID string, fn func(ctx context.Context) error) (already bool, err error)
}

// RedisLedger records processed events in Redis. A short-lived lock key
// guards in-flight processing; a done key with a longer TTL marks success.
type RedisLedger struct {
	client  redis.UniversalClient
	prefix  string
	doneTTL time.Duration
	lockTTL time.Duration
}

// NewRedisLedger creates a ledger with the given key prefix.
func NewRedisLedger(client redis.UniversalClient, prefix string, doneTTL, lockTTL time.Duration) *RedisLedger {
	if prefix == "" {
		prefix = "promptr:webhook:"
	}
	if doneTTL <= 0 {
		doneTTL = 72 * time.Hour
	}
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}
	return &RedisLedger{client: client, prefix: prefix, doneTTL: doneTTL, lockTTL: lockTTL}
}

// Do checks the done key, takes the lock with SET NX and checks the done key
// again under the lock before running fn.
func (l *RedisLedger) Do(ctx context.Context, eventID string, fn func(ctx context.Context) error) (bool, error) {
	if strings.TrimSpace(eventID) == "" {
		return false, ErrInvalidPayload
	}
	doneKey, lockKey := l.prefix+"done:"+eventID, l.prefix+"lock:"+eventID

	done, err := l.isDone(ctx, doneKey)
	if err != nil || done {
		return done, err
	}

	acquired, err := l.client.SetNX(ctx, lockKey, time.Now().UTC().UnixMilli(), l.lockTTL).Result()
	if err != nil {
		return false, errors.Join(ErrPersistence, err)
	}
	if !acquired {
		if done, _ := l.isDone(ctx, doneKey); done {
			return true, nil
		}
		return false, ErrEventInFlight
	}
	defer l.client.Del(context.WithoutCancel(ctx), lockKey)

	// A worker may have finished between the first check and SET NX.
	if done, err := l.isDone(ctx, doneKey); err != nil || done {
		return done, err
	}

	if err := fn(ctx); err != nil {
		return false, err
	}

	if err := l.client.Set(ctx, doneKey, time.Now().UTC().UnixMilli(), l.doneTTL).Err(); err != nil {
		return false, errors.Join(ErrPersistence, err)
	}
	return false, nil
}

func (l *RedisLedger) isDone(ctx context.Context, doneKey string) (bool, error) {
	n, err := l.client.Exists(ctx, doneKey).Result()
	if err != nil {
		return false, errors.Join(ErrPersistence, err)
	}
	return n > 0, nil
}

// MemoryLedger is an in-process EventLedger for tests and single-node runs.
// Entries never expire.
type MemoryLedger struct {
	mu       sync.Mutex
	done     map[string]struct{}
	inFlight map[string]struct{}
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		done:     make(map[string]struct{}),
		inFlight: make(map[string]struct{}),
	}
}

// Do runs fn under the ledger mutex bookkeeping; fn itself runs unlocked.
func (l *MemoryLedger) Do(ctx context.Context, eventID string, fn func(ctx context.Context) error) (bool, error) {
	if strings.TrimSpace(eventID) == "" {
		return false, ErrInvalidPayload
	}

	l.mu.Lock()
	if _, ok := l.done[eventID]; ok {
		l.mu.Unlock()
		return true, nil
	}
	if _, ok := l.inFlight[eventID]; ok {
		l.mu.Unlock()
		return false, ErrEventInFlight
	}
	l.inFlight[eventID] = struct{}{}
	l.mu.Unlock()

	err := fn(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inFlight, eventID)
	if err != nil {
		return false, err
	}
	l.done[eventID] = struct{}{}
	return false, nil
}
