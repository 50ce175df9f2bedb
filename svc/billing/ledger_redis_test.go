package billing_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptr-app/promptr/pkg/redis"
	"github.com/promptr-app/promptr/svc/billing"
)

// newRedisClient connects to TEST_REDIS_URL. Tests are skipped when it is
// unset.
func newRedisClient(t *testing.T) *goredis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" || testing.Short() {
		t.Skip("TEST_REDIS_URL not set")
	}
	client, err := redis.Connect(context.Background(), redis.Config{
		ConnectionURL:  url,
		RetryAttempts:  1,
		RetryInterval:  time.Second,
		ConnectTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func testPrefix() string {
	return "promptr-test:" + uuid.NewString() + ":"
}

func TestRedisLedger(t *testing.T) {
	client := newRedisClient(t)
	ctx := context.Background()

	t.Run("second delivery is a duplicate", func(t *testing.T) {
		l := billing.NewRedisLedger(client, testPrefix(), time.Minute, time.Minute)
		calls := 0
		fn := func(context.Context) error { calls++; return nil }

		already, err := l.Do(ctx, "evt_1", fn)
		require.NoError(t, err)
		assert.False(t, already)

		already, err = l.Do(ctx, "evt_1", fn)
		require.NoError(t, err)
		assert.True(t, already)
		assert.Equal(t, 1, calls)
	})

	t.Run("failure releases the lock", func(t *testing.T) {
		prefix := testPrefix()
		l := billing.NewRedisLedger(client, prefix, time.Minute, time.Minute)
		boom := errors.New("boom")

		_, err := l.Do(ctx, "evt_1", func(context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)

		n, err := client.Exists(ctx, prefix+"lock:evt_1", prefix+"done:evt_1").Result()
		require.NoError(t, err)
		assert.Zero(t, n)

		already, err := l.Do(ctx, "evt_1", func(context.Context) error { return nil })
		require.NoError(t, err)
		assert.False(t, already)
	})

	t.Run("concurrent delivery is in flight", func(t *testing.T) {
		l := billing.NewRedisLedger(client, testPrefix(), time.Minute, time.Minute)
		started, release := make(chan struct{}), make(chan struct{})
		done := make(chan error, 1)

		go func() {
			_, err := l.Do(ctx, "evt_1", func(context.Context) error {
				close(started)
				<-release
				return nil
			})
			done <- err
		}()
		<-started

		_, err := l.Do(ctx, "evt_1", func(context.Context) error { return nil })
		assert.ErrorIs(t, err, billing.ErrEventInFlight)

		close(release)
		require.NoError(t, <-done)

		already, err := l.Do(ctx, "evt_1", func(context.Context) error { return nil })
		require.NoError(t, err)
		assert.True(t, already)
	})

	t.Run("completion between check and lock is a duplicate", func(t *testing.T) {
		prefix := testPrefix()
		other := newRedisClient(t)
		// The first EXISTS misses; the event completes elsewhere before SET NX.
		hooked := goredis.NewClient(client.Options())
		t.Cleanup(func() { _ = hooked.Close() })
		hooked.AddHook(&afterFirstExists{fn: func(ctx context.Context) {
			other.Set(ctx, prefix+"done:evt_1", 1, time.Minute)
		}})

		l := billing.NewRedisLedger(hooked, prefix, time.Minute, time.Minute)
		calls := 0
		already, err := l.Do(ctx, "evt_1", func(context.Context) error { calls++; return nil })
		require.NoError(t, err)
		assert.True(t, already)
		assert.Zero(t, calls)
	})

	t.Run("lock expires", func(t *testing.T) {
		prefix := testPrefix()
		l := billing.NewRedisLedger(client, prefix, time.Minute, 100*time.Millisecond)
		require.NoError(t, client.Set(ctx, prefix+"lock:evt_1", 1, 100*time.Millisecond).Err())

		_, err := l.Do(ctx, "evt_1", func(context.Context) error { return nil })
		assert.ErrorIs(t, err, billing.ErrEventInFlight)

		time.Sleep(200 * time.Millisecond)
		already, err := l.Do(ctx, "evt_1", func(context.Context) error { return nil })
		require.NoError(t, err)
		assert.False(t, already)
	})
}

// afterFirstExists runs fn once, right after the first EXISTS reply.
type afterFirstExists struct {
	once sync.Once
	fn   func(ctx context.Context)
}

func (h *afterFirstExists) DialHook(next goredis.DialHook) goredis.DialHook { return next }

func (h *afterFirstExists) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		err := next(ctx, cmd)
		if cmd.Name() == "exists" {
			h.once.Do(func() { h.fn(ctx) })
		}
		return err
	}
}

func (h *afterFirstExists) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return next
}
