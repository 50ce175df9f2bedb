package ratelimiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var incrScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
return {count, ttl}
`)

// RedisStore shares counters across instances.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore keys counters under prefix, "ratelimit:" when empty.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Incr bumps the counter in one script call; the first hit of a window sets
// its expiry.
func (s *RedisStore) Incr(ctx context.Context, key string, size time.Duration) (int, time.Time, error) {
	vals, err := incrScript.Run(ctx, s.client, []string{s.prefix + key}, size.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, time.Time{}, err
	}
	if len(vals) != 2 {
		return 0, time.Time{}, fmt.Errorf("unexpected script reply length %d", len(vals))
	}
	ttl := time.Duration(vals[1]) * time.Millisecond
	if ttl < 0 {
		ttl = size
	}
	return int(vals[0]), time.Now().Add(ttl), nil
}
