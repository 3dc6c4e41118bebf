package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ AttemptCounter = (*RedisCounter)(nil)

// incrementScript starts the window on the first hit and repairs keys that
// somehow lost their TTL, so a key can never count forever.
var incrementScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if count == 1 or ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisCounter shares windows across instances through Redis.
type RedisCounter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisCounter wraps client. Keys are stored as prefix+key.
func NewRedisCounter(client redis.UniversalClient, prefix string) *RedisCounter {
	if prefix == "" {
		prefix = "beacon:rl:"
	}
	return &RedisCounter{client: client, prefix: prefix, now: time.Now}
}

// Increment implements AttemptCounter.
func (r *RedisCounter) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	res, err := incrementScript.Run(ctx, r.client, []string{r.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, time.Time{}, err
	}
	if len(res) != 2 {
		return 0, time.Time{}, errors.New("unexpected script reply")
	}
	return res[0], r.now().Add(time.Duration(res[1]) * time.Millisecond), nil
}
