package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
)

// ErrTooManyInFlight rejects a new analysis while a user already has
// the maximum number running.
var ErrTooManyInFlight = errors.New("too_many_analyses_in_flight")

const acquireScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if count > tonumber(ARGV[1]) then
  redis.call("DECR", KEYS[1])
  return 0
end
return 1
`

const releaseScript = `
local count = redis.call("DECR", KEYS[1])
if count <= 0 then
  redis.call("DEL", KEYS[1])
end
return count
`

// InFlightLimiter bounds concurrent analyses per user with a redis
// counter. The key TTL is a crash backstop: an instance that dies
// mid-analysis leaks its slot for at most slotTTL.
type InFlightLimiter struct {
	client  *redis.Client
	acquire *redis.Script
	release *redis.Script
	max     int64
	slotTTL time.Duration
}

// NewInFlightLimiter returns nil when no redis client is configured;
// a nil limiter admits everything.
func NewInFlightLimiter(client *redis.Client, max int64) *InFlightLimiter {
	if client == nil || max <= 0 {
		return nil
	}
	return &InFlightLimiter{
		client:  client,
		acquire: redis.NewScript(acquireScript),
		release: redis.NewScript(releaseScript),
		max:     max,
		slotTTL: 10 * time.Minute,
	}
}

// Acquire claims an analysis slot for the user. The returned release
// func gives the slot back and is safe to call exactly once.
func (l *InFlightLimiter) Acquire(ctx context.Context, userID snowflake.ID) (func(), error) {
	if l == nil || l.client == nil {
		return func() {}, nil
	}

	key := slotKey(userID)
	allowed, err := l.acquire.Run(ctx, l.client, []string{key}, l.max, l.slotTTL.Milliseconds()).Int64()
	if err != nil {
		// Redis being down must not take analyses with it.
		return func() {}, nil
	}
	if allowed == 0 {
		return nil, ErrTooManyInFlight
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.release.Run(releaseCtx, l.client, []string{key}).Err()
	}, nil
}

func slotKey(userID snowflake.ID) string {
	return fmt.Sprintf("autora:inflight:%s", userID)
}
