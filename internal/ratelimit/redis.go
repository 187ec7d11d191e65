package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Redis is a limiter backed by one sorted set per (class, identity). It is
// safe for multi-instance deployments.
type Redis struct {
	client    goredis.Cmdable
	rules     Rules
	keyPrefix string
	now       func() time.Time
}

var _ Limiter = (*Redis)(nil)

// NewRedis creates a Redis-backed limiter.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func NewRedis(client goredis.Cmdable, rules Rules, opts ...Option) *Redis {
	o := buildOptions(opts)
	return &Redis{
		client:    client,
		rules:     rules,
		keyPrefix: o.keyPrefix,
		now:       o.now,
	}
}

// slidingWindowScript atomically prunes, counts and records one request.
// KEYS[1] = sorted set key
// ARGV[1] = now (unix ms)
// ARGV[2] = window (ms)
// ARGV[3] = limit
// ARGV[4] = member
//
// Returns {allowed, remaining, retry_after_ms}.
var slidingWindowScript = goredis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)
if count >= limit then
    local retry = window
    local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
    if oldest[2] then
        retry = tonumber(oldest[2]) + window - now
    end
    return {0, 0, retry}
end

redis.call("ZADD", key, now, ARGV[4])
redis.call("PEXPIRE", key, window)
return {1, limit - count - 1, 0}
`)

func (r *Redis) key(class Class, identity string) string {
	return r.keyPrefix + string(class) + ":" + identity
}

// Allow records the request if the window has room.
func (r *Redis) Allow(ctx context.Context, class Class, identity string) (Decision, error) {
	rule, err := r.rules.lookup(class)
	if err != nil {
		return Decision{}, err
	}

	now := r.now().UnixMilli()
	result, err := slidingWindowScript.Run(ctx, r.client,
		[]string{r.key(class, identity)},
		now, rule.Window.Milliseconds(), rule.Limit, fmt.Sprintf("%d-%s", now, uuid.NewString()),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit/redis: allow: %w", err)
	}
	if len(result) != 3 {
		return Decision{}, fmt.Errorf("ratelimit/redis: unexpected script result: %v", result)
	}

	return Decision{
		Allowed:    result[0] == 1,
		Remaining:  int(result[1]),
		RetryAfter: time.Duration(result[2]) * time.Millisecond,
	}, nil
}
