package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Sliding log in a sorted set scored by attempt time in milliseconds. The
// caller passes the current time so the window follows the engine clock.
// Denied attempts are not added.
const admitScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
local count = redis.call("ZCARD", KEYS[1])
local need = cost
if need < 1 then
  need = 1
end
if count + need <= limit then
  if cost > 0 then
    for i = 1, cost do
      redis.call("ZADD", KEYS[1], now, ARGV[5] .. ":" .. i)
    end
    count = count + cost
    redis.call("PEXPIRE", KEYS[1], window)
  end
  return {1, count, 0}
end
local retry = window
local idx = count + need - limit - 1
if idx < count then
  local hit = redis.call("ZRANGE", KEYS[1], idx, idx, "WITHSCORES")
  retry = tonumber(hit[2]) + window - now
end
return {0, count, retry}
`

var admitLua = redis.NewScript(admitScript)

// Redis is a [Limiter] shared by every process using the same Redis. Each
// Admit is one script call.
type Redis struct {
	redis  redis.UniversalClient
	prefix string
	policy Policy
	now    func() time.Time
}

// NewRedis returns a Redis limiter. An empty prefix defaults to "arl" and a
// nil now uses time.Now.
func NewRedis(client redis.UniversalClient, prefix string, p Policy, now func() time.Time) (*Redis, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "arl"
	}
	if now == nil {
		now = time.Now
	}
	return &Redis{redis: client, prefix: prefix, policy: p, now: now}, nil
}

func (r *Redis) key(key string) string {
	return r.prefix + ":" + key
}

// Admit implements [Limiter].
func (r *Redis) Admit(ctx context.Context, key string, cost int) (Decision, error) {
	if cost < 0 {
		cost = 0
	}
	args := []any{
		r.now().UnixMilli(),
		r.policy.Window.Milliseconds(),
		r.policy.Limit,
		cost,
		uuid.NewString(),
	}
	vals, err := admitLua.Run(ctx, r.redis, []string{r.key(key)}, args...).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(vals) != 3 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply %v", ErrUnavailable, vals)
	}
	return Decision{
		Allowed:    vals[0] == 1,
		Count:      int(vals[1]),
		RetryAfter: time.Duration(vals[2]) * time.Millisecond,
	}, nil
}

// Reset implements [Limiter].
func (r *Redis) Reset(ctx context.Context, key string) error {
	if err := r.redis.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Flush implements [Limiter]. It deletes every key under the prefix.
func (r *Redis) Flush(ctx context.Context) error {
	iter := r.redis.Scan(ctx, 0, r.prefix+":*", 512).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 512 {
			if err := r.redis.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(batch) > 0 {
		if err := r.redis.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return nil
}
