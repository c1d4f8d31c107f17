package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is a per-client token bucket kept in Redis so that several api
// processes share one budget.
type Limiter struct {
	client   *redis.Client
	prefix   string
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
}

// New constructs a limiter. Buckets idle for longer than ttl are dropped.
func New(client *redis.Client, capacity int, refillPerSecond float64, ttl time.Duration) *Limiter {
	return &Limiter{
		client:   client,
		prefix:   "replay:rl:",
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
	}
}

// Allow takes one token from the client's bucket and reports whether one was
// available, along with the tokens left.
func (l *Limiter) Allow(ctx context.Context, clientID string) (bool, float64, error) {
	now := time.Now().UnixMilli()
	res, err := takeScript.Run(ctx, l.client, []string{l.prefix + clientID}, l.capacity, l.refill, now, l.ttl.Milliseconds()).Result()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit script: %w", err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, fmt.Errorf("unexpected rate limit reply: %v", res)
	}
	allowed, _ := arr[0].(int64)
	var left float64
	switch v := arr[1].(type) {
	case int64:
		left = float64(v)
	case string:
		left, _ = strconv.ParseFloat(v, 64)
	}
	return allowed == 1, left, nil
}

// Lua numbers come back truncated to integers, so the remaining tokens are
// returned as a string to keep the fraction.
var takeScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(state[1]) or capacity
local last = tonumber(state[2]) or now

tokens = math.min(capacity, tokens + math.max(0, now - last) / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tostring(tokens)}
`)
