package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// BriefKey scopes the bucket to one user's brief requests. A single
// accepted brief fans out into LLM, TTS and storage spend, so the gate
// sits in front of job creation.
func BriefKey(userID string) string { return "rl:briefs:" + userID }

// NewsKey scopes the bucket to one tenant's news refreshes.
func NewsKey(tenant string) string { return "rl:news:" + tenant }

// TokenBucket is a Redis-backed token bucket shared by every API
// replica. Bucket state is a small hash per key, mutated by a Lua
// script so concurrent replicas cannot double-spend a token.
type TokenBucket struct {
	rdb          *redis.Client
	capacity     int
	refillPerSec float64
	ttl          time.Duration
}

// NewTokenBucket sizes the bucket: capacity bounds a burst, refillPerSec
// sets the sustained rate. Idle buckets expire after ttl.
func NewTokenBucket(rdb *redis.Client, capacity int, refillPerSec float64, ttl time.Duration) *TokenBucket {
	return &TokenBucket{
		rdb:          rdb,
		capacity:     capacity,
		refillPerSec: refillPerSec,
		ttl:          ttl,
	}
}

// Allow spends one token from the bucket under key. It reports whether
// the request may proceed and how many tokens remain.
func (b *TokenBucket) Allow(ctx context.Context, key string) (bool, float64, error) {
	now := time.Now().UnixMilli()
	res, err := takeToken.Run(ctx, b.rdb, []string{key},
		b.capacity, b.refillPerSec, now, b.ttl.Milliseconds()).Result()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit %s: %w", key, err)
	}
	reply, ok := res.([]interface{})
	if !ok || len(reply) != 2 {
		return false, 0, fmt.Errorf("rate limit %s: unexpected script reply %v", key, res)
	}

	var remaining float64
	switch v := reply[1].(type) {
	case int64:
		remaining = float64(v)
	case float64:
		remaining = v
	}
	allowed, _ := reply[0].(int64)
	return allowed == 1, remaining, nil
}

// takeToken refills the bucket from elapsed wall-clock time, then spends
// one token if available. The read-modify-write stays atomic because it
// all happens inside one script invocation.
var takeToken = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_per_sec = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(state[1])
local last_ms = tonumber(state[2])
if tokens == nil then tokens = capacity end
if last_ms == nil then last_ms = now_ms end

local elapsed = math.max(0, now_ms - last_ms)
tokens = math.min(capacity, tokens + elapsed / 1000 * refill_per_sec)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_ms', now_ms)
if ttl_ms > 0 then redis.call('PEXPIRE', key, ttl_ms) end
return {allowed, tokens}
`)
