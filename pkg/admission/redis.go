package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vnykmshr/taskflow/pkg/common/errors"
)

// RedisConfig holds configuration for the Redis-backed limiter.
type RedisConfig struct {
	// Redis is the client used for coordination.
	Redis redis.UniversalClient

	// Key is the Redis key prefix for this limiter.
	Key string

	// Rate is the maximum number of admitted submissions per one-second
	// window, across all processes sharing the key.
	Rate int

	// Fallback, when set, is consulted instead of denying when Redis is
	// unreachable. Nil means deny on Redis errors.
	Fallback *Bucket

	// RedisTimeout bounds each Redis round trip. Defaults to 500ms.
	RedisTimeout time.Duration
}

// Redis is a fixed-window limiter coordinated through Redis. Each
// one-second window holds a shared counter incremented atomically by a
// Lua script, so the aggregate admission rate across processes never
// exceeds Rate. Scheduling remains local to each process.
type Redis struct {
	config RedisConfig
	script *redis.Script
}

// NewRedis creates a Redis-backed admission limiter.
func NewRedis(config RedisConfig) (*Redis, error) {
	if config.Redis == nil {
		return nil, fmt.Errorf("%w: redis client is required", errors.ErrInvalidConfiguration)
	}
	if config.Key == "" {
		return nil, fmt.Errorf("%w: key is required", errors.ErrInvalidConfiguration)
	}
	if config.Rate <= 0 {
		return nil, fmt.Errorf("%w: rate must be positive", errors.ErrInvalidConfiguration)
	}
	if config.RedisTimeout <= 0 {
		config.RedisTimeout = 500 * time.Millisecond
	}

	return &Redis{
		config: config,
		script: redis.NewScript(luaCheckAndIncrement),
	}, nil
}

// Allow implements Limiter.
func (r *Redis) Allow(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, r.config.RedisTimeout)
	defer cancel()

	windowKey := fmt.Sprintf("%s:window:%d", r.config.Key, time.Now().Unix())
	result, err := r.script.Run(ctx, r.config.Redis,
		[]string{windowKey},
		1,             // submissions to admit
		r.config.Rate, // window capacity
		2,             // key TTL in seconds: window length plus slack
	).Result()
	if err != nil {
		// Redis unavailable: prefer availability over strict enforcement
		// when a local fallback is configured.
		if r.config.Fallback != nil {
			return r.config.Fallback.Allow(ctx)
		}
		return false
	}

	allowed, ok := result.(int64)
	return ok && allowed == 1
}

// Name implements Limiter.
func (r *Redis) Name() string { return r.config.Key }

// Close implements Limiter. The Redis client is owned by the caller.
func (r *Redis) Close() error { return nil }

// luaCheckAndIncrement atomically checks the window counter against the
// capacity and increments it when the submission fits.
const luaCheckAndIncrement = `
-- KEYS[1]: current window key
-- ARGV[1]: submissions requested
-- ARGV[2]: window capacity
-- ARGV[3]: key TTL (seconds)

local requested = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local current = tonumber(redis.call('GET', KEYS[1]) or "0")

if current + requested <= capacity then
    local new_count = redis.call('INCRBY', KEYS[1], requested)
    if new_count == requested then
        redis.call('EXPIRE', KEYS[1], ttl)
    end
    return 1
else
    return 0
end
`
