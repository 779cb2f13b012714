package middleware

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/loanadmin/pkg/config"
)

// DistributedRateLimiter shares limits across instances with a fixed
// window counter per key in Redis. A window admits RequestsPerWindow+Burst
// requests.
type DistributedRateLimiter struct {
	redis  *redis.Client
	cfg    config.RateLimitConfig
	prefix string
}

// NewDistributedRateLimiter creates a Redis-backed limiter
func NewDistributedRateLimiter(client *redis.Client, cfg config.RateLimitConfig, prefix string) *DistributedRateLimiter {
	if prefix == "" {
		prefix = "loanadmin:ratelimit"
	}
	return &DistributedRateLimiter{redis: client, cfg: cfg, prefix: prefix}
}

// Allow counts one request against key's current window
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	pipe := rl.redis.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("redis error: %w", err)
	}

	reset := ttl.Val()
	if reset < 0 {
		// first hit of the window
		if err := rl.redis.PExpire(ctx, redisKey, rl.cfg.Window).Err(); err != nil {
			return Decision{}, fmt.Errorf("redis error: %w", err)
		}
		reset = rl.cfg.Window
	}

	allowance := int64(rl.cfg.RequestsPerWindow + rl.cfg.Burst)
	count := incr.Val()
	remaining := allowance - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= allowance,
		Limit:     rl.cfg.RequestsPerWindow,
		Remaining: int(remaining),
		Reset:     reset,
	}, nil
}

// Reset clears key's window
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, fmt.Sprintf("%s:%s", rl.prefix, key)).Err()
}
