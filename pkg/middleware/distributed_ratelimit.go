package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DistributedRateLimiter counts requests in Redis so that every curator
// instance shares one budget per caller. Windows are aligned to multiples of
// WindowDuration and each window has its own key.
type DistributedRateLimiter struct {
	client *redis.Client
	config *RateLimitConfig
	prefix string
	now    func() time.Time
}

// NewDistributedRateLimiter creates a Redis-backed limiter. Keys are
// "<prefix>:<caller>:<window start unix>".
func NewDistributedRateLimiter(client *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "curator:ratelimit"
	}
	return &DistributedRateLimiter{
		client: client,
		config: config,
		prefix: prefix,
		now:    time.Now,
	}
}

func (rl *DistributedRateLimiter) window(key string) (string, time.Time) {
	start := rl.now().Truncate(rl.config.WindowDuration)
	return fmt.Sprintf("%s:%s:%d", rl.prefix, key, start.Unix()), start.Add(rl.config.WindowDuration)
}

// Take increments the caller's counter and sets its expiry in one
// MULTI/EXEC, so a counter never outlives its window.
func (rl *DistributedRateLimiter) Take(ctx context.Context, key string) (Decision, error) {
	redisKey, reset := rl.window(key)

	var count *redis.IntCmd
	_, err := rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		count = pipe.Incr(ctx, redisKey)
		pipe.ExpireAt(ctx, redisKey, reset.Add(time.Second))
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return decide(rl.config.RequestsPerWindow, int(count.Val()), reset), nil
}
