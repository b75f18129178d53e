package ratelimit

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares counters across instances through Redis. Every attempt
// increments the counter, so a flood keeps the key hot until the window
// expires.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedis creates a limiter storing counters under prefix.
func NewRedis(client *redis.Client, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "paygate:ratelimit:"
	}
	return &RedisLimiter{client: client, prefix: prefix, now: time.Now}
}

func (l *RedisLimiter) Check(ctx context.Context, key string, max int, window time.Duration) (Result, error) {
	redisKey := l.prefix + key
	now := l.now()

	var (
		incr *redis.IntCmd
		pttl *redis.DurationCmd
	)
	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, redisKey)
		pttl = p.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		return Result{}, errors.Wrap(err, "incr counter")
	}

	count := int(incr.Val())
	ttl := pttl.Val()
	if ttl <= 0 {
		// Fresh key or a key that lost its expiry: open the window now.
		if err := l.client.PExpire(ctx, redisKey, window).Err(); err != nil {
			return Result{}, errors.Wrap(err, "set window expiry")
		}
		ttl = window
	}

	remaining := max - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= max,
		Remaining: remaining,
		ResetAt:   now.Add(ttl),
	}, nil
}
