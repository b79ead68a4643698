// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"context"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// RetryAfter is how long until the oldest counted request leaves the
	// window. Only set when the request is refused.
	RetryAfter time.Duration
}

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RedisLimiterPrefix starts every rate-limit key.
const RedisLimiterPrefix = "accountd:ratelimit:"

// RedisLimiter is a sliding-window log limiter kept in a redis sorted set
// per key. Refused requests are not counted.
type RedisLimiter struct {
	client redis.Cmdable
	limit  int
	window time.Duration
	now    func() time.Time
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter allows limit requests per key within any window.
func NewRedisLimiter(client redis.Cmdable, limit int, window time.Duration) (*RedisLimiter, error) {
	if client == nil {
		return nil, oops.Code("RATE_LIMIT_INVALID").Errorf("redis client is required")
	}
	if limit < 1 || window <= 0 {
		return nil, oops.Code("RATE_LIMIT_INVALID").
			With("limit", limit).
			With("window", window).
			Errorf("limit and window must be positive")
	}
	return &RedisLimiter{client: client, limit: limit, window: window, now: time.Now}, nil
}

// Allow records the request and reports whether it fits in the window.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	key = RedisLimiterPrefix + key
	now := l.now()
	windowStart := now.Add(-l.window).UnixNano()
	member := ulid.Make().String()

	var count *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(windowStart, 10))
		count = pipe.ZCard(ctx, key)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
		pipe.PExpire(ctx, key, l.window)
		return nil
	})
	if err != nil {
		return Decision{}, oops.Code("RATE_LIMIT_FAILED").With("key", key).Wrap(err)
	}

	seen := int(count.Val())
	if seen < l.limit {
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit - seen - 1}, nil
	}

	if err := l.client.ZRem(ctx, key, member).Err(); err != nil {
		return Decision{}, oops.Code("RATE_LIMIT_FAILED").With("key", key).Wrap(err)
	}
	retry := l.window
	oldest, err := l.client.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err == nil && len(oldest) > 0 {
		retry = time.Unix(0, int64(oldest[0].Score)).Add(l.window).Sub(now)
	}
	return Decision{Allowed: false, Limit: l.limit, RetryAfter: retry}, nil
}
