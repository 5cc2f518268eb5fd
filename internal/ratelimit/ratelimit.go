// Package ratelimit is a fixed-window counter per (name, key) on Redis.
// Windows are aligned to the clock, so a caller can burst up to 2× the limit
// across a window boundary; acceptable for checkout/notification triggers and
// documented rather than fixed.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/agromarket/fulfillment/internal/redisx"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type Result struct {
	OK        bool      `json:"ok"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Counter is the slice of the Redis client the limiter needs.
type Counter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd
}

type Limiter struct {
	RDB    Counter
	Limit  int
	Window time.Duration

	now func() time.Time
}

func New(rdb Counter, limit int, window time.Duration) *Limiter {
	return &Limiter{RDB: rdb, Limit: limit, Window: window, now: time.Now}
}

// Allow counts one hit against the (name, key) bucket. It never returns an
// error to the caller's hot path: when Redis is unreachable the limiter fails
// open and logs, because dropping checkouts over a counter outage is worse
// than briefly not limiting.
func (l *Limiter) Allow(ctx context.Context, name, key string) Result {
	now := l.now()
	windowStart := now.Truncate(l.Window)
	resetAt := windowStart.Add(l.Window)

	bucket := fmt.Sprintf(redisx.KeyRateWindow, name, key, windowStart.Unix())
	n, err := l.RDB.Incr(ctx, bucket).Result()
	if err != nil {
		logrus.WithError(err).WithField("bucket", bucket).Warn("rate limiter unavailable, failing open")
		return Result{OK: true, Remaining: l.Limit, ResetAt: resetAt}
	}
	if n == 1 {
		// first hit owns the expiry; window + slack covers clock skew
		l.RDB.Expire(ctx, bucket, l.Window+time.Minute)
	}

	remaining := l.Limit - int(n)
	if remaining < 0 {
		remaining = 0
	}
	return Result{OK: n <= int64(l.Limit), Remaining: remaining, ResetAt: resetAt}
}
