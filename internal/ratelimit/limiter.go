// Package ratelimit gates message processing with fixed-window counters kept
// in Redis. The limiter fails open: moderation availability is never gated by
// the counter store.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"modkeeper/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	minuteWindow = 60 * time.Second
	hourWindow   = 3600 * time.Second

	// UnavailableSentinel is reported by Remaining when the counter store is
	// unreachable.
	UnavailableSentinel = 999
)

// Limiter enforces per-(user, chat) message ceilings over one-minute and
// one-hour fixed buckets.
type Limiter struct {
	rdb          *redis.Client
	maxPerMinute int
	maxPerHour   int
	logger       *slog.Logger
	now          func() time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock overrides the limiter's time source. Used by tests to pin bucket
// boundaries.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New returns a Limiter backed by rdb. A nil client is allowed and makes
// every operation fail open.
func New(rdb *redis.Client, maxPerMinute, maxPerHour int, logger *slog.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		rdb:          rdb,
		maxPerMinute: maxPerMinute,
		maxPerHour:   maxPerHour,
		logger:       logger,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Buckets are fixed, non-overlapping windows keyed by floor(now/windowSize).
func (l *Limiter) minuteKey(userID, chatID int64) string {
	return fmt.Sprintf("rate_limit:%d:%d:m:%d", userID, chatID, l.now().Unix()/60)
}

func (l *Limiter) hourKey(userID, chatID int64) string {
	return fmt.Sprintf("rate_limit:%d:%d:h:%d", userID, chatID, l.now().Unix()/3600)
}

// Allow increments both window counters and reports whether the message may
// be processed. Any counter-store failure allows the message through.
func (l *Limiter) Allow(ctx context.Context, userID, chatID int64) bool {
	if l.rdb == nil {
		return true
	}

	ok, err := l.bump(ctx, l.minuteKey(userID, chatID), minuteWindow, l.maxPerMinute)
	if err != nil {
		l.failOpen(ctx, err)
		return true
	}
	if !ok {
		observability.RateLimitThrottled.WithLabelValues("minute").Inc()
		return false
	}

	ok, err = l.bump(ctx, l.hourKey(userID, chatID), hourWindow, l.maxPerHour)
	if err != nil {
		l.failOpen(ctx, err)
		return true
	}
	if !ok {
		observability.RateLimitThrottled.WithLabelValues("hour").Inc()
	}
	return ok
}

// bump does INCR with EXPIRE on the bucket's first increment. A failed
// EXPIRE would leave an immortal counter key, so it is reported through the
// same error path as a failed INCR; the count itself is still valid.
func (l *Limiter) bump(ctx context.Context, key string, window time.Duration, limit int) (bool, error) {
	cnt, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if cnt == 1 {
		if err := l.rdb.Expire(ctx, key, window).Err(); err != nil {
			l.failOpen(ctx, err)
		}
	}
	return cnt <= int64(limit), nil
}

// Remaining reports how many messages are left in the current minute and hour
// buckets, floored at zero. When the store is unreachable both values are the
// availability sentinel.
func (l *Limiter) Remaining(ctx context.Context, userID, chatID int64) (minute, hour int) {
	if l.rdb == nil {
		return UnavailableSentinel, UnavailableSentinel
	}

	minuteUsed, err := l.used(ctx, l.minuteKey(userID, chatID))
	if err != nil {
		l.failOpen(ctx, err)
		return UnavailableSentinel, UnavailableSentinel
	}
	hourUsed, err := l.used(ctx, l.hourKey(userID, chatID))
	if err != nil {
		l.failOpen(ctx, err)
		return UnavailableSentinel, UnavailableSentinel
	}

	minute = l.maxPerMinute - minuteUsed
	if minute < 0 {
		minute = 0
	}
	hour = l.maxPerHour - hourUsed
	if hour < 0 {
		hour = 0
	}
	return minute, hour
}

func (l *Limiter) used(ctx context.Context, key string) (int, error) {
	val, err := l.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Reset clears all counters for a user across every chat and window.
func (l *Limiter) Reset(ctx context.Context, userID int64) {
	if l.rdb == nil {
		return
	}

	pattern := fmt.Sprintf("rate_limit:%d:*", userID)
	iter := l.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		l.failOpen(ctx, err)
		return
	}
	if len(keys) > 0 {
		if err := l.rdb.Del(ctx, keys...).Err(); err != nil {
			l.failOpen(ctx, err)
		}
	}
}

func (l *Limiter) failOpen(ctx context.Context, err error) {
	observability.RedisErrorRate.WithLabelValues("rate_limit").Inc()
	l.logger.WarnContext(ctx, "rate limit store unavailable, failing open",
		slog.String("error", err.Error()),
	)
}
