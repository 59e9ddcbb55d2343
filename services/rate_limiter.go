package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// RateLimitResult reports a single limiter decision.
type RateLimitResult struct {
	Allowed      bool `json:"allowed"`
	Remaining    int  `json:"remaining"`
	ResetSeconds int  `json:"reset_seconds"`
}

// RateLimiter gates one action kind per key. Both implementations fail open
// on a transport error: availability wins when the cache tier is degraded,
// and the actor queue plus optimistic updater remain the correctness
// backstop behind the limiter.
//
// The sliding window is the authoritative limiter for tap input; the fixed
// window covers coarse actions (daily claim, match join) where the
// boundary-burst allowance is harmless.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) RateLimitResult
}

// FixedWindowLimiter counts actions in fixed cache-expiring windows. Cheap
// — one INCR per check — but admits up to 2×limit across a window boundary.
type FixedWindowLimiter struct {
	Cache *CacheService
}

func (l *FixedWindowLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) RateLimitResult {
	n, err := l.Cache.Increment(ctx, key, 1)
	if err != nil {
		log.Printf("⚠️ [LIMITER] INCR %s failed, failing open: %v", key, err)
		return RateLimitResult{Allowed: true, Remaining: limit}
	}
	if n == 1 {
		// Expiry is set only on the first increment of the window; the
		// window self-expires through the cache, no process timer involved.
		if err := l.Cache.Expire(ctx, key, window); err != nil {
			log.Printf("⚠️ [LIMITER] EXPIRE %s failed: %v", key, err)
		}
	}

	reset := 0
	if ttl, err := l.Cache.TTL(ctx, key); err == nil && ttl > 0 {
		reset = int(ttl.Seconds() + 0.5)
	}
	if n > int64(limit) {
		return RateLimitResult{Allowed: false, Remaining: 0, ResetSeconds: reset}
	}
	return RateLimitResult{Allowed: true, Remaining: limit - int(n), ResetSeconds: reset}
}

// SlidingWindowLimiter keeps a per-key sorted set of timestamped entries and
// prunes to the trailing window on each check, so at most limit actions pass
// in any window-sized interval — no boundary bursts.
type SlidingWindowLimiter struct {
	Cache *CacheService
}

func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) RateLimitResult {
	now := time.Now()
	cutoff := now.Add(-window).UnixMilli()

	if _, err := l.Cache.SortedSetRemoveByScore(ctx, key, "-inf", fmt.Sprintf("%d", cutoff)); err != nil {
		log.Printf("⚠️ [LIMITER] prune %s failed, failing open: %v", key, err)
		return RateLimitResult{Allowed: true, Remaining: limit}
	}
	count, err := l.Cache.SortedSetCount(ctx, key)
	if err != nil {
		log.Printf("⚠️ [LIMITER] count %s failed, failing open: %v", key, err)
		return RateLimitResult{Allowed: true, Remaining: limit}
	}

	if count >= int64(limit) {
		reset := int(window.Seconds() + 0.5)
		if oldest, err := l.Cache.SortedSetRange(ctx, key, 0, 0); err == nil && len(oldest) == 1 {
			freeAt := time.UnixMilli(int64(oldest[0].Score)).Add(window)
			if until := time.Until(freeAt); until > 0 {
				reset = int(until.Seconds() + 0.5)
			} else {
				reset = 1
			}
		}
		return RateLimitResult{Allowed: false, Remaining: 0, ResetSeconds: reset}
	}

	// The uuid nonce keeps same-millisecond entries distinct members.
	member := fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString())
	if err := l.Cache.SortedSetAdd(ctx, key, float64(now.UnixMilli()), member); err != nil {
		log.Printf("⚠️ [LIMITER] insert %s failed, failing open: %v", key, err)
		return RateLimitResult{Allowed: true, Remaining: limit}
	}
	if err := l.Cache.Expire(ctx, key, window+time.Second); err != nil {
		log.Printf("⚠️ [LIMITER] EXPIRE %s failed: %v", key, err)
	}

	return RateLimitResult{
		Allowed:      true,
		Remaining:    limit - int(count) - 1,
		ResetSeconds: int(window.Seconds() + 0.5),
	}
}
