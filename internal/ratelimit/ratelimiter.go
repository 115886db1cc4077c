package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// window is the sliding window all limits are measured over.
const window = time.Minute

// Limiter is used to enforce per-key rate limits.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// NoopLimiter allows all requests (no rate limiting yet).
type NoopLimiter struct{}

func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

func (l *NoopLimiter) Allow(ctx context.Context, key string) bool {
	return true
}

// RateLimiter implements distributed rate limiting using Redis with a
// sliding window over sorted sets. Keys are demo session IDs or user IDs.
type RateLimiter struct {
	client *redis.Client
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client}
}

// AllowWithDetails checks if a request should be allowed for the given key.
// Returns whether it is allowed, how many requests remain in the window, and
// when the window resets. A limit of 0 or less means unlimited; remaining is
// then -1 and resetAt is the zero time.
func (rl *RateLimiter) AllowWithDetails(ctx context.Context, limitKey string, limit int) (allowed bool, remaining int, resetAt time.Time, err error) {
	if limit <= 0 {
		return true, -1, time.Time{}, nil
	}

	key := fmt.Sprintf("ratelimit:%s", limitKey)
	now := time.Now()
	windowStart := now.Add(-window)

	pipe := rl.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixMilli()))
	countCmd := pipe.ZCard(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit check failed: %w", err)
	}

	currentCount := int(countCmd.Val())
	resetAt = now.Add(window)

	if currentCount >= limit {
		return false, 0, resetAt, nil
	}

	// Record this request. Check-then-add is not atomic, so a burst of
	// concurrent requests may briefly overshoot the limit; the window is a
	// cost control, not a hard guarantee.
	timestamp := now.UnixMilli()
	addPipe := rl.client.Pipeline()
	addPipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(timestamp),
		Member: fmt.Sprintf("%d:%d", timestamp, currentCount),
	})
	addPipe.Expire(ctx, key, 2*window)

	if _, err := addPipe.Exec(ctx); err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit update failed: %w", err)
	}

	return true, limit - currentCount - 1, resetAt, nil
}

// Allow checks if a request should be allowed for the given key
func (rl *RateLimiter) Allow(ctx context.Context, limitKey string, limit int) (bool, error) {
	allowed, _, _, err := rl.AllowWithDetails(ctx, limitKey, limit)
	return allowed, err
}

// GetCurrentUsage returns the current request count in the window
func (rl *RateLimiter) GetCurrentUsage(ctx context.Context, limitKey string) (int64, error) {
	key := fmt.Sprintf("ratelimit:%s", limitKey)
	now := time.Now()
	windowStart := now.Add(-window)

	if err := rl.client.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixMilli())).Err(); err != nil {
		return 0, fmt.Errorf("failed to clean old entries: %w", err)
	}

	count, err := rl.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get current usage: %w", err)
	}

	return count, nil
}

// Reset resets the rate limit for a key
func (rl *RateLimiter) Reset(ctx context.Context, limitKey string) error {
	key := fmt.Sprintf("ratelimit:%s", limitKey)
	return rl.client.Del(ctx, key).Err()
}
