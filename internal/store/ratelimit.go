package store

import (
	"context"
	"fmt"
	"time"

	"webhookd/internal/types"
)

// rateLimitKeyPrefix namespaces limiter counters inside the shared KV.
const rateLimitKeyPrefix = "ratelimit:"

// FixedWindowConfig carries the limiter tuning knobs.
type FixedWindowConfig struct {
	MaxRequests int
	Window      time.Duration
}

// FixedWindowLimiter enforces a maximum request count per client identity
// within a fixed time window. Counters reset lazily when the window elapses.
//
// Callers are expected to fail open on limiter errors: a store outage must
// not block all inbound traffic.
type FixedWindowLimiter struct {
	kv     KV
	max    int
	window time.Duration
}

// NewFixedWindowLimiter constructs a limiter backed by the given KV.
func NewFixedWindowLimiter(kv KV, cfg FixedWindowConfig) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		kv:     kv,
		max:    cfg.MaxRequests,
		window: cfg.Window,
	}
}

var _ types.RateLimiter = (*FixedWindowLimiter)(nil)

// Allow atomically consumes one request for the client and reports whether
// the window still has capacity. The returned info is valid on both allowed
// and denied outcomes so the caller can always emit X-RateLimit-* headers.
func (l *FixedWindowLimiter) Allow(ctx context.Context, clientID string) (types.RateLimitInfo, bool, error) {
	count, resetAt, err := l.kv.Increment(ctx, rateLimitKeyPrefix+clientID, l.window)
	if err != nil {
		return types.RateLimitInfo{}, false, fmt.Errorf("store: rate limit increment for %q: %w", clientID, err)
	}

	remaining := l.max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	info := types.RateLimitInfo{
		Limit:     l.max,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	return info, count <= int64(l.max), nil
}
