package types

import (
	"context"
	"time"
)

// RateLimitInfo contains the current state of a rate limit window.
type RateLimitInfo struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimiter provides fixed-window rate limiting keyed by client identity.
type RateLimiter interface {
	// Allow checks and consumes one request for the client. A false second
	// return means the window is exhausted.
	Allow(ctx context.Context, clientID string) (RateLimitInfo, bool, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }
