package queue

import (
	"math"
	"math/rand"
	"time"
)

// jitterFraction bounds the random jitter added to a retry delay. Jitter
// avoids synchronized retry storms when many jobs fail at once.
const jitterFraction = 0.10

// computeBackoff returns the delay before retry number attempt (1-based):
//
//	delay = min(base * 2^(attempts-1) + jitter, max)
//
// where jitter is a random fraction of at most 10% of the exponential delay.
// The doubling dominates the jitter bound, so successive delays are strictly
// increasing until they saturate at max.
func computeBackoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	exp := float64(base) * math.Pow(2, float64(attempt-1))
	if exp > float64(max) {
		return max
	}

	jitter := rand.Float64() * jitterFraction * exp
	delay := time.Duration(exp + jitter)
	if delay > max {
		return max
	}
	return delay
}
