package store

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually-advanced clock for TTL and window tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryKVTTLExpiry(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	kv := NewMemoryKV(clock)
	ctx := context.Background()

	if err := kv.SetWithTTL(ctx, "k", []byte("v"), time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}

	if _, found, _ := kv.Get(ctx, "k"); !found {
		t.Fatal("key should be present before TTL")
	}

	clock.Advance(2 * time.Hour)
	if _, found, _ := kv.Get(ctx, "k"); found {
		t.Fatal("key should be absent after TTL")
	}
}

func TestMemoryKVIncrementWindowReset(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	kv := NewMemoryKV(clock)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		count, _, err := kv.Increment(ctx, "c", time.Minute)
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if count != i {
			t.Fatalf("count = %d, want %d", count, i)
		}
	}

	clock.Advance(61 * time.Second)
	count, resetAt, err := kv.Increment(ctx, "c", time.Minute)
	if err != nil {
		t.Fatalf("increment after window: %v", err)
	}
	if count != 1 {
		t.Fatalf("count after window reset = %d, want 1", count)
	}
	if !resetAt.After(clock.Now()) {
		t.Fatal("reset time must be in the future")
	}
}

func TestMemoryKVSweep(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	kv := NewMemoryKV(clock)
	ctx := context.Background()

	_ = kv.SetWithTTL(ctx, "short", []byte("v"), time.Minute)
	_ = kv.SetWithTTL(ctx, "long", []byte("v"), time.Hour)

	clock.Advance(10 * time.Minute)
	if removed := kv.Sweep(); removed != 1 {
		t.Fatalf("Sweep removed %d, want 1", removed)
	}
	if kv.Len() != 1 {
		t.Fatalf("Len = %d, want 1", kv.Len())
	}
}

func TestFixedWindowLimiterExhaustion(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	limiter := NewFixedWindowLimiter(NewMemoryKV(clock), FixedWindowConfig{
		MaxRequests: 3,
		Window:      time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		info, allowed, err := limiter.Allow(ctx, "203.0.113.7")
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if info.Remaining != 2-i {
			t.Fatalf("remaining = %d, want %d", info.Remaining, 2-i)
		}
	}

	info, allowed, err := limiter.Allow(ctx, "203.0.113.7")
	if err != nil {
		t.Fatalf("allow over limit: %v", err)
	}
	if allowed {
		t.Fatal("4th request in window must be denied")
	}
	if info.Remaining != 0 {
		t.Fatalf("remaining over limit = %d, want 0", info.Remaining)
	}

	// A different client is unaffected.
	if _, allowed, _ := limiter.Allow(ctx, "198.51.100.9"); !allowed {
		t.Fatal("independent client must not share the window")
	}

	// Window reset restores capacity.
	clock.Advance(2 * time.Minute)
	if _, allowed, _ := limiter.Allow(ctx, "203.0.113.7"); !allowed {
		t.Fatal("request after window reset must be allowed")
	}
}

func TestIdempotencySeenWithinTTL(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	idem := NewIdempotency(NewMemoryKV(clock), 24*time.Hour, clock)
	ctx := context.Background()

	seen, err := idem.Seen(ctx, "evt_123")
	if err != nil {
		t.Fatalf("seen: %v", err)
	}
	if seen {
		t.Fatal("unseen event reported as seen")
	}

	if err := idem.Record(ctx, "evt_123"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if seen, _ := idem.Seen(ctx, "evt_123"); !seen {
		t.Fatal("recorded event not reported as seen")
	}

	// After the TTL window, the record is treated as absent.
	clock.Advance(25 * time.Hour)
	if seen, _ := idem.Seen(ctx, "evt_123"); seen {
		t.Fatal("expired record still reported as seen")
	}
}
