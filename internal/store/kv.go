// Package store provides the shared mutable state behind request admission:
// rate-limit counters and idempotency records. Both are built on a minimal
// key-value contract so a multi-process deployment can swap in a shared,
// atomically-operable backend (Redis, DynamoDB, Postgres) without touching
// the admission logic. The in-memory implementation is process-local and is
// explicitly not horizontally scalable.
package store

import (
	"context"
	"sync"
	"time"

	"webhookd/internal/types"
)

// KV is the minimal key-value contract required by the admission stores.
// Implementations must make Increment atomic per key (increment-and-check in
// one step) so concurrent requests never double-count a window.
type KV interface {
	// Get returns the value for key, or found=false when the key is absent
	// or its TTL has elapsed.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// SetWithTTL stores value under key, expiring after ttl.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Increment bumps the counter for key within a fixed window. When the
	// previous window has elapsed the counter restarts at 1 with a fresh
	// reset time. Returns the post-increment count and the window reset time.
	Increment(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
}

type memEntry struct {
	value     []byte
	expiresAt time.Time

	// counter state, used only by Increment keys
	count         int64
	windowResetAt time.Time
}

// MemoryKV is a mutex-guarded in-memory KV with lazy TTL eviction.
type MemoryKV struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	clock   types.Clock
}

// NewMemoryKV constructs an empty in-memory store. A nil clock defaults to
// the real system clock.
func NewMemoryKV(clock types.Clock) *MemoryKV {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &MemoryKV{
		entries: make(map[string]*memEntry),
		clock:   clock,
	}
}

var _ KV = (*MemoryKV)(nil)

// Get implements KV. Expired entries are deleted on read.
func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && m.clock.Now().After(e.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

// SetWithTTL implements KV.
func (m *MemoryKV) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := &memEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.clock.Now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

// Increment implements KV. The counter lazily resets when the window has
// elapsed, matching fixed-window semantics.
func (m *MemoryKV) Increment(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	e, ok := m.entries[key]
	if !ok || now.After(e.windowResetAt) {
		e = &memEntry{
			count:         1,
			windowResetAt: now.Add(window),
			expiresAt:     now.Add(window),
		}
		m.entries[key] = e
		return 1, e.windowResetAt, nil
	}

	e.count++
	return e.count, e.windowResetAt, nil
}

// Sweep removes all expired entries. Intended to be called from a periodic
// maintenance loop; correctness does not depend on it since reads evict
// lazily.
func (m *MemoryKV) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	removed := 0
	for key, e := range m.entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live entries, counting expired-but-unswept ones.
func (m *MemoryKV) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
