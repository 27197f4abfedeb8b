package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"webhookd/internal/types"
)

// idempotencyKeyPrefix namespaces event records inside the shared KV.
const idempotencyKeyPrefix = "idem:"

// Idempotency tracks previously-accepted event identifiers with TTL
// eviction. A record older than the retention TTL is treated as absent.
type Idempotency struct {
	kv    KV
	ttl   time.Duration
	clock types.Clock
}

// NewIdempotency constructs an idempotency store with the given retention.
// A nil clock defaults to the real system clock.
func NewIdempotency(kv KV, ttl time.Duration, clock types.Clock) *Idempotency {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Idempotency{kv: kv, ttl: ttl, clock: clock}
}

// Seen reports whether the event id was accepted within the TTL window.
func (s *Idempotency) Seen(ctx context.Context, eventID string) (bool, error) {
	_, found, err := s.kv.Get(ctx, idempotencyKeyPrefix+eventID)
	if err != nil {
		return false, fmt.Errorf("store: idempotency lookup for %q: %w", eventID, err)
	}
	return found, nil
}

// Record marks the event id as accepted. Called only after the request fully
// passed authentication so rejected requests never burn their event id.
func (s *Idempotency) Record(ctx context.Context, eventID string) error {
	rec := types.IdempotencyRecord{
		EventID:     eventID,
		FirstSeenAt: s.clock.Now(),
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: idempotency marshal for %q: %w", eventID, err)
	}
	if err := s.kv.SetWithTTL(ctx, idempotencyKeyPrefix+eventID, b, s.ttl); err != nil {
		return fmt.Errorf("store: idempotency record for %q: %w", eventID, err)
	}
	return nil
}
