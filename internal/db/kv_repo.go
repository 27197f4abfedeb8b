package db

import (
	"context"
	"time"

	"webhookd/internal/store"
	"webhookd/internal/types"
)

var _ store.KV = (*KVRepository)(nil)

// KVRepository is the PostgreSQL key-value store behind idempotency records
// and rate limit counters. Expired rows are filtered on read and reclaimed
// by Sweep.
type KVRepository struct {
	db    DBTX
	clock types.Clock
}

// NewKVRepository creates a repository backed by the given connection.
func NewKVRepository(db DBTX, clock types.Clock) *KVRepository {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &KVRepository{db: db, clock: clock}
}

// Get returns the value for key if present and unexpired.
func (r *KVRepository) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := r.db.QueryRow(ctx,
		`SELECT value FROM webhook_kv
		 WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)`,
		key, r.clock.Now()).Scan(&value)
	if err != nil {
		if isNoRows(err) {
			return nil, false, nil
		}
		return nil, false, types.NewAppError(types.ErrCodeInternalDB, "failed to read key", err)
	}
	return value, true, nil
}

// SetWithTTL upserts the value with an absolute expiry.
func (r *KVRepository) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	expires := r.clock.Now().Add(ttl)
	_, err := r.db.Exec(ctx,
		`INSERT INTO webhook_kv (key, value, expires_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = $2, expires_at = $3`,
		key, value, expires)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to write key", err)
	}
	return nil
}

// Increment bumps the fixed-window counter for key, starting a fresh window
// when the previous one has lapsed. The upsert resolves the window state in
// a single statement so concurrent ingesters count correctly.
func (r *KVRepository) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	now := r.clock.Now()
	reset := now.Add(window)

	var (
		count   int64
		resetAt time.Time
	)
	err := r.db.QueryRow(ctx,
		`INSERT INTO webhook_kv (key, count, window_reset_at)
		 VALUES ($1, 1, $3)
		 ON CONFLICT (key) DO UPDATE SET
		     count = CASE
		         WHEN webhook_kv.window_reset_at IS NULL OR webhook_kv.window_reset_at <= $2
		         THEN 1 ELSE webhook_kv.count + 1
		     END,
		     window_reset_at = CASE
		         WHEN webhook_kv.window_reset_at IS NULL OR webhook_kv.window_reset_at <= $2
		         THEN $3 ELSE webhook_kv.window_reset_at
		     END
		 RETURNING count, window_reset_at`,
		key, now, reset).Scan(&count, &resetAt)
	if err != nil {
		return 0, time.Time{}, types.NewAppError(types.ErrCodeInternalDB, "failed to increment counter", err)
	}
	return count, resetAt, nil
}

// Sweep deletes expired rows and returns how many were removed.
func (r *KVRepository) Sweep(ctx context.Context) (int, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM webhook_kv WHERE expires_at IS NOT NULL AND expires_at <= $1`,
		r.clock.Now())
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to sweep expired keys", err)
	}
	return int(tag.RowsAffected()), nil
}
