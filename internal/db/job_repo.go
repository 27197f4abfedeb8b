package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"webhookd/internal/queue"
	"webhookd/internal/types"
)

var _ queue.Store = (*JobRepository)(nil)

// JobRepository is the PostgreSQL job store behind the queue. Claim uses
// FOR UPDATE SKIP LOCKED so multiple processor instances can poll the same
// table without double-claiming.
type JobRepository struct {
	db    DBTX
	clock types.Clock
}

// NewJobRepository creates a repository backed by the given connection
// (pool or transaction).
func NewJobRepository(db DBTX, clock types.Clock) *JobRepository {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &JobRepository{db: db, clock: clock}
}

const jobColumns = `id, event, priority, status, attempts, max_attempts, retry_delay, scheduled_at, last_error, created_at, updated_at`

// Insert stores a new job row.
func (r *JobRepository) Insert(ctx context.Context, job *types.WebhookJob) error {
	event, err := json.Marshal(job.Event)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to encode job event", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO webhook_jobs
		 (id, event, event_type, priority, status, attempts, max_attempts,
		  retry_delay, scheduled_at, last_error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.ID,
		event,
		job.Event.EventType,
		int(job.Priority),
		string(job.Status),
		job.Attempts,
		job.MaxAttempts,
		job.RetryDelay.Nanoseconds(),
		job.ScheduledAt,
		job.LastError,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert job", err)
	}
	return nil
}

// Claim atomically selects the best runnable job, marks it PROCESSING, and
// counts the attempt in the same statement, so a claim can never leave a
// half-written row. The CTE locks the candidate; SKIP LOCKED makes
// concurrent claimers pass over rows already taken in other transactions.
func (r *JobRepository) Claim(ctx context.Context, now time.Time) (*types.WebhookJob, error) {
	row := r.db.QueryRow(ctx,
		`WITH next AS (
		     SELECT id FROM webhook_jobs
		     WHERE status = 'pending' AND scheduled_at <= $1
		     ORDER BY priority DESC, scheduled_at ASC, created_at ASC, id ASC
		     FOR UPDATE SKIP LOCKED
		     LIMIT 1
		 )
		 UPDATE webhook_jobs j
		 SET status = 'processing', attempts = j.attempts + 1, updated_at = $1
		 FROM next
		 WHERE j.id = next.id
		 RETURNING j.id, j.event, j.priority, j.status, j.attempts,
		           j.max_attempts, j.retry_delay, j.scheduled_at, j.last_error,
		           j.created_at, j.updated_at`,
		now,
	)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to claim job", err)
	}
	return job, nil
}

// Update rewrites the mutable job fields.
func (r *JobRepository) Update(ctx context.Context, job *types.WebhookJob) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE webhook_jobs
		 SET status = $2, attempts = $3, scheduled_at = $4, last_error = $5, updated_at = $6
		 WHERE id = $1`,
		job.ID,
		string(job.Status),
		job.Attempts,
		job.ScheduledAt,
		job.LastError,
		job.UpdatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update job", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundJob, "job "+job.ID+" not found", nil)
	}
	return nil
}

// Get loads one job by id.
func (r *JobRepository) Get(ctx context.Context, id string) (*types.WebhookJob, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM webhook_jobs WHERE id = $1`, id)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundJob, "job "+id+" not found", err)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load job", err)
	}
	return job, nil
}

// ListByStatus returns jobs in the given status, most recently updated
// first.
func (r *JobRepository) ListByStatus(ctx context.Context, status types.JobStatus, limit int) ([]*types.WebhookJob, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+jobColumns+` FROM webhook_jobs
		 WHERE status = $1
		 ORDER BY updated_at DESC
		 LIMIT $2`,
		string(status), limit)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list jobs", err)
	}
	defer rows.Close()

	var jobs []*types.WebhookJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan job", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list jobs", err)
	}
	return jobs, nil
}

// Purge deletes jobs in the given status whose last update precedes cutoff,
// returning the removed rows for archiving.
func (r *JobRepository) Purge(ctx context.Context, status types.JobStatus, cutoff time.Time) ([]*types.WebhookJob, error) {
	rows, err := r.db.Query(ctx,
		`DELETE FROM webhook_jobs
		 WHERE status = $1 AND updated_at < $2
		 RETURNING `+jobColumns,
		string(status), cutoff)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to purge jobs", err)
	}
	defer rows.Close()

	var jobs []*types.WebhookJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan purged job", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to purge jobs", err)
	}
	return jobs, nil
}

// Counts tallies live jobs by status and by event type.
func (r *JobRepository) Counts(ctx context.Context) (map[types.JobStatus]int, map[string]int, error) {
	byStatus := make(map[types.JobStatus]int)
	rows, err := r.db.Query(ctx,
		`SELECT status, COUNT(*) FROM webhook_jobs GROUP BY status`)
	if err != nil {
		return nil, nil, types.NewAppError(types.ErrCodeInternalDB, "failed to count jobs by status", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan status count", err)
		}
		byStatus[types.JobStatus(status)] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, types.NewAppError(types.ErrCodeInternalDB, "failed to count jobs by status", err)
	}

	byEventType := make(map[string]int)
	rows, err = r.db.Query(ctx,
		`SELECT event_type, COUNT(*) FROM webhook_jobs GROUP BY event_type`)
	if err != nil {
		return nil, nil, types.NewAppError(types.ErrCodeInternalDB, "failed to count jobs by event type", err)
	}
	defer rows.Close()
	for rows.Next() {
		var eventType string
		var n int
		if err := rows.Scan(&eventType, &n); err != nil {
			return nil, nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan event type count", err)
		}
		byEventType[eventType] = n
	}
	if err := rows.Err(); err != nil {
		return nil, nil, types.NewAppError(types.ErrCodeInternalDB, "failed to count jobs by event type", err)
	}

	return byStatus, byEventType, nil
}

// OldestPending returns the creation time of the oldest pending job, or the
// zero time when none are pending.
func (r *JobRepository) OldestPending(ctx context.Context) (time.Time, error) {
	var oldest *time.Time
	err := r.db.QueryRow(ctx,
		`SELECT MIN(created_at) FROM webhook_jobs WHERE status = 'pending'`).Scan(&oldest)
	if err != nil {
		return time.Time{}, types.NewAppError(types.ErrCodeInternalDB, "failed to query oldest pending job", err)
	}
	if oldest == nil {
		return time.Time{}, nil
	}
	return *oldest, nil
}

// scanJob hydrates one job row. Works for both pgx.Row and pgx.Rows.
func scanJob(row pgx.Row) (*types.WebhookJob, error) {
	var (
		job        types.WebhookJob
		event      []byte
		priority   int
		status     string
		retryDelay int64
	)
	err := row.Scan(
		&job.ID,
		&event,
		&priority,
		&status,
		&job.Attempts,
		&job.MaxAttempts,
		&retryDelay,
		&job.ScheduledAt,
		&job.LastError,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(event, &job.Event); err != nil {
		return nil, err
	}
	job.Priority = types.Priority(priority)
	job.Status = types.JobStatus(status)
	job.RetryDelay = time.Duration(retryDelay)
	return &job, nil
}
