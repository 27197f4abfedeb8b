// Package queue implements the priority-aware webhook job queue: enqueue,
// atomic claim by the processor pool, completion with classified retry or
// dead-letter routing, retention cleanup, and the operational stats surface.
//
// The queue exclusively owns job state transitions. The processor requests
// the next runnable job and reports the outcome back through Complete; no
// other component mutates job state.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"webhookd/internal/faults"
	"webhookd/internal/types"
)

// Store is the persistence contract behind the queue. The in-memory
// implementation is the single-process reference; the Postgres one backs
// multi-process deployments. Claim must be atomic: a claimed job is marked
// PROCESSING in the same step so no second worker can take it.
type Store interface {
	Insert(ctx context.Context, job *types.WebhookJob) error
	// Claim selects the runnable job with the highest priority, ties broken
	// by earliest scheduledAt, then earliest createdAt, then id. The
	// PROCESSING mark and the attempt increment land in the same atomic
	// step as the selection, so a failed follow-up write can never strand
	// a claimed job. Returns (nil, nil) when no job is runnable.
	Claim(ctx context.Context, now time.Time) (*types.WebhookJob, error)
	Update(ctx context.Context, job *types.WebhookJob) error
	Get(ctx context.Context, id string) (*types.WebhookJob, error)
	ListByStatus(ctx context.Context, status types.JobStatus, limit int) ([]*types.WebhookJob, error)
	// Purge removes jobs in the given terminal status whose last update is
	// before cutoff, returning the removed jobs for archiving.
	Purge(ctx context.Context, status types.JobStatus, cutoff time.Time) ([]*types.WebhookJob, error)
	// Counts returns live job tallies by status and by event type.
	Counts(ctx context.Context) (map[types.JobStatus]int, map[string]int, error)
	// OldestPending returns the creation time of the oldest PENDING job.
	// Returns (zero, nil) when the queue has no pending jobs.
	OldestPending(ctx context.Context) (time.Time, error)
}

// DeadLetterSink receives a copy of every dead-lettered job for external
// inspection tooling. Forward failures are logged, never propagated.
type DeadLetterSink interface {
	Forward(ctx context.Context, job *types.WebhookJob) error
}

// Archiver persists purged dead-letter jobs to cold storage before they
// leave the live table.
type Archiver interface {
	Archive(ctx context.Context, jobs []*types.WebhookJob) error
}

// Config holds the queue tuning knobs.
type Config struct {
	DefaultMaxAttempts  int
	BaseRetryDelay      time.Duration
	MaxRetryDelay       time.Duration
	CompletedRetention  time.Duration
	DeadLetterRetention time.Duration
}

// EnqueueOptions carries per-enqueue overrides.
type EnqueueOptions struct {
	Priority    types.Priority
	MaxAttempts int           // 0 means the configured default
	RetryDelay  time.Duration // 0 means use the classifier's delay
}

// Outcome is the processor's report for one finished attempt.
type Outcome struct {
	Success  bool
	Err      error
	Duration time.Duration
}

// CleanupResult reports what a retention pass removed.
type CleanupResult struct {
	CompletedPurged  int
	DeadLetterPurged int
}

// processingTimeWindow is how many recent durations feed the average.
const processingTimeWindow = 256

// Manager is the job queue. All state transitions flow through it.
type Manager struct {
	store      Store
	classifier faults.Classifier
	policy     *faults.Policy
	sink       DeadLetterSink
	archiver   Archiver
	cfg        Config
	clock      types.Clock
	logger     *slog.Logger

	mu        sync.Mutex
	durations []time.Duration
	durIdx    int
}

// NewManager wires the queue. sink and archiver may be nil to disable
// dead-letter forwarding and archiving.
func NewManager(
	store Store,
	classifier faults.Classifier,
	policy *faults.Policy,
	sink DeadLetterSink,
	archiver Archiver,
	clock types.Clock,
	cfg Config,
	logger *slog.Logger,
) *Manager {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:      store,
		classifier: classifier,
		policy:     policy,
		sink:       sink,
		archiver:   archiver,
		cfg:        cfg,
		clock:      clock,
		logger:     logger,
	}
}

// Enqueue creates a PENDING job for the event and returns its id. The id is
// derived from the event type, event id, and enqueue time, so re-enqueueing
// the same event (e.g. a dead-letter replay through ingestion) stays unique.
func (m *Manager) Enqueue(ctx context.Context, event types.WebhookEvent, opts EnqueueOptions) (string, error) {
	now := m.clock.Now()

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = m.cfg.DefaultMaxAttempts
	}

	job := &types.WebhookJob{
		ID:          fmt.Sprintf("%s:%s:%d", event.EventType, event.EventID, now.UnixNano()),
		Event:       event,
		Priority:    opts.Priority,
		Status:      types.JobStatusPending,
		MaxAttempts: maxAttempts,
		RetryDelay:  opts.RetryDelay,
		ScheduledAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := m.store.Insert(ctx, job); err != nil {
		return "", types.NewAppError(types.ErrCodeInternalQueue, "failed to enqueue webhook job", err)
	}

	m.logger.InfoContext(ctx, "job enqueued",
		slog.String("job_id", job.ID),
		slog.String("event_type", event.EventType),
		slog.String("priority", job.Priority.String()),
	)
	return job.ID, nil
}

// NextRunnable claims the next runnable job. The store counts the attempt
// as part of the claim itself. Returns (nil, nil) when nothing is runnable.
func (m *Manager) NextRunnable(ctx context.Context) (*types.WebhookJob, error) {
	job, err := m.store.Claim(ctx, m.clock.Now())
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalQueue, "failed to claim next job", err)
	}
	if job == nil {
		return nil, nil
	}
	return job, nil
}

// Complete reports the outcome of one processing attempt. Success marks the
// job COMPLETED. Failure runs the classifier and handling policy to decide
// between a rescheduled retry with exponential backoff and the dead-letter
// path.
func (m *Manager) Complete(ctx context.Context, jobID string, outcome Outcome) error {
	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		return types.NewAppError(types.ErrCodeNotFoundJob, fmt.Sprintf("job %s not found", jobID), err)
	}
	if job.Status != types.JobStatusProcessing {
		return types.NewAppError(types.ErrCodeConflictJobState,
			fmt.Sprintf("job %s is %s, not processing", jobID, job.Status), nil)
	}

	m.recordDuration(outcome.Duration)
	now := m.clock.Now()
	job.UpdatedAt = now

	if outcome.Success {
		job.Status = types.JobStatusCompleted
		job.LastError = ""
		if err := m.store.Update(ctx, job); err != nil {
			return types.NewAppError(types.ErrCodeInternalQueue, "failed to mark job completed", err)
		}
		m.logger.InfoContext(ctx, "job completed",
			slog.String("job_id", job.ID),
			slog.String("event_type", job.Event.EventType),
			slog.Int("attempts", job.Attempts),
			slog.Duration("duration", outcome.Duration),
		)
		return nil
	}

	werr := m.classifier.Classify(outcome.Err, job.Event.EventType)
	job.LastError = werr.Error()

	decision := m.policy.Handle(ctx, werr, job)

	if decision.ShouldRetry && job.Attempts < job.MaxAttempts {
		baseDelay := decision.RetryDelay
		if job.RetryDelay > 0 {
			baseDelay = job.RetryDelay
		}
		delay := computeBackoff(baseDelay, m.cfg.MaxRetryDelay, job.Attempts)
		job.Status = types.JobStatusPending
		job.ScheduledAt = now.Add(delay)
		if err := m.store.Update(ctx, job); err != nil {
			return types.NewAppError(types.ErrCodeInternalQueue, "failed to reschedule job", err)
		}
		m.logger.WarnContext(ctx, "job rescheduled for retry",
			slog.String("job_id", job.ID),
			slog.String("error_type", string(werr.Type)),
			slog.Int("attempt", job.Attempts),
			slog.Int("max_attempts", job.MaxAttempts),
			slog.Duration("delay", delay),
		)
		return nil
	}

	job.Status = types.JobStatusDeadLetter
	if err := m.store.Update(ctx, job); err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to dead-letter job", err)
	}
	m.logger.ErrorContext(ctx, "job dead-lettered",
		slog.String("job_id", job.ID),
		slog.String("event_type", job.Event.EventType),
		slog.String("error_type", string(werr.Type)),
		slog.String("severity", werr.Severity.String()),
		slog.Int("attempts", job.Attempts),
		slog.String("last_error", job.LastError),
	)

	if m.sink != nil {
		if err := m.sink.Forward(ctx, job); err != nil {
			m.logger.ErrorContext(ctx, "dead-letter forward failed",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// Stats returns the operational snapshot of the queue.
func (m *Manager) Stats(ctx context.Context) (types.QueueStats, error) {
	byStatus, byEventType, err := m.store.Counts(ctx)
	if err != nil {
		return types.QueueStats{}, types.NewAppError(types.ErrCodeInternalQueue, "failed to read queue counts", err)
	}

	stats := types.QueueStats{
		ByStatus:          byStatus,
		ByEventType:       byEventType,
		InFlight:          byStatus[types.JobStatusProcessing],
		AvgProcessingTime: m.avgDuration(),
	}

	oldest, err := m.store.OldestPending(ctx)
	if err == nil && !oldest.IsZero() {
		stats.OldestPendingAge = m.clock.Now().Sub(oldest)
	}
	return stats, nil
}

// DeadLetters lists dead-lettered jobs for manual inspection.
func (m *Manager) DeadLetters(ctx context.Context, limit int) ([]*types.WebhookJob, error) {
	jobs, err := m.store.ListByStatus(ctx, types.JobStatusDeadLetter, limit)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalQueue, "failed to list dead letters", err)
	}
	return jobs, nil
}

// Replay returns a dead-lettered job to the queue with a fresh attempt
// budget.
func (m *Manager) Replay(ctx context.Context, jobID string) error {
	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		return types.NewAppError(types.ErrCodeNotFoundJob, fmt.Sprintf("job %s not found", jobID), err)
	}
	if job.Status != types.JobStatusDeadLetter {
		return types.NewAppError(types.ErrCodeConflictJobState,
			fmt.Sprintf("job %s is %s, only dead-letter jobs can be replayed", jobID, job.Status), nil)
	}

	now := m.clock.Now()
	job.Status = types.JobStatusPending
	job.Attempts = 0
	job.LastError = ""
	job.ScheduledAt = now
	job.UpdatedAt = now
	if err := m.store.Update(ctx, job); err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to replay job", err)
	}

	m.logger.InfoContext(ctx, "dead-letter job replayed",
		slog.String("job_id", job.ID),
		slog.String("event_type", job.Event.EventType),
	)
	return nil
}

// Cleanup purges terminal jobs past their retention windows. In-flight jobs
// are never touched: purging is restricted to terminal statuses. Purged
// dead letters are archived first when an archiver is configured.
func (m *Manager) Cleanup(ctx context.Context) (CleanupResult, error) {
	now := m.clock.Now()
	var result CleanupResult

	completed, err := m.store.Purge(ctx, types.JobStatusCompleted, now.Add(-m.cfg.CompletedRetention))
	if err != nil {
		return result, types.NewAppError(types.ErrCodeInternalQueue, "failed to purge completed jobs", err)
	}
	result.CompletedPurged = len(completed)

	cutoff := now.Add(-m.cfg.DeadLetterRetention)
	dead, err := m.store.Purge(ctx, types.JobStatusDeadLetter, cutoff)
	if err != nil {
		return result, types.NewAppError(types.ErrCodeInternalQueue, "failed to purge dead-letter jobs", err)
	}
	result.DeadLetterPurged = len(dead)

	if m.archiver != nil && len(dead) > 0 {
		if err := m.archiver.Archive(ctx, dead); err != nil {
			m.logger.ErrorContext(ctx, "dead-letter archive failed",
				slog.Int("jobs", len(dead)),
				slog.String("error", err.Error()),
			)
		}
	}

	if result.CompletedPurged > 0 || result.DeadLetterPurged > 0 {
		m.logger.InfoContext(ctx, "retention cleanup",
			slog.Int("completed_purged", result.CompletedPurged),
			slog.Int("dead_letter_purged", result.DeadLetterPurged),
		)
	}
	return result, nil
}

func (m *Manager) recordDuration(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.durations) < processingTimeWindow {
		m.durations = append(m.durations, d)
		return
	}
	m.durations[m.durIdx] = d
	m.durIdx = (m.durIdx + 1) % processingTimeWindow
}

func (m *Manager) avgDuration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.durations) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range m.durations {
		total += d
	}
	return total / time.Duration(len(m.durations))
}
