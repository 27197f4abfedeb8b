package processor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"webhookd/internal/breaker"
	"webhookd/internal/queue"
	"webhookd/internal/types"
)

// JobQueue is the queue surface the processor consumes.
type JobQueue interface {
	NextRunnable(ctx context.Context) (*types.WebhookJob, error)
	Complete(ctx context.Context, jobID string, outcome queue.Outcome) error
	Cleanup(ctx context.Context) (queue.CleanupResult, error)
}

// Config holds the worker pool tuning knobs.
type Config struct {
	MaxConcurrency  int
	PollInterval    time.Duration
	JobTimeout      time.Duration
	ShutdownTimeout time.Duration
	CleanupInterval time.Duration
}

// Service is the polling worker pool. It claims runnable jobs on a fixed
// interval, runs handlers with bounded concurrency, and periodically triggers
// queue retention cleanup.
type Service struct {
	queue    JobQueue
	registry *Registry
	breakers *breaker.Registry
	cfg      Config
	clock    types.Clock
	logger   *slog.Logger

	inFlight atomic.Int64
	group    errgroup.Group
}

// NewService wires the processor. breakers may be nil to run handlers
// without circuit protection.
func NewService(
	jobs JobQueue,
	registry *Registry,
	breakers *breaker.Registry,
	clock types.Clock,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		queue:    jobs,
		registry: registry,
		breakers: breakers,
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
	}
}

// Run polls until ctx is cancelled, then drains in-flight jobs within the
// shutdown grace period. It always returns the drain result, never a poll
// error: claim failures are logged and retried on the next tick.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	cleanupEvery := s.cfg.CleanupInterval
	if cleanupEvery <= 0 {
		cleanupEvery = 10 * time.Minute
	}
	cleanup := time.NewTicker(cleanupEvery)
	defer cleanup.Stop()

	s.logger.InfoContext(ctx, "processor started",
		slog.Int("max_concurrency", s.cfg.MaxConcurrency),
		slog.Duration("poll_interval", s.cfg.PollInterval),
		slog.Duration("job_timeout", s.cfg.JobTimeout),
	)

	for {
		select {
		case <-ctx.Done():
			return s.drain()
		case <-cleanup.C:
			if _, err := s.queue.Cleanup(context.WithoutCancel(ctx)); err != nil {
				s.logger.ErrorContext(ctx, "queue cleanup failed", slog.String("error", err.Error()))
			}
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

// pollOnce claims runnable jobs until the pool is full or the queue is
// empty, dispatching each to a worker goroutine.
func (s *Service) pollOnce(ctx context.Context) {
	for s.inFlight.Load() < int64(s.cfg.MaxConcurrency) {
		job, err := s.queue.NextRunnable(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to claim job", slog.String("error", err.Error()))
			return
		}
		if job == nil {
			return
		}

		s.inFlight.Add(1)
		s.group.Go(func() error {
			defer s.inFlight.Add(-1)
			s.process(job)
			return nil
		})
	}
}

// process runs the handler for one claimed job and reports the outcome.
// The job context is detached from the poll loop so an in-flight job gets
// its full timeout during shutdown.
func (s *Service) process(job *types.WebhookJob) {
	jobCtx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	start := s.clock.Now()
	err := s.execute(jobCtx, job)
	duration := s.clock.Now().Sub(start)

	outcome := queue.Outcome{
		Success:  err == nil,
		Err:      err,
		Duration: duration,
	}
	// The job context may already be expired; reporting must still land.
	if err := s.queue.Complete(context.WithoutCancel(jobCtx), job.ID, outcome); err != nil {
		s.logger.Error("failed to report job outcome",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

// execute resolves the handler and invokes it, wrapped by the circuit
// breaker for the event type's downstream when one is configured. A handler
// that outlives the job timeout surfaces context.DeadlineExceeded, which the
// classifier maps to a retryable timeout.
func (s *Service) execute(ctx context.Context, job *types.WebhookJob) error {
	handler, _, ok := s.registry.Lookup(job.Event.EventType)
	if !ok {
		return types.NewWebhookError(types.ErrorTypeProcessing, types.SeverityMedium,
			fmt.Sprintf("no handler registered for event type %q", job.Event.EventType), nil)
	}

	run := func(ctx context.Context) error {
		// The handler runs in its own goroutine so the job timeout holds
		// even when the handler ignores the context. On deadline the job
		// is reported as timed out and the orphaned goroutine is left to
		// finish on its own.
		done := make(chan error, 1)
		go func() {
			done <- handler(ctx, job.Event)
		}()

		select {
		case err := <-done:
			if err == nil && ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if s.breakers != nil {
		return s.breakers.Execute(ctx, "handler:"+job.Event.EventType, run)
	}
	return run(ctx)
}

// drain waits for in-flight jobs to finish, up to the shutdown grace period.
func (s *Service) drain() error {
	done := make(chan struct{})
	go func() {
		_ = s.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("processor drained")
		return nil
	case <-time.After(s.cfg.ShutdownTimeout):
		abandoned := s.inFlight.Load()
		s.logger.Error("processor shutdown grace period exceeded",
			slog.Int64("in_flight", abandoned),
		)
		return fmt.Errorf("processor: shutdown timed out with %d jobs in flight", abandoned)
	}
}
