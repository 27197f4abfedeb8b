package faults

import (
	"context"
	"log/slog"
	"time"

	"webhookd/internal/types"
)

// Notifier is the alerting side channel. Implementations must be cheap to
// call; delivery failures are logged and swallowed, never propagated into
// the retry decision.
type Notifier interface {
	Notify(ctx context.Context, severity types.Severity, title string, fields map[string]any) error
}

// FallbackFunc executes a compensating action for a failed job, e.g.
// persisting the payload to a side channel for later analysis.
type FallbackFunc func(ctx context.Context, job *types.WebhookJob, werr *types.WebhookError) error

// ProbeFunc checks whether the condition behind an error type has already
// self-healed. A nil return cancels the pending retry.
type ProbeFunc func(ctx context.Context) error

// Strategy is the per-error-type handling table entry.
type Strategy struct {
	MaxRetries  int
	RetryDelay  time.Duration
	ShouldAlert bool
	Fallback    types.FallbackAction
}

// Outcome reports what the policy did for one failure.
type Outcome struct {
	ShouldRetry       bool
	RetryDelay        time.Duration
	FallbackExecuted  bool
	RecoveryAttempted bool
	Alerted           bool
}

// DefaultStrategies returns the reference per-type policy table. baseDelay
// seeds the PROCESSING and UNKNOWN retry delays.
func DefaultStrategies(baseDelay time.Duration) map[types.ErrorType]Strategy {
	return map[types.ErrorType]Strategy{
		types.ErrorTypeAuthentication: {MaxRetries: 0, ShouldAlert: true, Fallback: types.FallbackSecurityLog},
		types.ErrorTypeValidation:     {MaxRetries: 0, Fallback: types.FallbackPersistSide},
		types.ErrorTypeTimeout:        {MaxRetries: 3, RetryDelay: 5 * time.Second},
		types.ErrorTypeRateLimit:      {MaxRetries: 5, RetryDelay: 60 * time.Second},
		types.ErrorTypeNetwork:        {MaxRetries: 3, RetryDelay: 10 * time.Second},
		types.ErrorTypeStorage:        {MaxRetries: 3, RetryDelay: 15 * time.Second, ShouldAlert: true, Fallback: types.FallbackPersistSide},
		types.ErrorTypeProcessing:     {MaxRetries: 3, RetryDelay: baseDelay},
		types.ErrorTypeUnknown:        {MaxRetries: 3, RetryDelay: baseDelay},
	}
}

// Policy applies the per-error-type strategy table to classified failures.
type Policy struct {
	strategies map[types.ErrorType]Strategy
	fallbacks  map[types.FallbackAction]FallbackFunc
	probes     map[types.ErrorType]ProbeFunc
	notifier   Notifier
	logger     *slog.Logger
}

// NewPolicy builds a policy over the given strategy table. notifier may be
// nil to disable alerting.
func NewPolicy(strategies map[types.ErrorType]Strategy, notifier Notifier, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{
		strategies: strategies,
		fallbacks:  make(map[types.FallbackAction]FallbackFunc),
		probes:     make(map[types.ErrorType]ProbeFunc),
		notifier:   notifier,
		logger:     logger,
	}
}

// RegisterFallback binds a compensating action to its tag. Re-registration
// overwrites.
func (p *Policy) RegisterFallback(action types.FallbackAction, fn FallbackFunc) {
	p.fallbacks[action] = fn
}

// RegisterProbe binds a recovery probe to an error type. The probe runs only
// when a retry is otherwise warranted; a probe success cancels the retry.
func (p *Policy) RegisterProbe(errType types.ErrorType, fn ProbeFunc) {
	p.probes[errType] = fn
}

// Handle decides the fate of one classified failure. The fallback, when
// configured, executes unconditionally once per failure. The retry decision
// combines the error's own hint, the strategy's retry budget, and the job's
// attempt count.
func (p *Policy) Handle(ctx context.Context, werr *types.WebhookError, job *types.WebhookJob) Outcome {
	strategy, ok := p.strategies[werr.Type]
	if !ok {
		strategy = p.strategies[types.ErrorTypeUnknown]
	}

	var out Outcome

	// Fallback first: it runs regardless of the retry decision. Failures are
	// logged and swallowed.
	action := werr.Fallback
	if action == types.FallbackNone {
		action = strategy.Fallback
	}
	if fn, ok := p.fallbacks[action]; ok && action != types.FallbackNone {
		if err := fn(ctx, job, werr); err != nil {
			p.logger.ErrorContext(ctx, "fallback action failed",
				slog.String("action", string(action)),
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		} else {
			out.FallbackExecuted = true
		}
	}

	out.ShouldRetry = werr.ShouldRetry && job.Attempts < strategy.MaxRetries
	out.RetryDelay = strategy.RetryDelay
	if werr.RetryAfter > 0 {
		out.RetryDelay = werr.RetryAfter
	}

	// Recovery probe: only worth running when a retry is pending. A probe
	// success means the condition self-healed, so the retry is cancelled.
	if out.ShouldRetry {
		if probe, ok := p.probes[werr.Type]; ok {
			out.RecoveryAttempted = true
			if err := probe(ctx); err == nil {
				p.logger.InfoContext(ctx, "recovery probe succeeded, cancelling retry",
					slog.String("error_type", string(werr.Type)),
					slog.String("job_id", job.ID),
				)
				out.ShouldRetry = false
			}
		}
	}

	// Alerting never blocks or alters the decision above.
	if strategy.ShouldAlert || werr.Severity == types.SeverityCritical {
		p.alert(ctx, werr, job)
		out.Alerted = true
	}

	return out
}

func (p *Policy) alert(ctx context.Context, werr *types.WebhookError, job *types.WebhookJob) {
	if p.notifier == nil {
		return
	}
	err := p.notifier.Notify(ctx, werr.Severity, "webhook processing failure", map[string]any{
		"job_id":     job.ID,
		"event_id":   job.Event.EventID,
		"event_type": job.Event.EventType,
		"error_type": string(werr.Type),
		"attempts":   job.Attempts,
		"message":    werr.Message,
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "alert delivery failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}
