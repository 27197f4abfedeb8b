// Package breaker gates calls to named downstream dependencies behind
// per-dependency circuit breakers so a failing service is not hammered with
// retries while it recovers.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"webhookd/internal/types"
)

// Config holds the shared breaker thresholds. Every downstream dependency
// gets its own breaker instance with these settings.
type Config struct {
	// FailureThreshold is the consecutive-failure count that trips the
	// breaker open.
	FailureThreshold uint32
	// ResetTimeout is how long the breaker stays open before allowing a
	// single half-open probe.
	ResetTimeout time.Duration
}

// Registry lazily creates and caches one breaker per downstream name.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
	cfg      Config
	logger   *slog.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
		cfg:      cfg,
		logger:   logger,
	}
}

// Execute runs fn through the breaker for the named downstream. When the
// breaker is open (or the half-open probe slot is taken) the call is rejected
// immediately with a NETWORK-classified error whose retry hint matches the
// reset timeout, so the retry scheduler naturally waits out the cool-down.
func (r *Registry) Execute(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	cb := r.breaker(name)

	_, err := cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			werr := types.NewWebhookError(
				types.ErrorTypeNetwork,
				types.SeverityMedium,
				fmt.Sprintf("downstream %q unavailable, circuit open", name),
				err,
			)
			werr.ShouldRetry = true
			werr.RetryAfter = r.cfg.ResetTimeout
			return werr
		}
		return err
	}
	return nil
}

// View returns a read-only snapshot of one downstream circuit. Unknown names
// report a closed circuit, matching the lazily-created breaker they would get.
func (r *Registry) View(name string) types.BreakerView {
	r.mu.Lock()
	cb, ok := r.breakers[name]
	r.mu.Unlock()

	if !ok {
		return types.BreakerView{Name: name, State: types.CircuitClosed}
	}
	return types.BreakerView{
		Name:                name,
		State:               mapState(cb.State()),
		ConsecutiveFailures: cb.Counts().ConsecutiveFailures,
	}
}

// Views returns snapshots for every downstream seen so far.
func (r *Registry) Views() []types.BreakerView {
	r.mu.Lock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	r.mu.Unlock()

	views := make([]types.BreakerView, 0, len(names))
	for _, name := range names {
		views = append(views, r.View(name))
	}
	return views
}

func (r *Registry) breaker(name string) *gobreaker.CircuitBreaker[struct{}] {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	threshold := r.cfg.FailureThreshold
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name: name,
		// Exactly one probe call is allowed through in half-open.
		MaxRequests: 1,
		Timeout:     r.cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("circuit breaker state change",
				slog.String("downstream", name),
				slog.String("from", string(mapState(from))),
				slog.String("to", string(mapState(to))),
			)
		},
	})
	r.breakers[name] = cb
	return cb
}

func mapState(s gobreaker.State) types.CircuitState {
	switch s {
	case gobreaker.StateClosed:
		return types.CircuitClosed
	case gobreaker.StateOpen:
		return types.CircuitOpen
	case gobreaker.StateHalfOpen:
		return types.CircuitHalfOpen
	default:
		return types.CircuitClosed
	}
}
