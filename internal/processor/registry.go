// Package processor runs registered webhook handlers against the job queue:
// a polling loop claims runnable jobs, executes the handler for the event
// type under a per-job timeout, and reports the outcome back to the queue.
package processor

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"webhookd/internal/types"
)

// HandlerFunc processes one webhook event. A nil return marks the job
// COMPLETED; an error is classified by the queue to decide retry or
// dead-letter.
type HandlerFunc func(ctx context.Context, event types.WebhookEvent) error

// HandlerOptions carries per-event-type enqueue settings. Zero values mean
// the configured defaults.
type HandlerOptions struct {
	Priority    types.Priority
	MaxAttempts int
	RetryDelay  time.Duration
}

type registration struct {
	fn   HandlerFunc
	opts HandlerOptions
}

// Registry maps event types to their handlers. Registration is safe for
// concurrent use with lookups from the worker pool.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]registration
	logger   *slog.Logger
}

// NewRegistry creates an empty handler registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[string]registration),
		logger:   logger,
	}
}

// Register binds a handler to an event type. Registering the same event type
// again replaces the previous handler.
func (r *Registry) Register(eventType string, fn HandlerFunc, opts HandlerOptions) {
	r.mu.Lock()
	_, replaced := r.handlers[eventType]
	r.handlers[eventType] = registration{fn: fn, opts: opts}
	r.mu.Unlock()

	if replaced {
		r.logger.Warn("handler replaced", slog.String("event_type", eventType))
	} else {
		r.logger.Info("handler registered",
			slog.String("event_type", eventType),
			slog.String("priority", opts.Priority.String()),
		)
	}
}

// Lookup returns the handler and options for an event type.
func (r *Registry) Lookup(eventType string) (HandlerFunc, HandlerOptions, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.handlers[eventType]
	return reg.fn, reg.opts, ok
}

// Options returns the enqueue options for an event type. Unregistered event
// types get zero options, which resolve to the configured defaults at
// enqueue time.
func (r *Registry) Options(eventType string) HandlerOptions {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[eventType].opts
}

// EventTypes lists the registered event types in sorted order.
func (r *Registry) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for et := range r.handlers {
		out = append(out, et)
	}
	sort.Strings(out)
	return out
}
