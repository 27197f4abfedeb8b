// Package api is the HTTP surface of the webhook service: provider-facing
// ingestion endpoints, the operator surface for queue inspection and
// dead-letter replay, and the health check. It builds on chi with a
// middleware chain enforcing panic recovery, request correlation, security
// headers, and redacted request logging.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"webhookd/internal/config"
	"webhookd/internal/ingest"
	"webhookd/internal/processor"
	"webhookd/internal/queue"
	"webhookd/internal/types"
)

// Admitter is the ingestion surface the webhook handler consumes.
type Admitter interface {
	Authenticate(ctx context.Context, rawBody []byte, headers http.Header, clientID string) ingest.Result
}

// JobQueue is the queue surface the API consumes.
type JobQueue interface {
	Enqueue(ctx context.Context, event types.WebhookEvent, opts queue.EnqueueOptions) (string, error)
	Stats(ctx context.Context) (types.QueueStats, error)
	DeadLetters(ctx context.Context, limit int) ([]*types.WebhookJob, error)
	Replay(ctx context.Context, jobID string) error
}

// BreakerViews exposes circuit breaker state for the ops surface.
type BreakerViews interface {
	Views() []types.BreakerView
}

// Server bundles the API dependencies and the router.
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	admitters map[string]Admitter
	jobs      JobQueue
	registry  *processor.Registry
	breakers  BreakerViews

	router *chi.Mux
}

// NewServer builds the API server. admitters maps the {provider} path
// segment to its ingestion pipeline; at least one entry is required.
// breakers may be nil when no circuit breakers are wired.
func NewServer(
	cfg *config.Config,
	logger *slog.Logger,
	admitters map[string]Admitter,
	jobs JobQueue,
	registry *processor.Registry,
	breakers BreakerViews,
) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("api: config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("api: logger must not be nil")
	}
	if len(admitters) == 0 {
		return nil, fmt.Errorf("api: at least one provider admitter is required")
	}
	if jobs == nil {
		return nil, fmt.Errorf("api: job queue must not be nil")
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		admitters: admitters,
		jobs:      jobs,
		registry:  registry,
		breakers:  breakers,
		router:    chi.NewRouter(),
	}
	s.mountRoutes()
	return s, nil
}

// Handler returns the router for http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// redactedHeaders lists headers masked in request logs: the webhook
// signature and the ops credential.
func (s *Server) redactedHeaders() []string {
	return []string{
		s.cfg.Provider.SignatureHeader,
		"Stripe-Signature",
		adminKeyHeader,
		"Authorization",
	}
}

// mountRoutes registers the middleware chain and the route tree. Order
// matters: Recoverer outermost, then request correlation, security headers,
// and logging before any handler runs.
func (s *Server) mountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.logger, s.redactedHeaders()))

	s.router.Post("/webhooks/{provider}", s.HandleWebhook)

	s.router.Route("/v1/ops", func(r chi.Router) {
		r.Use(s.AdminAuthMiddleware)
		r.Get("/stats", s.HandleStats)
		r.Get("/dead-letters", s.HandleDeadLetters)
		r.Post("/dead-letters/{jobID}/replay", s.HandleReplay)
	})

	s.router.Get("/health", s.HandleHealth)
}
