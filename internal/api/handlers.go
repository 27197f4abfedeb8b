package api

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"webhookd/internal/ingest"
	"webhookd/internal/queue"
	"webhookd/internal/types"
)

// HandleWebhook is the provider-facing ingestion endpoint. The admission
// pipeline decides accept, duplicate, or reject; accepted events are
// enqueued with the priority registered for their event type.
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	admitter, ok := s.admitters[provider]
	if !ok {
		Error(w, r, types.NewAppError(types.ErrCodeNotFoundHandler,
			"unknown webhook provider: "+provider, nil))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			Error(w, r, types.NewAppError(types.ErrCodeValidationPayloadTooLarge,
				"request body exceeds the maximum webhook payload size", err))
			return
		}
		Error(w, r, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to read request body", err))
		return
	}

	result := admitter.Authenticate(r.Context(), body, r.Header, clientID(r))
	writeRateLimitHeaders(w, result.RateLimit)

	switch result.Decision {
	case ingest.DecisionDuplicate:
		JSON(w, r, http.StatusOK, APIResponse{Data: map[string]any{
			"status":   "duplicate",
			"event_id": result.Event.EventID,
		}})

	case ingest.DecisionAccept:
		opts := s.registry.Options(result.Event.EventType)
		jobID, err := s.jobs.Enqueue(r.Context(), *result.Event, queue.EnqueueOptions{
			Priority:    opts.Priority,
			MaxAttempts: opts.MaxAttempts,
			RetryDelay:  opts.RetryDelay,
		})
		if err != nil {
			Error(w, r, err)
			return
		}
		JSON(w, r, http.StatusOK, APIResponse{Data: map[string]any{
			"status":   "accepted",
			"event_id": result.Event.EventID,
			"job_id":   jobID,
		}})

	default:
		if result.Status == http.StatusTooManyRequests && result.RateLimit != nil {
			retryAfter := int(time.Until(result.RateLimit.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		}

		detail := ErrorDetail{
			Code:      string(result.Code),
			Message:   result.Message,
			RequestID: types.GetRequestID(r.Context()),
		}
		if len(result.Violations) > 0 {
			detail.Details = map[string]any{"violations": result.Violations}
		}
		JSON(w, r, result.Status, APIErrorResponse{Error: detail})
	}
}

// clientID derives the rate-limit key from the request source address.
func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeRateLimitHeaders(w http.ResponseWriter, info *types.RateLimitInfo) {
	if info == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetAt.Unix(), 10))
}

// HandleStats reports queue health, circuit breaker state, and the
// registered event types.
func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.jobs.Stats(r.Context())
	if err != nil {
		Error(w, r, err)
		return
	}

	data := map[string]any{
		"queue": stats,
	}
	if s.breakers != nil {
		data["breakers"] = s.breakers.Views()
	}
	if s.registry != nil {
		data["handlers"] = s.registry.EventTypes()
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: data})
}

// maxDeadLetterPage caps the ops list endpoint page size.
const maxDeadLetterPage = 500

// HandleDeadLetters lists dead-lettered jobs for inspection.
func (s *Server) HandleDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField,
				"limit must be a positive integer", err))
			return
		}
		limit = n
	}
	if limit > maxDeadLetterPage {
		limit = maxDeadLetterPage
	}

	jobs, err := s.jobs.DeadLetters(r.Context(), limit)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	}})
}

// HandleReplay requeues one dead-lettered job with a fresh attempt budget.
func (s *Server) HandleReplay(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.jobs.Replay(r.Context(), jobID); err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusAccepted, APIResponse{Data: map[string]any{
		"status": "requeued",
		"job_id": jobID,
	}})
}

// HandleHealth reports liveness and build metadata.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, APIResponse{Data: map[string]any{
		"status":      "ok",
		"service":     s.cfg.Service,
		"environment": s.cfg.Environment,
		"version":     s.cfg.Build.Version,
		"commit":      s.cfg.Build.Commit,
		"build_time":  s.cfg.Build.BuildTime,
	}})
}
