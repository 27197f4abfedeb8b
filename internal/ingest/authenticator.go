package ingest

import (
	"context"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"webhookd/internal/types"
)

// Decision is the admission outcome category for an inbound request.
type Decision string

const (
	// DecisionAccept means the request passed every check and the event
	// should be enqueued.
	DecisionAccept Decision = "accept"
	// DecisionDuplicate means the event id was already accepted within the
	// idempotency TTL. The provider gets a 200 and nothing is re-enqueued.
	DecisionDuplicate Decision = "duplicate"
	// DecisionReject means the request failed admission. Status and Code
	// carry the HTTP response to return.
	DecisionReject Decision = "reject"
)

// Result is the value-typed outcome of Authenticate. No admission branch
// panics or returns a Go error to the transport; every outcome is a Result.
type Result struct {
	Decision   Decision
	Event      *types.WebhookEvent
	Status     int
	Code       types.ErrorCode
	Message    string
	Violations []string

	// RateLimit is set whenever the limiter was consulted so the HTTP layer
	// can emit X-RateLimit-* headers on both allowed and denied responses.
	RateLimit *types.RateLimitInfo
}

// DuplicateStore is the narrow idempotency contract the authenticator needs.
type DuplicateStore interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, eventID string) error
}

// AuthenticatorConfig carries the admission tuning knobs.
type AuthenticatorConfig struct {
	SignatureHeader    string
	MaxEventAge        time.Duration
	FutureTolerance    time.Duration
	IdempotencyEnabled bool
}

// Authenticator composes signature verification, structural validation,
// duplicate detection, and rate limiting into a single admission decision.
type Authenticator struct {
	verifier   Verifier
	limiter    types.RateLimiter
	duplicates DuplicateStore
	validator  *envelopeValidator
	cfg        AuthenticatorConfig
	logger     *slog.Logger
}

// NewAuthenticator wires the admission pipeline. limiter may be nil to
// disable rate limiting; duplicates may be nil (or IdempotencyEnabled false)
// to disable duplicate detection.
func NewAuthenticator(
	verifier Verifier,
	limiter types.RateLimiter,
	duplicates DuplicateStore,
	clock types.Clock,
	cfg AuthenticatorConfig,
	logger *slog.Logger,
) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		verifier:   verifier,
		limiter:    limiter,
		duplicates: duplicates,
		validator:  newEnvelopeValidator(cfg.MaxEventAge, cfg.FutureTolerance, clock),
		cfg:        cfg,
		logger:     logger,
	}
}

// Authenticate runs the admission pipeline over the raw request. Each step
// short-circuits on failure:
//
//  1. Content type must be application/json.
//  2. Body must satisfy the envelope schema (all violations reported).
//  3. A previously-accepted event id short-circuits to Duplicate.
//  4. The signature header must be present and verify over the raw body.
//  5. The client must have rate-limit capacity (limiter errors fail open).
//  6. The event id is recorded and the parsed event returned.
func (a *Authenticator) Authenticate(ctx context.Context, rawBody []byte, headers http.Header, clientID string) Result {
	// Step 1: content type.
	mediaType, _, err := mime.ParseMediaType(headers.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		a.logger.WarnContext(ctx, "webhook rejected: unsupported content type",
			slog.String("content_type", headers.Get("Content-Type")),
			slog.String("client_id", clientID),
		)
		return Result{
			Decision: DecisionReject,
			Status:   http.StatusBadRequest,
			Code:     types.ErrCodeValidationContentType,
			Message:  "Content-Type must be application/json",
		}
	}

	// Step 2: structural schema. Every violated field is reported, not just
	// the first.
	event, violations := a.validator.parseAndValidate(rawBody)
	if len(violations) > 0 {
		a.logger.WarnContext(ctx, "webhook rejected: envelope validation failed",
			slog.String("client_id", clientID),
			slog.Any("violations", violations),
		)
		return Result{
			Decision:   DecisionReject,
			Status:     http.StatusBadRequest,
			Code:       types.ErrCodeValidationSchema,
			Message:    "webhook envelope failed validation",
			Violations: violations,
		}
	}

	// Step 3: duplicate delivery. This is the documented at-least-once
	// contract, not an error: the provider gets a 200 and no second job.
	if a.cfg.IdempotencyEnabled && a.duplicates != nil {
		seen, err := a.duplicates.Seen(ctx, event.EventID)
		if err != nil {
			// Fail open: a store outage must not reject provider traffic.
			a.logger.ErrorContext(ctx, "idempotency store error, failing open",
				slog.String("event_id", event.EventID),
				slog.String("error", err.Error()),
			)
		} else if seen {
			a.logger.InfoContext(ctx, "duplicate webhook delivery ignored",
				slog.String("event_id", event.EventID),
				slog.String("event_type", event.EventType),
			)
			return Result{
				Decision: DecisionDuplicate,
				Event:    event,
				Status:   http.StatusOK,
			}
		}
	}

	// Step 4: signature over the raw (unparsed) body bytes.
	sigHeader := headers.Get(a.cfg.SignatureHeader)
	if sigHeader == "" {
		a.logger.WarnContext(ctx, "webhook rejected: missing signature header",
			slog.String("event_id", event.EventID),
			slog.String("client_id", clientID),
		)
		return Result{
			Decision: DecisionReject,
			Status:   http.StatusUnauthorized,
			Code:     types.ErrCodeAuthSignatureMissing,
			Message:  "missing signature header",
		}
	}
	if err := a.verifier.Verify(rawBody, sigHeader); err != nil {
		a.logger.WarnContext(ctx, "webhook rejected: signature verification failed",
			slog.String("event_id", event.EventID),
			slog.String("client_id", clientID),
		)
		return Result{
			Decision: DecisionReject,
			Status:   http.StatusUnauthorized,
			Code:     types.ErrCodeAuthSignatureInvalid,
			Message:  "signature verification failed",
		}
	}

	// Step 5: rate limit keyed by client identity.
	var rateInfo *types.RateLimitInfo
	if a.limiter != nil {
		info, allowed, err := a.limiter.Allow(ctx, clientID)
		if err != nil {
			// Fail open: a limiter outage must not block all traffic.
			a.logger.ErrorContext(ctx, "rate limiter error, failing open",
				slog.String("client_id", clientID),
				slog.String("error", err.Error()),
			)
		} else {
			rateInfo = &info
			if !allowed {
				a.logger.WarnContext(ctx, "webhook rejected: rate limit exceeded",
					slog.String("client_id", clientID),
					slog.Int("limit", info.Limit),
					slog.Time("reset_at", info.ResetAt),
				)
				return Result{
					Decision:  DecisionReject,
					Status:    http.StatusTooManyRequests,
					Code:      types.ErrCodeRateLimit,
					Message:   "rate limit exceeded, retry after the reset time",
					RateLimit: rateInfo,
				}
			}
		}
	}

	// Step 6: record the idempotency key only after full success so rejected
	// requests never burn their event id.
	if a.cfg.IdempotencyEnabled && a.duplicates != nil {
		if err := a.duplicates.Record(ctx, event.EventID); err != nil {
			a.logger.ErrorContext(ctx, "failed to record idempotency key",
				slog.String("event_id", event.EventID),
				slog.String("error", err.Error()),
			)
		}
	}

	a.logger.InfoContext(ctx, "webhook accepted",
		slog.String("event_id", event.EventID),
		slog.String("event_type", event.EventType),
		slog.String("merchant_id", event.MerchantID),
	)
	return Result{
		Decision:  DecisionAccept,
		Event:     event,
		Status:    http.StatusOK,
		RateLimit: rateInfo,
	}
}
