package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// WebhookEvent is the authenticated provider envelope. Only the envelope
// fields are part of the verified contract; Payload is handed to handlers
// untouched.
type WebhookEvent struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"type"`
	MerchantID string          `json:"merchant_id"`
	CreatedAt  time.Time       `json:"created_at"`
	Payload    json.RawMessage `json:"data,omitempty"`
}

// IsPaymentEvent reports whether the event belongs to the payment namespace.
// Failures on these events have their severity escalated one level.
func (e WebhookEvent) IsPaymentEvent() bool {
	for i := 0; i < len(e.EventType); i++ {
		if e.EventType[i] == '.' {
			return e.EventType[:i] == "payment" || e.EventType[:i] == "refund" || e.EventType[:i] == "dispute"
		}
	}
	return false
}

// WebhookJob is the queue's unit of work wrapping a WebhookEvent.
// The queue exclusively owns state transitions; the processor reports
// outcomes back through a single completion call.
type WebhookJob struct {
	ID          string       `json:"id"`
	Event       WebhookEvent `json:"event"`
	Priority    Priority     `json:"priority"`
	Status      JobStatus    `json:"status"`
	Attempts    int          `json:"attempts"`
	MaxAttempts int          `json:"max_attempts"`
	// RetryDelay, when positive, replaces the classifier's delay as the
	// exponential backoff base for this job.
	RetryDelay  time.Duration `json:"retry_delay_ns,omitempty"`
	ScheduledAt time.Time     `json:"scheduled_at"`
	LastError   string        `json:"last_error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Terminal reports whether the job can no longer transition.
func (j *WebhookJob) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusDeadLetter
}

// IdempotencyRecord marks an event id as already accepted. Records older
// than the retention TTL are treated as absent and evicted.
type IdempotencyRecord struct {
	EventID     string    `json:"event_id"`
	FirstSeenAt time.Time `json:"first_seen_at"`
}

// RateLimitEntry is a fixed-window counter for one client identity.
type RateLimitEntry struct {
	Count         int       `json:"count"`
	WindowResetAt time.Time `json:"window_reset_at"`
}

// WebhookError is the classified form of a processing failure. It is always
// derived from the originating error, never persisted as a parallel source
// of truth.
type WebhookError struct {
	Type        ErrorType
	Severity    Severity
	Message     string
	ShouldRetry bool
	RetryAfter  time.Duration
	Fallback    FallbackAction
	Err         error
}

// Error implements the error interface.
func (e *WebhookError) Error() string {
	return fmt.Sprintf("webhook %s error: %s", e.Type, e.Message)
}

// Unwrap returns the originating error for errors.Is/errors.As support.
func (e *WebhookError) Unwrap() error {
	return e.Err
}

// NewWebhookError builds a classified error around a raw failure.
func NewWebhookError(t ErrorType, severity Severity, message string, err error) *WebhookError {
	return &WebhookError{
		Type:     t,
		Severity: severity,
		Message:  message,
		Err:      err,
	}
}

// BreakerView is a read-only snapshot of one downstream circuit.
type BreakerView struct {
	Name                string       `json:"name"`
	State               CircuitState `json:"state"`
	ConsecutiveFailures uint32       `json:"consecutive_failures"`
}

// QueueStats is the operational snapshot returned by the stats surface.
type QueueStats struct {
	ByStatus          map[JobStatus]int `json:"by_status"`
	ByEventType       map[string]int    `json:"by_event_type"`
	InFlight          int               `json:"in_flight"`
	AvgProcessingTime time.Duration     `json:"avg_processing_time_ns"`
	OldestPendingAge  time.Duration     `json:"oldest_pending_age_ns"`
}
