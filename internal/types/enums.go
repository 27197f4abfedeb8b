package types

// Priority orders jobs within the queue. Higher values are drained first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns the canonical lowercase name used in logs and stats.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// JobStatus enumerates all valid states for a webhook job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusDeadLetter JobStatus = "dead_letter"
)

// ErrorType categorizes a processing failure for retry-policy selection.
type ErrorType string

const (
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeProcessing     ErrorType = "processing"
	ErrorTypeNetwork        ErrorType = "network"
	ErrorTypeStorage        ErrorType = "storage"
	ErrorTypeTimeout        ErrorType = "timeout"
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeUnknown        ErrorType = "unknown"
)

// Severity ranks the business impact of a failure.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the canonical lowercase name used in logs and alerts.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Escalate bumps the severity one level, capped at critical. Payment-class
// failures carry more business risk than the baseline table implies.
func (s Severity) Escalate() Severity {
	if s >= SeverityCritical {
		return SeverityCritical
	}
	return s + 1
}

// FallbackAction tags the compensating action a policy executes on failure.
type FallbackAction string

const (
	FallbackNone        FallbackAction = ""
	FallbackPersistSide FallbackAction = "persist_side_channel"
	FallbackSecurityLog FallbackAction = "security_log"
	FallbackArchive     FallbackAction = "archive_payload"
)

// CircuitState mirrors the breaker's view of a downstream dependency.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)
