// Package faults turns raw processing failures into typed webhook errors and
// decides what happens next: retry with backoff, execute a fallback, probe
// for recovery, alert, or give up and dead-letter.
package faults

import (
	"context"
	"errors"
	"strings"
	"time"

	"webhookd/internal/types"
)

// Classifier maps a raw failure into a typed WebhookError with severity and
// retry hint.
type Classifier interface {
	Classify(err error, eventType string) *types.WebhookError
}

// KeywordClassifier is the heuristic classifier. Typed *types.WebhookError
// values from upstream components pass through untouched; the string-matching
// path is the fallback for opaque and third-party errors.
type KeywordClassifier struct {
	baseDelay time.Duration
}

// NewKeywordClassifier constructs the classifier. baseDelay seeds the retry
// hint for PROCESSING and UNKNOWN failures.
func NewKeywordClassifier(baseDelay time.Duration) *KeywordClassifier {
	return &KeywordClassifier{baseDelay: baseDelay}
}

var _ Classifier = (*KeywordClassifier)(nil)

// classRule pairs message keywords with the classification they imply.
// Rules are checked in order; the first match wins.
type classRule struct {
	keywords   []string
	errType    types.ErrorType
	severity   types.Severity
	retry      bool
	retryAfter time.Duration
	fallback   types.FallbackAction
}

// classRules is the reference classification table. Order matters: the more
// specific auth and rate-limit phrasings come before the broad network bucket.
var classRules = []classRule{
	{
		keywords: []string{"unauthorized", "signature", "authentication", "forbidden", "permission denied"},
		errType:  types.ErrorTypeAuthentication,
		severity: types.SeverityHigh,
		fallback: types.FallbackSecurityLog,
	},
	{
		keywords: []string{"validation", "invalid", "malformed", "schema", "unprocessable"},
		errType:  types.ErrorTypeValidation,
		severity: types.SeverityMedium,
		fallback: types.FallbackPersistSide,
	},
	{
		keywords:   []string{"rate limit", "too many requests", "throttl", "quota exceeded"},
		errType:    types.ErrorTypeRateLimit,
		severity:   types.SeverityLow,
		retry:      true,
		retryAfter: 60 * time.Second,
	},
	{
		keywords:   []string{"timeout", "timed out", "deadline exceeded"},
		errType:    types.ErrorTypeTimeout,
		severity:   types.SeverityMedium,
		retry:      true,
		retryAfter: 5 * time.Second,
	},
	{
		keywords:   []string{"database", "sql", "postgres", "storage", "disk full", "no space"},
		errType:    types.ErrorTypeStorage,
		severity:   types.SeverityHigh,
		retry:      true,
		retryAfter: 15 * time.Second,
		fallback:   types.FallbackPersistSide,
	},
	{
		keywords:   []string{"connection", "network", "dns", "refused", "reset by peer", "unreachable", "no such host", "broken pipe", "eof"},
		errType:    types.ErrorTypeNetwork,
		severity:   types.SeverityMedium,
		retry:      true,
		retryAfter: 10 * time.Second,
	},
	{
		keywords: []string{"handler", "process"},
		errType:  types.ErrorTypeProcessing,
		severity: types.SeverityMedium,
		retry:    true,
	},
}

// Classify derives a WebhookError from a raw failure. The eventType hint
// escalates severity one level for payment-class events.
func (c *KeywordClassifier) Classify(err error, eventType string) *types.WebhookError {
	werr := c.classify(err)

	evt := types.WebhookEvent{EventType: eventType}
	if evt.IsPaymentEvent() {
		werr.Severity = werr.Severity.Escalate()
	}
	return werr
}

func (c *KeywordClassifier) classify(err error) *types.WebhookError {
	// Already-typed errors are authoritative; string matching is only the
	// fallback for opaque failures.
	var typed *types.WebhookError
	if errors.As(err, &typed) {
		out := *typed
		return &out
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &types.WebhookError{
			Type:        types.ErrorTypeTimeout,
			Severity:    types.SeverityMedium,
			Message:     err.Error(),
			ShouldRetry: true,
			RetryAfter:  5 * time.Second,
			Err:         err,
		}
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range classRules {
		for _, kw := range rule.keywords {
			if strings.Contains(msg, kw) {
				retryAfter := rule.retryAfter
				if rule.retry && retryAfter == 0 {
					retryAfter = c.baseDelay
				}
				return &types.WebhookError{
					Type:        rule.errType,
					Severity:    rule.severity,
					Message:     err.Error(),
					ShouldRetry: rule.retry,
					RetryAfter:  retryAfter,
					Fallback:    rule.fallback,
					Err:         err,
				}
			}
		}
	}

	return &types.WebhookError{
		Type:        types.ErrorTypeUnknown,
		Severity:    types.SeverityMedium,
		Message:     err.Error(),
		ShouldRetry: true,
		RetryAfter:  c.baseDelay,
		Err:         err,
	}
}
