package faults

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"webhookd/internal/types"
)

func TestClassifyKeywordTable(t *testing.T) {
	c := NewKeywordClassifier(5 * time.Second)

	cases := []struct {
		name       string
		err        error
		wantType   types.ErrorType
		wantRetry  bool
		wantAfter  time.Duration
		wantSev    types.Severity
	}{
		{"auth", errors.New("signature verification failed"), types.ErrorTypeAuthentication, false, 0, types.SeverityHigh},
		{"validation", errors.New("invalid payload field"), types.ErrorTypeValidation, false, 0, types.SeverityMedium},
		{"timeout", errors.New("request timed out"), types.ErrorTypeTimeout, true, 5 * time.Second, types.SeverityMedium},
		{"rate limit", errors.New("429 too many requests"), types.ErrorTypeRateLimit, true, 60 * time.Second, types.SeverityLow},
		{"network", errors.New("dial tcp: connection refused"), types.ErrorTypeNetwork, true, 10 * time.Second, types.SeverityMedium},
		{"storage", errors.New("pq: database is shutting down"), types.ErrorTypeStorage, true, 15 * time.Second, types.SeverityHigh},
		{"processing", errors.New("handler rejected event"), types.ErrorTypeProcessing, true, 5 * time.Second, types.SeverityMedium},
		{"unknown", errors.New("something odd happened"), types.ErrorTypeUnknown, true, 5 * time.Second, types.SeverityMedium},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			werr := c.Classify(tc.err, "customer.updated")
			if werr.Type != tc.wantType {
				t.Errorf("type = %s, want %s", werr.Type, tc.wantType)
			}
			if werr.ShouldRetry != tc.wantRetry {
				t.Errorf("shouldRetry = %v, want %v", werr.ShouldRetry, tc.wantRetry)
			}
			if tc.wantRetry && werr.RetryAfter != tc.wantAfter {
				t.Errorf("retryAfter = %s, want %s", werr.RetryAfter, tc.wantAfter)
			}
			if werr.Severity != tc.wantSev {
				t.Errorf("severity = %s, want %s", werr.Severity, tc.wantSev)
			}
		})
	}
}

func TestClassifyPaymentEscalation(t *testing.T) {
	c := NewKeywordClassifier(5 * time.Second)

	werr := c.Classify(errors.New("429 too many requests"), "payment.created")
	if werr.Severity != types.SeverityMedium {
		t.Errorf("payment rate-limit severity = %s, want medium (escalated from low)", werr.Severity)
	}

	werr = c.Classify(errors.New("dial tcp: connection refused"), "refund.created")
	if werr.Severity != types.SeverityHigh {
		t.Errorf("refund network severity = %s, want high (escalated from medium)", werr.Severity)
	}
}

func TestClassifyTypedErrorPassesThrough(t *testing.T) {
	c := NewKeywordClassifier(5 * time.Second)
	typed := types.NewWebhookError(types.ErrorTypeStorage, types.SeverityHigh, "pool exhausted", nil)
	typed.ShouldRetry = true
	typed.RetryAfter = 2 * time.Second

	werr := c.Classify(fmt.Errorf("wrapped: %w", typed), "customer.updated")
	if werr.Type != types.ErrorTypeStorage {
		t.Errorf("typed error not honored, got %s", werr.Type)
	}
	if werr.RetryAfter != 2*time.Second {
		t.Errorf("retryAfter = %s, want the typed hint", werr.RetryAfter)
	}
}

func TestClassifyDeadlineExceeded(t *testing.T) {
	c := NewKeywordClassifier(5 * time.Second)
	werr := c.Classify(fmt.Errorf("handler: %w", context.DeadlineExceeded), "customer.updated")
	if werr.Type != types.ErrorTypeTimeout {
		t.Errorf("type = %s, want timeout", werr.Type)
	}
	if !werr.ShouldRetry {
		t.Error("timeouts must be retryable")
	}
}
