package faults

import (
	"context"
	"errors"
	"testing"
	"time"

	"webhookd/internal/types"
)

// mockNotifier records alert calls and can be forced to fail.
type mockNotifier struct {
	calls  int
	lastSeverity types.Severity
	failWith error
}

func (m *mockNotifier) Notify(_ context.Context, severity types.Severity, _ string, _ map[string]any) error {
	m.calls++
	m.lastSeverity = severity
	return m.failWith
}

func testJob(attempts int) *types.WebhookJob {
	return &types.WebhookJob{
		ID:       "job_1",
		Event:    types.WebhookEvent{EventID: "evt_1", EventType: "payment.created"},
		Attempts: attempts,
	}
}

func TestPolicyRetryBudget(t *testing.T) {
	p := NewPolicy(DefaultStrategies(5*time.Second), nil, nil)
	werr := &types.WebhookError{Type: types.ErrorTypeNetwork, ShouldRetry: true, RetryAfter: 10 * time.Second}

	out := p.Handle(context.Background(), werr, testJob(1))
	if !out.ShouldRetry {
		t.Fatal("attempt 1 of 3 must retry")
	}
	if out.RetryDelay != 10*time.Second {
		t.Errorf("delay = %s, want the error's retryAfter hint", out.RetryDelay)
	}

	out = p.Handle(context.Background(), werr, testJob(3))
	if out.ShouldRetry {
		t.Fatal("attempt 3 of 3 must not retry")
	}
}

func TestPolicyNonRetryableTypes(t *testing.T) {
	p := NewPolicy(DefaultStrategies(5*time.Second), nil, nil)

	for _, errType := range []types.ErrorType{types.ErrorTypeAuthentication, types.ErrorTypeValidation} {
		werr := &types.WebhookError{Type: errType, ShouldRetry: false}
		out := p.Handle(context.Background(), werr, testJob(0))
		if out.ShouldRetry {
			t.Errorf("%s must never retry", errType)
		}
	}
}

func TestPolicyFallbackRunsEvenWithoutRetry(t *testing.T) {
	p := NewPolicy(DefaultStrategies(5*time.Second), nil, nil)

	fallbackRan := false
	p.RegisterFallback(types.FallbackPersistSide, func(context.Context, *types.WebhookJob, *types.WebhookError) error {
		fallbackRan = true
		return nil
	})

	werr := &types.WebhookError{Type: types.ErrorTypeValidation, ShouldRetry: false, Fallback: types.FallbackPersistSide}
	out := p.Handle(context.Background(), werr, testJob(0))

	if !fallbackRan {
		t.Fatal("fallback must execute once per failure")
	}
	if !out.FallbackExecuted {
		t.Error("outcome must report the fallback")
	}
	if out.ShouldRetry {
		t.Error("validation failures must not retry")
	}
}

func TestPolicyFallbackFailureIsSwallowed(t *testing.T) {
	p := NewPolicy(DefaultStrategies(5*time.Second), nil, nil)
	p.RegisterFallback(types.FallbackPersistSide, func(context.Context, *types.WebhookJob, *types.WebhookError) error {
		return errors.New("side channel down")
	})

	werr := &types.WebhookError{Type: types.ErrorTypeStorage, ShouldRetry: true, RetryAfter: time.Second}
	out := p.Handle(context.Background(), werr, testJob(0))

	if out.FallbackExecuted {
		t.Error("failed fallback must not be reported as executed")
	}
	if !out.ShouldRetry {
		t.Error("fallback failure must not affect the retry decision")
	}
}

func TestPolicyProbeSuccessCancelsRetry(t *testing.T) {
	p := NewPolicy(DefaultStrategies(5*time.Second), nil, nil)
	p.RegisterProbe(types.ErrorTypeNetwork, func(context.Context) error { return nil })

	werr := &types.WebhookError{Type: types.ErrorTypeNetwork, ShouldRetry: true, RetryAfter: time.Second}
	out := p.Handle(context.Background(), werr, testJob(0))

	if !out.RecoveryAttempted {
		t.Fatal("probe must run when a retry is pending")
	}
	if out.ShouldRetry {
		t.Error("probe success must cancel the retry")
	}
}

func TestPolicyProbeFailureKeepsRetry(t *testing.T) {
	p := NewPolicy(DefaultStrategies(5*time.Second), nil, nil)
	p.RegisterProbe(types.ErrorTypeNetwork, func(context.Context) error { return errors.New("still down") })

	werr := &types.WebhookError{Type: types.ErrorTypeNetwork, ShouldRetry: true, RetryAfter: time.Second}
	out := p.Handle(context.Background(), werr, testJob(0))

	if !out.ShouldRetry {
		t.Error("probe failure must keep the retry")
	}
}

func TestPolicyAlerting(t *testing.T) {
	notifier := &mockNotifier{}
	p := NewPolicy(DefaultStrategies(5*time.Second), notifier, nil)

	// Authentication strategy has ShouldAlert=true.
	werr := &types.WebhookError{Type: types.ErrorTypeAuthentication, Severity: types.SeverityHigh}
	p.Handle(context.Background(), werr, testJob(0))
	if notifier.calls != 1 {
		t.Fatalf("alert calls = %d, want 1", notifier.calls)
	}

	// Critical severity alerts regardless of strategy.
	werr = &types.WebhookError{Type: types.ErrorTypeProcessing, Severity: types.SeverityCritical, ShouldRetry: true}
	p.Handle(context.Background(), werr, testJob(0))
	if notifier.calls != 2 {
		t.Fatalf("alert calls = %d, want 2", notifier.calls)
	}
	if notifier.lastSeverity != types.SeverityCritical {
		t.Errorf("severity = %s, want critical", notifier.lastSeverity)
	}
}

func TestPolicyAlertFailureDoesNotPropagate(t *testing.T) {
	notifier := &mockNotifier{failWith: errors.New("slack down")}
	p := NewPolicy(DefaultStrategies(5*time.Second), notifier, nil)

	werr := &types.WebhookError{Type: types.ErrorTypeStorage, Severity: types.SeverityHigh, ShouldRetry: true, RetryAfter: time.Second}
	out := p.Handle(context.Background(), werr, testJob(0))

	if !out.ShouldRetry {
		t.Error("alert delivery failure must not affect the retry decision")
	}
}
