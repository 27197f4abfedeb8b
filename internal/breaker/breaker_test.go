package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webhookd/internal/types"
)

func failing(calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		return errors.New("downstream boom")
	}
}

func TestBreakerTripsAfterThreshold(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 5, ResetTimeout: time.Minute}, nil)
	ctx := context.Background()

	calls := 0
	for i := 0; i < 5; i++ {
		err := r.Execute(ctx, "payments-db", failing(&calls))
		require.Error(t, err)
	}
	assert.Equal(t, 5, calls)
	assert.Equal(t, types.CircuitOpen, r.View("payments-db").State)

	// The 6th call is rejected immediately without invoking the operation.
	err := r.Execute(ctx, "payments-db", failing(&calls))
	require.Error(t, err)
	assert.Equal(t, 5, calls, "open breaker must not invoke the wrapped operation")

	var werr *types.WebhookError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, types.ErrorTypeNetwork, werr.Type)
	assert.True(t, werr.ShouldRetry)
	assert.Equal(t, time.Minute, werr.RetryAfter)
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 2, ResetTimeout: 50 * time.Millisecond}, nil)
	ctx := context.Background()

	calls := 0
	for i := 0; i < 2; i++ {
		_ = r.Execute(ctx, "dep", failing(&calls))
	}
	require.Equal(t, types.CircuitOpen, r.View("dep").State)

	// After the reset timeout, exactly one probe is allowed through. A
	// successful probe closes the circuit and zeroes the failure count.
	time.Sleep(60 * time.Millisecond)
	err := r.Execute(ctx, "dep", func(context.Context) error { return nil })
	require.NoError(t, err)

	view := r.View("dep")
	assert.Equal(t, types.CircuitClosed, view.State)
	assert.Equal(t, uint32(0), view.ConsecutiveFailures)
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 2, ResetTimeout: 50 * time.Millisecond}, nil)
	ctx := context.Background()

	calls := 0
	for i := 0; i < 2; i++ {
		_ = r.Execute(ctx, "dep", failing(&calls))
	}

	time.Sleep(60 * time.Millisecond)
	err := r.Execute(ctx, "dep", failing(&calls))
	require.Error(t, err)
	assert.Equal(t, 3, calls, "the probe call must reach the operation")
	assert.Equal(t, types.CircuitOpen, r.View("dep").State)

	// Back to immediate rejection while the new cool-down runs.
	err = r.Execute(ctx, "dep", failing(&calls))
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestBreakerIsolationBetweenDownstreams(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, ResetTimeout: time.Minute}, nil)
	ctx := context.Background()

	calls := 0
	_ = r.Execute(ctx, "dep-a", failing(&calls))
	require.Equal(t, types.CircuitOpen, r.View("dep-a").State)

	err := r.Execute(ctx, "dep-b", func(context.Context) error { return nil })
	assert.NoError(t, err, "another downstream's circuit must be unaffected")

	assert.Len(t, r.Views(), 2)
}
