package processor

import (
	"context"
	"testing"

	"webhookd/internal/types"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry(nil)

	called := ""
	r.Register("payment.created", func(ctx context.Context, event types.WebhookEvent) error {
		called = event.EventID
		return nil
	}, HandlerOptions{Priority: types.PriorityCritical, MaxAttempts: 5})

	fn, opts, ok := r.Lookup("payment.created")
	if !ok {
		t.Fatal("expected handler for payment.created")
	}
	if opts.Priority != types.PriorityCritical || opts.MaxAttempts != 5 {
		t.Errorf("unexpected options: %+v", opts)
	}
	if err := fn(context.Background(), types.WebhookEvent{EventID: "evt_1"}); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if called != "evt_1" {
		t.Errorf("handler not invoked, called = %q", called)
	}

	if _, _, ok := r.Lookup("customer.updated"); ok {
		t.Error("expected no handler for unregistered event type")
	}
}

func TestRegistryReRegisterReplaces(t *testing.T) {
	r := NewRegistry(nil)

	r.Register("payment.created", func(context.Context, types.WebhookEvent) error {
		t.Error("replaced handler must not run")
		return nil
	}, HandlerOptions{Priority: types.PriorityLow})

	ran := false
	r.Register("payment.created", func(context.Context, types.WebhookEvent) error {
		ran = true
		return nil
	}, HandlerOptions{Priority: types.PriorityHigh})

	fn, opts, ok := r.Lookup("payment.created")
	if !ok {
		t.Fatal("expected handler")
	}
	_ = fn(context.Background(), types.WebhookEvent{})
	if !ran {
		t.Error("replacement handler did not run")
	}
	if opts.Priority != types.PriorityHigh {
		t.Errorf("options not replaced: %+v", opts)
	}
}

func TestRegistryOptionsDefaultsForUnknown(t *testing.T) {
	r := NewRegistry(nil)
	opts := r.Options("refund.created")
	if opts.Priority != types.PriorityLow || opts.MaxAttempts != 0 {
		t.Errorf("expected zero options for unknown type, got %+v", opts)
	}
}

func TestRegistryEventTypesSorted(t *testing.T) {
	r := NewRegistry(nil)
	noop := func(context.Context, types.WebhookEvent) error { return nil }
	r.Register("refund.created", noop, HandlerOptions{})
	r.Register("payment.created", noop, HandlerOptions{})

	got := r.EventTypes()
	if len(got) != 2 || got[0] != "payment.created" || got[1] != "refund.created" {
		t.Errorf("unexpected event types: %v", got)
	}
}
