package types

import "testing"

func TestIsPaymentEvent(t *testing.T) {
	cases := []struct {
		eventType string
		want      bool
	}{
		{"payment.created", true},
		{"payment.updated", true},
		{"refund.created", true},
		{"dispute.created", true},
		{"customer.created", false},
		{"invoice.payment", false},
		{"payment", false},
	}
	for _, tc := range cases {
		e := WebhookEvent{EventType: tc.eventType}
		if got := e.IsPaymentEvent(); got != tc.want {
			t.Errorf("IsPaymentEvent(%q) = %v, want %v", tc.eventType, got, tc.want)
		}
	}
}

func TestPriorityOrdering(t *testing.T) {
	if !(PriorityLow < PriorityNormal && PriorityNormal < PriorityHigh && PriorityHigh < PriorityCritical) {
		t.Fatal("priority constants must be strictly ordered")
	}
}

func TestJobTerminal(t *testing.T) {
	for status, terminal := range map[JobStatus]bool{
		JobStatusPending:    false,
		JobStatusProcessing: false,
		JobStatusFailed:     false,
		JobStatusCompleted:  true,
		JobStatusDeadLetter: true,
	} {
		j := WebhookJob{Status: status}
		if j.Terminal() != terminal {
			t.Errorf("Terminal() for %s = %v, want %v", status, j.Terminal(), terminal)
		}
	}
}
