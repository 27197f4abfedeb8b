package types

import (
	"encoding/json"
	"fmt"
	"testing"
)

func TestSecretStringRedaction(t *testing.T) {
	s := SecretString("whsec_super_secret")

	if got := fmt.Sprintf("%s", s); got != "***REDACTED***" {
		t.Errorf("fmt leaked secret: %s", got)
	}
	if got := fmt.Sprintf("%v", s); got != "***REDACTED***" {
		t.Errorf("fmt %%v leaked secret: %s", got)
	}

	b, err := json.Marshal(struct {
		Secret SecretString `json:"secret"`
	}{Secret: s})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"secret":"***REDACTED***"}` {
		t.Errorf("json leaked secret: %s", b)
	}

	if s.Unmask() != "whsec_super_secret" {
		t.Error("Unmask must return the raw value")
	}
}
