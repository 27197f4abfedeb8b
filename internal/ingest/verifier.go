// Package ingest implements request admission for inbound provider webhooks:
// signature verification, envelope validation, duplicate detection, and rate
// limiting, composed into a single accept/reject decision.
package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"webhookd/internal/types"
)

// Verifier authenticates a raw payload against its signature header.
// Implementations must compare signatures in constant time.
type Verifier interface {
	Verify(payload []byte, header string) error
}

// HMACVerifier checks the provider's HMAC-SHA256 signature scheme.
//
// Header format: t=<unix>,v1=<hex>[,v1_old=<hex>]
//
// The signed content is "{t}.{payload}". v1_old carries a signature computed
// with the previous secret during rotation; it is accepted only while a
// previous secret is configured.
type HMACVerifier struct {
	secret         types.SecretString
	previousSecret types.SecretString
}

// NewHMACVerifier creates a verifier for the current signing secret.
// previousSecret may be empty when no rotation is in progress.
func NewHMACVerifier(secret, previousSecret types.SecretString) *HMACVerifier {
	return &HMACVerifier{secret: secret, previousSecret: previousSecret}
}

var _ Verifier = (*HMACVerifier)(nil)

// Verify validates the signature header against the raw body bytes.
// All candidate signatures are compared with hmac.Equal so verification time
// does not depend on where a mismatch occurs.
func (v *HMACVerifier) Verify(payload []byte, header string) error {
	parts := parseSignatureHeader(header)
	if parts.timestamp == "" || parts.v1 == "" {
		return fmt.Errorf("ingest: malformed signature header")
	}

	signedContent := fmt.Sprintf("%s.%s", parts.timestamp, string(payload))

	expected := computeHMAC(signedContent, v.secret.Unmask())
	if hmac.Equal([]byte(parts.v1), []byte(expected)) {
		return nil
	}

	if prev := v.previousSecret.Unmask(); prev != "" {
		expectedPrev := computeHMAC(signedContent, prev)
		if hmac.Equal([]byte(parts.v1), []byte(expectedPrev)) {
			return nil
		}
		if parts.v1Old != "" && hmac.Equal([]byte(parts.v1Old), []byte(expectedPrev)) {
			return nil
		}
	}

	return fmt.Errorf("ingest: signature mismatch")
}

// Sign produces the signature header value for a payload at the given unix
// timestamp. Exposed for tests and for replaying archived events.
func (v *HMACVerifier) Sign(payload []byte, unixTS int64) string {
	signedContent := fmt.Sprintf("%d.%s", unixTS, string(payload))
	return fmt.Sprintf("t=%d,v1=%s", unixTS, computeHMAC(signedContent, v.secret.Unmask()))
}

// signatureParts holds the parsed components of a signature header.
type signatureParts struct {
	timestamp string
	v1        string
	v1Old     string
}

// parseSignatureHeader breaks a signature header into its component parts.
// Expected format: "t=<unix>,v1=<hex>[,v1_old=<hex>]"
func parseSignatureHeader(header string) signatureParts {
	var parts signatureParts
	for _, segment := range strings.Split(header, ",") {
		kv := strings.SplitN(segment, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		value := strings.TrimSpace(kv[1])
		switch key {
		case "t":
			parts.timestamp = value
		case "v1":
			parts.v1 = value
		case "v1_old":
			parts.v1Old = value
		}
	}
	return parts
}

// computeHMAC computes the HMAC-SHA256 of content using the given key
// and returns it as a lowercase hex string.
func computeHMAC(content, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(content))
	return hex.EncodeToString(mac.Sum(nil))
}

// StripeVerifier validates payloads signed with Stripe's Stripe-Signature
// scheme, delegating to stripe-go's constant-time implementation with the
// default timestamp tolerance.
type StripeVerifier struct {
	secret types.SecretString
}

// NewStripeVerifier creates a verifier for the given Stripe webhook secret.
func NewStripeVerifier(secret types.SecretString) *StripeVerifier {
	return &StripeVerifier{secret: secret}
}

var _ Verifier = (*StripeVerifier)(nil)

// Verify validates a Stripe webhook payload against the signature header.
func (v *StripeVerifier) Verify(payload []byte, header string) error {
	return stripewebhook.ValidatePayload(payload, header, v.secret.Unmask())
}
