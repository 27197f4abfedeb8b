// Package main implements the send-webhook CLI tool for posting a signed
// test event to a running instance.
//
// This tool is intended for local development and for verifying a deployed
// endpoint end to end: it builds (or loads) an event envelope, signs it the
// way a provider would, and reports the ingestion response.
//
// Usage:
//
//	go run ./cmd/tools/send-webhook --url=http://localhost:8080/webhooks/default
//	go run ./cmd/tools/send-webhook --event-type=refund.created --merchant=mer_42
//	go run ./cmd/tools/send-webhook --file=payload.json
//
// The signing secret is read from WEBHOOK_SIGNING_SECRET (or a .env file via
// godotenv) unless --secret is given. Passing --file skips envelope
// construction and signs the file contents verbatim, which is useful for
// replaying captured payloads or exercising the schema violation path.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"webhookd/internal/ingest"
	"webhookd/internal/types"
)

const requestTimeout = 15 * time.Second

func main() {
	var (
		targetURL  = flag.String("url", "http://localhost:8080/webhooks/default", "ingestion endpoint to post to")
		eventType  = flag.String("event-type", "payment.created", "event type for the generated envelope")
		eventID    = flag.String("event-id", "", "event ID; defaults to a fresh evt_ UUID")
		merchantID = flag.String("merchant", "mer_test", "merchant ID for the generated envelope")
		file       = flag.String("file", "", "sign and send this file verbatim instead of generating an envelope")
		secret     = flag.String("secret", "", "signing secret; defaults to WEBHOOK_SIGNING_SECRET")
		header     = flag.String("header", "X-Webhook-Signature", "signature header name")
	)
	flag.Parse()

	if err := run(*targetURL, *eventType, *eventID, *merchantID, *file, *secret, *header); err != nil {
		fmt.Fprintf(os.Stderr, "send-webhook: %v\n", err)
		os.Exit(1)
	}
}

func run(targetURL, eventType, eventID, merchantID, file, secret, header string) error {
	_ = godotenv.Load()

	if secret == "" {
		secret = os.Getenv("WEBHOOK_SIGNING_SECRET")
	}
	if secret == "" {
		return fmt.Errorf("no signing secret: pass --secret or set WEBHOOK_SIGNING_SECRET")
	}

	body, err := buildBody(eventType, eventID, merchantID, file)
	if err != nil {
		return err
	}

	verifier := ingest.NewHMACVerifier(types.SecretString(secret), "")
	signature := verifier.Sign(body, time.Now().Unix())

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(header, signature)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting event: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	fmt.Printf("%s\n", resp.Status)
	for _, h := range []string{"X-Request-Id", "X-RateLimit-Remaining", "Retry-After"} {
		if v := resp.Header.Get(h); v != "" {
			fmt.Printf("%s: %s\n", h, v)
		}
	}
	fmt.Printf("%s\n", respBody)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("endpoint returned %s", resp.Status)
	}
	return nil
}

// buildBody either loads the payload file verbatim or constructs a minimal
// valid envelope for the given event type.
func buildBody(eventType, eventID, merchantID, file string) ([]byte, error) {
	if file != "" {
		body, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading payload file: %w", err)
		}
		return body, nil
	}

	if eventID == "" {
		eventID = "evt_" + uuid.NewString()
	}

	body, err := json.Marshal(map[string]any{
		"merchant_id": merchantID,
		"type":        eventType,
		"event_id":    eventID,
		"created_at":  time.Now().UTC().Format(time.RFC3339),
		"data": map[string]any{
			"amount":   1999,
			"currency": "usd",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return body, nil
}
