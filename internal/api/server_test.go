package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"webhookd/internal/config"
	"webhookd/internal/faults"
	"webhookd/internal/ingest"
	"webhookd/internal/processor"
	"webhookd/internal/queue"
	"webhookd/internal/store"
	"webhookd/internal/types"
)

const (
	testSecret   = "whsec_test_secret"
	testAdminKey = "ops-admin-key"
)

type testServer struct {
	srv     *Server
	manager *queue.Manager
	store   queue.Store
	reg     *processor.Registry
	ts      *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminKey), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := &config.Config{
		Environment: "local",
		Service:     "webhookd",
		Server:      config.ServerConfig{MaxBodyBytes: 65536},
		Provider: config.ProviderConfig{
			SigningSecret:   types.SecretString(testSecret),
			SignatureHeader: "X-Webhook-Signature",
			MaxEventAge:     24 * time.Hour,
			FutureTolerance: 10 * time.Minute,
		},
		Security: config.SecurityConfig{AdminKeyHash: types.SecretString(string(hash))},
	}

	kv := store.NewMemoryKV(nil)
	limiter := store.NewFixedWindowLimiter(kv, store.FixedWindowConfig{MaxRequests: 100, Window: time.Minute})
	idem := store.NewIdempotency(kv, 24*time.Hour, nil)
	verifier := ingest.NewHMACVerifier(types.SecretString(testSecret), "")
	auth := ingest.NewAuthenticator(verifier, limiter, idem, nil, ingest.AuthenticatorConfig{
		SignatureHeader:    cfg.Provider.SignatureHeader,
		MaxEventAge:        cfg.Provider.MaxEventAge,
		FutureTolerance:    cfg.Provider.FutureTolerance,
		IdempotencyEnabled: true,
	}, nil)

	base := 10 * time.Millisecond
	jobStore := queue.NewMemoryStore()
	manager := queue.NewManager(
		jobStore,
		faults.NewKeywordClassifier(base),
		faults.NewPolicy(faults.DefaultStrategies(base), nil, nil),
		nil, nil, nil,
		queue.Config{
			DefaultMaxAttempts:  3,
			BaseRetryDelay:      base,
			MaxRetryDelay:       time.Second,
			CompletedRetention:  time.Hour,
			DeadLetterRetention: time.Hour,
		},
		nil,
	)

	reg := processor.NewRegistry(nil)
	reg.Register("payment.created", func(context.Context, types.WebhookEvent) error { return nil },
		processor.HandlerOptions{Priority: types.PriorityCritical})

	srv, err := NewServer(cfg, testLogger(), map[string]Admitter{"default": auth}, manager, reg, nil)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testServer{srv: srv, manager: manager, store: jobStore, reg: reg, ts: ts}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func eventBody(t *testing.T, eventID, eventType string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event_id":    eventID,
		"type":        eventType,
		"merchant_id": "M1",
		"created_at":  time.Now().UTC().Format(time.RFC3339),
		"data":        map[string]any{"amount": 1250},
	})
	require.NoError(t, err)
	return body
}

func (s *testServer) postWebhook(t *testing.T, provider string, body []byte, sign bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, s.ts.URL+"/webhooks/"+provider, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if sign {
		verifier := ingest.NewHMACVerifier(types.SecretString(testSecret), "")
		req.Header.Set("X-Webhook-Signature", verifier.Sign(body, time.Now().Unix()))
	}
	resp, err := s.ts.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestWebhookAcceptEnqueuesWithRegisteredPriority(t *testing.T) {
	s := newTestServer(t)

	resp := s.postWebhook(t, "default", eventBody(t, "evt_1", "payment.created"), true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	out := decodeBody(t, resp)
	data := out["data"].(map[string]any)
	assert.Equal(t, "accepted", data["status"])
	assert.Equal(t, "evt_1", data["event_id"])

	jobID := data["job_id"].(string)
	job, err := s.store.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, types.PriorityCritical, job.Priority)
	assert.Equal(t, types.JobStatusPending, job.Status)
}

func TestWebhookDuplicateReturns200WithoutSecondJob(t *testing.T) {
	s := newTestServer(t)
	body := eventBody(t, "evt_dup", "payment.created")

	first := s.postWebhook(t, "default", body, true)
	require.Equal(t, http.StatusOK, first.StatusCode)
	first.Body.Close()

	second := s.postWebhook(t, "default", body, true)
	require.Equal(t, http.StatusOK, second.StatusCode)
	out := decodeBody(t, second)
	assert.Equal(t, "duplicate", out["data"].(map[string]any)["status"])

	stats, err := s.manager.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ByStatus[types.JobStatusPending])
}

func TestWebhookBadSignatureReturns401(t *testing.T) {
	s := newTestServer(t)

	resp := s.postWebhook(t, "default", eventBody(t, "evt_1", "payment.created"), false)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	out := decodeBody(t, resp)
	assert.Equal(t, "auth_signature_missing", out["error"].(map[string]any)["code"])
}

func TestWebhookSchemaViolationsReturned(t *testing.T) {
	s := newTestServer(t)

	body := []byte(`{"type":"BAD TYPE","created_at":"not-a-time"}`)
	resp := s.postWebhook(t, "default", body, true)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	out := decodeBody(t, resp)
	errObj := out["error"].(map[string]any)
	assert.Equal(t, "validation_schema_violation", errObj["code"])
	violations := errObj["details"].(map[string]any)["violations"].([]any)
	assert.GreaterOrEqual(t, len(violations), 3)
}

func TestWebhookUnknownProviderReturns404(t *testing.T) {
	s := newTestServer(t)

	resp := s.postWebhook(t, "nope", eventBody(t, "evt_1", "payment.created"), true)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestWebhookOversizedBodyReturns413(t *testing.T) {
	s := newTestServer(t)

	big := bytes.Repeat([]byte("a"), 70000)
	resp := s.postWebhook(t, "default", big, false)
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	out := decodeBody(t, resp)
	assert.Equal(t, "validation_payload_too_large", out["error"].(map[string]any)["code"])
}

func TestOpsRequiresAdminKey(t *testing.T) {
	s := newTestServer(t)

	resp, err := s.ts.Client().Get(s.ts.URL + "/v1/ops/stats")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodGet, s.ts.URL+"/v1/ops/stats", nil)
	req.Header.Set("X-Admin-Key", "wrong")
	resp, err = s.ts.Client().Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestOpsStatsWithValidKey(t *testing.T) {
	s := newTestServer(t)

	first := s.postWebhook(t, "default", eventBody(t, "evt_1", "payment.created"), true)
	first.Body.Close()

	req, _ := http.NewRequest(http.MethodGet, s.ts.URL+"/v1/ops/stats", nil)
	req.Header.Set("X-Admin-Key", testAdminKey)
	resp, err := s.ts.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decodeBody(t, resp)
	data := out["data"].(map[string]any)
	queueStats := data["queue"].(map[string]any)
	assert.NotNil(t, queueStats["by_status"])
	handlers := data["handlers"].([]any)
	assert.Contains(t, handlers, "payment.created")
}

func TestOpsDeadLetterListAndReplay(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	// Force a dead letter: enqueue, claim, fail with a non-retryable error.
	id, err := s.manager.Enqueue(ctx,
		types.WebhookEvent{EventID: "evt_dl", EventType: "refund.created", MerchantID: "M1", CreatedAt: time.Now().UTC()},
		queue.EnqueueOptions{Priority: types.PriorityNormal})
	require.NoError(t, err)
	_, err = s.manager.NextRunnable(ctx)
	require.NoError(t, err)
	werr := types.NewWebhookError(types.ErrorTypeValidation, types.SeverityMedium, "bad payload", nil)
	require.NoError(t, s.manager.Complete(ctx, id, queue.Outcome{Err: werr}))

	req, _ := http.NewRequest(http.MethodGet, s.ts.URL+"/v1/ops/dead-letters?limit=10", nil)
	req.Header.Set("X-Admin-Key", testAdminKey)
	resp, err := s.ts.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody(t, resp)
	assert.Equal(t, float64(1), out["data"].(map[string]any)["count"])

	replayURL := fmt.Sprintf("%s/v1/ops/dead-letters/%s/replay", s.ts.URL, id)
	req, _ = http.NewRequest(http.MethodPost, replayURL, nil)
	req.Header.Set("X-Admin-Key", testAdminKey)
	resp, err = s.ts.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	job, err := s.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPending, job.Status)

	// Replaying a job that is no longer dead-lettered is a conflict.
	resp, err = s.ts.Client().Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	resp, err := s.ts.Client().Get(s.ts.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody(t, resp)
	data := out["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, "webhookd", data["service"])
}
