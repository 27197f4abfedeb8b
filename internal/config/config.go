// Package config defines the global configuration structure for webhookd.
// Configuration is loaded once at process startup and is immutable
// thereafter. It follows 12-Factor App principles by strictly separating
// code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> Struct Defaults (Lowest)
//
// Any missing required value or invalid format causes the application to fail
// immediately on startup (fail fast).
package config

import (
	"time"

	"webhookd/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for webhookd.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require
// (Least Privilege principle).
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev sandbox staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"webhookd"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server      ServerConfig
	Provider    ProviderConfig
	RateLimit   RateLimitConfig
	Idempotency IdempotencyConfig
	Queue       QueueConfig
	Processor   ProcessorConfig
	Breaker     BreakerConfig
	Alerts      AlertsConfig
	Database    DatabaseConfig
	AWS         AWSConfig
	Security    SecurityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server tuning parameters.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"15s"`
	MaxBodyBytes    int64         `envconfig:"SERVER_MAX_BODY_BYTES" default:"65536"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"10s"`
}

// ProviderConfig holds per-environment webhook provider settings. The signing
// secret differs between sandbox and production merchant accounts.
type ProviderConfig struct {
	SigningSecret   SecretString  `envconfig:"WEBHOOK_SIGNING_SECRET" validate:"required"`
	SignatureHeader string        `envconfig:"WEBHOOK_SIGNATURE_HEADER" default:"X-Webhook-Signature"`
	MaxEventAge     time.Duration `envconfig:"WEBHOOK_MAX_EVENT_AGE" default:"24h"`
	FutureTolerance time.Duration `envconfig:"WEBHOOK_FUTURE_TOLERANCE" default:"10m"`

	// Optional Stripe integration. When the secret is set, POST
	// /webhooks/stripe verifies with Stripe's signature scheme instead.
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET"`
}

// RateLimitConfig holds fixed-window rate limiter settings keyed by client
// identity.
type RateLimitConfig struct {
	Enabled     bool          `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	MaxRequests int           `envconfig:"RATE_LIMIT_MAX_REQUESTS" default:"100" validate:"min=1"`
	Window      time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

// IdempotencyConfig holds duplicate-delivery detection settings.
type IdempotencyConfig struct {
	Enabled bool          `envconfig:"IDEMPOTENCY_ENABLED" default:"true"`
	TTL     time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
}

// QueueConfig holds job queue retry and retention tuning.
type QueueConfig struct {
	DefaultMaxAttempts  int           `envconfig:"QUEUE_MAX_ATTEMPTS" default:"3" validate:"min=1"`
	BaseRetryDelay      time.Duration `envconfig:"QUEUE_BASE_RETRY_DELAY" default:"5s"`
	MaxRetryDelay       time.Duration `envconfig:"QUEUE_MAX_RETRY_DELAY" default:"5m"`
	CompletedRetention  time.Duration `envconfig:"QUEUE_COMPLETED_RETENTION" default:"1h"`
	DeadLetterRetention time.Duration `envconfig:"QUEUE_DEAD_LETTER_RETENTION" default:"168h"`
	CleanupInterval     time.Duration `envconfig:"QUEUE_CLEANUP_INTERVAL" default:"10m"`
}

// ProcessorConfig holds worker pool and polling loop tuning.
type ProcessorConfig struct {
	MaxConcurrency  int           `envconfig:"PROCESSOR_MAX_CONCURRENCY" default:"5" validate:"min=1"`
	PollInterval    time.Duration `envconfig:"PROCESSOR_POLL_INTERVAL" default:"1s"`
	JobTimeout      time.Duration `envconfig:"PROCESSOR_JOB_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"PROCESSOR_SHUTDOWN_TIMEOUT" default:"30s"`
}

// BreakerConfig holds circuit breaker thresholds for downstream dependencies.
type BreakerConfig struct {
	FailureThreshold uint32        `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"5" validate:"min=1"`
	ResetTimeout     time.Duration `envconfig:"BREAKER_RESET_TIMEOUT" default:"60s"`
}

// AlertsConfig holds the side-channel notification settings. Alert delivery
// must never block the processing path.
type AlertsConfig struct {
	SlackWebhookURL SecretString `envconfig:"ALERT_SLACK_WEBHOOK_URL"`
	MetricNamespace string       `envconfig:"METRIC_NAMESPACE" default:"Webhookd"`
	MetricsEnabled  bool         `envconfig:"METRICS_ENABLED" default:"false"`
}

// DatabaseConfig holds optional Postgres settings. When URL is empty the
// service runs with in-memory stores, which do not survive a restart and do
// not support multi-instance deployments.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS regional configuration and resource identifiers for
// the optional dead-letter forwarding and metrics integrations.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// DeadLetterQueueURL, when set, mirrors dead-lettered jobs to SQS for
	// external inspection tooling.
	DeadLetterQueueURL string `envconfig:"SQS_DEAD_LETTER_URL"`

	// ArchiveDir is the local spool for compressed dead-letter payloads
	// purged by retention cleanup. Empty disables archiving.
	ArchiveDir string `envconfig:"DEAD_LETTER_ARCHIVE_DIR"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// SecurityConfig holds the operational surface credentials. AdminKeyHash is a
// bcrypt hash of the admin API key; the plaintext never lives in config.
type SecurityConfig struct {
	AdminKeyHash SecretString `envconfig:"OPS_ADMIN_KEY_HASH" validate:"required"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
