// Package main is the entry point for the webhookd service.
//
// It loads configuration from the environment, selects between in-memory
// and PostgreSQL-backed stores, wires the ingestion pipeline, job queue,
// error handling policy, worker pool, and HTTP API, then runs everything
// until a shutdown signal arrives.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"golang.org/x/sync/errgroup"

	"webhookd/internal/alerts"
	"webhookd/internal/api"
	"webhookd/internal/archive"
	"webhookd/internal/breaker"
	"webhookd/internal/config"
	"webhookd/internal/db"
	"webhookd/internal/faults"
	"webhookd/internal/ingest"
	"webhookd/internal/processor"
	"webhookd/internal/queue"
	"webhookd/internal/security"
	"webhookd/internal/store"
	"webhookd/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on
// error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("webhookd starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store selection: Postgres when DATABASE_URL is set, in-memory
	// otherwise.
	var (
		jobStore queue.Store
		kv       store.KV
	)
	if cfg.Database.URL != "" {
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:             cfg.Database.URL.Unmask(),
			MaxConns:        int32(cfg.Database.MaxConns),
			MinConns:        int32(cfg.Database.MinConns),
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
		jobStore = db.NewJobRepository(pool, nil)
		kv = db.NewKVRepository(pool, nil)
		logger.Info("using postgres stores")
	} else {
		jobStore = queue.NewMemoryStore()
		kv = store.NewMemoryKV(nil)
		logger.Warn("using in-memory stores, jobs will not survive restarts")
	}

	// Ingestion pipeline.
	var limiter types.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = store.NewFixedWindowLimiter(kv, store.FixedWindowConfig{
			MaxRequests: cfg.RateLimit.MaxRequests,
			Window:      cfg.RateLimit.Window,
		})
	}
	idem := store.NewIdempotency(kv, cfg.Idempotency.TTL, nil)

	authCfg := ingest.AuthenticatorConfig{
		SignatureHeader:    cfg.Provider.SignatureHeader,
		MaxEventAge:        cfg.Provider.MaxEventAge,
		FutureTolerance:    cfg.Provider.FutureTolerance,
		IdempotencyEnabled: cfg.Idempotency.Enabled,
	}
	admitters := map[string]api.Admitter{
		"default": ingest.NewAuthenticator(
			ingest.NewHMACVerifier(cfg.Provider.SigningSecret, ""),
			limiter, idem, nil, authCfg, logger),
	}
	if cfg.Provider.StripeWebhookSecret != "" {
		stripeCfg := authCfg
		stripeCfg.SignatureHeader = "Stripe-Signature"
		admitters["stripe"] = ingest.NewAuthenticator(
			ingest.NewStripeVerifier(cfg.Provider.StripeWebhookSecret),
			limiter, idem, nil, stripeCfg, logger)
	}

	// Optional AWS integrations.
	var (
		sink     queue.DeadLetterSink
		cwClient alerts.CloudWatchClient
	)
	if cfg.AWS.DeadLetterQueueURL != "" || cfg.Alerts.MetricsEnabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return fmt.Errorf("loading AWS configuration: %w", err)
		}
		if cfg.AWS.DeadLetterQueueURL != "" {
			client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
				if cfg.AWS.EndpointURL != "" {
					o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
				}
			})
			sink = queue.NewSQSForwarder(client, cfg.AWS.DeadLetterQueueURL, logger)
		}
		if cfg.Alerts.MetricsEnabled {
			cwClient = cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
				if cfg.AWS.EndpointURL != "" {
					o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
				}
			})
		}
	}

	var archiver queue.Archiver
	if cfg.AWS.ArchiveDir != "" {
		spool, err := archive.NewSpoolArchiver(cfg.AWS.ArchiveDir, nil, logger)
		if err != nil {
			return fmt.Errorf("creating archive spool: %w", err)
		}
		archiver = spool
	}

	// Failure handling: classifier, per-type policy, alerting side channel.
	var notifier faults.Notifier
	if cfg.Alerts.SlackWebhookURL != "" {
		// The webhook URL is operator-supplied; keep its traffic away from
		// internal ranges and the metadata endpoint.
		slackClient := security.NewGuardedHTTPClient(10*time.Second, 3)
		notifier = alerts.NewSlackNotifier(cfg.Alerts.SlackWebhookURL, slackClient, logger)
	} else {
		notifier = alerts.NewLogNotifier(logger)
	}

	policy := faults.NewPolicy(faults.DefaultStrategies(cfg.Queue.BaseRetryDelay), notifier, logger)
	registerFallbacks(policy, archiver, logger)

	manager := queue.NewManager(
		jobStore,
		faults.NewKeywordClassifier(cfg.Queue.BaseRetryDelay),
		policy,
		sink,
		archiver,
		nil,
		queue.Config{
			DefaultMaxAttempts:  cfg.Queue.DefaultMaxAttempts,
			BaseRetryDelay:      cfg.Queue.BaseRetryDelay,
			MaxRetryDelay:       cfg.Queue.MaxRetryDelay,
			CompletedRetention:  cfg.Queue.CompletedRetention,
			DeadLetterRetention: cfg.Queue.DeadLetterRetention,
		},
		logger,
	)

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
	}, logger)

	registry := processor.NewRegistry(logger)
	registerHandlers(registry, logger)

	proc := processor.NewService(manager, registry, breakers, nil, processor.Config{
		MaxConcurrency:  cfg.Processor.MaxConcurrency,
		PollInterval:    cfg.Processor.PollInterval,
		JobTimeout:      cfg.Processor.JobTimeout,
		ShutdownTimeout: cfg.Processor.ShutdownTimeout,
		CleanupInterval: cfg.Queue.CleanupInterval,
	}, logger)

	srv, err := api.NewServer(cfg, logger, admitters, manager, registry, breakers)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return proc.Run(gCtx)
	})

	if cwClient != nil {
		metrics := alerts.NewQueueMetrics(cwClient, cfg.Alerts.MetricNamespace, logger)
		reporter := alerts.NewStatsReporter(manager, metrics, time.Minute, logger)
		g.Go(func() error {
			reporter.Run(gCtx)
			return nil
		})
	}

	g.Go(func() error {
		return runHTTPServer(gCtx, cfg, srv.Handler(), logger)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("webhookd stopped cleanly")
	return nil
}

// registerFallbacks binds the compensating actions the handling policy can
// invoke for non-retryable failures.
func registerFallbacks(policy *faults.Policy, archiver queue.Archiver, logger *slog.Logger) {
	policy.RegisterFallback(types.FallbackSecurityLog, func(ctx context.Context, job *types.WebhookJob, werr *types.WebhookError) error {
		logger.ErrorContext(ctx, "security event",
			"job_id", job.ID,
			"event_id", job.Event.EventID,
			"merchant_id", job.Event.MerchantID,
			"error", werr.Error(),
		)
		return nil
	})

	persist := func(ctx context.Context, job *types.WebhookJob, werr *types.WebhookError) error {
		if archiver != nil {
			return archiver.Archive(ctx, []*types.WebhookJob{job})
		}
		logger.WarnContext(ctx, "payload persisted to log side channel only",
			"job_id", job.ID,
			"error", werr.Error(),
		)
		return nil
	}
	policy.RegisterFallback(types.FallbackPersistSide, persist)
	policy.RegisterFallback(types.FallbackArchive, persist)
}

// registerHandlers installs the built-in event handlers. Deployments embed
// their own processing here; the defaults acknowledge known event families
// with priorities reflecting their business impact.
func registerHandlers(registry *processor.Registry, logger *slog.Logger) {
	ack := func(ctx context.Context, event types.WebhookEvent) error {
		logger.InfoContext(ctx, "event processed",
			"event_id", event.EventID,
			"event_type", event.EventType,
			"merchant_id", event.MerchantID,
		)
		return nil
	}

	registry.Register("payment.created", ack, processor.HandlerOptions{Priority: types.PriorityCritical})
	registry.Register("payment.updated", ack, processor.HandlerOptions{Priority: types.PriorityCritical})
	registry.Register("refund.created", ack, processor.HandlerOptions{Priority: types.PriorityHigh})
	registry.Register("dispute.created", ack, processor.HandlerOptions{
		Priority:    types.PriorityHigh,
		MaxAttempts: 5,
		RetryDelay:  30 * time.Second,
	})
	registry.Register("customer.updated", ack, processor.HandlerOptions{Priority: types.PriorityNormal})
}

// runHTTPServer serves until ctx is cancelled, then shuts down gracefully.
func runHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// newLogger creates a structured JSON logger for the given level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
