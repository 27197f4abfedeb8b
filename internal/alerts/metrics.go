package alerts

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"webhookd/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability. Production code uses the *cloudwatch.Client from
// aws-sdk-go-v2.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// QueueMetrics emits queue health gauges to CloudWatch. Publish failures
// are logged and dropped; metrics must never affect webhook processing.
type QueueMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewQueueMetrics creates an emitter publishing to the given namespace.
func NewQueueMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *QueueMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueMetrics{client: client, namespace: namespace, logger: logger}
}

// RecordQueueStats publishes one snapshot of the queue as a set of gauges.
func (m *QueueMetrics) RecordQueueStats(ctx context.Context, stats types.QueueStats) {
	data := []cwtypes.MetricDatum{
		gauge("PendingJobs", float64(stats.ByStatus[types.JobStatusPending])),
		gauge("InFlightJobs", float64(stats.InFlight)),
		gauge("DeadLetterJobs", float64(stats.ByStatus[types.JobStatusDeadLetter])),
		{
			MetricName: aws.String("AvgProcessingTime"),
			Value:      aws.Float64(float64(stats.AvgProcessingTime.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
		},
		{
			MetricName: aws.String("OldestPendingAge"),
			Value:      aws.Float64(float64(stats.OldestPendingAge.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
		},
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to publish queue metrics",
			slog.String("error", err.Error()),
		)
	}
}

func gauge(name string, value float64) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       cwtypes.StandardUnitCount,
	}
}

// StatsSource is the queue surface the reporter reads.
type StatsSource interface {
	Stats(ctx context.Context) (types.QueueStats, error)
}

// StatsReporter periodically samples queue stats and publishes them.
type StatsReporter struct {
	source   StatsSource
	metrics  *QueueMetrics
	interval time.Duration
	logger   *slog.Logger
}

// NewStatsReporter creates a reporter sampling at the given interval.
func NewStatsReporter(source StatsSource, metrics *QueueMetrics, interval time.Duration, logger *slog.Logger) *StatsReporter {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsReporter{source: source, metrics: metrics, interval: interval, logger: logger}
}

// Run samples until ctx is cancelled.
func (r *StatsReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := r.source.Stats(ctx)
			if err != nil {
				r.logger.ErrorContext(ctx, "failed to sample queue stats",
					slog.String("error", err.Error()),
				)
				continue
			}
			r.metrics.RecordQueueStats(ctx, stats)
		}
	}
}
