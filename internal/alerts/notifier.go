// Package alerts delivers failure notifications and operational metrics:
// a structured-log notifier for local runs, a Slack webhook notifier for
// on-call channels, and a CloudWatch emitter for queue health metrics.
package alerts

import (
	"context"
	"log/slog"

	"webhookd/internal/faults"
	"webhookd/internal/types"
)

var _ faults.Notifier = (*LogNotifier)(nil)

// LogNotifier writes alerts to the structured log. It is the default sink
// when no Slack webhook is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier over the given logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the alert at a level matching its severity.
func (n *LogNotifier) Notify(ctx context.Context, severity types.Severity, title string, fields map[string]any) error {
	attrs := make([]any, 0, 2+2*len(fields))
	attrs = append(attrs, slog.String("severity", severity.String()))
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}

	switch severity {
	case types.SeverityCritical, types.SeverityHigh:
		n.logger.ErrorContext(ctx, "ALERT: "+title, attrs...)
	case types.SeverityMedium:
		n.logger.WarnContext(ctx, "ALERT: "+title, attrs...)
	default:
		n.logger.InfoContext(ctx, "ALERT: "+title, attrs...)
	}
	return nil
}
