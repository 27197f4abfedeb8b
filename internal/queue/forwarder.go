package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"webhookd/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSForwarder mirrors dead-lettered jobs onto an SQS queue so external
// tooling can inspect them without touching the live job table.
type SQSForwarder struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewSQSForwarder creates a forwarder targeting the given queue URL.
func NewSQSForwarder(client SQSSender, queueURL string, logger *slog.Logger) *SQSForwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQSForwarder{client: client, queueURL: queueURL, logger: logger}
}

var _ DeadLetterSink = (*SQSForwarder)(nil)

// Forward serializes the dead-lettered job and sends it to the queue.
func (f *SQSForwarder) Forward(ctx context.Context, job *types.WebhookJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal dead-letter job %s: %w", job.ID, err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(f.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(job.Event.EventType),
			},
			"last_error": {
				DataType:    aws.String("String"),
				StringValue: aws.String(job.LastError),
			},
		},
	}

	if _, err := f.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to forward dead-letter job %s to %s: %w", job.ID, f.queueURL, err)
	}

	f.logger.InfoContext(ctx, "dead-letter job forwarded",
		"queue_url", f.queueURL,
		"job_id", job.ID,
		"event_type", job.Event.EventType,
	)
	return nil
}
