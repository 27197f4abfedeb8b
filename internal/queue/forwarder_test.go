package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webhookd/internal/types"
)

type mockSQSSender struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (m *mockSQSSender) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.SendMessageOutput{}, nil
}

func deadJob() *types.WebhookJob {
	return &types.WebhookJob{
		ID: "payment.created:evt_1:42",
		Event: types.WebhookEvent{
			EventID:    "evt_1",
			EventType:  "payment.created",
			MerchantID: "M1",
			CreatedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		},
		Status:    types.JobStatusDeadLetter,
		Attempts:  3,
		LastError: "webhook network error: connection refused",
	}
}

func TestSQSForwarderSendsJobWithAttributes(t *testing.T) {
	sender := &mockSQSSender{}
	f := NewSQSForwarder(sender, "https://sqs.us-east-1.amazonaws.com/123/webhookd-dlq", nil)

	job := deadJob()
	require.NoError(t, f.Forward(context.Background(), job))
	require.Len(t, sender.inputs, 1)

	input := sender.inputs[0]
	assert.Equal(t, "https://sqs.us-east-1.amazonaws.com/123/webhookd-dlq", *input.QueueUrl)
	assert.Equal(t, "payment.created", *input.MessageAttributes["event_type"].StringValue)
	assert.Equal(t, job.LastError, *input.MessageAttributes["last_error"].StringValue)

	var sent types.WebhookJob
	require.NoError(t, json.Unmarshal([]byte(*input.MessageBody), &sent))
	assert.Equal(t, job.ID, sent.ID)
	assert.Equal(t, job.Attempts, sent.Attempts)
}

func TestSQSForwarderWrapsSendError(t *testing.T) {
	sendErr := errors.New("throttled")
	sender := &mockSQSSender{err: sendErr}
	f := NewSQSForwarder(sender, "https://sqs.us-east-1.amazonaws.com/123/webhookd-dlq", nil)

	err := f.Forward(context.Background(), deadJob())
	require.Error(t, err)
	assert.ErrorIs(t, err, sendErr)
	assert.Contains(t, err.Error(), deadJob().ID)
}
