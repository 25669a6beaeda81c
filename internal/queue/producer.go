package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/healthpulse/pulse-jobs/internal/metrics"
)

// sqsAPI is the subset of the SQS client this package uses. *sqs.Client
// satisfies it; tests substitute a mock.
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Producer enqueues job requests.
type Producer struct {
	client   sqsAPI
	queueURL string
}

// NewProducer creates a producer bound to one queue URL.
func NewProducer(client sqsAPI, queueURL string) *Producer {
	return &Producer{client: client, queueURL: queueURL}
}

// Enqueue sends one job request and returns the SQS message ID.
func (p *Producer) Enqueue(ctx context.Context, req *JobRequest) (string, error) {
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	body, err := EncodeJobRequest(req)
	if err != nil {
		return "", err
	}

	out, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return "", fmt.Errorf("SQS SendMessage: %w", err)
	}
	metrics.QueueMessages.WithLabelValues("enqueued").Inc()
	return aws.ToString(out.MessageId), nil
}
