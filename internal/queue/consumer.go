package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/cenkalti/backoff/v5"

	"github.com/healthpulse/pulse-jobs/internal/core"
	"github.com/healthpulse/pulse-jobs/internal/metrics"
)

const (
	receiveWaitSeconds = 20
	receiveBatchSize   = 10
	defaultConcurrency = 2

	// A batch of LLM calls can outlive the queue's visibility timeout, so
	// in-flight messages are re-hidden on a heartbeat. The extension must
	// exceed the heartbeat interval or the message surfaces between beats.
	visibilityExtendSeconds = 120
	defaultHeartbeat        = 45 * time.Second
)

// RunFunc executes one decoded job request. A nil return means the request
// was handled, even when individual items failed into the dead letter queue.
// An error means the run could not happen and the message should redeliver.
type RunFunc func(ctx context.Context, req *JobRequest) error

// Consumer long-polls the queue and runs job requests with bounded
// concurrency.
type Consumer struct {
	client      sqsAPI
	queueURL    string
	run         RunFunc
	concurrency int
	heartbeat   time.Duration
	backoff     backoff.BackOff
	logger      *slog.Logger
	wg          sync.WaitGroup
}

// NewConsumer creates a consumer bound to one queue URL.
func NewConsumer(client sqsAPI, queueURL string, run RunFunc) *Consumer {
	return &Consumer{
		client:      client,
		queueURL:    queueURL,
		run:         run,
		concurrency: defaultConcurrency,
		heartbeat:   defaultHeartbeat,
		backoff:     backoff.NewExponentialBackOff(),
		logger:      slog.Default(),
	}
}

// SetLogger sets the logger for the consumer.
func (c *Consumer) SetLogger(logger *slog.Logger) {
	c.logger = logger
}

// SetConcurrency bounds how many job requests run at once.
func (c *Consumer) SetConcurrency(n int) {
	if n > 0 {
		c.concurrency = n
	}
}

// Start polls until ctx is canceled, then waits for in-flight runs to
// unwind. Receive errors back off exponentially; any successful receive
// resets the backoff.
func (c *Consumer) Start(ctx context.Context) {
	c.logger.Info("queue consumer started", "queue_url", c.queueURL, "concurrency", c.concurrency)
	sem := make(chan struct{}, c.concurrency)

	for {
		if ctx.Err() != nil {
			break
		}

		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: receiveBatchSize,
			WaitTimeSeconds:     receiveWaitSeconds,
		})
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			wait := c.backoff.NextBackOff()
			c.logger.Error("receive failed, backing off", "error", err, "wait", wait)
			metrics.QueueMessages.WithLabelValues("receive_error").Inc()
			select {
			case <-time.After(wait):
			case <-ctx.Done():
			}
			continue
		}
		c.backoff.Reset()

		for _, msg := range out.Messages {
			sem <- struct{}{}
			c.wg.Add(1)
			go func(msg sqstypes.Message) {
				defer func() {
					<-sem
					c.wg.Done()
				}()
				c.handle(ctx, msg)
			}(msg)
		}
	}

	c.wg.Wait()
	c.logger.Info("queue consumer stopped")
}

// Drain waits for in-flight runs to finish, up to timeout.
func (c *Consumer) Drain(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		c.logger.Warn("queue consumer drain timed out", "timeout", timeout)
	}
}

func (c *Consumer) handle(ctx context.Context, msg sqstypes.Message) {
	req, err := DecodeJobRequest(aws.ToString(msg.Body))
	if err != nil {
		// An undecodable message can never succeed; drop it.
		c.logger.Error("dropping undecodable message", "error", err)
		metrics.QueueMessages.WithLabelValues("invalid").Inc()
		c.delete(ctx, msg)
		return
	}

	c.logger.Info("processing job request",
		"job", req.Job,
		"users", len(req.UserIDs),
		"requested_by", req.RequestedBy)

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go c.keepVisible(hbCtx, msg)

	if err := c.run(ctx, req); err != nil {
		var apiErr *core.APIError
		if errors.As(err, &apiErr) && permanentRequestError(apiErr.Code) {
			c.logger.Error("dropping unrunnable job request", "job", req.Job, "error", err)
			metrics.QueueMessages.WithLabelValues("invalid").Inc()
			c.delete(ctx, msg)
			return
		}
		// Leave the message for redelivery after the visibility timeout.
		c.logger.Error("job request failed, leaving for redelivery", "job", req.Job, "error", err)
		metrics.QueueMessages.WithLabelValues("failed").Inc()
		return
	}

	metrics.QueueMessages.WithLabelValues("processed").Inc()
	c.delete(ctx, msg)
}

// permanentRequestError reports whether a run refusal can never resolve
// through redelivery, such as an unknown job name.
func permanentRequestError(code string) bool {
	switch code {
	case core.ErrCodeNotFound, core.ErrCodeInvalidRequest, core.ErrCodeValidationError:
		return true
	}
	return false
}

// keepVisible re-hides the message while its run is in flight. A failed
// extension is not fatal; the worst case is an early redelivery that the
// registry's running check refuses.
func (c *Consumer) keepVisible(ctx context.Context, msg sqstypes.Message) {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
				QueueUrl:          aws.String(c.queueURL),
				ReceiptHandle:     msg.ReceiptHandle,
				VisibilityTimeout: visibilityExtendSeconds,
			})
			if err != nil && ctx.Err() == nil {
				c.logger.Warn("visibility extension failed", "error", err)
			}
		}
	}
}

func (c *Consumer) delete(ctx context.Context, msg sqstypes.Message) {
	// A canceled poll context must not block the delete, or handled work
	// would redeliver.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		c.logger.Error("delete message failed", "error", err)
	}
}
