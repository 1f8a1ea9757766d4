package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evalkit-dev/evalkit-engine/pkg/metrics"
)

const driverSQS = "sqs"

// SQSAPI is the subset of *sqs.Client used by the sqs driver.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

var _ SQSAPI = (*sqs.Client)(nil)

// SQSDispatcher publishes import jobs to an SQS queue.
type SQSDispatcher struct {
	client   SQSAPI
	queueURL string
	metrics  *metrics.Metrics
}

var _ Dispatcher = (*SQSDispatcher)(nil)

// NewSQSDispatcher creates a dispatcher for queueURL.
func NewSQSDispatcher(client SQSAPI, queueURL string, m *metrics.Metrics) *SQSDispatcher {
	return &SQSDispatcher{client: client, queueURL: queueURL, metrics: m}
}

// EnqueueImport sends one job message.
func (d *SQSDispatcher) EnqueueImport(ctx context.Context, uploadID uuid.UUID) error {
	body, err := encodeMessage(ImportMessage{UploadID: uploadID})
	if err != nil {
		return err
	}

	_, err = d.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(d.queueURL),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("failed to send import job for upload %s: %w", uploadID, err)
	}
	d.metrics.RecordJob(driverSQS, metrics.JobEnqueued)
	return nil
}

// SQSConsumerConfig tunes the long-poll loop.
type SQSConsumerConfig struct {
	QueueURL          string
	Workers           int
	WaitTimeSeconds   int32
	VisibilityTimeout int32
	// ErrorBackoff is the pause after a failed ReceiveMessage call.
	ErrorBackoff time.Duration
}

// SQSConsumer long-polls an SQS queue. A message is deleted once the
// handler succeeds or fails permanently; on a transient failure it is
// left in place and SQS redelivers it after the visibility timeout.
type SQSConsumer struct {
	client  SQSAPI
	handler ImportHandler
	cfg     SQSConsumerConfig
	metrics *metrics.Metrics
	logger  *zap.Logger

	// ctx stops polling; handleCtx is only cancelled when Shutdown gives up.
	ctx          context.Context
	cancel       context.CancelFunc
	handleCtx    context.Context
	handleCancel context.CancelFunc
	wg           sync.WaitGroup
}

var _ Consumer = (*SQSConsumer)(nil)

// NewSQSConsumer creates a consumer; call Start to begin polling.
func NewSQSConsumer(
	parent context.Context,
	client SQSAPI,
	handler ImportHandler,
	cfg SQSConsumerConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *SQSConsumer {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}

	ctx, cancel := context.WithCancel(parent)
	handleCtx, handleCancel := context.WithCancel(context.WithoutCancel(parent))

	return &SQSConsumer{
		client:       client,
		handler:      handler,
		cfg:          cfg,
		metrics:      m,
		logger:       logger.Named("sqs-consumer"),
		ctx:          ctx,
		cancel:       cancel,
		handleCtx:    handleCtx,
		handleCancel: handleCancel,
	}
}

// Start launches one poll loop per worker.
func (c *SQSConsumer) Start() {
	c.logger.Info("Starting SQS consumer",
		zap.String("queue_url", c.cfg.QueueURL),
		zap.Int("workers", c.cfg.Workers))

	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.pollLoop()
		}()
	}
}

func (c *SQSConsumer) pollLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		out, err := c.client.ReceiveMessage(c.ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.cfg.QueueURL),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     c.cfg.WaitTimeSeconds,
			VisibilityTimeout:   c.cfg.VisibilityTimeout,
		})
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Warn("Failed to receive import jobs", zap.Error(err))
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(c.cfg.ErrorBackoff):
			}
			continue
		}

		for _, msg := range out.Messages {
			c.handleMessage(msg)
		}
	}
}

func (c *SQSConsumer) handleMessage(msg types.Message) {
	if msg.Body == nil {
		c.metrics.RecordJob(driverSQS, metrics.JobPoison)
		c.deleteMessage(msg)
		return
	}

	job, err := decodeMessage(*msg.Body)
	if err != nil {
		c.logger.Error("Dropping undecodable import job",
			zap.String("message_id", aws.ToString(msg.MessageId)),
			zap.Error(err))
		c.metrics.RecordJob(driverSQS, metrics.JobPoison)
		c.deleteMessage(msg)
		return
	}

	err = c.handler.Import(c.handleCtx, job.UploadID)
	switch {
	case err == nil:
		c.metrics.RecordJob(driverSQS, metrics.JobAcked)
	case IsPermanent(err):
		c.logger.Error("Import job failed permanently",
			zap.String("upload_id", job.UploadID.String()),
			zap.Error(err))
		c.metrics.RecordJob(driverSQS, metrics.JobDropped)
	default:
		c.logger.Warn("Import job failed, leaving for redelivery",
			zap.String("upload_id", job.UploadID.String()),
			zap.Error(err))
		c.metrics.RecordJob(driverSQS, metrics.JobRetry)
		return
	}

	c.deleteMessage(msg)
}

func (c *SQSConsumer) deleteMessage(msg types.Message) {
	_, err := c.client.DeleteMessage(c.handleCtx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.cfg.QueueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("Failed to delete import job message",
			zap.String("message_id", aws.ToString(msg.MessageId)),
			zap.Error(err))
	}
}

// Shutdown stops polling and waits for in-flight imports. If ctx ends
// first the in-flight imports are cancelled and ctx.Err() is returned.
func (c *SQSConsumer) Shutdown(ctx context.Context) error {
	c.cancel()
	return waitGroupOrCancel(ctx, &c.wg, c.handleCancel)
}

// waitGroupOrCancel waits for wg; if ctx ends first it calls cancel,
// waits for wg anyway and returns ctx.Err().
func waitGroupOrCancel(ctx context.Context, wg *sync.WaitGroup, cancel context.CancelFunc) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancel()
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}
