package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/evalkit-dev/evalkit-engine/pkg/metrics"
)

const driverRedis = "redis"

// RedisAPI is the subset of *redis.Client used by the redis driver.
type RedisAPI interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
}

var _ RedisAPI = (*redis.Client)(nil)

// RedisDispatcher pushes import jobs onto a Redis list.
type RedisDispatcher struct {
	client  RedisAPI
	key     string
	metrics *metrics.Metrics
}

var _ Dispatcher = (*RedisDispatcher)(nil)

// NewRedisDispatcher creates a dispatcher that LPUSHes onto key.
func NewRedisDispatcher(client RedisAPI, key string, m *metrics.Metrics) *RedisDispatcher {
	return &RedisDispatcher{client: client, key: key, metrics: m}
}

// EnqueueImport pushes one job.
func (d *RedisDispatcher) EnqueueImport(ctx context.Context, uploadID uuid.UUID) error {
	if err := pushMessage(ctx, d.client, d.key, ImportMessage{UploadID: uploadID}); err != nil {
		return fmt.Errorf("failed to push import job for upload %s: %w", uploadID, err)
	}
	d.metrics.RecordJob(driverRedis, metrics.JobEnqueued)
	return nil
}

func pushMessage(ctx context.Context, client RedisAPI, key string, msg ImportMessage) error {
	body, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	return client.LPush(ctx, key, body).Err()
}

// RedisConsumerConfig tunes the BRPOP loop.
type RedisConsumerConfig struct {
	Key     string
	Workers int
	// PopTimeout bounds each BRPOP so shutdown is noticed promptly.
	PopTimeout time.Duration
	// MaxAttempts drops a job after this many deliveries. Dropped uploads
	// stay PENDING or PROCESSING and are handled by the sweeper.
	MaxAttempts int
	// RetryDelay is waited before a failed job is pushed back.
	RetryDelay time.Duration
}

// RedisConsumer pops jobs with BRPOP. Redis lists have no visibility
// timeout, so a transiently failed job is pushed back with its attempt
// counter incremented.
type RedisConsumer struct {
	client  RedisAPI
	handler ImportHandler
	cfg     RedisConsumerConfig
	metrics *metrics.Metrics
	logger  *zap.Logger

	ctx          context.Context
	cancel       context.CancelFunc
	handleCtx    context.Context
	handleCancel context.CancelFunc
	wg           sync.WaitGroup
}

var _ Consumer = (*RedisConsumer)(nil)

// NewRedisConsumer creates a consumer; call Start to begin popping.
func NewRedisConsumer(
	parent context.Context,
	client RedisAPI,
	handler ImportHandler,
	cfg RedisConsumerConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *RedisConsumer {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 5 * time.Second
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	ctx, cancel := context.WithCancel(parent)
	handleCtx, handleCancel := context.WithCancel(context.WithoutCancel(parent))

	return &RedisConsumer{
		client:       client,
		handler:      handler,
		cfg:          cfg,
		metrics:      m,
		logger:       logger.Named("redis-consumer"),
		ctx:          ctx,
		cancel:       cancel,
		handleCtx:    handleCtx,
		handleCancel: handleCancel,
	}
}

// Start launches one pop loop per worker.
func (c *RedisConsumer) Start() {
	c.logger.Info("Starting Redis consumer",
		zap.String("key", c.cfg.Key),
		zap.Int("workers", c.cfg.Workers))

	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.popLoop()
		}()
	}
}

func (c *RedisConsumer) popLoop() {
	for {
		if c.ctx.Err() != nil {
			return
		}

		// BRPOP replies with [key, value].
		res, err := c.client.BRPop(c.ctx, c.cfg.PopTimeout, c.cfg.Key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Warn("Failed to pop import job", zap.Error(err))
			if !c.sleep(c.ctx, c.cfg.RetryDelay) {
				return
			}
			continue
		}
		if len(res) != 2 {
			continue
		}

		c.handleMessage(res[1])
	}
}

func (c *RedisConsumer) handleMessage(body string) {
	job, err := decodeMessage(body)
	if err != nil {
		c.logger.Error("Dropping undecodable import job", zap.Error(err))
		c.metrics.RecordJob(driverRedis, metrics.JobPoison)
		return
	}

	err = c.handler.Import(c.handleCtx, job.UploadID)
	switch {
	case err == nil:
		c.metrics.RecordJob(driverRedis, metrics.JobAcked)
		return
	case IsPermanent(err):
		c.logger.Error("Import job failed permanently",
			zap.String("upload_id", job.UploadID.String()),
			zap.Error(err))
		c.metrics.RecordJob(driverRedis, metrics.JobDropped)
		return
	}

	job.Attempt++
	if job.Attempt >= c.cfg.MaxAttempts {
		c.logger.Error("Import job exhausted delivery attempts",
			zap.String("upload_id", job.UploadID.String()),
			zap.Int("attempts", job.Attempt),
			zap.Error(err))
		c.metrics.RecordJob(driverRedis, metrics.JobDropped)
		return
	}

	c.logger.Warn("Import job failed, pushing back for retry",
		zap.String("upload_id", job.UploadID.String()),
		zap.Int("attempt", job.Attempt),
		zap.Error(err))
	c.metrics.RecordJob(driverRedis, metrics.JobRetry)

	c.sleep(c.handleCtx, c.cfg.RetryDelay)
	if err := pushMessage(c.handleCtx, c.client, c.cfg.Key, job); err != nil {
		c.logger.Error("Failed to push back import job",
			zap.String("upload_id", job.UploadID.String()),
			zap.Error(err))
	}
}

// sleep waits for d and reports false if ctx ended first.
func (c *RedisConsumer) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Shutdown stops popping and waits for in-flight imports. If ctx ends
// first the in-flight imports are cancelled and ctx.Err() is returned.
func (c *RedisConsumer) Shutdown(ctx context.Context) error {
	c.cancel()
	return waitGroupOrCancel(ctx, &c.wg, c.handleCancel)
}
