package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evalkit-dev/evalkit-engine/pkg/metrics"
	"github.com/evalkit-dev/evalkit-engine/pkg/workqueue"
)

const driverLocal = "local"

// LocalQueue runs import jobs in-process on a workqueue.Queue. Jobs are
// lost on restart; the sweeper re-enqueues anything left PENDING.
// It acts as both Dispatcher and Consumer.
type LocalQueue struct {
	queue   *workqueue.Queue
	handler ImportHandler
	metrics *metrics.Metrics
	logger  *zap.Logger
}

var (
	_ Dispatcher = (*LocalQueue)(nil)
	_ Consumer   = (*LocalQueue)(nil)
)

// NewLocalQueue creates an in-process queue running up to workers imports at once.
func NewLocalQueue(handler ImportHandler, workers int, retryConfig workqueue.RetryConfig, m *metrics.Metrics, logger *zap.Logger) *LocalQueue {
	l := &LocalQueue{
		handler: handler,
		metrics: m,
		logger:  logger.Named("local-queue"),
	}
	l.queue = workqueue.New(logger,
		workqueue.WithStrategy(workqueue.NewBoundedStrategy(workers)),
		workqueue.WithRetryConfig(retryConfig),
		workqueue.WithRetryClassifier(func(err error) bool { return !IsPermanent(err) }),
		workqueue.WithOnFinish(l.onFinish),
	)
	return l
}

// EnqueueImport schedules an import on the in-process queue.
func (l *LocalQueue) EnqueueImport(ctx context.Context, uploadID uuid.UUID) error {
	task := workqueue.NewFuncTask(uploadID.String(), "import", func(ctx context.Context) error {
		return l.handler.Import(ctx, uploadID)
	})
	if err := l.queue.Enqueue(task); err != nil {
		return fmt.Errorf("failed to enqueue import job for upload %s: %w", uploadID, err)
	}
	l.metrics.RecordJob(driverLocal, metrics.JobEnqueued)
	return nil
}

func (l *LocalQueue) onFinish(s workqueue.TaskSnapshot) {
	switch s.Status {
	case workqueue.TaskStatusCompleted:
		l.metrics.RecordJob(driverLocal, metrics.JobAcked)
	case workqueue.TaskStatusFailed, workqueue.TaskStatusCancelled:
		l.metrics.RecordJob(driverLocal, metrics.JobDropped)
	}
}

// Start is a no-op; jobs start as soon as they are enqueued.
func (l *LocalQueue) Start() {}

// Shutdown stops accepting jobs and drains the queue.
func (l *LocalQueue) Shutdown(ctx context.Context) error {
	l.logger.Info("Draining local import queue", zap.Any("progress", l.queue.Progress()))
	return l.queue.Close(ctx)
}

// Progress reports the in-process queue's counters.
func (l *LocalQueue) Progress() workqueue.Progress {
	return l.queue.Progress()
}
