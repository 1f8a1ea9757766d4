package workqueue

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/evalkit-dev/evalkit-engine/pkg/retry"
)

// ErrQueueClosed is returned by Enqueue after Cancel or Close.
var ErrQueueClosed = errors.New("work queue is closed")

// RetryConfig configures retry behavior for failed tasks.
type RetryConfig struct {
	MaxRetries     int           // Maximum number of retry attempts (0 = no retries)
	InitialBackoff time.Duration // Initial backoff duration
	MaxBackoff     time.Duration // Maximum backoff duration (cap)
	BackoffFactor  float64       // Multiplier for exponential backoff
}

// DefaultRetryConfig returns defaults suited to import jobs.
// Backoff schedule: 1s, 2s, 4s, 8s, then 15s (capped).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     5,
		InitialBackoff: time.Second,
		MaxBackoff:     15 * time.Second,
		BackoffFactor:  2.0,
	}
}

// Queue runs tasks in background goroutines under a concurrency strategy.
// Finished tasks are dropped from the queue and only counted, so a
// long-lived queue does not grow without bound.
type Queue struct {
	mu     sync.Mutex
	tasks  []*TaskState
	closed bool

	completed int
	failed    int
	cancelled int
	firstErr  error

	strategy    ConcurrencyStrategy
	retryConfig RetryConfig
	isRetryable func(error) bool

	// idle is closed whenever no task is pending or running
	idle chan struct{}
	wg   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	onFinish func(TaskSnapshot)

	logger *zap.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithStrategy sets the concurrency strategy.
func WithStrategy(strategy ConcurrencyStrategy) QueueOption {
	return func(q *Queue) {
		if strategy != nil {
			q.strategy = strategy
		}
	}
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(config RetryConfig) QueueOption {
	return func(q *Queue) {
		q.retryConfig = config
	}
}

// WithRetryClassifier replaces retry.IsRetryable as the test for transient errors.
func WithRetryClassifier(fn func(error) bool) QueueOption {
	return func(q *Queue) {
		if fn != nil {
			q.isRetryable = fn
		}
	}
}

// WithOnFinish registers a callback invoked once per task when it reaches
// a terminal state. The callback runs while the queue lock is held and
// must not call back into the Queue.
func WithOnFinish(fn func(TaskSnapshot)) QueueOption {
	return func(q *Queue) {
		q.onFinish = fn
	}
}

// New creates a new work queue with the given options.
// Without options tasks run one at a time.
func New(logger *zap.Logger, opts ...QueueOption) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	q := &Queue{
		tasks:       make([]*TaskState, 0),
		strategy:    NewSerializedStrategy(),
		retryConfig: DefaultRetryConfig(),
		isRetryable: retry.IsRetryable,
		idle:        idle,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger.Named("workqueue"),
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Enqueue adds a task to the queue and attempts to start eligible tasks.
func (q *Queue) Enqueue(task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.logger.Warn("queue closed, rejecting task",
			zap.String("task_id", task.ID()),
			zap.String("task_name", task.Name()))
		return ErrQueueClosed
	}

	q.markBusyLocked()

	q.tasks = append(q.tasks, NewTaskState(task))

	q.logger.Debug("task enqueued",
		zap.String("task_id", task.ID()),
		zap.String("task_name", task.Name()))

	q.tryStartTasksLocked()
	return nil
}

// tryStartTasksLocked starts pending tasks while the strategy allows it.
// Must be called with lock held.
func (q *Queue) tryStartTasksLocked() {
	if q.closed && q.ctx.Err() != nil {
		return
	}

	for _, ts := range q.tasks {
		if ts.GetStatus() != TaskStatusPending {
			continue
		}
		if !q.strategy.CanStart() {
			return
		}

		q.strategy.OnStart()
		ts.SetStatus(TaskStatusRunning)

		q.logger.Debug("starting task",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()))

		q.wg.Add(1)
		go q.runTask(ts)
	}
}

// runTask executes a task with retry logic for transient errors.
func (q *Queue) runTask(ts *TaskState) {
	defer q.wg.Done()

	var lastErr error

	for attempt := 0; attempt <= q.retryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := q.calculateBackoff(attempt)
			q.logger.Info("retrying task after backoff",
				zap.String("task_id", ts.Task.ID()),
				zap.String("task_name", ts.Task.Name()),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff))

			timer := time.NewTimer(backoff)
			select {
			case <-q.ctx.Done():
				timer.Stop()
				q.finish(ts, q.ctx.Err())
				return
			case <-timer.C:
			}
		}

		ts.IncrementAttempts()
		err := ts.Task.Execute(q.ctx)
		if err == nil {
			q.finish(ts, nil)
			return
		}

		lastErr = err

		if errors.Is(err, context.Canceled) {
			break
		}

		if !q.isRetryable(err) {
			q.logger.Warn("non-retryable error, failing task",
				zap.String("task_id", ts.Task.ID()),
				zap.String("task_name", ts.Task.Name()),
				zap.Error(err))
			break
		}

		q.logger.Warn("retryable error encountered",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", q.retryConfig.MaxRetries),
			zap.Error(err))
	}

	q.finish(ts, lastErr)
}

// calculateBackoff computes the backoff duration for a retry attempt
// using exponential backoff with ±10% jitter.
func (q *Queue) calculateBackoff(attempt int) time.Duration {
	backoff := float64(q.retryConfig.InitialBackoff) *
		math.Pow(q.retryConfig.BackoffFactor, float64(attempt-1))

	if backoff > float64(q.retryConfig.MaxBackoff) {
		backoff = float64(q.retryConfig.MaxBackoff)
	}

	jitter := backoff * 0.1 * (rand.Float64()*2 - 1)
	return time.Duration(backoff + jitter)
}

// finish moves a task to its terminal state and removes it from the queue.
func (q *Queue) finish(ts *TaskState, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.strategy.OnComplete()

	switch {
	case err == nil:
		ts.SetStatus(TaskStatusCompleted)
		q.completed++
		q.logger.Debug("task completed",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()))
	case errors.Is(err, context.Canceled):
		ts.SetStatus(TaskStatusCancelled)
		q.cancelled++
		q.logger.Info("task cancelled",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()))
	default:
		ts.SetError(err)
		ts.SetStatus(TaskStatusFailed)
		q.failed++
		if q.firstErr == nil {
			q.firstErr = err
		}
		q.logger.Error("task failed",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()),
			zap.Int("attempts", ts.Snapshot().Attempts),
			zap.Error(err))
	}

	q.removeLocked(ts)
	if q.onFinish != nil {
		q.onFinish(ts.Snapshot())
	}

	if len(q.tasks) == 0 {
		q.markIdleLocked()
		return
	}

	q.tryStartTasksLocked()
}

// removeLocked drops a finished task. Must be called with lock held.
func (q *Queue) removeLocked(ts *TaskState) {
	for i, t := range q.tasks {
		if t == ts {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			return
		}
	}
}

// markIdleLocked closes the idle channel if it is open.
// Must be called with lock held.
func (q *Queue) markIdleLocked() {
	select {
	case <-q.idle:
	default:
		close(q.idle)
	}
}

// markBusyLocked recreates the idle channel if it was closed.
// Must be called with lock held.
func (q *Queue) markBusyLocked() {
	select {
	case <-q.idle:
		q.idle = make(chan struct{})
	default:
	}
}

// GetTasks returns a snapshot of the tasks that are pending or running.
func (q *Queue) GetTasks() []TaskSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snapshots := make([]TaskSnapshot, len(q.tasks))
	for i, ts := range q.tasks {
		snapshots[i] = ts.Snapshot()
	}
	return snapshots
}

// Wait blocks until no task is pending or running, or the context ends.
// Returns the first task failure seen by the queue, if any.
// If ctx ends first the queue is cancelled and ctx.Err() is returned.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.firstErr
	case <-ctx.Done():
		q.Cancel()
		return ctx.Err()
	}
}

// Close stops accepting new tasks and waits for queued work to drain.
// If ctx ends before the queue drains, running tasks are cancelled.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
	case <-ctx.Done():
		q.Cancel()
	}
	q.wg.Wait()
	q.cancel()
	return nil
}

// Cancel stops accepting tasks, signals running tasks to stop, and
// cancels pending tasks.
func (q *Queue) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed && q.ctx.Err() != nil {
		return
	}

	q.closed = true
	q.logger.Info("queue cancelled, signaling running tasks to stop")
	q.cancel()

	remaining := q.tasks[:0]
	for _, ts := range q.tasks {
		if ts.GetStatus() == TaskStatusPending {
			ts.SetStatus(TaskStatusCancelled)
			q.cancelled++
			if q.onFinish != nil {
				q.onFinish(ts.Snapshot())
			}
			continue
		}
		remaining = append(remaining, ts)
	}
	q.tasks = remaining

	if len(q.tasks) == 0 {
		q.markIdleLocked()
	}
}

// Progress returns a progress summary.
func (q *Queue) Progress() Progress {
	q.mu.Lock()
	defer q.mu.Unlock()

	p := Progress{
		Completed: q.completed,
		Failed:    q.failed,
		Cancelled: q.cancelled,
	}
	for _, ts := range q.tasks {
		switch ts.GetStatus() {
		case TaskStatusPending:
			p.Pending++
		case TaskStatusRunning:
			p.Running++
		}
	}
	p.Total = p.Pending + p.Running + p.Completed + p.Failed + p.Cancelled
	return p
}

// Progress holds queue progress statistics.
type Progress struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Percentage returns the completion percentage (0-100).
func (p Progress) Percentage() int {
	if p.Total == 0 {
		return 100
	}
	done := p.Completed + p.Failed + p.Cancelled
	return (done * 100) / p.Total
}
