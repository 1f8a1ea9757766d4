package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/evalkit-dev/evalkit-engine/pkg/database"
	"github.com/evalkit-dev/evalkit-engine/pkg/jobs"
	"github.com/evalkit-dev/evalkit-engine/pkg/metrics"
	"github.com/evalkit-dev/evalkit-engine/pkg/models"
	"github.com/evalkit-dev/evalkit-engine/pkg/repositories"
)

// Messages recorded by the sweeper.
const (
	msgScheduleAbandoned = "import could not be scheduled"
	msgImportTimedOut    = "import timed out"
)

// Sweep actions reported to metrics.
const (
	sweepRequeued  = "requeued"
	sweepAbandoned = "abandoned"
	sweepTimedOut  = "timed_out"
)

const sweepBatchSize = 500

// SweepResult counts what one sweep did.
type SweepResult struct {
	Requeued  int `json:"requeued"`
	Abandoned int `json:"abandoned"`
	TimedOut  int `json:"timed_out"`
}

// UploadSweeper reconciles uploads whose import job was lost: stale PENDING
// uploads are enqueued again until they run out of attempts, and uploads
// stuck in PROCESSING are failed.
type UploadSweeper interface {
	Sweep(ctx context.Context) (SweepResult, error)
	// Run sweeps every interval until ctx ends.
	Run(ctx context.Context, interval time.Duration)
}

// UploadSweeperConfig holds the sweeper thresholds.
type UploadSweeperConfig struct {
	StuckPendingAfter    time.Duration
	StuckProcessingAfter time.Duration
	MaxEnqueueAttempts   int
}

type uploadSweeper struct {
	uploadRepo repositories.FileUploadRepository
	dispatcher jobs.Dispatcher
	scopes     database.ScopeProvider
	cfg        UploadSweeperConfig
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewUploadSweeper creates a new sweeper with dependencies.
func NewUploadSweeper(
	uploadRepo repositories.FileUploadRepository,
	dispatcher jobs.Dispatcher,
	scopes database.ScopeProvider,
	cfg UploadSweeperConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) UploadSweeper {
	return &uploadSweeper{
		uploadRepo: uploadRepo,
		dispatcher: dispatcher,
		scopes:     scopes,
		cfg:        cfg,
		metrics:    m,
		logger:     logger.Named("sweeper"),
		now:        time.Now,
	}
}

var _ UploadSweeper = (*uploadSweeper)(nil)

func (s *uploadSweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	ctx, cleanup, err := s.scopes.WithScope(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to acquire database scope: %w", err)
	}
	defer cleanup()

	now := s.now()

	pending, err := s.uploadRepo.ListStale(ctx, models.UploadStatusPending, now.Add(-s.cfg.StuckPendingAfter), sweepBatchSize)
	if err != nil {
		return result, fmt.Errorf("failed to list stale pending uploads: %w", err)
	}
	for _, upload := range pending {
		if err := s.requeue(ctx, upload, &result); err != nil {
			s.logger.Error("Failed to reconcile pending upload",
				zap.String("upload_id", upload.ID.String()),
				zap.Error(err))
		}
	}

	processing, err := s.uploadRepo.ListStale(ctx, models.UploadStatusProcessing, now.Add(-s.cfg.StuckProcessingAfter), sweepBatchSize)
	if err != nil {
		return result, fmt.Errorf("failed to list stale processing uploads: %w", err)
	}
	for _, upload := range processing {
		msg := msgImportTimedOut
		ok, err := s.uploadRepo.Transition(ctx, upload.ID, models.UploadStatusProcessing, models.UploadStatusError, &msg)
		if err != nil {
			s.logger.Error("Failed to time out processing upload",
				zap.String("upload_id", upload.ID.String()),
				zap.Error(err))
			continue
		}
		if ok {
			result.TimedOut++
		}
	}

	s.metrics.RecordSweep(sweepRequeued, result.Requeued)
	s.metrics.RecordSweep(sweepAbandoned, result.Abandoned)
	s.metrics.RecordSweep(sweepTimedOut, result.TimedOut)

	if result != (SweepResult{}) {
		s.logger.Info("Sweep finished",
			zap.Int("requeued", result.Requeued),
			zap.Int("abandoned", result.Abandoned),
			zap.Int("timed_out", result.TimedOut))
	}
	return result, nil
}

func (s *uploadSweeper) requeue(ctx context.Context, upload *models.FileUpload, result *SweepResult) error {
	attempts, err := s.uploadRepo.IncrementEnqueueAttempts(ctx, upload.ID)
	if err != nil {
		return err
	}

	if attempts > s.cfg.MaxEnqueueAttempts {
		msg := msgScheduleAbandoned
		ok, err := s.uploadRepo.Transition(ctx, upload.ID, models.UploadStatusPending, models.UploadStatusError, &msg)
		if err != nil {
			return err
		}
		if ok {
			result.Abandoned++
		}
		return nil
	}

	if err := s.dispatcher.EnqueueImport(ctx, upload.ID); err != nil {
		return err
	}
	result.Requeued++
	return nil
}

func (s *uploadSweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Upload sweeper started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Upload sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("Sweep failed", zap.Error(err))
			}
		}
	}
}
