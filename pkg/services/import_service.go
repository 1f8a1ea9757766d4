package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evalkit-dev/evalkit-engine/pkg/apperrors"
	"github.com/evalkit-dev/evalkit-engine/pkg/database"
	"github.com/evalkit-dev/evalkit-engine/pkg/importfile"
	"github.com/evalkit-dev/evalkit-engine/pkg/jobs"
	"github.com/evalkit-dev/evalkit-engine/pkg/metrics"
	"github.com/evalkit-dev/evalkit-engine/pkg/models"
	"github.com/evalkit-dev/evalkit-engine/pkg/repositories"
	"github.com/evalkit-dev/evalkit-engine/pkg/storage"
)

// ImportService turns an uploaded file into dataset entries. It is safe to
// run more than once per upload: only the call that moves the upload from
// PENDING to PROCESSING does any work.
type ImportService interface {
	jobs.ImportHandler
}

// ImportServiceConfig bounds a single import.
type ImportServiceConfig struct {
	MaxFileBytes int64
	Limits       importfile.Limits
}

var (
	errFileTooLarge = errors.New("file is larger than the allowed maximum")
	errClaimLost    = errors.New("upload is no longer processing")
)

const msgInternalImportError = "import failed due to an internal error"

type importService struct {
	uploadRepo repositories.FileUploadRepository
	entryRepo  repositories.DatasetEntryRepository
	blobs      storage.BlobReader
	scopes     database.ScopeProvider
	tx         database.TxManager
	cfg        ImportServiceConfig
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewImportService creates a new import service with dependencies.
func NewImportService(
	uploadRepo repositories.FileUploadRepository,
	entryRepo repositories.DatasetEntryRepository,
	blobs storage.BlobReader,
	scopes database.ScopeProvider,
	tx database.TxManager,
	cfg ImportServiceConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) ImportService {
	return &importService{
		uploadRepo: uploadRepo,
		entryRepo:  entryRepo,
		blobs:      blobs,
		scopes:     scopes,
		tx:         tx,
		cfg:        cfg,
		metrics:    m,
		logger:     logger.Named("importer"),
	}
}

var _ ImportService = (*importService)(nil)

// Import runs the import for one upload. Returned errors are transient and
// ask the queue to redeliver; failures of the file itself are recorded on
// the upload as ERROR and reported as success to the queue.
func (s *importService) Import(ctx context.Context, uploadID uuid.UUID) error {
	start := time.Now()

	ctx, cleanup, err := s.scopes.WithScope(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire database scope: %w", err)
	}
	defer cleanup()

	upload, err := s.uploadRepo.Get(ctx, uploadID)
	if errors.Is(err, apperrors.ErrNotFound) {
		s.logger.Warn("Dropping import job for unknown upload", zap.String("upload_id", uploadID.String()))
		s.metrics.RecordImport(metrics.OutcomeSkipped, 0, 0)
		return jobs.Permanent(err)
	}
	if err != nil {
		return fmt.Errorf("failed to load upload %s: %w", uploadID, err)
	}

	if upload.Status != models.UploadStatusPending {
		s.logger.Debug("Upload already claimed, skipping",
			zap.String("upload_id", uploadID.String()),
			zap.String("status", string(upload.Status)))
		s.metrics.RecordImport(metrics.OutcomeSkipped, 0, 0)
		return nil
	}

	// The blob is fetched before the claim so a store outage leaves the
	// upload PENDING for redelivery. Only a missing blob is final.
	rc, openErr := s.blobs.Open(ctx, upload.BlobName)
	if openErr != nil && !errors.Is(openErr, storage.ErrBlobNotFound) {
		return fmt.Errorf("failed to open blob for upload %s: %w", uploadID, openErr)
	}
	if rc != nil {
		defer rc.Close()
	}

	claimed, err := s.uploadRepo.Transition(ctx, uploadID, models.UploadStatusPending, models.UploadStatusProcessing, nil)
	if err != nil {
		return fmt.Errorf("failed to claim upload %s: %w", uploadID, err)
	}
	if !claimed {
		s.logger.Debug("Lost race to claim upload", zap.String("upload_id", uploadID.String()))
		s.metrics.RecordImport(metrics.OutcomeSkipped, 0, 0)
		return nil
	}
	if openErr != nil {
		return s.fail(ctx, upload, openErr, time.Since(start))
	}

	inserted, err := s.importEntries(ctx, upload, rc)
	if err != nil {
		return s.fail(ctx, upload, err, time.Since(start))
	}

	s.metrics.RecordImport(metrics.OutcomeComplete, inserted, time.Since(start))
	s.logger.Info("Import complete",
		zap.String("upload_id", uploadID.String()),
		zap.String("dataset_id", upload.DatasetID.String()),
		zap.Int("entries", inserted),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// importEntries parses the blob and writes its entries in one transaction
// that also supersedes older entries and completes the upload. Imports into
// the same dataset are serialized by a dataset lock so concurrent uploads
// sharing a persistent_id cannot both stay current.
func (s *importService) importEntries(ctx context.Context, upload *models.FileUpload, blob io.Reader) (int, error) {
	records, err := s.readRecords(blob)
	if err != nil {
		return 0, err
	}

	uploadID := upload.ID
	entries := make([]*models.DatasetEntry, len(records))
	persistentIDs := make([]string, 0, len(records))
	for i, rec := range records {
		entries[i] = &models.DatasetEntry{
			DatasetID:    upload.DatasetID,
			FileUploadID: &uploadID,
			SourceLine:   rec.Line,
			PersistentID: rec.PersistentID,
			Input:        rec.Input,
			Output:       rec.Output,
			Split:        rec.Split,
		}
		persistentIDs = append(persistentIDs, rec.PersistentID)
	}

	var inserted int
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.entryRepo.LockDataset(ctx, upload.DatasetID); err != nil {
			return err
		}

		n, err := s.entryRepo.InsertBatch(ctx, entries)
		if err != nil {
			return err
		}
		inserted = n

		superseded, err := s.entryRepo.MarkSuperseded(ctx, upload.DatasetID, uploadID, persistentIDs)
		if err != nil {
			return err
		}
		if superseded > 0 {
			s.logger.Debug("Superseded previous entries",
				zap.String("upload_id", uploadID.String()),
				zap.Int64("count", superseded))
		}

		ok, err := s.uploadRepo.MarkComplete(ctx, uploadID, len(records))
		if err != nil {
			return err
		}
		if !ok {
			return errClaimLost
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (s *importService) readRecords(rc io.Reader) ([]importfile.Record, error) {
	if s.cfg.MaxFileBytes <= 0 {
		return importfile.Parse(rc, s.cfg.Limits)
	}

	limited := &maxBytesReader{r: rc, remaining: s.cfg.MaxFileBytes}
	records, err := importfile.Parse(limited, s.cfg.Limits)
	// The scanner may report the truncated tail as a bad line first.
	if limited.exceeded() {
		return nil, errFileTooLarge
	}
	return records, err
}

// fail records an import failure on the upload. It only returns an error if
// the failure itself could not be recorded.
func (s *importService) fail(ctx context.Context, upload *models.FileUpload, cause error, elapsed time.Duration) error {
	msg := importErrorMessage(cause)
	s.logger.Warn("Import failed",
		zap.String("upload_id", upload.ID.String()),
		zap.String("message", msg),
		zap.Error(cause))

	ok, err := s.uploadRepo.Transition(context.WithoutCancel(ctx), upload.ID,
		models.UploadStatusProcessing, models.UploadStatusError, &msg)
	if err != nil {
		return fmt.Errorf("failed to record import failure for upload %s: %w", upload.ID, err)
	}
	if !ok {
		s.logger.Warn("Upload left PROCESSING before failure was recorded",
			zap.String("upload_id", upload.ID.String()))
	}
	s.metrics.RecordImport(metrics.OutcomeError, 0, elapsed)
	return nil
}

// importErrorMessage returns the text stored on the upload. Problems with
// the file are shown verbatim; anything else stays in the logs.
func importErrorMessage(err error) string {
	var lineErr *importfile.LineError
	switch {
	case errors.As(err, &lineErr):
		return lineErr.Error()
	case errors.Is(err, importfile.ErrNoEntries),
		errors.Is(err, errFileTooLarge):
		return err.Error()
	case errors.Is(err, storage.ErrBlobNotFound):
		return "uploaded file not found"
	default:
		return msgInternalImportError
	}
}

// maxBytesReader fails with errFileTooLarge once more than remaining bytes are read.
type maxBytesReader struct {
	r         io.Reader
	remaining int64
}

func (m *maxBytesReader) Read(p []byte) (int, error) {
	if m.remaining < 0 {
		return 0, errFileTooLarge
	}
	if int64(len(p)) > m.remaining+1 {
		p = p[:m.remaining+1]
	}
	n, err := m.r.Read(p)
	m.remaining -= int64(n)
	if m.remaining < 0 {
		return n, errFileTooLarge
	}
	return n, err
}

func (m *maxBytesReader) exceeded() bool {
	return m.remaining < 0
}
