package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evalkit-dev/evalkit-engine/pkg/apperrors"
	"github.com/evalkit-dev/evalkit-engine/pkg/jobs"
	"github.com/evalkit-dev/evalkit-engine/pkg/metrics"
	"github.com/evalkit-dev/evalkit-engine/pkg/models"
	"github.com/evalkit-dev/evalkit-engine/pkg/repositories"
	"github.com/evalkit-dev/evalkit-engine/pkg/retry"
	"github.com/evalkit-dev/evalkit-engine/pkg/storage"
)

// Messages recorded on uploads that never reached the importer.
const (
	msgScheduleFailed = "failed to schedule import"
	msgNoUploadIDs    = "No file upload ids provided"
)

// RegisterUploadRequest describes a blob the client has uploaded.
type RegisterUploadRequest struct {
	DatasetID uuid.UUID
	BlobName  string
	FileName  string
	FileSize  int64
}

// UploadService is the upload registry: it issues upload URLs, records
// uploaded files and schedules their import.
type UploadService interface {
	GetUploadURL(ctx context.Context, projectID uuid.UUID) (*models.UploadURL, error)
	// RegisterUpload records a PENDING upload and enqueues its import. If the
	// import cannot be scheduled the upload is marked ERROR and an error returned.
	RegisterUpload(ctx context.Context, req RegisterUploadRequest) (*models.FileUpload, error)
	ListUploads(ctx context.Context, datasetID uuid.UUID) ([]*models.FileUpload, error)
	// GetUpload returns an upload whether or not it is hidden.
	GetUpload(ctx context.Context, id uuid.UUID) (*models.FileUpload, error)
	// HideUploads soft-deletes uploads. The caller needs modify access to
	// every project the ids belong to.
	HideUploads(ctx context.Context, ids []uuid.UUID) error
}

// UploadServiceConfig bounds registration.
type UploadServiceConfig struct {
	MaxFileBytes int64
	EnqueueRetry *retry.Config
}

type uploadService struct {
	uploadRepo repositories.FileUploadRepository
	access     AccessControl
	urls       storage.UploadURLIssuer
	dispatcher jobs.Dispatcher
	cfg        UploadServiceConfig
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewUploadService creates a new upload service with dependencies.
func NewUploadService(
	uploadRepo repositories.FileUploadRepository,
	access AccessControl,
	urls storage.UploadURLIssuer,
	dispatcher jobs.Dispatcher,
	cfg UploadServiceConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) UploadService {
	return &uploadService{
		uploadRepo: uploadRepo,
		access:     access,
		urls:       urls,
		dispatcher: dispatcher,
		cfg:        cfg,
		metrics:    m,
		logger:     logger.Named("uploads"),
	}
}

var _ UploadService = (*uploadService)(nil)

func (s *uploadService) GetUploadURL(ctx context.Context, projectID uuid.UUID) (*models.UploadURL, error) {
	if err := s.access.RequireProjectRole(ctx, projectID, models.AccessModify); err != nil {
		return nil, err
	}

	url, err := s.urls.IssueUploadURL(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue upload url: %w", err)
	}
	return url, nil
}

func (s *uploadService) RegisterUpload(ctx context.Context, req RegisterUploadRequest) (*models.FileUpload, error) {
	projectID, err := s.access.ResolveDataset(ctx, req.DatasetID)
	if err != nil {
		return nil, err
	}
	if err := s.access.RequireProjectRole(ctx, projectID, models.AccessModify); err != nil {
		return nil, err
	}
	if err := s.validateRegistration(req, projectID); err != nil {
		return nil, err
	}

	upload := &models.FileUpload{
		DatasetID: req.DatasetID,
		BlobName:  strings.TrimSpace(req.BlobName),
		FileName:  strings.TrimSpace(req.FileName),
		FileSize:  req.FileSize,
	}
	if err := s.uploadRepo.Create(ctx, upload); err != nil {
		return nil, err
	}
	s.metrics.RecordUploadRegistered()

	err = retry.Do(ctx, s.cfg.EnqueueRetry, func() error {
		return s.dispatcher.EnqueueImport(ctx, upload.ID)
	})
	if err != nil {
		s.logger.Error("Failed to enqueue import, marking upload as failed",
			zap.String("upload_id", upload.ID.String()),
			zap.Error(err))
		s.compensate(ctx, upload)
		return nil, fmt.Errorf("failed to enqueue import for upload %s: %w", upload.ID, err)
	}

	s.logger.Info("Upload registered",
		zap.String("upload_id", upload.ID.String()),
		zap.String("dataset_id", req.DatasetID.String()),
		zap.Int64("file_size", req.FileSize))
	return upload, nil
}

// compensate moves an upload whose import could not be scheduled to ERROR.
// If that also fails the row stays PENDING for the sweeper.
func (s *uploadService) compensate(ctx context.Context, upload *models.FileUpload) {
	msg := msgScheduleFailed
	ok, err := s.uploadRepo.Transition(context.WithoutCancel(ctx), upload.ID,
		models.UploadStatusPending, models.UploadStatusError, &msg)
	if err != nil {
		s.logger.Error("Failed to mark unscheduled upload as failed",
			zap.String("upload_id", upload.ID.String()),
			zap.Error(err))
		return
	}
	if ok {
		upload.Status = models.UploadStatusError
		upload.ErrorMessage = &msg
	}
}

func (s *uploadService) validateRegistration(req RegisterUploadRequest, projectID uuid.UUID) error {
	blobName := strings.TrimSpace(req.BlobName)
	if blobName == "" {
		return apperrors.NewValidationError("blob_name", "is required")
	}
	if !storage.BlobAllowedForProject(blobName, projectID) {
		return apperrors.NewValidationError("blob_name", "does not belong to this project")
	}
	if strings.TrimSpace(req.FileName) == "" {
		return apperrors.NewValidationError("file_name", "is required")
	}
	if req.FileSize <= 0 {
		return apperrors.NewValidationError("file_size", "must be positive")
	}
	if s.cfg.MaxFileBytes > 0 && req.FileSize > s.cfg.MaxFileBytes {
		return apperrors.NewValidationError("file_size", fmt.Sprintf("must be at most %d bytes", s.cfg.MaxFileBytes))
	}
	return nil
}

func (s *uploadService) ListUploads(ctx context.Context, datasetID uuid.UUID) ([]*models.FileUpload, error) {
	projectID, err := s.access.ResolveDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if err := s.access.RequireProjectRole(ctx, projectID, models.AccessView); err != nil {
		return nil, err
	}
	return s.uploadRepo.ListVisible(ctx, datasetID)
}

func (s *uploadService) GetUpload(ctx context.Context, id uuid.UUID) (*models.FileUpload, error) {
	projects, err := s.access.ResolveUploads(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	if err := s.access.RequireProjectRole(ctx, projects[id], models.AccessView); err != nil {
		return nil, err
	}
	return s.uploadRepo.Get(ctx, id)
}

func (s *uploadService) HideUploads(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return apperrors.NewOperationError(msgNoUploadIDs)
	}
	ids = dedupeIDs(ids)

	projects, err := s.access.ResolveUploads(ctx, ids)
	if err != nil {
		return err
	}
	for _, projectID := range distinctProjects(ids, projects) {
		if err := s.access.RequireProjectRole(ctx, projectID, models.AccessModify); err != nil {
			return err
		}
	}

	hidden, err := s.uploadRepo.Hide(ctx, ids)
	if err != nil {
		return err
	}

	s.logger.Info("Uploads hidden", zap.Int("requested", len(ids)), zap.Int64("hidden", hidden))
	return nil
}

func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
