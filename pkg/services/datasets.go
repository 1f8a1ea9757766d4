package services

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evalkit-dev/evalkit-engine/pkg/models"
	"github.com/evalkit-dev/evalkit-engine/pkg/repositories"
)

// Entry listing bounds.
const (
	DefaultEntryPageSize = 50
	MaxEntryPageSize     = 500
)

// EntryPage is one page of current dataset entries.
type EntryPage struct {
	Entries []*models.DatasetEntry `json:"entries"`
	Total   int64                  `json:"total"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

// DatasetService defines the interface for dataset operations.
// Entry counts are aggregated from non-outdated entries on every read.
type DatasetService interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Dataset, error)
	List(ctx context.Context, projectID uuid.UUID) ([]*models.Dataset, error)
	Create(ctx context.Context, projectID uuid.UUID, name string) (*models.Dataset, error)
	Update(ctx context.Context, id uuid.UUID, name string) (*models.Dataset, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListEntries(ctx context.Context, id uuid.UUID, limit, offset int) (*EntryPage, error)
}

type datasetService struct {
	datasetRepo repositories.DatasetRepository
	entryRepo   repositories.DatasetEntryRepository
	access      AccessControl
	logger      *zap.Logger
}

// NewDatasetService creates a new dataset service with dependencies.
func NewDatasetService(
	datasetRepo repositories.DatasetRepository,
	entryRepo repositories.DatasetEntryRepository,
	access AccessControl,
	logger *zap.Logger,
) DatasetService {
	return &datasetService{
		datasetRepo: datasetRepo,
		entryRepo:   entryRepo,
		access:      access,
		logger:      logger.Named("datasets"),
	}
}

var _ DatasetService = (*datasetService)(nil)

// authorizeDataset resolves a dataset to its project and checks level.
func (s *datasetService) authorizeDataset(ctx context.Context, id uuid.UUID, level models.AccessLevel) error {
	projectID, err := s.access.ResolveDataset(ctx, id)
	if err != nil {
		return err
	}
	return s.access.RequireProjectRole(ctx, projectID, level)
}

func (s *datasetService) Get(ctx context.Context, id uuid.UUID) (*models.Dataset, error) {
	if err := s.authorizeDataset(ctx, id, models.AccessView); err != nil {
		return nil, err
	}
	return s.datasetRepo.Get(ctx, id)
}

func (s *datasetService) List(ctx context.Context, projectID uuid.UUID) ([]*models.Dataset, error) {
	if err := s.access.RequireProjectRole(ctx, projectID, models.AccessView); err != nil {
		return nil, err
	}
	return s.datasetRepo.ListByProject(ctx, projectID)
}

func (s *datasetService) Create(ctx context.Context, projectID uuid.UUID, name string) (*models.Dataset, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}
	if err := s.access.RequireProjectRole(ctx, projectID, models.AccessModify); err != nil {
		return nil, err
	}

	dataset := &models.Dataset{ProjectID: projectID, Name: name}
	if err := s.datasetRepo.Create(ctx, dataset); err != nil {
		return nil, err
	}

	s.logger.Info("Dataset created",
		zap.String("project_id", projectID.String()),
		zap.String("dataset_id", dataset.ID.String()))
	return dataset, nil
}

func (s *datasetService) Update(ctx context.Context, id uuid.UUID, name string) (*models.Dataset, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeDataset(ctx, id, models.AccessModify); err != nil {
		return nil, err
	}
	return s.datasetRepo.UpdateName(ctx, id, name)
}

func (s *datasetService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.authorizeDataset(ctx, id, models.AccessModify); err != nil {
		return err
	}
	if err := s.datasetRepo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Dataset deleted", zap.String("dataset_id", id.String()))
	return nil
}

func (s *datasetService) ListEntries(ctx context.Context, id uuid.UUID, limit, offset int) (*EntryPage, error) {
	if err := s.authorizeDataset(ctx, id, models.AccessView); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultEntryPageSize
	}
	if limit > MaxEntryPageSize {
		limit = MaxEntryPageSize
	}
	if offset < 0 {
		offset = 0
	}

	entries, err := s.entryRepo.ListCurrent(ctx, id, limit, offset)
	if err != nil {
		return nil, err
	}
	total, err := s.entryRepo.CountCurrent(ctx, id)
	if err != nil {
		return nil, err
	}

	return &EntryPage{Entries: entries, Total: total, Limit: limit, Offset: offset}, nil
}
