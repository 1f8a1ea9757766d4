package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"

	"github.com/evalkit-dev/evalkit-engine/pkg/apperrors"
	"github.com/evalkit-dev/evalkit-engine/pkg/database"
	"github.com/evalkit-dev/evalkit-engine/pkg/models"
)

// DatasetRepository defines the interface for dataset data access.
// Every read that returns a Dataset fills EntryCount from a live aggregate over
// non-outdated entries.
type DatasetRepository interface {
	Create(ctx context.Context, dataset *models.Dataset) error
	Get(ctx context.Context, id uuid.UUID) (*models.Dataset, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.Dataset, error)
	UpdateName(ctx context.Context, id uuid.UUID, name string) (*models.Dataset, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// GetProjectID resolves a dataset to its owning project.
	GetProjectID(ctx context.Context, id uuid.UUID) (uuid.UUID, error)
}

// datasetRepository implements DatasetRepository using PostgreSQL.
type datasetRepository struct{}

// NewDatasetRepository creates a new dataset repository.
func NewDatasetRepository() DatasetRepository {
	return &datasetRepository{}
}

var _ DatasetRepository = (*datasetRepository)(nil)

// Create inserts a new dataset with zero entries.
func (r *datasetRepository) Create(ctx context.Context, dataset *models.Dataset) error {
	q, err := database.QuerierFromContext(ctx)
	if err != nil {
		return err
	}

	if dataset.ID == uuid.Nil {
		dataset.ID = uuid.New()
	}
	now := time.Now()
	dataset.CreatedAt = now
	dataset.UpdatedAt = now
	dataset.EntryCount = 0

	query := `
		INSERT INTO datasets (id, project_id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err = q.Exec(ctx, query, dataset.ID, dataset.ProjectID, dataset.Name, dataset.CreatedAt, dataset.UpdatedAt)
	if err != nil {
		if hasPgCode(err, pgerrcode.ForeignKeyViolation) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to create dataset: %w", err)
	}

	return nil
}

// Get retrieves a dataset with its current entry count.
func (r *datasetRepository) Get(ctx context.Context, id uuid.UUID) (*models.Dataset, error) {
	q, err := database.QuerierFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT d.id, d.project_id, d.name, d.created_at, d.updated_at,
		       (SELECT COUNT(*) FROM dataset_entries e WHERE e.dataset_id = d.id AND NOT e.outdated)
		FROM datasets d
		WHERE d.id = $1`

	var d models.Dataset
	err = q.QueryRow(ctx, query, id).Scan(&d.ID, &d.ProjectID, &d.Name, &d.CreatedAt, &d.UpdatedAt, &d.EntryCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}

	return &d, nil
}

// ListByProject returns a project's datasets newest first. Entry counts come
// from one grouped aggregate, limited to the project's datasets, joined to
// the dataset rows.
func (r *datasetRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.Dataset, error) {
	q, err := database.QuerierFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT d.id, d.project_id, d.name, d.created_at, d.updated_at, COALESCE(c.entry_count, 0)
		FROM datasets d
		LEFT JOIN (
			SELECT dataset_id, COUNT(*) AS entry_count
			FROM dataset_entries
			WHERE NOT outdated
			  AND dataset_id IN (SELECT id FROM datasets WHERE project_id = $1)
			GROUP BY dataset_id
		) c ON c.dataset_id = d.id
		WHERE d.project_id = $1
		ORDER BY d.created_at DESC`

	rows, err := q.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	defer rows.Close()

	datasets := make([]*models.Dataset, 0)
	for rows.Next() {
		var d models.Dataset
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Name, &d.CreatedAt, &d.UpdatedAt, &d.EntryCount); err != nil {
			return nil, fmt.Errorf("failed to scan dataset: %w", err)
		}
		datasets = append(datasets, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating datasets: %w", err)
	}

	return datasets, nil
}

// UpdateName renames a dataset and returns the updated row.
func (r *datasetRepository) UpdateName(ctx context.Context, id uuid.UUID, name string) (*models.Dataset, error) {
	q, err := database.QuerierFromContext(ctx)
	if err != nil {
		return nil, err
	}

	result, err := q.Exec(ctx,
		`UPDATE datasets SET name = $1, updated_at = $2 WHERE id = $3`,
		name, time.Now(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update dataset: %w", err)
	}
	if result.RowsAffected() == 0 {
		return nil, apperrors.ErrNotFound
	}

	return r.Get(ctx, id)
}

// Delete removes a dataset. Entries and uploads cascade.
func (r *datasetRepository) Delete(ctx context.Context, id uuid.UUID) error {
	q, err := database.QuerierFromContext(ctx)
	if err != nil {
		return err
	}

	result, err := q.Exec(ctx, `DELETE FROM datasets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete dataset: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

// GetProjectID returns the owning project of a dataset.
func (r *datasetRepository) GetProjectID(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	q, err := database.QuerierFromContext(ctx)
	if err != nil {
		return uuid.Nil, err
	}

	var projectID uuid.UUID
	if err := q.QueryRow(ctx, `SELECT project_id FROM datasets WHERE id = $1`, id).Scan(&projectID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, apperrors.ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("failed to resolve dataset project: %w", err)
	}

	return projectID, nil
}
