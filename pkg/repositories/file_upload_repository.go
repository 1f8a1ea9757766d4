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

// FileUploadRepository defines the interface for upload registry data access.
type FileUploadRepository interface {
	// Create inserts a PENDING, visible upload row.
	Create(ctx context.Context, upload *models.FileUpload) error
	// Get returns an upload regardless of visibility.
	Get(ctx context.Context, id uuid.UUID) (*models.FileUpload, error)
	// ListVisible returns the dataset's visible uploads newest first.
	ListVisible(ctx context.Context, datasetID uuid.UUID) ([]*models.FileUpload, error)
	// ResolveProjects maps each known upload id to its owning project.
	// Unknown ids are absent from the result.
	ResolveProjects(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]uuid.UUID, error)
	// Hide flips visible to false for every id in one statement.
	Hide(ctx context.Context, ids []uuid.UUID) (int64, error)
	// Transition moves an upload from one status to another only if it is
	// currently in from. Returns false when the row was not in from.
	Transition(ctx context.Context, id uuid.UUID, from, to models.UploadStatus, errMsg *string) (bool, error)
	// MarkComplete moves a PROCESSING upload to COMPLETE and records the entry count.
	MarkComplete(ctx context.Context, id uuid.UUID, entriesImported int) (bool, error)
	// ListStale returns uploads in status whose last update is older than cutoff.
	ListStale(ctx context.Context, status models.UploadStatus, cutoff time.Time, limit int) ([]*models.FileUpload, error)
	// IncrementEnqueueAttempts bumps the counter and touches updated_at.
	IncrementEnqueueAttempts(ctx context.Context, id uuid.UUID) (int, error)
}

// fileUploadRepository implements FileUploadRepository using PostgreSQL.
type fileUploadRepository struct{}

// NewFileUploadRepository creates a new file upload repository.
func NewFileUploadRepository() FileUploadRepository {
	return &fileUploadRepository{}
}

var _ FileUploadRepository = (*fileUploadRepository)(nil)

const fileUploadColumns = `
	id, dataset_id, blob_name, file_name, file_size, status, error_message, visible,
	entries_imported, enqueue_attempts, uploaded_at, created_at, updated_at`

func scanFileUpload(row pgx.Row) (*models.FileUpload, error) {
	var u models.FileUpload
	var status string
	err := row.Scan(
		&u.ID,
		&u.DatasetID,
		&u.BlobName,
		&u.FileName,
		&u.FileSize,
		&status,
		&u.ErrorMessage,
		&u.Visible,
		&u.EntriesImported,
		&u.EnqueueAttempts,
		&u.UploadedAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Status = models.UploadStatus(status)
	return &u, nil
}

// Create registers an upload.
func (r *fileUploadRepository) Create(ctx context.Context, upload *models.FileUpload) error {
	q, err := database.QuerierFromContext(ctx)
	if err != nil {
		return err
	}

	if upload.ID == uuid.Nil {
		upload.ID = uuid.New()
	}
	now := time.Now()
	if upload.UploadedAt.IsZero() {
		upload.UploadedAt = now
	}
	upload.CreatedAt = now
	upload.UpdatedAt = now
	upload.Status = models.UploadStatusPending
	upload.Visible = true
	upload.ErrorMessage = nil
	upload.EntriesImported = 0
	upload.EnqueueAttempts = 0

	query := `
		INSERT INTO dataset_file_uploads
			(id, dataset_id, blob_name, file_name, file_size, status, visible, uploaded_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, true, $7, $8, $9)`

	_, err = q.Exec(ctx, query,
		upload.ID,
		upload.DatasetID,
		upload.BlobName,
		upload.FileName,
		upload.FileSize,
		string(upload.Status),
		upload.UploadedAt,
		upload.CreatedAt,
		upload.UpdatedAt,
	)
	if err != nil {
		if hasPgCode(err, pgerrcode.ForeignKeyViolation) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to create file upload: %w", err)
	}

	return nil
}

// Get retrieves an upload by ID.
func (r *fileUploadRepository) Get(ctx context.Context, id uuid.UUID) (*models.FileUpload, error) {
	q, err := database.QuerierFromContext(ctx)
	if err != nil {
		return nil, err
	}

	upload, err := scanFileUpload(q.QueryRow(ctx,
		`SELECT `+fileUploadColumns+` FROM dataset_file_uploads WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get file upload: %w", err)
	}

	return upload, nil
}

// ListVisible lists the dataset's visible uploads.
func (r *fileUploadRepository) ListVisible(ctx context.Context, datasetID uuid.UUID) ([]*models.FileUpload, error) {
	q, err := database.QuerierFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + fileUploadColumns + `
		FROM dataset_file_uploads
		WHERE dataset_id = $1 AND visible
		ORDER BY created_at DESC`

	return r.queryUploads(ctx, q, query, datasetID)
}

// ResolveProjects resolves uploads to projects through their datasets.
func (r *fileUploadRepository) ResolveProjects(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]uuid.UUID, error) {
	q, err := database.QuerierFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT u.id, d.project_id
		FROM dataset_file_uploads u
		JOIN datasets d ON d.id = u.dataset_id
		WHERE u.id = ANY($1)`

	rows, err := q.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve upload projects: %w", err)
	}
	defer rows.Close()

	projects := make(map[uuid.UUID]uuid.UUID, len(ids))
	for rows.Next() {
		var uploadID, projectID uuid.UUID
		if err := rows.Scan(&uploadID, &projectID); err != nil {
			return nil, fmt.Errorf("failed to scan upload project: %w", err)
		}
		projects[uploadID] = projectID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating upload projects: %w", err)
	}

	return projects, nil
}

// Hide soft-deletes uploads. Status and import processing are unaffected.
func (r *fileUploadRepository) Hide(ctx context.Context, ids []uuid.UUID) (int64, error) {
	q, err := database.QuerierFromContext(ctx)
	if err != nil {
		return 0, err
	}

	result, err := q.Exec(ctx,
		`UPDATE dataset_file_uploads SET visible = false, updated_at = $1 WHERE id = ANY($2)`,
		time.Now(), ids)
	if err != nil {
		return 0, fmt.Errorf("failed to hide file uploads: %w", err)
	}

	return result.RowsAffected(), nil
}

// Transition performs a conditional status change. The WHERE clause on the
// current status is the only claim an importer holds on an upload.
func (r *fileUploadRepository) Transition(ctx context.Context, id uuid.UUID, from, to models.UploadStatus, errMsg *string) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("%w: %s -> %s", apperrors.ErrInvalidTransition, from, to)
	}
	q, err := database.QuerierFromContext(ctx)
	if err != nil {
		return false, err
	}

	query := `
		UPDATE dataset_file_uploads
		SET status = $1, error_message = COALESCE($2, error_message), updated_at = $3
		WHERE id = $4 AND status = $5`

	result, err := q.Exec(ctx, query, string(to), errMsg, time.Now(), id, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to transition file upload: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// MarkComplete finishes a PROCESSING upload.
func (r *fileUploadRepository) MarkComplete(ctx context.Context, id uuid.UUID, entriesImported int) (bool, error) {
	q, err := database.QuerierFromContext(ctx)
	if err != nil {
		return false, err
	}

	query := `
		UPDATE dataset_file_uploads
		SET status = $1, entries_imported = $2, error_message = NULL, updated_at = $3
		WHERE id = $4 AND status = $5`

	result, err := q.Exec(ctx, query,
		string(models.UploadStatusComplete), entriesImported, time.Now(), id, string(models.UploadStatusProcessing))
	if err != nil {
		return false, fmt.Errorf("failed to complete file upload: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// ListStale finds uploads stuck in a non-terminal status.
func (r *fileUploadRepository) ListStale(ctx context.Context, status models.UploadStatus, cutoff time.Time, limit int) ([]*models.FileUpload, error) {
	q, err := database.QuerierFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + fileUploadColumns + `
		FROM dataset_file_uploads
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3`

	return r.queryUploads(ctx, q, query, string(status), cutoff, limit)
}

// IncrementEnqueueAttempts records one more scheduling attempt.
func (r *fileUploadRepository) IncrementEnqueueAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	q, err := database.QuerierFromContext(ctx)
	if err != nil {
		return 0, err
	}

	var attempts int
	err = q.QueryRow(ctx, `
		UPDATE dataset_file_uploads
		SET enqueue_attempts = enqueue_attempts + 1, updated_at = $1
		WHERE id = $2
		RETURNING enqueue_attempts`, time.Now(), id).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperrors.ErrNotFound
		}
		return 0, fmt.Errorf("failed to increment enqueue attempts: %w", err)
	}

	return attempts, nil
}

func (r *fileUploadRepository) queryUploads(ctx context.Context, q database.Querier, query string, args ...any) ([]*models.FileUpload, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query file uploads: %w", err)
	}
	defer rows.Close()

	uploads := make([]*models.FileUpload, 0)
	for rows.Next() {
		upload, err := scanFileUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file upload: %w", err)
		}
		uploads = append(uploads, upload)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating file uploads: %w", err)
	}

	return uploads, nil
}
