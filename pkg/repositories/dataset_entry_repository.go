package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/evalkit-dev/evalkit-engine/pkg/database"
	"github.com/evalkit-dev/evalkit-engine/pkg/models"
)

// DatasetEntryRepository defines the interface for dataset entry data access.
type DatasetEntryRepository interface {
	// LockDataset holds a transaction-scoped lock on the dataset's entries
	// until the surrounding transaction ends.
	LockDataset(ctx context.Context, datasetID uuid.UUID) error
	// InsertBatch writes entries, skipping any (file_upload_id, source_line)
	// pair that already exists. Returns the number of rows actually inserted.
	InsertBatch(ctx context.Context, entries []*models.DatasetEntry) (int, error)
	// MarkSuperseded flags current entries of the dataset whose persistent ID
	// appears in persistentIDs and that came from a different upload.
	MarkSuperseded(ctx context.Context, datasetID, uploadID uuid.UUID, persistentIDs []string) (int64, error)
	// ListCurrent returns non-outdated entries newest first.
	ListCurrent(ctx context.Context, datasetID uuid.UUID, limit, offset int) ([]*models.DatasetEntry, error)
	// CountCurrent returns the number of non-outdated entries.
	CountCurrent(ctx context.Context, datasetID uuid.UUID) (int64, error)
}

// datasetEntryRepository implements DatasetEntryRepository using PostgreSQL.
type datasetEntryRepository struct{}

// NewDatasetEntryRepository creates a new dataset entry repository.
func NewDatasetEntryRepository() DatasetEntryRepository {
	return &datasetEntryRepository{}
}

var _ DatasetEntryRepository = (*datasetEntryRepository)(nil)

// LockDataset takes a transaction advisory lock keyed by the dataset ID.
// Outside a transaction the lock would be released immediately.
func (r *datasetEntryRepository) LockDataset(ctx context.Context, datasetID uuid.UUID) error {
	q, err := database.QuerierFromContext(ctx)
	if err != nil {
		return err
	}

	if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, datasetID); err != nil {
		return fmt.Errorf("failed to lock dataset %s: %w", datasetID, err)
	}
	return nil
}

// InsertBatch sends all inserts in one pgx batch round trip.
func (r *datasetEntryRepository) InsertBatch(ctx context.Context, entries []*models.DatasetEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	q, err := database.QuerierFromContext(ctx)
	if err != nil {
		return 0, err
	}

	query := `
		INSERT INTO dataset_entries
			(id, dataset_id, file_upload_id, source_line, persistent_id, input, output, split, outdated, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, now())
		ON CONFLICT (file_upload_id, source_line) DO NOTHING`

	batch := &pgx.Batch{}
	for _, e := range entries {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if e.Split == "" {
			e.Split = models.SplitTrain
		}
		var output any
		if len(e.Output) > 0 {
			output = []byte(e.Output)
		}
		batch.Queue(query, e.ID, e.DatasetID, e.FileUploadID, e.SourceLine, e.PersistentID,
			[]byte(e.Input), output, string(e.Split))
	}

	results := q.SendBatch(ctx, batch)
	inserted := 0
	for i := range entries {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return inserted, fmt.Errorf("failed to insert entry for line %d: %w", entries[i].SourceLine, err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return inserted, fmt.Errorf("failed to close entry batch: %w", err)
	}

	return inserted, nil
}

// MarkSuperseded soft-retires older entries replaced by a new import.
func (r *datasetEntryRepository) MarkSuperseded(ctx context.Context, datasetID, uploadID uuid.UUID, persistentIDs []string) (int64, error) {
	if len(persistentIDs) == 0 {
		return 0, nil
	}
	q, err := database.QuerierFromContext(ctx)
	if err != nil {
		return 0, err
	}

	query := `
		UPDATE dataset_entries
		SET outdated = true
		WHERE dataset_id = $1
		  AND NOT outdated
		  AND file_upload_id IS DISTINCT FROM $2
		  AND persistent_id = ANY($3)`

	result, err := q.Exec(ctx, query, datasetID, uploadID, persistentIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to mark superseded entries: %w", err)
	}

	return result.RowsAffected(), nil
}

// ListCurrent pages through the dataset's non-outdated entries.
func (r *datasetEntryRepository) ListCurrent(ctx context.Context, datasetID uuid.UUID, limit, offset int) ([]*models.DatasetEntry, error) {
	q, err := database.QuerierFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, dataset_id, file_upload_id, source_line, persistent_id, input, output, split, outdated, created_at
		FROM dataset_entries
		WHERE dataset_id = $1 AND NOT outdated
		ORDER BY created_at DESC, source_line
		LIMIT $2 OFFSET $3`

	rows, err := q.Query(ctx, query, datasetID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.DatasetEntry, 0)
	for rows.Next() {
		var e models.DatasetEntry
		var input, output []byte
		var split string
		if err := rows.Scan(&e.ID, &e.DatasetID, &e.FileUploadID, &e.SourceLine, &e.PersistentID,
			&input, &output, &split, &e.Outdated, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Input = input
		e.Output = output
		e.Split = models.Split(split)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}

	return entries, nil
}

// CountCurrent counts the dataset's non-outdated entries.
func (r *datasetEntryRepository) CountCurrent(ctx context.Context, datasetID uuid.UUID) (int64, error) {
	q, err := database.QuerierFromContext(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	err = q.QueryRow(ctx,
		`SELECT COUNT(*) FROM dataset_entries WHERE dataset_id = $1 AND NOT outdated`,
		datasetID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}

	return count, nil
}
