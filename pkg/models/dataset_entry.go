package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Split assigns an entry to the training or evaluation partition.
type Split string

const (
	SplitTrain Split = "TRAIN"
	SplitTest  Split = "TEST"
)

// IsValidSplit checks if the given split is valid.
func IsValidSplit(s Split) bool {
	return s == SplitTrain || s == SplitTest
}

// DatasetEntry is one training or evaluation record. Entries are never edited
// once written; a re-import with the same PersistentID marks the prior entry
// outdated instead.
type DatasetEntry struct {
	ID           uuid.UUID       `json:"id"`
	DatasetID    uuid.UUID       `json:"dataset_id"`
	FileUploadID *uuid.UUID      `json:"file_upload_id,omitempty"`
	SourceLine   int             `json:"source_line"`
	PersistentID string          `json:"persistent_id"`
	Input        json.RawMessage `json:"input"`
	Output       json.RawMessage `json:"output,omitempty"`
	Split        Split           `json:"split"`
	Outdated     bool            `json:"outdated"`
	CreatedAt    time.Time       `json:"created_at"`
}
