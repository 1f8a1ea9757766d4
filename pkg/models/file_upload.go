package models

import (
	"time"

	"github.com/google/uuid"
)

// UploadStatus is the import lifecycle state of a FileUpload.
type UploadStatus string

const (
	UploadStatusPending    UploadStatus = "PENDING"
	UploadStatusProcessing UploadStatus = "PROCESSING"
	UploadStatusComplete   UploadStatus = "COMPLETE"
	UploadStatusError      UploadStatus = "ERROR"
)

// ValidUploadStatuses contains all valid upload status values.
var ValidUploadStatuses = []UploadStatus{
	UploadStatusPending,
	UploadStatusProcessing,
	UploadStatusComplete,
	UploadStatusError,
}

// IsValidUploadStatus checks if the given status is valid.
func IsValidUploadStatus(s UploadStatus) bool {
	for _, v := range ValidUploadStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the status is COMPLETE or ERROR.
func (s UploadStatus) IsTerminal() bool {
	return s == UploadStatusComplete || s == UploadStatusError
}

// CanTransitionTo returns true if moving from this status to target is allowed.
// PENDING may go to ERROR directly only when its import could not be
// scheduled; it never goes straight to COMPLETE.
func (s UploadStatus) CanTransitionTo(target UploadStatus) bool {
	switch s {
	case UploadStatusPending:
		return target == UploadStatusProcessing || target == UploadStatusError
	case UploadStatusProcessing:
		return target == UploadStatusComplete || target == UploadStatusError
	default:
		return false
	}
}

// FileUpload tracks one client-submitted file and its import lifecycle.
type FileUpload struct {
	ID              uuid.UUID    `json:"id"`
	DatasetID       uuid.UUID    `json:"dataset_id"`
	BlobName        string       `json:"blob_name"`
	FileName        string       `json:"file_name"`
	FileSize        int64        `json:"file_size"`
	Status          UploadStatus `json:"status"`
	ErrorMessage    *string      `json:"error_message,omitempty"`
	Visible         bool         `json:"visible"`
	EntriesImported int          `json:"entries_imported"`
	EnqueueAttempts int          `json:"enqueue_attempts"`
	UploadedAt      time.Time    `json:"uploaded_at"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// UploadURL is a signed, write-only credential for one direct upload.
type UploadURL struct {
	URL       string    `json:"url"`
	Container string    `json:"container"`
	BlobName  string    `json:"blob_name"`
	ExpiresAt time.Time `json:"expires_at"`
}
