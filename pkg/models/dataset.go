package models

import (
	"time"

	"github.com/google/uuid"
)

// Dataset is a named collection of entries inside a project.
// EntryCount is aggregated from non-outdated entries on every read and is
// never persisted.
type Dataset struct {
	ID         uuid.UUID `json:"id"`
	ProjectID  uuid.UUID `json:"project_id"`
	Name       string    `json:"name"`
	EntryCount int64     `json:"entry_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
