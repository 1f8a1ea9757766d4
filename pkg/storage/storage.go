// Package storage issues signed direct-upload URLs and reads uploaded blobs
// back for the importer. Upload bytes never pass through the engine.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/evalkit-dev/evalkit-engine/pkg/models"
)

// ErrBlobNotFound is returned by Open when the blob does not exist.
var ErrBlobNotFound = errors.New("blob not found")

// UploadURLIssuer issues write-only, time-boxed upload credentials.
type UploadURLIssuer interface {
	IssueUploadURL(ctx context.Context, projectID uuid.UUID) (*models.UploadURL, error)
}

// BlobReader streams an uploaded blob. Only the importer uses it.
type BlobReader interface {
	Open(ctx context.Context, blobName string) (io.ReadCloser, error)
}

// BlobStore combines both capabilities of a storage backend.
type BlobStore interface {
	UploadURLIssuer
	BlobReader
}

// UploadPrefix returns the key prefix every upload blob of a project lives under.
func UploadPrefix(projectID uuid.UUID) string {
	return fmt.Sprintf("projects/%s/uploads/", projectID)
}

// NewBlobName returns a fresh, unguessable blob key inside the project's prefix.
func NewBlobName(projectID uuid.UUID) string {
	return UploadPrefix(projectID) + uuid.NewString()
}

// BlobBelongsToProject reports whether blobName was issued for projectID.
// It rejects names that try to escape the prefix.
func BlobBelongsToProject(blobName string, projectID uuid.UUID) bool {
	rest, ok := strings.CutPrefix(blobName, UploadPrefix(projectID))
	if !ok || rest == "" {
		return false
	}
	return !strings.Contains(rest, "/") && !strings.Contains(rest, "..")
}

// BlobAllowedForProject reports whether a client-supplied blob name may be
// registered in projectID. Names inside the projects/ namespace must have been
// issued for that project; other names are accepted for externally staged
// blobs but may not contain path traversal.
func BlobAllowedForProject(blobName string, projectID uuid.UUID) bool {
	if strings.HasPrefix(blobName, "projects/") {
		return BlobBelongsToProject(blobName, projectID)
	}
	return blobName != "" && !strings.Contains(blobName, "..") && !strings.HasPrefix(blobName, "/")
}

