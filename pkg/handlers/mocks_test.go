package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/evalkit-dev/evalkit-engine/pkg/auth"
	"github.com/evalkit-dev/evalkit-engine/pkg/models"
	"github.com/evalkit-dev/evalkit-engine/pkg/services"
)

// mockProjectService is a mock implementation of services.ProjectService.
type mockProjectService struct {
	project  *models.Project
	projects []*models.Project
	err      error

	createdName string
	deletedID   uuid.UUID
}

func (m *mockProjectService) Create(ctx context.Context, name string) (*models.Project, error) {
	m.createdName = name
	if m.err != nil {
		return nil, m.err
	}
	return m.project, nil
}

func (m *mockProjectService) Get(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.project, nil
}

func (m *mockProjectService) List(ctx context.Context) ([]*models.Project, error) {
	return m.projects, m.err
}

func (m *mockProjectService) Delete(ctx context.Context, id uuid.UUID) error {
	m.deletedID = id
	return m.err
}

// mockMemberService is a mock implementation of services.MemberService.
type mockMemberService struct {
	members []*models.ProjectMember
	err     error

	addedUser, addedRole string
	updatedUser          string
	removedUser          string
}

func (m *mockMemberService) List(ctx context.Context, projectID uuid.UUID) ([]*models.ProjectMember, error) {
	return m.members, m.err
}

func (m *mockMemberService) Add(ctx context.Context, projectID uuid.UUID, userID, role string) (*models.ProjectMember, error) {
	m.addedUser, m.addedRole = userID, role
	if m.err != nil {
		return nil, m.err
	}
	return &models.ProjectMember{ProjectID: projectID, UserID: userID, Role: role}, nil
}

func (m *mockMemberService) UpdateRole(ctx context.Context, projectID uuid.UUID, userID, role string) error {
	m.updatedUser = userID
	return m.err
}

func (m *mockMemberService) Remove(ctx context.Context, projectID uuid.UUID, userID string) error {
	m.removedUser = userID
	return m.err
}

// mockDatasetService is a mock implementation of services.DatasetService.
type mockDatasetService struct {
	dataset  *models.Dataset
	datasets []*models.Dataset
	page     *services.EntryPage
	err      error

	calls         int
	limit, offset int
}

func (m *mockDatasetService) Get(ctx context.Context, id uuid.UUID) (*models.Dataset, error) {
	m.calls++
	return m.dataset, m.err
}

func (m *mockDatasetService) List(ctx context.Context, projectID uuid.UUID) ([]*models.Dataset, error) {
	m.calls++
	return m.datasets, m.err
}

func (m *mockDatasetService) Create(ctx context.Context, projectID uuid.UUID, name string) (*models.Dataset, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &models.Dataset{ID: uuid.New(), ProjectID: projectID, Name: name}, nil
}

func (m *mockDatasetService) Update(ctx context.Context, id uuid.UUID, name string) (*models.Dataset, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &models.Dataset{ID: id, Name: name}, nil
}

func (m *mockDatasetService) Delete(ctx context.Context, id uuid.UUID) error {
	m.calls++
	return m.err
}

func (m *mockDatasetService) ListEntries(ctx context.Context, id uuid.UUID, limit, offset int) (*services.EntryPage, error) {
	m.calls++
	m.limit, m.offset = limit, offset
	return m.page, m.err
}

// mockUploadService is a mock implementation of services.UploadService.
type mockUploadService struct {
	url     *models.UploadURL
	upload  *models.FileUpload
	uploads []*models.FileUpload
	err     error

	calls      int
	registered services.RegisterUploadRequest
	hidden     []uuid.UUID
}

func (m *mockUploadService) GetUploadURL(ctx context.Context, projectID uuid.UUID) (*models.UploadURL, error) {
	m.calls++
	return m.url, m.err
}

func (m *mockUploadService) RegisterUpload(ctx context.Context, req services.RegisterUploadRequest) (*models.FileUpload, error) {
	m.calls++
	m.registered = req
	return m.upload, m.err
}

func (m *mockUploadService) ListUploads(ctx context.Context, datasetID uuid.UUID) ([]*models.FileUpload, error) {
	m.calls++
	return m.uploads, m.err
}

func (m *mockUploadService) GetUpload(ctx context.Context, id uuid.UUID) (*models.FileUpload, error) {
	m.calls++
	return m.upload, m.err
}

func (m *mockUploadService) HideUploads(ctx context.Context, ids []uuid.UUID) error {
	m.calls++
	m.hidden = ids
	return m.err
}

// mockAuthService accepts requests carrying a "Bearer <subject>" header.
type mockAuthService struct{}

func (mockAuthService) ValidateRequest(r *http.Request) (*auth.Claims, string, error) {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
		return nil, "", errors.New("missing token")
	}
	claims := &auth.Claims{}
	claims.Subject = h[len(prefix):]
	return claims, h[len(prefix):], nil
}

func (mockAuthService) RequireSubject(claims *auth.Claims) error {
	if claims.Subject == "" {
		return errors.New("missing subject")
	}
	return nil
}

// passthroughScope stands in for the request database scope.
func passthroughScope(next http.HandlerFunc) http.HandlerFunc { return next }
