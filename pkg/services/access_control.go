package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evalkit-dev/evalkit-engine/pkg/apperrors"
	"github.com/evalkit-dev/evalkit-engine/pkg/audit"
	"github.com/evalkit-dev/evalkit-engine/pkg/auth"
	"github.com/evalkit-dev/evalkit-engine/pkg/models"
	"github.com/evalkit-dev/evalkit-engine/pkg/repositories"
)

// AccessControl resolves targets to their owning project and checks the
// caller's role in it. Every service runs these checks before any write.
type AccessControl interface {
	// RequireProjectRole fails with ErrNotFound if the project does not exist
	// and ErrUnauthorized if the caller's role does not satisfy level.
	RequireProjectRole(ctx context.Context, projectID uuid.UUID, level models.AccessLevel) error
	// ResolveDataset returns the dataset's project or ErrNotFound.
	ResolveDataset(ctx context.Context, datasetID uuid.UUID) (uuid.UUID, error)
	// ResolveUploads maps every upload id to its project. Any unknown id
	// fails the whole call with ErrNotFound.
	ResolveUploads(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]uuid.UUID, error)
}

type accessControl struct {
	projectRepo repositories.ProjectRepository
	memberRepo  repositories.ProjectMemberRepository
	datasetRepo repositories.DatasetRepository
	uploadRepo  repositories.FileUploadRepository
	auditor     *audit.SecurityAuditor
	logger      *zap.Logger
}

// NewAccessControl creates the access control gate.
func NewAccessControl(
	projectRepo repositories.ProjectRepository,
	memberRepo repositories.ProjectMemberRepository,
	datasetRepo repositories.DatasetRepository,
	uploadRepo repositories.FileUploadRepository,
	logger *zap.Logger,
) AccessControl {
	return &accessControl{
		projectRepo: projectRepo,
		memberRepo:  memberRepo,
		datasetRepo: datasetRepo,
		uploadRepo:  uploadRepo,
		auditor:     audit.NewSecurityAuditor(logger),
		logger:      logger.Named("access"),
	}
}

var _ AccessControl = (*accessControl)(nil)

func (a *accessControl) RequireProjectRole(ctx context.Context, projectID uuid.UUID, level models.AccessLevel) error {
	userID, err := auth.RequireUserIDFromContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err)
	}

	role, err := a.memberRepo.GetRole(ctx, projectID, userID)
	if errors.Is(err, apperrors.ErrNotFound) {
		// Not a member: tell a missing project apart from a forbidden one.
		if _, err := a.projectRepo.Get(ctx, projectID); err != nil {
			return err
		}
		a.auditor.LogAccessDenied(ctx, projectID, audit.AccessDeniedDetails{Required: string(level)})
		return apperrors.ErrUnauthorized
	}
	if err != nil {
		return fmt.Errorf("failed to look up project role: %w", err)
	}

	if !models.RoleAllows(role, level) {
		a.auditor.LogAccessDenied(ctx, projectID, audit.AccessDeniedDetails{Role: role, Required: string(level)})
		return apperrors.ErrUnauthorized
	}
	return nil
}

func (a *accessControl) ResolveDataset(ctx context.Context, datasetID uuid.UUID) (uuid.UUID, error) {
	projectID, err := a.datasetRepo.GetProjectID(ctx, datasetID)
	if err != nil {
		return uuid.Nil, err
	}
	return projectID, nil
}

func (a *accessControl) ResolveUploads(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]uuid.UUID, error) {
	projects, err := a.uploadRepo.ResolveProjects(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := projects[id]; !ok {
			return nil, fmt.Errorf("file upload %s: %w", id, apperrors.ErrNotFound)
		}
	}
	return projects, nil
}

// distinctProjects returns the projects in m in first-seen order of ids.
func distinctProjects(ids []uuid.UUID, m map[uuid.UUID]uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(m))
	var out []uuid.UUID
	for _, id := range ids {
		pid := m[id]
		if !seen[pid] {
			seen[pid] = true
			out = append(out, pid)
		}
	}
	return out
}
