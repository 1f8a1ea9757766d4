package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evalkit-dev/evalkit-engine/pkg/apperrors"
	"github.com/evalkit-dev/evalkit-engine/pkg/auth"
	"github.com/evalkit-dev/evalkit-engine/pkg/database"
	"github.com/evalkit-dev/evalkit-engine/pkg/models"
	"github.com/evalkit-dev/evalkit-engine/pkg/repositories"
)

const maxNameLength = 255

// ProjectService defines the interface for project operations.
type ProjectService interface {
	// Create creates a project and makes the caller its admin.
	Create(ctx context.Context, name string) (*models.Project, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Project, error)
	// List returns the projects the caller is a member of.
	List(ctx context.Context) ([]*models.Project, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type projectService struct {
	projectRepo repositories.ProjectRepository
	memberRepo  repositories.ProjectMemberRepository
	access      AccessControl
	tx          database.TxManager
	logger      *zap.Logger
}

// NewProjectService creates a new project service with dependencies.
func NewProjectService(
	projectRepo repositories.ProjectRepository,
	memberRepo repositories.ProjectMemberRepository,
	access AccessControl,
	tx database.TxManager,
	logger *zap.Logger,
) ProjectService {
	return &projectService{
		projectRepo: projectRepo,
		memberRepo:  memberRepo,
		access:      access,
		tx:          tx,
		logger:      logger.Named("projects"),
	}
}

var _ ProjectService = (*projectService)(nil)

func (s *projectService) Create(ctx context.Context, name string) (*models.Project, error) {
	userID, err := auth.RequireUserIDFromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err)
	}
	name, err = validateName(name)
	if err != nil {
		return nil, err
	}

	project := &models.Project{Name: name}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.projectRepo.Create(ctx, project); err != nil {
			return err
		}
		return s.memberRepo.Add(ctx, &models.ProjectMember{
			ProjectID: project.ID,
			UserID:    userID,
			Role:      models.RoleAdmin,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	s.logger.Info("Project created",
		zap.String("project_id", project.ID.String()),
		zap.String("user_id", userID))
	return project, nil
}

func (s *projectService) Get(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	if err := s.access.RequireProjectRole(ctx, id, models.AccessView); err != nil {
		return nil, err
	}
	return s.projectRepo.Get(ctx, id)
}

func (s *projectService) List(ctx context.Context) ([]*models.Project, error) {
	userID, err := auth.RequireUserIDFromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err)
	}
	return s.projectRepo.ListForUser(ctx, userID)
}

func (s *projectService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.access.RequireProjectRole(ctx, id, models.AccessManage); err != nil {
		return err
	}
	if err := s.projectRepo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Project deleted", zap.String("project_id", id.String()))
	return nil
}

// validateName trims a project or dataset name and checks its length.
func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperrors.NewValidationError("name", "is required")
	}
	if len(name) > maxNameLength {
		return "", apperrors.NewValidationError("name", fmt.Sprintf("must be at most %d characters", maxNameLength))
	}
	return name, nil
}
