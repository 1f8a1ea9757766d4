package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evalkit-dev/evalkit-engine/pkg/apperrors"
	"github.com/evalkit-dev/evalkit-engine/pkg/audit"
	"github.com/evalkit-dev/evalkit-engine/pkg/models"
	"github.com/evalkit-dev/evalkit-engine/pkg/repositories"
)

// MemberService defines the interface for project membership operations.
type MemberService interface {
	List(ctx context.Context, projectID uuid.UUID) ([]*models.ProjectMember, error)
	Add(ctx context.Context, projectID uuid.UUID, userID, role string) (*models.ProjectMember, error)
	// UpdateRole returns ErrLastAdmin if attempting to demote the last admin.
	UpdateRole(ctx context.Context, projectID uuid.UUID, userID, role string) error
	// Remove returns ErrLastAdmin if attempting to remove the last admin.
	Remove(ctx context.Context, projectID uuid.UUID, userID string) error
}

type memberService struct {
	memberRepo repositories.ProjectMemberRepository
	access     AccessControl
	auditor    *audit.SecurityAuditor
	logger     *zap.Logger
}

// NewMemberService creates a new member service with dependencies.
func NewMemberService(memberRepo repositories.ProjectMemberRepository, access AccessControl, logger *zap.Logger) MemberService {
	return &memberService{
		memberRepo: memberRepo,
		access:     access,
		auditor:    audit.NewSecurityAuditor(logger),
		logger:     logger.Named("members"),
	}
}

var _ MemberService = (*memberService)(nil)

func (s *memberService) List(ctx context.Context, projectID uuid.UUID) ([]*models.ProjectMember, error) {
	if err := s.access.RequireProjectRole(ctx, projectID, models.AccessView); err != nil {
		return nil, err
	}
	return s.memberRepo.ListByProject(ctx, projectID)
}

func (s *memberService) Add(ctx context.Context, projectID uuid.UUID, userID, role string) (*models.ProjectMember, error) {
	if err := validateMember(userID, role); err != nil {
		return nil, err
	}
	if err := s.access.RequireProjectRole(ctx, projectID, models.AccessManage); err != nil {
		return nil, err
	}

	member := &models.ProjectMember{
		ProjectID: projectID,
		UserID:    strings.TrimSpace(userID),
		Role:      role,
	}
	if err := s.memberRepo.Add(ctx, member); err != nil {
		return nil, err
	}

	s.auditor.LogMembershipChange(ctx, projectID, audit.MembershipDetails{
		Action:       "added",
		TargetUserID: member.UserID,
		Role:         role,
	})
	return member, nil
}

func (s *memberService) UpdateRole(ctx context.Context, projectID uuid.UUID, userID, role string) error {
	if err := validateMember(userID, role); err != nil {
		return err
	}
	if err := s.access.RequireProjectRole(ctx, projectID, models.AccessManage); err != nil {
		return err
	}
	if err := s.memberRepo.UpdateRoleWithAdminCheck(ctx, projectID, userID, role); err != nil {
		return err
	}
	s.auditor.LogMembershipChange(ctx, projectID, audit.MembershipDetails{
		Action:       "role_updated",
		TargetUserID: userID,
		Role:         role,
	})
	return nil
}

func (s *memberService) Remove(ctx context.Context, projectID uuid.UUID, userID string) error {
	if err := s.access.RequireProjectRole(ctx, projectID, models.AccessManage); err != nil {
		return err
	}
	if err := s.memberRepo.RemoveWithAdminCheck(ctx, projectID, userID); err != nil {
		return err
	}
	s.auditor.LogMembershipChange(ctx, projectID, audit.MembershipDetails{
		Action:       "removed",
		TargetUserID: userID,
	})
	return nil
}

func validateMember(userID, role string) error {
	if strings.TrimSpace(userID) == "" {
		return apperrors.NewValidationError("user_id", "is required")
	}
	if !models.IsValidRole(role) {
		return apperrors.NewValidationError("role", fmt.Sprintf("must be one of %s", strings.Join(models.ValidRoles, ", ")))
	}
	return nil
}
