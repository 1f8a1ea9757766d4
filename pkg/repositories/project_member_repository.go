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

// ProjectMemberRepository defines the interface for project membership data access.
type ProjectMemberRepository interface {
	// Add inserts a membership. Returns ErrConflict if the user is already a member
	// and ErrNotFound if the project does not exist.
	Add(ctx context.Context, member *models.ProjectMember) error
	// GetRole returns the caller's role in the project, or ErrNotFound for non-members.
	GetRole(ctx context.Context, projectID uuid.UUID, userID string) (string, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.ProjectMember, error)
	// RemoveWithAdminCheck atomically removes a member, returning ErrLastAdmin if
	// attempting to remove the last admin from a project.
	RemoveWithAdminCheck(ctx context.Context, projectID uuid.UUID, userID string) error
	// UpdateRoleWithAdminCheck atomically updates a member's role, returning ErrLastAdmin
	// if attempting to demote the last admin of a project.
	UpdateRoleWithAdminCheck(ctx context.Context, projectID uuid.UUID, userID, newRole string) error
}

// projectMemberRepository implements ProjectMemberRepository using PostgreSQL.
type projectMemberRepository struct{}

// NewProjectMemberRepository creates a new project member repository.
func NewProjectMemberRepository() ProjectMemberRepository {
	return &projectMemberRepository{}
}

var _ ProjectMemberRepository = (*projectMemberRepository)(nil)

// Add adds a user to a project with the specified role.
func (r *projectMemberRepository) Add(ctx context.Context, member *models.ProjectMember) error {
	q, err := database.QuerierFromContext(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	member.CreatedAt = now
	member.UpdatedAt = now

	query := `
		INSERT INTO project_members (project_id, user_id, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err = q.Exec(ctx, query, member.ProjectID, member.UserID, member.Role, member.CreatedAt, member.UpdatedAt)
	if err != nil {
		switch {
		case hasPgCode(err, pgerrcode.UniqueViolation):
			return apperrors.ErrConflict
		case hasPgCode(err, pgerrcode.ForeignKeyViolation):
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to add member: %w", err)
	}

	return nil
}

// GetRole returns the member's role within the project.
func (r *projectMemberRepository) GetRole(ctx context.Context, projectID uuid.UUID, userID string) (string, error) {
	q, err := database.QuerierFromContext(ctx)
	if err != nil {
		return "", err
	}

	var role string
	err = q.QueryRow(ctx,
		`SELECT role FROM project_members WHERE project_id = $1 AND user_id = $2`,
		projectID, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperrors.ErrNotFound
		}
		return "", fmt.Errorf("failed to get member role: %w", err)
	}

	return role, nil
}

// ListByProject retrieves all members of a project.
func (r *projectMemberRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.ProjectMember, error) {
	q, err := database.QuerierFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT project_id, user_id, role, created_at, updated_at
		FROM project_members
		WHERE project_id = $1
		ORDER BY created_at`

	rows, err := q.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	members := make([]*models.ProjectMember, 0)
	for rows.Next() {
		var m models.ProjectMember
		if err := rows.Scan(&m.ProjectID, &m.UserID, &m.Role, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating members: %w", err)
	}

	return members, nil
}

// RemoveWithAdminCheck removes a member unless they are the project's last admin.
// The admin rows are locked so concurrent removals cannot both pass the check.
func (r *projectMemberRepository) RemoveWithAdminCheck(ctx context.Context, projectID uuid.UUID, userID string) error {
	return database.InTx(ctx, func(ctx context.Context) error {
		q, err := database.QuerierFromContext(ctx)
		if err != nil {
			return err
		}

		role, adminCount, err := lockMemberAndAdmins(ctx, q, projectID, userID)
		if err != nil {
			return err
		}
		if role == models.RoleAdmin && adminCount <= 1 {
			return apperrors.ErrLastAdmin
		}

		if _, err := q.Exec(ctx,
			`DELETE FROM project_members WHERE project_id = $1 AND user_id = $2`,
			projectID, userID); err != nil {
			return fmt.Errorf("failed to remove member: %w", err)
		}
		return nil
	})
}

// UpdateRoleWithAdminCheck changes a member's role unless it would leave the
// project without an admin.
func (r *projectMemberRepository) UpdateRoleWithAdminCheck(ctx context.Context, projectID uuid.UUID, userID, newRole string) error {
	return database.InTx(ctx, func(ctx context.Context) error {
		q, err := database.QuerierFromContext(ctx)
		if err != nil {
			return err
		}

		role, adminCount, err := lockMemberAndAdmins(ctx, q, projectID, userID)
		if err != nil {
			return err
		}
		if role == models.RoleAdmin && newRole != models.RoleAdmin && adminCount <= 1 {
			return apperrors.ErrLastAdmin
		}

		if _, err := q.Exec(ctx,
			`UPDATE project_members SET role = $1, updated_at = $2 WHERE project_id = $3 AND user_id = $4`,
			newRole, time.Now(), projectID, userID); err != nil {
			return fmt.Errorf("failed to update member: %w", err)
		}
		return nil
	})
}

// lockMemberAndAdmins locks the target membership and the project's admin rows,
// returning the target's current role and the number of admins.
func lockMemberAndAdmins(ctx context.Context, q database.Querier, projectID uuid.UUID, userID string) (string, int, error) {
	var role string
	err := q.QueryRow(ctx,
		`SELECT role FROM project_members WHERE project_id = $1 AND user_id = $2 FOR UPDATE`,
		projectID, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", 0, apperrors.ErrNotFound
		}
		return "", 0, fmt.Errorf("failed to lock member: %w", err)
	}

	rows, err := q.Query(ctx,
		`SELECT user_id FROM project_members WHERE project_id = $1 AND role = 'admin' FOR UPDATE`,
		projectID)
	if err != nil {
		return "", 0, fmt.Errorf("failed to lock admins: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		count++
	}
	if err := rows.Err(); err != nil {
		return "", 0, fmt.Errorf("error iterating admins: %w", err)
	}

	return role, count, nil
}
