// Package models contains domain types for evalkit-engine.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Project is the authorization boundary that owns datasets.
type Project struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProjectMember represents a user's membership in a project.
type ProjectMember struct {
	ProjectID uuid.UUID `json:"project_id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"` // 'admin', 'member', 'viewer'
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role constants for members within a project.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleViewer = "viewer"
)

// ValidRoles contains all valid role values.
var ValidRoles = []string{RoleAdmin, RoleMember, RoleViewer}

// IsValidRole checks if the given role is valid.
func IsValidRole(role string) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}

// AccessLevel is the permission an operation requires on its project.
type AccessLevel string

const (
	AccessView   AccessLevel = "view"
	AccessModify AccessLevel = "modify"
	AccessManage AccessLevel = "manage"
)

// RoleAllows reports whether role satisfies the given access level.
// view: any role; modify: admin or member; manage: admin only.
func RoleAllows(role string, level AccessLevel) bool {
	switch level {
	case AccessView:
		return IsValidRole(role)
	case AccessModify:
		return role == RoleAdmin || role == RoleMember
	case AccessManage:
		return role == RoleAdmin
	default:
		return false
	}
}
