// Package audit provides security audit logging for SIEM consumption.
// It logs security-relevant events in structured JSON format for easy parsing
// and integration with security information and event management systems.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evalkit-dev/evalkit-engine/pkg/auth"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventAccessDenied is logged when a caller lacks the role an operation needs.
	EventAccessDenied SecurityEventType = "access_denied"
	// EventMembershipChanged is logged when a project member is added, re-roled or removed.
	EventMembershipChanged SecurityEventType = "membership_changed"
)

// SecurityEvent represents an auditable security event with all relevant context
// for SIEM ingestion and analysis.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	ProjectID uuid.UUID         `json:"project_id"`
	UserID    string            `json:"user_id,omitempty"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// AccessDeniedDetails describes a rejected access check.
type AccessDeniedDetails struct {
	Role     string `json:"role,omitempty"` // empty when the caller is not a member
	Required string `json:"required"`
}

// MembershipDetails describes a membership change. Role is empty on removal.
type MembershipDetails struct {
	Action       string `json:"action"` // added, role_updated, removed
	TargetUserID string `json:"target_user_id"`
	Role         string `json:"role,omitempty"`
}

// SecurityAuditor logs security events for SIEM consumption.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a new security auditor with a dedicated logger namespace.
// The logger is named "security_audit" for easy filtering in SIEM systems.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogAccessDenied records a failed project role check at WARN level.
// The caller is taken from the JWT claims in ctx.
func (a *SecurityAuditor) LogAccessDenied(ctx context.Context, projectID uuid.UUID, details AccessDeniedDetails) {
	userID := auth.GetUserIDFromContext(ctx)

	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventAccessDenied,
		ProjectID: projectID,
		UserID:    userID,
		Details:   details,
		Severity:  "warning",
	}

	// Marshaling known types cannot fail
	eventJSON, _ := json.Marshal(event)

	a.logger.Warn("Project access denied",
		zap.String("event_json", string(eventJSON)),
		zap.String("project_id", projectID.String()),
		zap.String("user_id", userID),
		zap.String("role", details.Role),
		zap.String("required", details.Required),
		zap.String("severity", "warning"),
	)
}

// LogMembershipChange records a membership change at INFO level.
func (a *SecurityAuditor) LogMembershipChange(ctx context.Context, projectID uuid.UUID, details MembershipDetails) {
	userID := auth.GetUserIDFromContext(ctx)

	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventMembershipChanged,
		ProjectID: projectID,
		UserID:    userID,
		Details:   details,
		Severity:  "info",
	}

	eventJSON, _ := json.Marshal(event)

	a.logger.Info("Project membership changed",
		zap.String("event_json", string(eventJSON)),
		zap.String("project_id", projectID.String()),
		zap.String("user_id", userID),
		zap.String("action", details.Action),
		zap.String("target_user_id", details.TargetUserID),
		zap.String("role", details.Role),
		zap.String("severity", "info"),
	)
}
