package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/evalkit-dev/evalkit-engine/pkg/apperrors"
	"github.com/evalkit-dev/evalkit-engine/pkg/auth"
	"github.com/evalkit-dev/evalkit-engine/pkg/services"
)

// AddMemberRequest is the body of POST /api/projects/{pid}/members.
type AddMemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// UpdateMemberRequest is the body of PUT /api/projects/{pid}/members/{uid}.
type UpdateMemberRequest struct {
	Role string `json:"role"`
}

// MembersHandler handles project membership.
type MembersHandler struct {
	memberService services.MemberService
	logger        *zap.Logger
}

// NewMembersHandler creates a new members handler.
func NewMembersHandler(memberService services.MemberService, logger *zap.Logger) *MembersHandler {
	return &MembersHandler{
		memberService: memberService,
		logger:        logger,
	}
}

// RegisterRoutes registers the members handler's routes on the given mux.
func (h *MembersHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope ScopeMiddleware) {
	mux.HandleFunc("GET /api/projects/{pid}/members", authMiddleware.RequireAuth(scope(h.List)))
	mux.HandleFunc("POST /api/projects/{pid}/members", authMiddleware.RequireAuth(scope(h.Add)))
	mux.HandleFunc("PUT /api/projects/{pid}/members/{uid}", authMiddleware.RequireAuth(scope(h.UpdateRole)))
	mux.HandleFunc("DELETE /api/projects/{pid}/members/{uid}", authMiddleware.RequireAuth(scope(h.Remove)))
}

// List handles GET /api/projects/{pid}/members
func (h *MembersHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	members, err := h.memberService.List(r.Context(), projectID)
	if err != nil {
		writeServiceError(w, err, "list members", h.logger)
		return
	}
	writeData(w, http.StatusOK, members, h.logger)
}

// Add handles POST /api/projects/{pid}/members
func (h *MembersHandler) Add(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	var req AddMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, err, "add member", h.logger)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeServiceError(w, apperrors.NewValidationError("user_id", "is required"), "add member", h.logger)
		return
	}

	member, err := h.memberService.Add(r.Context(), projectID, req.UserID, req.Role)
	if err != nil {
		writeServiceError(w, err, "add member", h.logger)
		return
	}
	writeData(w, http.StatusCreated, member, h.logger)
}

// UpdateRole handles PUT /api/projects/{pid}/members/{uid}
func (h *MembersHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	var req UpdateMemberRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, err, "update member", h.logger)
		return
	}

	if err := h.memberService.UpdateRole(r.Context(), projectID, r.PathValue("uid"), req.Role); err != nil {
		writeServiceError(w, err, "update member", h.logger)
		return
	}
	writeData(w, http.StatusOK, nil, h.logger)
}

// Remove handles DELETE /api/projects/{pid}/members/{uid}
func (h *MembersHandler) Remove(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.memberService.Remove(r.Context(), projectID, r.PathValue("uid")); err != nil {
		writeServiceError(w, err, "remove member", h.logger)
		return
	}
	writeData(w, http.StatusOK, nil, h.logger)
}
