package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/evalkit-dev/evalkit-engine/pkg/apperrors"
	"github.com/evalkit-dev/evalkit-engine/pkg/auth"
	"github.com/evalkit-dev/evalkit-engine/pkg/services"
)

// ScopeMiddleware wraps a handler with a request-scoped database connection.
type ScopeMiddleware func(http.HandlerFunc) http.HandlerFunc

// CreateProjectRequest is the body of POST /api/projects.
type CreateProjectRequest struct {
	Name string `json:"name"`
}

func (req *CreateProjectRequest) validate() error {
	if strings.TrimSpace(req.Name) == "" {
		return apperrors.NewValidationError("name", "is required")
	}
	return nil
}

// ProjectsHandler handles project-related HTTP requests.
type ProjectsHandler struct {
	projectService services.ProjectService
	logger         *zap.Logger
}

// NewProjectsHandler creates a new projects handler.
func NewProjectsHandler(projectService services.ProjectService, logger *zap.Logger) *ProjectsHandler {
	return &ProjectsHandler{
		projectService: projectService,
		logger:         logger,
	}
}

// RegisterRoutes registers the projects handler's routes on the given mux.
func (h *ProjectsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope ScopeMiddleware) {
	mux.HandleFunc("POST /api/projects", authMiddleware.RequireAuth(scope(h.Create)))
	mux.HandleFunc("GET /api/projects", authMiddleware.RequireAuth(scope(h.List)))
	mux.HandleFunc("GET /api/projects/{pid}", authMiddleware.RequireAuth(scope(h.Get)))
	mux.HandleFunc("DELETE /api/projects/{pid}", authMiddleware.RequireAuth(scope(h.Delete)))
}

// Create handles POST /api/projects
// The caller becomes the project's admin.
func (h *ProjectsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, err, "create project", h.logger)
		return
	}
	if err := req.validate(); err != nil {
		writeServiceError(w, err, "create project", h.logger)
		return
	}

	project, err := h.projectService.Create(r.Context(), req.Name)
	if err != nil {
		writeServiceError(w, err, "create project", h.logger)
		return
	}
	writeData(w, http.StatusCreated, project, h.logger)
}

// List handles GET /api/projects
func (h *ProjectsHandler) List(w http.ResponseWriter, r *http.Request) {
	projects, err := h.projectService.List(r.Context())
	if err != nil {
		writeServiceError(w, err, "list projects", h.logger)
		return
	}
	writeData(w, http.StatusOK, projects, h.logger)
}

// Get handles GET /api/projects/{pid}
func (h *ProjectsHandler) Get(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	project, err := h.projectService.Get(r.Context(), projectID)
	if err != nil {
		writeServiceError(w, err, "get project", h.logger)
		return
	}
	writeData(w, http.StatusOK, project, h.logger)
}

// Delete handles DELETE /api/projects/{pid}
// Deletes a project with its datasets, entries and uploads.
func (h *ProjectsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.projectService.Delete(r.Context(), projectID); err != nil {
		writeServiceError(w, err, "delete project", h.logger)
		return
	}
	writeData(w, http.StatusOK, nil, h.logger)
}
