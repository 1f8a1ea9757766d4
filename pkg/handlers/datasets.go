package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/evalkit-dev/evalkit-engine/pkg/apperrors"
	"github.com/evalkit-dev/evalkit-engine/pkg/auth"
	"github.com/evalkit-dev/evalkit-engine/pkg/services"
)

// DatasetRequest is the body of dataset create and update calls.
type DatasetRequest struct {
	Name string `json:"name"`
}

func (req *DatasetRequest) validate() error {
	if strings.TrimSpace(req.Name) == "" {
		return apperrors.NewValidationError("name", "is required")
	}
	return nil
}

// DatasetsHandler handles dataset and dataset entry requests.
type DatasetsHandler struct {
	datasetService services.DatasetService
	logger         *zap.Logger
}

// NewDatasetsHandler creates a new datasets handler.
func NewDatasetsHandler(datasetService services.DatasetService, logger *zap.Logger) *DatasetsHandler {
	return &DatasetsHandler{
		datasetService: datasetService,
		logger:         logger,
	}
}

// RegisterRoutes registers the datasets handler's routes on the given mux.
func (h *DatasetsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope ScopeMiddleware) {
	mux.HandleFunc("GET /api/projects/{pid}/datasets", authMiddleware.RequireAuth(scope(h.List)))
	mux.HandleFunc("POST /api/projects/{pid}/datasets", authMiddleware.RequireAuth(scope(h.Create)))
	mux.HandleFunc("GET /api/datasets/{did}", authMiddleware.RequireAuth(scope(h.Get)))
	mux.HandleFunc("PATCH /api/datasets/{did}", authMiddleware.RequireAuth(scope(h.Update)))
	mux.HandleFunc("DELETE /api/datasets/{did}", authMiddleware.RequireAuth(scope(h.Delete)))
	mux.HandleFunc("GET /api/datasets/{did}/entries", authMiddleware.RequireAuth(scope(h.ListEntries)))
}

// List handles GET /api/projects/{pid}/datasets
func (h *DatasetsHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	datasets, err := h.datasetService.List(r.Context(), projectID)
	if err != nil {
		writeServiceError(w, err, "list datasets", h.logger)
		return
	}
	writeData(w, http.StatusOK, datasets, h.logger)
}

// Create handles POST /api/projects/{pid}/datasets
func (h *DatasetsHandler) Create(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	var req DatasetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, err, "create dataset", h.logger)
		return
	}
	if err := req.validate(); err != nil {
		writeServiceError(w, err, "create dataset", h.logger)
		return
	}

	dataset, err := h.datasetService.Create(r.Context(), projectID, req.Name)
	if err != nil {
		writeServiceError(w, err, "create dataset", h.logger)
		return
	}
	writeData(w, http.StatusCreated, dataset, h.logger)
}

// Get handles GET /api/datasets/{did}
func (h *DatasetsHandler) Get(w http.ResponseWriter, r *http.Request) {
	datasetID, ok := ParseDatasetID(w, r, h.logger)
	if !ok {
		return
	}

	dataset, err := h.datasetService.Get(r.Context(), datasetID)
	if err != nil {
		writeServiceError(w, err, "get dataset", h.logger)
		return
	}
	writeData(w, http.StatusOK, dataset, h.logger)
}

// Update handles PATCH /api/datasets/{did}
func (h *DatasetsHandler) Update(w http.ResponseWriter, r *http.Request) {
	datasetID, ok := ParseDatasetID(w, r, h.logger)
	if !ok {
		return
	}

	var req DatasetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, err, "update dataset", h.logger)
		return
	}
	if err := req.validate(); err != nil {
		writeServiceError(w, err, "update dataset", h.logger)
		return
	}

	dataset, err := h.datasetService.Update(r.Context(), datasetID, req.Name)
	if err != nil {
		writeServiceError(w, err, "update dataset", h.logger)
		return
	}
	writeData(w, http.StatusOK, dataset, h.logger)
}

// Delete handles DELETE /api/datasets/{did}
func (h *DatasetsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	datasetID, ok := ParseDatasetID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.datasetService.Delete(r.Context(), datasetID); err != nil {
		writeServiceError(w, err, "delete dataset", h.logger)
		return
	}
	writeData(w, http.StatusOK, nil, h.logger)
}

// ListEntries handles GET /api/datasets/{did}/entries?limit=&offset=
func (h *DatasetsHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	datasetID, ok := ParseDatasetID(w, r, h.logger)
	if !ok {
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		writeServiceError(w, err, "list entries", h.logger)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeServiceError(w, err, "list entries", h.logger)
		return
	}

	page, err := h.datasetService.ListEntries(r.Context(), datasetID, limit, offset)
	if err != nil {
		writeServiceError(w, err, "list entries", h.logger)
		return
	}
	writeData(w, http.StatusOK, page, h.logger)
}

// queryInt reads an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apperrors.NewValidationError(name, "must be a non-negative integer")
	}
	return v, nil
}
