package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evalkit-dev/evalkit-engine/pkg/apperrors"
	"github.com/evalkit-dev/evalkit-engine/pkg/auth"
	"github.com/evalkit-dev/evalkit-engine/pkg/services"
)

// RegisterUploadRequest is the body of POST /api/datasets/{did}/uploads.
type RegisterUploadRequest struct {
	BlobName string `json:"blob_name"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
}

func (req *RegisterUploadRequest) validate() error {
	if req.BlobName == "" {
		return apperrors.NewValidationError("blob_name", "is required")
	}
	if req.FileName == "" {
		return apperrors.NewValidationError("file_name", "is required")
	}
	if req.FileSize <= 0 {
		return apperrors.NewValidationError("file_size", "must be positive")
	}
	return nil
}

// HideUploadsRequest is the body of POST /api/uploads/hide.
type HideUploadsRequest struct {
	IDs []uuid.UUID `json:"ids"`
}

// UploadsHandler handles upload URLs and the upload registry.
type UploadsHandler struct {
	uploadService services.UploadService
	logger        *zap.Logger
}

// NewUploadsHandler creates a new uploads handler.
func NewUploadsHandler(uploadService services.UploadService, logger *zap.Logger) *UploadsHandler {
	return &UploadsHandler{
		uploadService: uploadService,
		logger:        logger,
	}
}

// RegisterRoutes registers the uploads handler's routes on the given mux.
func (h *UploadsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope ScopeMiddleware) {
	mux.HandleFunc("POST /api/projects/{pid}/upload-url", authMiddleware.RequireAuth(scope(h.GetUploadURL)))
	mux.HandleFunc("POST /api/datasets/{did}/uploads", authMiddleware.RequireAuth(scope(h.Register)))
	mux.HandleFunc("GET /api/datasets/{did}/uploads", authMiddleware.RequireAuth(scope(h.List)))
	mux.HandleFunc("GET /api/uploads/{uid}", authMiddleware.RequireAuth(scope(h.Get)))
	mux.HandleFunc("POST /api/uploads/hide", authMiddleware.RequireAuth(scope(h.Hide)))
}

// GetUploadURL handles POST /api/projects/{pid}/upload-url
// Returns a short-lived URL the client PUTs the file to directly.
func (h *UploadsHandler) GetUploadURL(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	url, err := h.uploadService.GetUploadURL(r.Context(), projectID)
	if err != nil {
		writeServiceError(w, err, "issue upload url", h.logger)
		return
	}
	writeData(w, http.StatusOK, url, h.logger)
}

// Register handles POST /api/datasets/{did}/uploads
func (h *UploadsHandler) Register(w http.ResponseWriter, r *http.Request) {
	datasetID, ok := ParseDatasetID(w, r, h.logger)
	if !ok {
		return
	}

	var req RegisterUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, err, "register upload", h.logger)
		return
	}
	if err := req.validate(); err != nil {
		writeServiceError(w, err, "register upload", h.logger)
		return
	}

	upload, err := h.uploadService.RegisterUpload(r.Context(), services.RegisterUploadRequest{
		DatasetID: datasetID,
		BlobName:  req.BlobName,
		FileName:  req.FileName,
		FileSize:  req.FileSize,
	})
	if err != nil {
		writeServiceError(w, err, "register upload", h.logger)
		return
	}
	writeData(w, http.StatusCreated, upload, h.logger)
}

// List handles GET /api/datasets/{did}/uploads
// Hidden uploads are omitted.
func (h *UploadsHandler) List(w http.ResponseWriter, r *http.Request) {
	datasetID, ok := ParseDatasetID(w, r, h.logger)
	if !ok {
		return
	}

	uploads, err := h.uploadService.ListUploads(r.Context(), datasetID)
	if err != nil {
		writeServiceError(w, err, "list uploads", h.logger)
		return
	}
	writeData(w, http.StatusOK, uploads, h.logger)
}

// Get handles GET /api/uploads/{uid}
func (h *UploadsHandler) Get(w http.ResponseWriter, r *http.Request) {
	uploadID, ok := ParseUploadID(w, r, h.logger)
	if !ok {
		return
	}

	upload, err := h.uploadService.GetUpload(r.Context(), uploadID)
	if err != nil {
		writeServiceError(w, err, "get upload", h.logger)
		return
	}
	writeData(w, http.StatusOK, upload, h.logger)
}

// Hide handles POST /api/uploads/hide
// An empty id list is reported as success:false with HTTP 200.
func (h *UploadsHandler) Hide(w http.ResponseWriter, r *http.Request) {
	var req HideUploadsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, err, "hide uploads", h.logger)
		return
	}

	if err := h.uploadService.HideUploads(r.Context(), req.IDs); err != nil {
		writeServiceError(w, err, "hide uploads", h.logger)
		return
	}
	writeData(w, http.StatusOK, nil, h.logger)
}
