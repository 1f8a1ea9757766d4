package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/evalkit-dev/evalkit-engine/pkg/apperrors"
)

// maxRequestBodyBytes caps JSON request bodies.
const maxRequestBodyBytes = 1 << 20

// ApiResponse wraps data in the format expected by the frontend.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	return WriteJSON(w, statusCode, ApiResponse{
		Success: false,
		Error:   errorCode,
		Message: message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// writeData writes a successful ApiResponse carrying data.
func writeData(w http.ResponseWriter, statusCode int, data any, logger *zap.Logger) {
	if err := WriteJSON(w, statusCode, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, statusCode int, errorCode, message string, logger *zap.Logger) {
	if err := ErrorResponse(w, statusCode, errorCode, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

// writeServiceError maps a service error onto the HTTP error contract.
// Unexpected errors are logged and reported without detail.
func writeServiceError(w http.ResponseWriter, err error, action string, logger *zap.Logger) {
	var validationErr *apperrors.ValidationError
	var operationErr *apperrors.OperationError

	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, "validation_error", validationErr.Error(), logger)
	case errors.As(err, &operationErr):
		// Expected user mistakes are not HTTP failures.
		writeError(w, http.StatusOK, "operation_error", operationErr.Message, logger)
	case errors.Is(err, apperrors.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Resource not found", logger)
	case errors.Is(err, apperrors.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "unauthorized", "You do not have access to this resource", logger)
	case errors.Is(err, apperrors.ErrLastAdmin):
		writeError(w, http.StatusConflict, "last_admin", "A project must keep at least one admin", logger)
	case errors.Is(err, apperrors.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", "Resource already exists", logger)
	default:
		logger.Error("Failed to "+action, zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to "+action, logger)
	}
}

// decodeJSON decodes a request body into dst, rejecting unknown fields.
// It returns a *apperrors.ValidationError for malformed input.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.NewValidationError("body", "request body is required")
		}
		return apperrors.NewValidationError("body", fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}
