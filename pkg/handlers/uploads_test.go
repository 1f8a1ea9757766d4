package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evalkit-dev/evalkit-engine/pkg/apperrors"
	"github.com/evalkit-dev/evalkit-engine/pkg/models"
)

func TestUploadsHandler_GetUploadURL(t *testing.T) {
	svc := &mockUploadService{url: &models.UploadURL{
		URL:       "https://bucket.s3.amazonaws.com/projects/x/uploads/y?X-Amz-Signature=z",
		Container: "bucket",
		BlobName:  "projects/x/uploads/y",
		ExpiresAt: time.Now().Add(15 * time.Minute),
	}}
	handler := NewUploadsHandler(svc, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.SetPathValue("pid", uuid.NewString())
	rec := httptest.NewRecorder()
	handler.GetUploadURL(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var url models.UploadURL
	decodeData(t, rec, &url)
	if url.BlobName != "projects/x/uploads/y" || url.Container != "bucket" {
		t.Errorf("unexpected upload url: %+v", url)
	}
}

func TestUploadsHandler_Register(t *testing.T) {
	uploadID := uuid.New()
	svc := &mockUploadService{upload: &models.FileUpload{ID: uploadID, Status: models.UploadStatusPending, Visible: true}}
	handler := NewUploadsHandler(svc, zap.NewNop())

	datasetID := uuid.New()
	body := `{"blob_name":"b1","file_name":"train.jsonl","file_size":2048}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.SetPathValue("did", datasetID.String())
	rec := httptest.NewRecorder()
	handler.Register(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var upload models.FileUpload
	decodeData(t, rec, &upload)
	if upload.ID != uploadID || upload.Status != models.UploadStatusPending {
		t.Errorf("unexpected upload: %+v", upload)
	}
	if svc.registered.DatasetID != datasetID || svc.registered.BlobName != "b1" || svc.registered.FileSize != 2048 {
		t.Errorf("unexpected service request: %+v", svc.registered)
	}
}

func TestUploadsHandler_Register_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"blob_name":`},
		{"missing blob", `{"file_name":"f","file_size":1}`},
		{"zero size", `{"blob_name":"b","file_name":"f","file_size":0}`},
		{"size as string", `{"blob_name":"b","file_name":"f","file_size":"1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockUploadService{}
			handler := NewUploadsHandler(svc, zap.NewNop())

			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			req.SetPathValue("did", uuid.NewString())
			rec := httptest.NewRecorder()
			handler.Register(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", rec.Code)
			}
			if resp := decodeData(t, rec, nil); resp.Error != "validation_error" {
				t.Errorf("expected validation_error, got %q", resp.Error)
			}
			if svc.calls != 0 {
				t.Error("service must not be called for invalid input")
			}
		})
	}
}

func TestUploadsHandler_Hide_EmptyListIsOperationError(t *testing.T) {
	svc := &mockUploadService{err: apperrors.NewOperationError("No file upload ids provided")}
	handler := NewUploadsHandler(svc, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/uploads/hide", strings.NewReader(`{"ids":[]}`))
	rec := httptest.NewRecorder()
	handler.Hide(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	resp := decodeData(t, rec, nil)
	if resp.Success {
		t.Error("expected success=false")
	}
	if resp.Error != "operation_error" || resp.Message != "No file upload ids provided" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestUploadsHandler_Hide(t *testing.T) {
	svc := &mockUploadService{}
	handler := NewUploadsHandler(svc, zap.NewNop())
	a, b := uuid.New(), uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/api/uploads/hide",
		strings.NewReader(`{"ids":["`+a.String()+`","`+b.String()+`"]}`))
	rec := httptest.NewRecorder()
	handler.Hide(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if resp := decodeData(t, rec, nil); !resp.Success {
		t.Errorf("expected success, got %+v", resp)
	}
	if len(svc.hidden) != 2 || svc.hidden[0] != a || svc.hidden[1] != b {
		t.Errorf("unexpected ids passed to service: %v", svc.hidden)
	}
}

func TestUploadsHandler_Hide_InvalidID(t *testing.T) {
	svc := &mockUploadService{}
	handler := NewUploadsHandler(svc, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/uploads/hide", strings.NewReader(`{"ids":["nope"]}`))
	rec := httptest.NewRecorder()
	handler.Hide(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
	if svc.calls != 0 {
		t.Error("service must not be called for invalid ids")
	}
}

func TestUploadsHandler_Get_Forbidden(t *testing.T) {
	handler := NewUploadsHandler(&mockUploadService{err: apperrors.ErrUnauthorized}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetPathValue("uid", uuid.NewString())
	rec := httptest.NewRecorder()
	handler.Get(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected status 403, got %d", rec.Code)
	}
}
