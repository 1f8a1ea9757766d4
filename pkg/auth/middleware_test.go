package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

// mockAuthService is a mock implementation of AuthService for testing.
type mockAuthService struct {
	claims      *Claims
	token       string
	validateErr error
	subjectErr  error
}

func (m *mockAuthService) ValidateRequest(r *http.Request) (*Claims, string, error) {
	if m.validateErr != nil {
		return nil, "", m.validateErr
	}
	return m.claims, m.token, nil
}

func (m *mockAuthService) RequireSubject(claims *Claims) error {
	return m.subjectErr
}

func TestMiddleware_RequireAuth_Success(t *testing.T) {
	authService := &mockAuthService{claims: subjectClaims("user-123"), token: "test-token"}
	middleware := NewMiddleware(authService, zap.NewNop())

	var ctxUserID, ctxToken string
	handler := middleware.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		ctxUserID = GetUserIDFromContext(r.Context())
		ctxToken, _ = GetToken(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/test", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if ctxUserID != "user-123" {
		t.Errorf("expected user-123 in context, got %q", ctxUserID)
	}
	if ctxToken != "test-token" {
		t.Errorf("expected token 'test-token' in context, got %q", ctxToken)
	}
}

func TestMiddleware_RequireAuth_Unauthorized(t *testing.T) {
	tests := []struct {
		name        string
		authService *mockAuthService
	}{
		{name: "invalid token", authService: &mockAuthService{validateErr: ErrMissingAuthorization}},
		{name: "missing subject", authService: &mockAuthService{claims: &Claims{}, subjectErr: ErrMissingSubject}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			middleware := NewMiddleware(tt.authService, zap.NewNop())
			handler := middleware.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
				t.Error("handler should not be called")
			})

			rec := httptest.NewRecorder()
			handler(rec, httptest.NewRequest(http.MethodGet, "/api/test", nil))

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected status 401, got %d", rec.Code)
			}

			var response map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if response["success"] != false {
				t.Errorf("expected success=false, got %v", response["success"])
			}
			if response["error"] != "unauthenticated" {
				t.Errorf("expected error 'unauthenticated', got %v", response["error"])
			}
		})
	}
}

func TestRequireUserIDFromContext(t *testing.T) {
	if _, err := RequireUserIDFromContext(context.Background()); err == nil {
		t.Error("expected error without claims")
	}

	ctx := WithClaims(context.Background(), subjectClaims("user-9"))
	userID, err := RequireUserIDFromContext(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "user-9" {
		t.Errorf("expected user-9, got %q", userID)
	}
}
