package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func staticLookup(ctx context.Context, apiKey string) (string, error) {
	if apiKey == "valid-key" {
		return "producer", nil
	}
	return "", ErrInvalidKey
}

func TestBearerAuth_ValidKey(t *testing.T) {
	handler := BearerAuth(staticLookup)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := ClientFromContext(r.Context()); got != "producer" {
			t.Errorf("ClientFromContext() = %q, want %q", got, "producer")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer valid-key")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestBearerAuth_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"basic scheme", "Basic some-credentials"},
		{"no token", "Bearer"},
		{"empty token", "Bearer "},
		{"unknown key", "Bearer invalid-key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := BearerAuth(staticLookup)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("handler should not be called")
			}))

			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
			if rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("WWW-Authenticate header not set")
			}
		})
	}
}

func TestClientFromContext_None(t *testing.T) {
	if got := ClientFromContext(context.Background()); got != "" {
		t.Errorf("ClientFromContext() = %q, want empty", got)
	}
}
