package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func testHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestMiddlewareDisabled(t *testing.T) {
	h := Middleware(Config{Enabled: false})(testHandler())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/session/solve", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("disabled auth: status %d", rec.Code)
	}
}

func TestMiddlewareEnforcesToken(t *testing.T) {
	h := Middleware(Config{Enabled: true, Token: "s3cret"})(testHandler())

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic s3cret", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer s3cret", http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/session/solve", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("%s: status %d, want %d", tc.name, rec.Code, tc.want)
		}
	}
}

func TestExemptPaths(t *testing.T) {
	h := Middleware(Config{Enabled: true, Token: "s3cret"})(testHandler())

	open := []string{
		"/healthz",
		"/readyz",
		"/metrics",
		"/api/v1/session",
		"/api/v1/runs",
		"/api/v1/runs/7",
		"/api/v1/stream/alignment",
	}
	for _, path := range open {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Errorf("%s: status %d, want exempt", path, rec.Code)
		}
	}

	protected := []string{
		"/api/v1/session/reset",
		"/api/v1/session/samples",
		"/api/v1/session/solve",
		"/api/v1/session/refresh",
		"/api/v1/session/corrected-pixel",
		"/api/v1/session/pixel-error",
	}
	for _, path := range protected {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status %d, want 401", path, rec.Code)
		}
	}
}
