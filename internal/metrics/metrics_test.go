package metrics

import "testing"

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		// Known exact routes.
		{"/healthz", "/healthz"},
		{"/readyz", "/readyz"},
		{"/metrics", "/metrics"},
		{"/", "/"},
		{"/api/v1/session", "/api/v1/session"},
		{"/api/v1/session/reset", "/api/v1/session/reset"},
		{"/api/v1/session/samples", "/api/v1/session/samples"},
		{"/api/v1/session/solve", "/api/v1/session/solve"},
		{"/api/v1/session/refresh", "/api/v1/session/refresh"},
		{"/api/v1/session/corrected-pixel", "/api/v1/session/corrected-pixel"},
		{"/api/v1/session/pixel-error", "/api/v1/session/pixel-error"},
		{"/api/v1/runs", "/api/v1/runs"},
		{"/api/v1/stream/alignment", "/api/v1/stream/alignment"},

		// Parameterized run routes collapse to one label.
		{"/api/v1/runs/1", "/api/v1/runs/{id}"},
		{"/api/v1/runs/42", "/api/v1/runs/{id}"},
		{"/api/v1/runs/99999", "/api/v1/runs/{id}"},

		// Unknown/bot paths collapse to "other".
		{"/wp-admin", "other"},
		{"/robots.txt", "other"},
		{"/.env", "other"},
		{"/api/v2/something", "other"},
		{"/api/v1/runs/latest", "other"},
		{"/favicon.ico", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := normalizeRoute(tt.path)
			if got != tt.want {
				t.Errorf("normalizeRoute(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

// TestMetricsCardinality verifies that many distinct run ids produce exactly
// one distinct path label.
func TestMetricsCardinality(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		label := normalizeRoute("/api/v1/runs/" + string(rune('1'+i%9)) + string(rune('0'+i/10)))
		seen[label] = true
	}
	if len(seen) != 1 {
		t.Errorf("expected 1 unique label for parameterized paths, got %d: %v", len(seen), seen)
	}
}
