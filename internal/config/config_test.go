package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "polargo.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
http_addr: ":9090"
site:
  latitude_deg: 49.25
  longitude_deg: -123.1
solve:
  workers: 4
  max_pixel_search_range_deg: 5.5
spool:
  dir: /var/spool/solves
  settle_ms: 100
store:
  path: /var/lib/polargo/runs.db
stream:
  max_clients: 16
  keepalive_sec: 30
`)
	cfg, err := Load(path, discardLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.Site.LatitudeDeg != 49.25 || cfg.Site.LongitudeDeg != -123.1 {
		t.Errorf("site (%v, %v)", cfg.Site.LatitudeDeg, cfg.Site.LongitudeDeg)
	}
	if cfg.Solve.Workers != 4 || cfg.Solve.MaxPixelSearchRangeDeg != 5.5 {
		t.Errorf("solve %+v", cfg.Solve)
	}
	if cfg.Spool.Dir != "/var/spool/solves" || cfg.SpoolSettle().Milliseconds() != 100 {
		t.Errorf("spool %+v", cfg.Spool)
	}
	// Unset fields keep their defaults.
	if cfg.Stream.MaxClientsPerIP != 4 {
		t.Errorf("MaxClientsPerIP = %d, want default 4", cfg.Stream.MaxClientsPerIP)
	}
}

func TestLoadRequiresSite(t *testing.T) {
	if _, err := Load("", discardLogger()); err == nil {
		t.Error("Load accepted a configuration without a site location")
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
site:
  latitude_deg: 49.25
  longitude_deg: -123.1
`)
	t.Setenv("POLARGO_HTTP_ADDR", ":7070")
	t.Setenv("POLARGO_SITE_LAT", "-33.5")
	t.Setenv("POLARGO_SITE_LON", "151.2")
	t.Setenv("POLARGO_SOLVE_WORKERS", "2")
	t.Setenv("POLARGO_STREAM_TRUST_PROXY", "true")

	cfg, err := Load(path, discardLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":7070" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.Site.LatitudeDeg != -33.5 || cfg.Site.LongitudeDeg != 151.2 {
		t.Errorf("site (%v, %v)", cfg.Site.LatitudeDeg, cfg.Site.LongitudeDeg)
	}
	if cfg.Solve.Workers != 2 {
		t.Errorf("Workers = %d", cfg.Solve.Workers)
	}
	if !cfg.Stream.TrustProxy {
		t.Error("TrustProxy not applied")
	}
}

func TestInvalidEnvKeepsCurrent(t *testing.T) {
	path := writeConfig(t, `
site:
  latitude_deg: 49.25
  longitude_deg: -123.1
solve:
  workers: 3
`)
	t.Setenv("POLARGO_SOLVE_WORKERS", "zero")
	t.Setenv("POLARGO_SITE_LAT", "north")

	cfg, err := Load(path, discardLogger())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Solve.Workers != 3 {
		t.Errorf("Workers = %d, want file value 3", cfg.Solve.Workers)
	}
	if cfg.Site.LatitudeDeg != 49.25 {
		t.Errorf("LatitudeDeg = %v, want file value", cfg.Site.LatitudeDeg)
	}
}

func TestAuthValidation(t *testing.T) {
	path := writeConfig(t, `
site:
  latitude_deg: 49.25
  longitude_deg: -123.1
auth:
  enabled: true
`)
	if _, err := Load(path, discardLogger()); err == nil {
		t.Error("Load accepted enabled auth without a token")
	}

	t.Setenv("POLARGO_AUTH_TOKEN", "s3cret")
	cfg, err := Load(path, discardLogger())
	if err != nil {
		t.Fatalf("Load with token: %v", err)
	}
	if !cfg.Auth.Enabled || cfg.Auth.Token != "s3cret" {
		t.Errorf("auth %+v", cfg.Auth)
	}
}

func TestLoadBadSite(t *testing.T) {
	path := writeConfig(t, `
site:
  latitude_deg: 120
  longitude_deg: 10
`)
	if _, err := Load(path, discardLogger()); err == nil {
		t.Error("Load accepted latitude 120")
	}
}
