// Package config loads service configuration from an optional YAML file
// with POLARGO_* environment overrides on top. Invalid override values are
// logged and ignored so a typo in the environment cannot take the service
// down; missing required fields still fail the load.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// SiteConfig is the observing location. Both fields are required: every
// alignment computation depends on them.
type SiteConfig struct {
	LatitudeDeg  float64 `yaml:"latitude_deg"`
	LongitudeDeg float64 `yaml:"longitude_deg"`
}

// SolveConfig tunes the rotation searches.
type SolveConfig struct {
	// Workers is the number of goroutines evaluating grid-search rows.
	Workers int `yaml:"workers"`
	// MaxPixelSearchRangeDeg seeds the coarse pixel-error search range.
	MaxPixelSearchRangeDeg float64 `yaml:"max_pixel_search_range_deg"`
}

// SpoolConfig controls solve-result ingestion.
type SpoolConfig struct {
	// Dir is the directory the external plate solver writes results into.
	// Empty disables spool ingestion.
	Dir string `yaml:"dir"`
	// SettleMs is how long a result file must be quiet before it is read.
	SettleMs int `yaml:"settle_ms"`
	// ArchiveDir keeps copies of ingested results. Empty disables archiving.
	ArchiveDir string `yaml:"archive_dir"`
	// ArchiveMaxFiles bounds the archive size.
	ArchiveMaxFiles int `yaml:"archive_max_files"`
}

// StoreConfig locates the run history database.
type StoreConfig struct {
	// Path of the SQLite file. Empty disables run persistence.
	Path string `yaml:"path"`
}

// AuthConfig controls Bearer token auth. The token itself is never read
// from the file, only from POLARGO_AUTH_TOKEN.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"-"`
}

// StreamConfig controls the SSE alignment stream.
type StreamConfig struct {
	MaxClients      int  `yaml:"max_clients"`
	MaxClientsPerIP int  `yaml:"max_clients_per_ip"`
	KeepaliveSec    int  `yaml:"keepalive_sec"`
	TrustProxy      bool `yaml:"trust_proxy"`
}

// Config aggregates all service configuration.
type Config struct {
	HTTPAddr string       `yaml:"http_addr"`
	Site     SiteConfig   `yaml:"site"`
	Solve    SolveConfig  `yaml:"solve"`
	Spool    SpoolConfig  `yaml:"spool"`
	Store    StoreConfig  `yaml:"store"`
	Auth     AuthConfig   `yaml:"auth"`
	Stream   StreamConfig `yaml:"stream"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		Solve: SolveConfig{
			Workers:                runtime.NumCPU(),
			MaxPixelSearchRangeDeg: 2.0,
		},
		Spool: SpoolConfig{
			SettleMs:        250,
			ArchiveMaxFiles: 50,
		},
		Stream: StreamConfig{
			MaxClients:      64,
			MaxClientsPerIP: 4,
			KeepaliveSec:    15,
		},
	}
}

// Load reads path (when non-empty), overlays environment overrides, and
// validates the result.
func Load(path string, logger *slog.Logger) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnv(logger)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(logger *slog.Logger) {
	if v := os.Getenv("POLARGO_HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}

	envFloat(logger, "POLARGO_SITE_LAT", &c.Site.LatitudeDeg)
	envFloat(logger, "POLARGO_SITE_LON", &c.Site.LongitudeDeg)
	envFloat(logger, "POLARGO_MAX_PIXEL_SEARCH_RANGE", &c.Solve.MaxPixelSearchRangeDeg)

	envPositiveInt(logger, "POLARGO_SOLVE_WORKERS", &c.Solve.Workers)
	envPositiveInt(logger, "POLARGO_SPOOL_SETTLE_MS", &c.Spool.SettleMs)
	envPositiveInt(logger, "POLARGO_SPOOL_ARCHIVE_MAX_FILES", &c.Spool.ArchiveMaxFiles)
	envPositiveInt(logger, "POLARGO_STREAM_MAX_CLIENTS", &c.Stream.MaxClients)
	envPositiveInt(logger, "POLARGO_STREAM_MAX_CLIENTS_PER_IP", &c.Stream.MaxClientsPerIP)
	envPositiveInt(logger, "POLARGO_STREAM_KEEPALIVE_SEC", &c.Stream.KeepaliveSec)

	if v := os.Getenv("POLARGO_SPOOL_DIR"); v != "" {
		c.Spool.Dir = v
	}
	if v := os.Getenv("POLARGO_SPOOL_ARCHIVE_DIR"); v != "" {
		c.Spool.ArchiveDir = v
	}
	if v := os.Getenv("POLARGO_STORE_PATH"); v != "" {
		c.Store.Path = v
	}

	if v := os.Getenv("POLARGO_STREAM_TRUST_PROXY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid POLARGO_STREAM_TRUST_PROXY value, keeping current", "value", v)
		} else {
			c.Stream.TrustProxy = b
		}
	}

	if v := os.Getenv("POLARGO_AUTH_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid POLARGO_AUTH_ENABLED value, keeping current", "value", v)
		} else {
			c.Auth.Enabled = b
		}
	}
	if v := os.Getenv("POLARGO_AUTH_TOKEN"); v != "" {
		c.Auth.Token = v
	}
}

func (c *Config) validate() error {
	if c.Site.LatitudeDeg < -90 || c.Site.LatitudeDeg > 90 {
		return fmt.Errorf("site.latitude_deg %.4f out of range [-90, 90]", c.Site.LatitudeDeg)
	}
	if c.Site.LongitudeDeg < -180 || c.Site.LongitudeDeg > 180 {
		return fmt.Errorf("site.longitude_deg %.4f out of range [-180, 180]", c.Site.LongitudeDeg)
	}
	if c.Site.LatitudeDeg == 0 && c.Site.LongitudeDeg == 0 {
		return fmt.Errorf("site location not set: configure site.latitude_deg and site.longitude_deg or POLARGO_SITE_LAT/POLARGO_SITE_LON")
	}
	if c.Auth.Enabled && c.Auth.Token == "" {
		return fmt.Errorf("POLARGO_AUTH_TOKEN is required when auth is enabled")
	}
	return nil
}

// SpoolSettle returns the spool settle interval as a duration.
func (c *Config) SpoolSettle() time.Duration {
	return time.Duration(c.Spool.SettleMs) * time.Millisecond
}

// StreamKeepalive returns the SSE keepalive interval as a duration.
func (c *Config) StreamKeepalive() time.Duration {
	return time.Duration(c.Stream.KeepaliveSec) * time.Second
}

func envFloat(logger *slog.Logger, key string, dst *float64) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.Warn("invalid float override, keeping current", "var", key, "value", v)
		return
	}
	*dst = f
}

func envPositiveInt(logger *slog.Logger, key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		logger.Warn("invalid positive integer override, keeping current", "var", key, "value", v)
		return
	}
	*dst = n
}
