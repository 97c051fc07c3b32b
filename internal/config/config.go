// Bibliograph - Reading Activity Ingestion and Reconciliation
// Copyright 2026 Bibliograph Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/bibliograph/bibliograph

// Package config loads and validates application configuration.
//
// Configuration is layered with koanf: built-in defaults, then an optional
// YAML file, then environment variables (highest priority). Environment
// variables use the BIBLIOGRAPH_ prefix with __ separating nesting levels:
//
//	BIBLIOGRAPH_SERVER__PORT=8642
//	BIBLIOGRAPH_KOBO__POLL_INTERVAL=10m
package config

import (
	"time"
)

// Config is the root application configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Logging    LoggingConfig    `koanf:"logging"`
	Hardcover  WebhookConfig    `koanf:"hardcover"`
	KOReader   WebhookConfig    `koanf:"koreader"`
	Kobo       KoboConfig       `koanf:"kobo"`
	Enrichment EnrichmentConfig `koanf:"enrichment"`
	Reprocess  ReprocessConfig  `koanf:"reprocess"`
	Security   SecurityConfig   `koanf:"security"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout"`
}

// DatabaseConfig configures the DuckDB storage layer.
type DatabaseConfig struct {
	// Path is the database file, or ":memory:" for ephemeral storage.
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory"`
	// Threads is the DuckDB thread count; 0 means runtime.NumCPU().
	Threads int `koanf:"threads" validate:"min=0"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// WebhookConfig configures one push-based provider endpoint.
type WebhookConfig struct {
	Enabled bool `koanf:"enabled"`
	// Secret enables HMAC-SHA256 signature verification when non-empty.
	Secret string `koanf:"secret"`
}

// KoboConfig configures the pull-based Kobo activity poller.
type KoboConfig struct {
	Enabled      bool          `koanf:"enabled"`
	BaseURL      string        `koanf:"base_url"`
	APIKey       string        `koanf:"api_key"`
	PollInterval time.Duration `koanf:"poll_interval"`
	PageSize     int           `koanf:"page_size" validate:"min=1,max=1000"`
}

// EnrichmentConfig configures the edition-metadata backfill.
type EnrichmentConfig struct {
	Enabled bool   `koanf:"enabled"`
	BaseURL string `koanf:"base_url"`
	// Source names the enrichment origin in per-book sync-state rows.
	Source string `koanf:"source"`
	// Interval is how often the backlog is drained automatically.
	Interval  time.Duration `koanf:"interval"`
	RatePerS  float64       `koanf:"rate_per_s" validate:"min=0"`
	BatchSize int           `koanf:"batch_size" validate:"min=1,max=1000"`
	MaxTotal  int           `koanf:"max_total" validate:"min=1"`
}

// ReprocessConfig configures defaults for ledger replay runs.
type ReprocessConfig struct {
	PageSize int `koanf:"page_size" validate:"min=1,max=10000"`
}

// SecurityConfig configures edge protections on the HTTP surface.
type SecurityConfig struct {
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8642,
			Timeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:      "/data/bibliograph.duckdb",
			MaxMemory: "1GB",
			Threads:   0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Hardcover: WebhookConfig{
			Enabled: true,
			Secret:  "",
		},
		KOReader: WebhookConfig{
			Enabled: true,
			Secret:  "",
		},
		Kobo: KoboConfig{
			Enabled:      false,
			BaseURL:      "",
			APIKey:       "",
			PollInterval: 15 * time.Minute,
			PageSize:     100,
		},
		Enrichment: EnrichmentConfig{
			Enabled:   false,
			BaseURL:   "https://openlibrary.org",
			Source:    "openlibrary",
			Interval:  time.Hour,
			RatePerS:  1.0,
			BatchSize: 25,
			MaxTotal:  1000,
		},
		Reprocess: ReprocessConfig{
			PageSize: 200,
		},
		Security: SecurityConfig{
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
	}
}
