// Chronista - Media Server Log Ingestion and Normalization
// Copyright 2026 Chronista Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chronista-io/chronista

// Package config defines Chronista's configuration model and loads it with
// layered precedence: built-in defaults, then an optional YAML file, then
// environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the Chronista process.
type Config struct {
	Servers   []ServerConfig   `koanf:"servers" validate:"dive"`
	Ingestion IngestionConfig  `koanf:"ingestion"`
	Database  DatabaseConfig   `koanf:"database"`
	State     StateStoreConfig `koanf:"state"`
	API       APIConfig        `koanf:"api"`
	Logging   LoggingConfig    `koanf:"logging"`
}

// ServerConfig describes one monitored backend instance (a Jellyfin server,
// a Sonarr install, ...). Type selects the provider parser; the file
// ingestion block controls whether and where its logs are tailed.
type ServerConfig struct {
	// ID uniquely identifies the server across restarts. Auto-generated when
	// empty, but operators should pin it so resume state stays attached.
	ID      string `koanf:"id"`
	Type    string `koanf:"type" validate:"required,oneof=jellyfin emby plex sonarr radarr prowlarr"`
	Name    string `koanf:"name"`
	Enabled bool   `koanf:"enabled"`

	FileIngestion FileIngestionConfig `koanf:"file_ingestion"`
}

// FileIngestionConfig is the per-server discovery input for the coordinator.
// Empty LogPaths/LogFilePatterns fall back to the provider's platform
// defaults.
type FileIngestionConfig struct {
	Enabled         bool     `koanf:"enabled"`
	LogPaths        []string `koanf:"log_paths"`
	LogFilePatterns []string `koanf:"log_file_patterns"`
}

// IngestionConfig holds the operational tuning knobs for the tailer pool.
type IngestionConfig struct {
	// MaxConcurrentTailers bounds how many files are actively tailed at
	// once, independent of how many servers/files are configured.
	MaxConcurrentTailers int `koanf:"max_concurrent_tailers" validate:"min=1"`

	// MaxFileAgeDays filters files by mtime on the first scan so historical
	// logs beyond the horizon are not backfilled. 0 disables the filter.
	MaxFileAgeDays int `koanf:"max_file_age_days" validate:"min=0"`

	// TailerStartDelay is the stagger between tailer startups, smoothing the
	// initial I/O spike when many files are discovered at once.
	TailerStartDelay time.Duration `koanf:"tailer_start_delay"`

	// PollInterval is how often each tailer stats its file for growth.
	PollInterval time.Duration `koanf:"poll_interval"`

	// RescanInterval is how often the coordinator re-resolves globs to pick
	// up new files and notice vanished ones.
	RescanInterval time.Duration `koanf:"rescan_interval"`

	// ReadChunkBytes caps how many bytes one read cycle consumes.
	ReadChunkBytes int `koanf:"read_chunk_bytes" validate:"min=4096"`

	// ReadRetries and ReadRetryBackoff bound transient I/O retry behavior
	// before a tailer marks its file state inactive.
	ReadRetries      int           `koanf:"read_retries" validate:"min=0"`
	ReadRetryBackoff time.Duration `koanf:"read_retry_backoff"`

	// Batch sizing and flush cadence for the sink appender.
	BatchSize     int           `koanf:"batch_size" validate:"min=1"`
	FlushInterval time.Duration `koanf:"flush_interval"`
}

// DatabaseConfig configures the DuckDB log entry store.
type DatabaseConfig struct {
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads" validate:"min=0"`

	// RetentionDays drops stored entries older than the horizon; deletion
	// runs in bounded batches. 0 keeps entries forever.
	RetentionDays       int `koanf:"retention_days" validate:"min=0"`
	RetentionBatchSize  int `koanf:"retention_batch_size" validate:"min=1"`
	RetentionMaxBatches int `koanf:"retention_max_batches" validate:"min=1"`
	RetentionSweepHours int `koanf:"retention_sweep_hours" validate:"min=1"`
}

// StateStoreConfig configures the BadgerDB resume-state store.
type StateStoreConfig struct {
	Path       string        `koanf:"path" validate:"required"`
	InMemory   bool          `koanf:"in_memory"`
	GCInterval time.Duration `koanf:"gc_interval"`
}

// APIConfig configures the operational HTTP surface.
type APIConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RequestsPerMin  int           `koanf:"requests_per_min" validate:"min=1"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig configures Chronista's own process logging.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all defaults applied. Defaults are
// loaded first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Ingestion: IngestionConfig{
			MaxConcurrentTailers: 20,
			MaxFileAgeDays:       7,
			TailerStartDelay:     250 * time.Millisecond,
			PollInterval:         2 * time.Second,
			RescanInterval:       60 * time.Second,
			ReadChunkBytes:       256 << 10, // 256KB per read cycle
			ReadRetries:          5,
			ReadRetryBackoff:     500 * time.Millisecond,
			BatchSize:            500,
			FlushInterval:        2 * time.Second,
		},
		Database: DatabaseConfig{
			Path:                "/data/chronista.duckdb",
			MaxMemory:           "1GB",
			Threads:             0, // 0 = runtime.NumCPU()
			RetentionDays:       30,
			RetentionBatchSize:  5000,
			RetentionMaxBatches: 100,
			RetentionSweepHours: 6,
		},
		State: StateStoreConfig{
			Path:       "/data/chronista-state",
			GCInterval: 10 * time.Minute,
		},
		API: APIConfig{
			Host:            "0.0.0.0",
			Port:            3864,
			RequestsPerMin:  300,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration against struct validation tags plus the
// cross-field rules the tags cannot express.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	seen := make(map[string]string, len(c.Servers))
	for i := range c.Servers {
		s := &c.Servers[i]
		if s.ID == "" {
			continue // assigned during normalization
		}
		if prev, dup := seen[s.ID]; dup {
			return fmt.Errorf("duplicate server id %q (types %s and %s)", s.ID, prev, s.Type)
		}
		seen[s.ID] = s.Type
	}

	if c.Ingestion.FlushInterval <= 0 {
		return fmt.Errorf("ingestion.flush_interval must be positive")
	}
	if c.Ingestion.PollInterval <= 0 {
		return fmt.Errorf("ingestion.poll_interval must be positive")
	}
	return nil
}
