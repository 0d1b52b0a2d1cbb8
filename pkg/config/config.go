// Package config loads and validates the application configuration. The
// config file is optional JSON; command-line flags override it field by
// field in the entrypoint.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/macg4dave/duopane/pkg/archive"
	"github.com/macg4dave/duopane/pkg/plog"
)

// FileName is the default configuration file looked up in the working
// directory when no explicit path is given.
const FileName = "duopane.config.json"

// ArchiveConfig holds the pack/extract settings.
type ArchiveConfig struct {
	// Format is the default archive format when packing: 'tar.gz' or
	// 'tar.zst'. An explicit archive filename extension wins.
	Format string `json:"format"`
	// Level is the compression effort: 'default', 'fastest', 'better' or
	// 'best'.
	Level string `json:"level"`
	// Workers is the number of compression worker goroutines.
	Workers int `json:"workers"`
	// ReadAheadMB bounds the memory used to read small files ahead of the
	// serialized archive writer.
	ReadAheadMB int `json:"read_ahead_mb"`
}

// Config is the full application configuration.
type Config struct {
	// LogLevel sets the stdout log stream level: 'debug', 'notice',
	// 'info', 'warn' or 'error'.
	LogLevel string `json:"log_level"`
	// Quiet suppresses INFO and NOTICE output.
	Quiet bool `json:"quiet"`
	// FailFast stops a bulk operation on the first item error instead of
	// collecting failures and continuing.
	FailFast bool `json:"fail_fast"`
	// Metrics enables the end-of-operation counter summary.
	Metrics bool `json:"metrics"`

	// SyncWorkers is the number of parallel file-copy goroutines.
	SyncWorkers int `json:"sync_workers"`
	// MetaWorkers is the number of goroutines for tree-wide metadata
	// passes.
	MetaWorkers int `json:"meta_workers"`
	// BufferSizeKB is the I/O buffer size for file copies in kilobytes.
	BufferSizeKB int `json:"buffer_size_kb"`
	// WatchDebounceMS is the quiet period before a changed directory
	// triggers a panel refresh, in milliseconds.
	WatchDebounceMS int `json:"watch_debounce_ms"`

	Archive ArchiveConfig `json:"archive"`
}

// NewDefault returns the built-in defaults.
func NewDefault() *Config {
	return &Config{
		LogLevel:        "info",
		SyncWorkers:     runtime.NumCPU(),
		MetaWorkers:     runtime.NumCPU(),
		BufferSizeKB:    1024,
		WatchDebounceMS: 250,
		Archive: ArchiveConfig{
			Format:      "tar.gz",
			Level:       "default",
			Workers:     runtime.NumCPU(),
			ReadAheadMB: 64,
		},
	}
}

// Load reads the configuration at path, or the defaults when path is empty
// and no duopane.config.json exists in the working directory. File values
// overlay the defaults, so a partial file is fine.
func Load(path string) (*Config, error) {
	cfg := NewDefault()

	explicit := path != ""
	if !explicit {
		path = FileName
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("could not read config file %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("could not parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the field values and normalizes out-of-range worker and
// buffer settings to their defaults.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "notice", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	if _, err := archive.ParseFormat(c.Archive.Format); err != nil {
		return err
	}
	if _, err := archive.ParseLevel(c.Archive.Level); err != nil {
		return err
	}

	if c.SyncWorkers < 1 {
		c.SyncWorkers = runtime.NumCPU()
	}
	if c.MetaWorkers < 1 {
		c.MetaWorkers = runtime.NumCPU()
	}
	if c.Archive.Workers < 1 {
		c.Archive.Workers = runtime.NumCPU()
	}
	if c.BufferSizeKB < 4 {
		c.BufferSizeKB = 1024
	}
	if c.Archive.ReadAheadMB < 1 {
		c.Archive.ReadAheadMB = 64
	}
	if c.WatchDebounceMS < 0 {
		c.WatchDebounceMS = 250
	}
	return nil
}

// BufferSize returns the copy buffer size in bytes.
func (c *Config) BufferSize() int64 { return int64(c.BufferSizeKB) * 1024 }

// ReadAheadLimit returns the archive read-ahead budget in bytes.
func (c *Config) ReadAheadLimit() int64 { return int64(c.Archive.ReadAheadMB) << 20 }

// WatchDebounce returns the panel refresh debounce window.
func (c *Config) WatchDebounce() time.Duration {
	return time.Duration(c.WatchDebounceMS) * time.Millisecond
}

// ArchiveFormat returns the parsed default archive format.
func (c *Config) ArchiveFormat() archive.Format {
	f, _ := archive.ParseFormat(c.Archive.Format)
	return f
}

// ArchiveLevel returns the parsed compression level.
func (c *Config) ArchiveLevel() archive.Level {
	l, _ := archive.ParseLevel(c.Archive.Level)
	return l
}

// LogSummary prints the effective settings once at startup.
func (c *Config) LogSummary() {
	plog.Info("Configuration",
		"logLevel", c.LogLevel,
		"failFast", c.FailFast,
		"syncWorkers", c.SyncWorkers,
		"metaWorkers", c.MetaWorkers,
		"bufferSizeKB", c.BufferSizeKB,
		"watchDebounceMS", c.WatchDebounceMS,
		"archiveFormat", c.Archive.Format,
		"archiveLevel", c.Archive.Level,
		"archiveWorkers", c.Archive.Workers,
	)
}

// WriteDefault writes a default config file at path for the user to edit.
// It refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if path == "" {
		path = FileName
	}
	if _, err := os.Lstat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	data, err := json.MarshalIndent(NewDefault(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}
