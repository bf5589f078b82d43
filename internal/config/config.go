package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// History backends.
const (
	HistoryNone     = "none"
	HistorySQLite   = "sqlite"
	HistoryDynamoDB = "dynamodb"
)

// Config holds all application configuration.
type Config struct {
	// Logging
	Log LogConfig `mapstructure:"log" json:"log"`

	// Comparison behavior
	Compare CompareConfig `mapstructure:"compare" json:"compare"`

	// Input loading
	Source SourceConfig `mapstructure:"source" json:"source"`

	// Audit history of comparisons
	History HistoryConfig `mapstructure:"history" json:"history"`

	// AWS integration (S3 inputs, Secrets Manager, DynamoDB history)
	AWS AWSConfig `mapstructure:"aws" json:"aws"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" json:"format"` // text, json
	File   string `mapstructure:"file" json:"file"`     // Log file path (empty = stderr)
	Color  bool   `mapstructure:"color" json:"color"`   // Enable colored output
}

// CompareConfig for the decode and diff pipeline.
type CompareConfig struct {
	ParallelDecode bool     `mapstructure:"parallel_decode" json:"parallel_decode"`
	SkipRecycleBin bool     `mapstructure:"skip_recycle_bin" json:"skip_recycle_bin"`
	IgnoreFields   []string `mapstructure:"ignore_fields" json:"ignore_fields,omitempty"`
}

// SourceConfig for reading vault files.
type SourceConfig struct {
	MaxFileSize int64         `mapstructure:"max_file_size" json:"max_file_size"` // Max vault size in bytes
	Timeout     time.Duration `mapstructure:"timeout" json:"timeout"`             // Remote fetch timeout
}

// HistoryConfig for the comparison audit log.
type HistoryConfig struct {
	Backend string `mapstructure:"backend" json:"backend"` // none, sqlite, dynamodb
	Path    string `mapstructure:"path" json:"path"`       // SQLite database file
	Table   string `mapstructure:"table" json:"table"`     // DynamoDB table name
}

// AWSConfig for AWS clients.
type AWSConfig struct {
	Region   string `mapstructure:"region" json:"region,omitempty"`
	Endpoint string `mapstructure:"endpoint" json:"endpoint,omitempty"` // Override for local stacks
	SecretID string `mapstructure:"secret_id" json:"secret_id,omitempty"`
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".kdbxdiff"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".kdbxdiff")
	}

	return &Config{
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
			Color:  true,
		},
		Compare: CompareConfig{
			ParallelDecode: false,
		},
		Source: SourceConfig{
			MaxFileSize: 256 * 1024 * 1024, // 256MB
			Timeout:     time.Minute,
		},
		History: HistoryConfig{
			Backend: HistoryNone,
			Path:    filepath.Join(dataDir, "history.db"),
			Table:   "kdbxdiff-history",
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Source.MaxFileSize <= 0 {
		return errors.New("source.max_file_size must be positive")
	}

	if c.Source.Timeout <= 0 {
		return errors.New("source.timeout must be positive")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	switch c.History.Backend {
	case HistoryNone:
	case HistorySQLite:
		if c.History.Path == "" {
			return errors.New("history.path is required for the sqlite backend")
		}
	case HistoryDynamoDB:
		if c.History.Table == "" {
			return errors.New("history.table is required for the dynamodb backend")
		}
	default:
		return fmt.Errorf("invalid history backend: %s", c.History.Backend)
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	var dirs []string
	if c.History.Backend == HistorySQLite {
		dirs = append(dirs, filepath.Dir(c.History.Path))
	}
	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
