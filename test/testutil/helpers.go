package testutil

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/kdbxdiff/internal/config"
)

// LogEntry represents a captured log entry for testing
type LogEntry struct {
	Level   string                 `json:"level"`
	Message string                 `json:"msg"`
	Time    time.Time              `json:"time"`
	Fields  map[string]interface{} `json:"-"`
}

// TestHelpers provides common test helper functions.
type TestHelpers struct {
	t       *testing.T
	tempDir string
	cleanup []func()
}

// NewTestHelpers creates test helpers.
func NewTestHelpers(t *testing.T) *TestHelpers {
	tempDir := t.TempDir()
	return &TestHelpers{
		t:       t,
		tempDir: tempDir,
	}
}

// TempDir returns the temporary directory for this test.
func (h *TestHelpers) TempDir() string {
	return h.tempDir
}

// CreateTempFile creates a temporary file with content.
func (h *TestHelpers) CreateTempFile(name, content string) string {
	return h.CreateTempBinaryFile(name, []byte(content))
}

// CreateTempBinaryFile creates a temporary binary file.
func (h *TestHelpers) CreateTempBinaryFile(name string, content []byte) string {
	path := filepath.Join(h.tempDir, name)

	err := os.MkdirAll(filepath.Dir(path), 0755)
	require.NoError(h.t, err)

	err = os.WriteFile(path, content, 0600)
	require.NoError(h.t, err)

	return path
}

// WriteVaultFile encrypts v with o and stores it under name.
func (h *TestHelpers) WriteVaultFile(name string, v *Vault, o Options) string {
	return h.CreateTempBinaryFile(name, MustWriteVault(h.t, v, o))
}

// AssertFileExists checks that a file exists.
func (h *TestHelpers) AssertFileExists(path string) {
	_, err := os.Stat(path)
	assert.NoError(h.t, err, "File should exist: %s", path)
}

// AssertFileNotExists checks that a file does not exist.
func (h *TestHelpers) AssertFileNotExists(path string) {
	_, err := os.Stat(path)
	assert.True(h.t, os.IsNotExist(err), "File should not exist: %s", path)
}

// AddCleanup adds a cleanup function to be called at test end.
func (h *TestHelpers) AddCleanup(fn func()) {
	h.cleanup = append(h.cleanup, fn)
}

// Cleanup runs all cleanup functions.
func (h *TestHelpers) Cleanup() {
	for i := len(h.cleanup) - 1; i >= 0; i-- {
		h.cleanup[i]()
	}
}

// TestTimeout provides timeout context for tests.
func TestTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

// TestContext creates a test context with reasonable timeout.
func TestContext() (context.Context, context.CancelFunc) {
	return TestTimeout(30 * time.Second)
}

// TestConfigWithDir creates a test configuration keeping history under dataDir.
func TestConfigWithDir(dataDir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Log = config.LogConfig{
		Level:  "debug",
		Format: "json",
		Color:  false,
	}
	cfg.History = config.HistoryConfig{
		Backend: config.HistorySQLite,
		Path:    filepath.Join(dataDir, "history.db"),
		Table:   "kdbxdiff-history-test",
	}
	return cfg
}

// LogOutput captures JSON log output for testing.
type LogOutput struct {
	mu      sync.RWMutex
	raw     strings.Builder
	entries []LogEntry
}

// NewLogOutput creates a new log output capturer.
func NewLogOutput() *LogOutput {
	return &LogOutput{}
}

// Write implements io.Writer to capture log output.
func (lo *LogOutput) Write(p []byte) (n int, err error) {
	lo.mu.Lock()
	defer lo.mu.Unlock()

	lo.raw.Write(p)
	for _, line := range strings.Split(strings.TrimSpace(string(p)), "\n") {
		var entry LogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		_ = json.Unmarshal([]byte(line), &entry.Fields)
		lo.entries = append(lo.entries, entry)
	}
	return len(p), nil
}

// String returns everything written so far.
func (lo *LogOutput) String() string {
	lo.mu.RLock()
	defer lo.mu.RUnlock()
	return lo.raw.String()
}

// Entries returns captured log entries.
func (lo *LogOutput) Entries() []LogEntry {
	lo.mu.RLock()
	defer lo.mu.RUnlock()

	entries := make([]LogEntry, len(lo.entries))
	copy(entries, lo.entries)
	return entries
}

// HasLevel checks if any log entry has the specified level.
func (lo *LogOutput) HasLevel(level string) bool {
	for _, entry := range lo.Entries() {
		if entry.Level == level {
			return true
		}
	}
	return false
}

// HasMessage checks if any log entry contains the message.
func (lo *LogOutput) HasMessage(message string) bool {
	for _, entry := range lo.Entries() {
		if strings.Contains(entry.Message, message) {
			return true
		}
	}
	return false
}

// Clear clears all captured entries.
func (lo *LogOutput) Clear() {
	lo.mu.Lock()
	defer lo.mu.Unlock()
	lo.raw.Reset()
	lo.entries = nil
}

// SkipIfShort skips test if testing.Short() is true.
func SkipIfShort(t *testing.T, reason string) {
	if testing.Short() {
		t.Skipf("Skipping test in short mode: %s", reason)
	}
}
