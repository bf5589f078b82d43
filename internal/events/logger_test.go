package events_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/kdbxdiff/internal/config"
	"github.com/TheMichaelB/kdbxdiff/internal/events"
)

func TestNewLogger(t *testing.T) {
	cfg := &config.LogConfig{
		Level:  "debug",
		Format: "json",
	}

	logger, err := events.NewLogger(cfg)
	require.NoError(t, err)
	assert.Equal(t, events.DebugLevel, logger.Level())
	assert.NoError(t, logger.Close())
}

func TestNewLoggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kdbxdiff.log")
	logger, err := events.NewLogger(&config.LogConfig{Level: "info", Format: "json", File: path})
	require.NoError(t, err)

	logger.WithField("input", "a.kdbx").Info("decoded")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"input":"a.kdbx"`)
}

func TestLoggerWithField(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.InfoLevel, "json", &buf)

	logger.WithField("test_key", "test_value").Info("test message")

	output := buf.String()
	assert.Contains(t, output, `"test_key":"test_value"`)
	assert.Contains(t, output, `"msg":"test message"`)
	assert.Contains(t, output, `"level":"info"`)
	assert.Contains(t, output, `"caller":"logger_test.go:`)
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.InfoLevel, "json", &buf)

	fields := map[string]interface{}{
		"input":   "a.kdbx",
		"version": "4.1",
		"entries": 12,
		"gzip":    true,
	}

	logger.WithFields(fields).Info("multi-field test")

	output := buf.String()
	assert.Contains(t, output, `"input":"a.kdbx"`)
	assert.Contains(t, output, `"version":"4.1"`)
	assert.Contains(t, output, `"entries":12`)
	assert.Contains(t, output, `"gzip":true`)
}

func TestLoggerWithFieldDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := events.NewTestLogger(events.InfoLevel, "json", &buf)

	_ = parent.WithField("child", "yes")
	parent.Info("parent")

	assert.NotContains(t, buf.String(), "child")
}

func TestLoggerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)

	logger.WithFields(map[string]interface{}{
		"password":   "hunter2",
		"master_key": "00112233",
		"SecretID":   "arn:secret",
		"input":      "b.kdbx",
	}).Debug("credentials resolved")

	output := buf.String()
	assert.NotContains(t, output, "hunter2")
	assert.NotContains(t, output, "00112233")
	assert.NotContains(t, output, "arn:secret")
	assert.Contains(t, output, `"password":"[REDACTED]"`)
	assert.Contains(t, output, `"input":"b.kdbx"`)
}

func TestIsSecretKey(t *testing.T) {
	for key, want := range map[string]bool{
		"password":      true,
		"Password":      true,
		"keyfile":       true,
		"api_token":     true,
		"plaintext":     true,
		"input":         false,
		"version":       false,
		"changes_total": false,
	} {
		assert.Equal(t, want, events.IsSecretKey(key), key)
	}
}

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		name      string
		logLevel  events.LogLevel
		msgLevel  events.LogLevel
		shouldLog bool
	}{
		{"debug logger, debug message", events.DebugLevel, events.DebugLevel, true},
		{"debug logger, info message", events.DebugLevel, events.InfoLevel, true},
		{"info logger, debug message", events.InfoLevel, events.DebugLevel, false},
		{"info logger, info message", events.InfoLevel, events.InfoLevel, true},
		{"error logger, warn message", events.ErrorLevel, events.WarnLevel, false},
		{"error logger, error message", events.ErrorLevel, events.ErrorLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := events.NewTestLogger(tt.logLevel, "text", &buf)

			switch tt.msgLevel {
			case events.DebugLevel:
				logger.Debug("test debug")
			case events.InfoLevel:
				logger.Info("test info")
			case events.WarnLevel:
				logger.Warn("test warn")
			case events.ErrorLevel:
				logger.Error("test error")
			}

			if tt.shouldLog {
				assert.NotEmpty(t, buf.String())
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, events.DebugLevel, events.ParseLevel("DEBUG"))
	assert.Equal(t, events.WarnLevel, events.ParseLevel("warn"))
	assert.Equal(t, events.ErrorLevel, events.ParseLevel("error"))
	assert.Equal(t, events.InfoLevel, events.ParseLevel("bogus"))
}

func TestLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.InfoLevel, "text", &buf)

	logger.WithFields(map[string]interface{}{"b": 2, "a": 1}).Info("test message")

	output := buf.String()
	assert.Contains(t, output, "[INFO]")
	assert.Contains(t, output, "test message")
	assert.True(t, strings.HasSuffix(output, " a=1 b=2\n"), output)
	assert.NotContains(t, output, "hostname")
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.InfoLevel, "json", &buf)

	err := assert.AnError
	logger.WithError(err).Error("operation failed")

	output := buf.String()
	assert.Contains(t, output, `"error":"assert.AnError general error for testing"`)
	assert.Contains(t, output, `"msg":"operation failed"`)
	assert.Contains(t, output, `"level":"error"`)
}

func TestDiscard(t *testing.T) {
	logger := events.Discard()
	assert.NotPanics(t, func() { logger.Error("dropped") })
}
