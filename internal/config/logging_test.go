package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IMALI-DEFI/Imali-sub000/internal/config"
)

func readLogFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path) //nolint:gosec // G304: Test path from t.TempDir()
	require.NoError(t, err)
	return string(data)
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input    string
		expected config.LogLevel
	}{
		{"off", config.LogLevelOff},
		{"OFF", config.LogLevelOff},
		{"none", config.LogLevelOff},
		{"error", config.LogLevelError},
		{"debug", config.LogLevelDebug},
		{"  Debug  ", config.LogLevelDebug},
		{"warn", config.LogLevelError},
		{"", config.LogLevelError},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, config.ParseLogLevel(tt.input))
		})
	}
}

func TestLogLevel_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "off", config.LogLevelOff.String())
	assert.Equal(t, "error", config.LogLevelError.String())
	assert.Equal(t, "debug", config.LogLevelDebug.String())
	assert.Equal(t, "error", config.LogLevel(99).String())
}

func TestNewLogger_WritesFile(t *testing.T) {
	t.Parallel()
	logPath := filepath.Join(t.TempDir(), "sub", "imali.log")

	logger, err := config.NewLogger(config.LogLevelDebug, logPath)
	require.NoError(t, err)

	logger.Debug("session phase %s -> %s", "Disconnected", "Connecting")
	logger.Error("switch failed: code %d", 4001)
	require.NoError(t, logger.Close())

	content := readLogFile(t, logPath)
	assert.Contains(t, content, "[DEBUG] session phase Disconnected -> Connecting")
	assert.Contains(t, content, "[ERROR] switch failed: code 4001")
}

func TestNewLogger_OffOrEmptyPath(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		level config.LogLevel
		path  string
	}{
		{config.LogLevelOff, filepath.Join(t.TempDir(), "never.log")},
		{config.LogLevelDebug, ""},
	} {
		logger, err := config.NewLogger(tc.level, tc.path)
		require.NoError(t, err)
		logger.Debug("dropped")
		logger.Error("dropped")
		require.NoError(t, logger.Close())
		if tc.path != "" {
			_, statErr := os.Stat(tc.path)
			assert.True(t, os.IsNotExist(statErr))
		}
	}
}

func TestNewLogger_InvalidPath(t *testing.T) {
	t.Parallel()
	_, err := config.NewLogger(config.LogLevelDebug, "/proc/nonexistent/test.log")
	assert.Error(t, err)
}

func TestWriterLogger_LevelFiltering(t *testing.T) {
	t.Parallel()

	var errOnly, debug bytes.Buffer
	quiet := config.NewWriterLogger(config.LogLevelError, &errOnly)
	loud := config.NewWriterLogger(config.LogLevelDebug, &debug)
	assert.Equal(t, config.LogLevelDebug, loud.Level())

	for _, l := range []*config.Logger{quiet, loud} {
		l.Debug("cache miss %s@%d", "Staking", 137)
		l.Error("provider request failed: %s", "eth_chainId")
	}

	assert.NotContains(t, errOnly.String(), "cache miss")
	assert.Contains(t, errOnly.String(), "[ERROR] provider request failed: eth_chainId")
	assert.Contains(t, debug.String(), "[DEBUG] cache miss Staking@137")
}

func TestNullLogger(t *testing.T) {
	t.Parallel()
	logger := config.NullLogger()
	assert.Equal(t, config.LogLevelOff, logger.Level())

	logger.Debug("test debug")
	logger.Error("test error")
	assert.NoError(t, logger.Close())
}
