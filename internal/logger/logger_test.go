package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesToFile(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "kova.log")

	l, err := New(Config{
		Level:   "debug",
		File:    logFile,
		Console: false,
	})
	require.NoError(t, err)
	defer l.Close()

	zl := l.GetZerolog()
	zl.Info().Str("key", "value").Msg("file output")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "file output")
	assert.Contains(t, string(data), `"key":"value"`)
}

func TestNewInvalidLevelFallsBackToInfo(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "kova.log")

	l, err := New(Config{
		Level:   "nonsense",
		File:    logFile,
		Console: false,
	})
	require.NoError(t, err)
	defer l.Close()

	zl := l.GetZerolog()
	zl.Debug().Msg("dropped at info")
	zl.Info().Msg("kept at info")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped at info")
	assert.Contains(t, string(data), "kept at info")
}

func TestNewCreatesLogDirectory(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "nested", "logs", "kova.log")

	l, err := New(Config{Level: "info", File: logFile})
	require.NoError(t, err)
	defer l.Close()

	_, err = os.Stat(filepath.Dir(logFile))
	assert.NoError(t, err)
}

func TestRedactionAppliedToOutput(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "kova.log")

	l, err := New(Config{
		Level:     "info",
		File:      logFile,
		Redaction: true,
	})
	require.NoError(t, err)
	defer l.Close()

	zl := l.GetZerolog()
	zl.Info().Msg("using key sk-abcdefghijklmnopqrstuvwxyz123456")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[REDACTED]")
	assert.NotContains(t, string(data), "sk-abcdefghijklmnopqrstuvwxyz123456")
}

func TestComponentLoggerTagsComponent(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "kova.log")

	l, err := New(Config{Level: "info", File: logFile})
	require.NoError(t, err)
	defer l.Close()

	cl := l.Component("memory")
	cl.Info().Msg("tagged")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"memory"`)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Redaction)
	assert.Equal(t, 100, cfg.MaxSize)
}
