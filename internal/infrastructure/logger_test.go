package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopmgr/internal/config"
)

func decodeLines(t *testing.T, raw []byte) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		entries = append(entries, entry)
	}
	return entries
}

func TestInitializeLogger(t *testing.T) {
	ResetLoggerForTesting()
	t.Cleanup(ResetLoggerForTesting)

	logFile := filepath.Join(t.TempDir(), "logs", "shopmgr.log")

	logger, err := InitializeLogger(config.LoggingConfig{Level: "info", Output: "file", FilePath: logFile})
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.Same(t, logger, GetLogger())

	again, err := InitializeLogger(config.LoggingConfig{Level: "debug", Output: "console"})
	require.NoError(t, err)
	assert.Same(t, logger, again, "only the first initialization takes effect")

	logger.Info("trial started", slog.Int("days", 7))
	require.NoError(t, CloseLogFile())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)

	entries := decodeLines(t, content)
	require.Len(t, entries, 1)
	assert.Equal(t, "trial started", entries[0]["msg"])
	assert.Equal(t, "INFO", entries[0]["level"])
	assert.EqualValues(t, 7, entries[0]["days"])
	assert.Contains(t, entries[0], "source")
}

func TestLoggerBothOutputs(t *testing.T) {
	var console bytes.Buffer
	logFile := filepath.Join(t.TempDir(), "both.log")

	logger, file, err := newLogger(config.LoggingConfig{Level: "warn", Output: "both", FilePath: logFile}, &console)
	require.NoError(t, err)
	require.NotNil(t, file)
	defer file.Close()

	logger.Info("dropped")
	logger.Warn("kept")

	fromFile, err := os.ReadFile(logFile)
	require.NoError(t, err)

	for _, raw := range [][]byte{console.Bytes(), fromFile} {
		entries := decodeLines(t, raw)
		require.Len(t, entries, 1)
		assert.Equal(t, "kept", entries[0]["msg"])
	}
}

func TestTraceIDInjection(t *testing.T) {
	var buf bytes.Buffer
	logger, file, err := newLogger(config.LoggingConfig{Level: "debug", Output: "console"}, &buf)
	require.NoError(t, err)
	assert.Nil(t, file)

	ctx := WithTraceID(context.Background(), "trace-123")
	logger.InfoContext(ctx, "with trace")
	logger.With(slog.String("component", "resolver")).InfoContext(ctx, "with attrs")
	logger.InfoContext(context.Background(), "without trace")

	entries := decodeLines(t, buf.Bytes())
	require.Len(t, entries, 3)
	assert.Equal(t, "trace-123", entries[0]["trace_id"])
	assert.Equal(t, "trace-123", entries[1]["trace_id"])
	assert.Equal(t, "resolver", entries[1]["component"])
	assert.NotContains(t, entries[2], "trace_id")
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLogLevel(tt.in), tt.in)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := EnsureTraceID(context.Background())
	id := GetTraceID(ctx)
	assert.Len(t, id, 36)
	assert.Equal(t, id, GetTraceID(EnsureTraceID(ctx)), "existing trace id is kept")

	assert.NotEqual(t, GenerateTraceID(), GenerateTraceID())

	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))
	WithComponent(LoggerWithContext(ctx, base), "device").Info("resolved")

	entries := decodeLines(t, buf.Bytes())
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0]["trace_id"])
	assert.Equal(t, "device", entries[0]["component"])
}
