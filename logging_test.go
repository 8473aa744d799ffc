package pkgcache

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
		wantErr  bool
	}{
		{input: "debug", expected: LogLevelDebug},
		{input: "INFO", expected: LogLevelInfo},
		{input: "", expected: LogLevelInfo},
		{input: "warning", expected: LogLevelWarn},
		{input: "error", expected: LogLevelError},
		{input: "verbose", expected: LogLevelInfo, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := ParseLogLevel(tt.input)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestLogger(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: LogLevelWarn, Output: &buf})

	logger.Info(ctx, "hidden")
	logger.WithFingerprint("abc123").Warn(ctx, "shown", "path", "/cache/abc123")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "fingerprint=abc123")
	assert.Contains(t, out, "path=/cache/abc123")
}

func TestLogger_Nop(t *testing.T) {
	ctx := context.Background()

	var nilLogger *Logger
	assert.NotPanics(t, func() {
		nilLogger.Error(ctx, "dropped")
		nilLogger.With("k", "v").Info(ctx, "dropped")
		NewNopLogger().WithFingerprint("fp").Debug(ctx, "dropped")
	})
}

func TestNewSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	logger.Error(context.Background(), "boom", "fingerprint", "fp")
	assert.Contains(t, buf.String(), `"msg":"boom"`)
	assert.Contains(t, buf.String(), `"fingerprint":"fp"`)
}
