package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDefaultLogConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultLogConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "stdout", cfg.Output)
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  LogConfig
		wantErr bool
	}{
		{
			name:    "default config",
			config:  DefaultLogConfig(),
			wantErr: false,
		},
		{
			name: "console format",
			config: LogConfig{
				Level:  "debug",
				Format: "console",
				Output: "stdout",
			},
			wantErr: false,
		},
		{
			name: "stderr output",
			config: LogConfig{
				Level:  "warn",
				Format: "json",
				Output: "stderr",
			},
			wantErr: false,
		},
		{
			name: "invalid level",
			config: LogConfig{
				Level:  "loud",
				Format: "json",
				Output: "stdout",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			logger, err := NewLogger(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, logger)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestZapLogger_WithContext(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(core))

	ctx := ContextWithRequestID(context.Background(), "req-42")
	logger.WithContext(ctx).Info("handled")
	logger.WithContext(context.Background()).Info("no id")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "req-42", entries[0].ContextMap()["request_id"])
	assert.NotContains(t, entries[1].ContextMap(), "request_id")
}

func TestZapLogger_With(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(core)).With(String("component", "relay"))

	logger.Debug("debug")
	logger.Warn("warn", Int("n", 3))

	entries := logs.All()
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "relay", e.ContextMap()["component"])
	}
	assert.Equal(t, int64(3), entries[1].ContextMap()["n"])
}

func TestRequestIDFromContext_Missing(t *testing.T) {
	t.Parallel()

	assert.Empty(t, RequestIDFromContext(context.Background()))
}

func TestNopLogger(t *testing.T) {
	t.Parallel()

	logger := NopLogger()
	assert.NotPanics(t, func() {
		logger.Info("ignored")
		logger.With(String("k", "v")).Error("ignored")
	})
	assert.Nil(t, NewZapLogger(nil).Sync())
}
