package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cory-johannsen/mudwire/internal/config"
)

func TestNewLogger_JSONCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := newLogger(config.LoggingConfig{Level: "info", Format: "json"}, zapcore.AddSync(&buf), zap.String("node", "n1"))
	require.NoError(t, err)

	logger.Info("session registered", zap.Int64("session_id", 7))
	require.NoError(t, logger.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "session registered", entry["msg"])
	assert.Equal(t, "n1", entry["node"])
	assert.Equal(t, float64(7), entry["session_id"])
}

func TestNewLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, zapcore.AddSync(&buf))
	require.NoError(t, err)

	logger.Info("dropped")
	assert.Zero(t, buf.Len())
	logger.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestNewLogger_LevelIsAdjustable(t *testing.T) {
	logger, level, err := NewLogger(config.LoggingConfig{Level: "info", Format: "console"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))

	level.SetLevel(zap.DebugLevel)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))
}

func TestNewLogger_Invalid(t *testing.T) {
	for _, cfg := range []config.LoggingConfig{
		{Level: "trace", Format: "json"},
		{Level: "info", Format: "xml"},
	} {
		_, _, err := NewLogger(cfg)
		assert.Error(t, err, "%+v", cfg)
	}
}

func TestNewLogger_AllLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		logger, lvl, err := NewLogger(config.LoggingConfig{Level: level, Format: "json"})
		require.NoError(t, err, "level %q should be valid", level)
		assert.NotNil(t, logger)
		assert.Equal(t, level, lvl.String())
	}
}
