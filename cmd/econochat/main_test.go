package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/econochat/config"
	"go.uber.org/zap/zapcore"
)

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8081\nchat:\n  model: gpt-4o\n"), 0o644))

	cfg, fromFile, err := loadConfig(path)
	require.NoError(t, err)
	assert.True(t, fromFile)
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "gpt-4o", cfg.Chat.Model)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("PORT", "")

	cfg, fromFile, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.False(t, fromFile)
	assert.Equal(t, config.DefaultConfig().Chat, cfg.Chat)
}

func TestLoadConfigInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0o644))

	_, _, err := loadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		cfg   config.LoggingConfig
		level zapcore.Level
	}{
		{config.LoggingConfig{Level: "debug", Format: "text"}, zapcore.DebugLevel},
		{config.LoggingConfig{Level: "warn", Format: "json"}, zapcore.WarnLevel},
	}

	for _, tt := range tests {
		logger, err := newLogger(tt.cfg)
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(tt.level))
		assert.False(t, logger.Core().Enabled(tt.level-1))
	}

	_, err := newLogger(config.LoggingConfig{Level: "loud", Format: "json"})
	assert.Error(t, err)
}
