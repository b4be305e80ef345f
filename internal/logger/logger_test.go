package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ticketmail/backend/internal/config"
)

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.LogConfig{
		Level:      "debug",
		File:       "/var/log/ticketmail.log",
		MaxSize:    50,
		MaxBackups: 2,
		MaxAge:     7,
		Compress:   true,
	}, "sync-cli")

	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, "/var/log/ticketmail.log", cfg.LogFile)
	assert.Equal(t, 50, cfg.MaxSize)
	assert.Equal(t, 2, cfg.MaxBackups)
	assert.Equal(t, 7, cfg.MaxAge)
	assert.True(t, cfg.Compress)
	assert.Equal(t, "sync-cli", cfg.Component)
}

func TestNewLogger(t *testing.T) {
	t.Run("写入文件的 JSON 日志带 component 字段", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "logs", "server.log")
		log, err := NewLogger(Config{Level: "info", LogFile: file, MaxSize: 1, Component: "server"})
		require.NoError(t, err)

		log.Info("sync finished", zap.Int("tickets_created", 2))
		log.Debug("dropped below level")
		_ = log.Sync()

		data, err := os.ReadFile(file)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		require.Len(t, lines, 1)

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
		assert.Equal(t, "sync finished", entry["message"])
		assert.Equal(t, "server", entry["component"])
		assert.Equal(t, "info", entry["level"])
		assert.EqualValues(t, 2, entry["tickets_created"])
	})

	t.Run("无法解析的级别按 info 处理", func(t *testing.T) {
		log, err := NewLogger(Config{Level: "verbose"})
		require.NoError(t, err)
		assert.False(t, log.Core().Enabled(zap.DebugLevel))
		assert.True(t, log.Core().Enabled(zap.InfoLevel))
	})
}
