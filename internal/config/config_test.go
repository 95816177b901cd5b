package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, def.Board, cfg.Board)
	assert.Equal(t, def.Server.ReconnectDelay, cfg.Server.ReconnectDelay)
	assert.Equal(t, 800*time.Millisecond, cfg.Avatar.Linger)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
board: nomi
assets:
  dir: /sd/gifs
  watch: true
avatar:
  advance_margin: 250ms
  caption_unit: grapheme
server:
  url: ws://example.test/xiaozhi/v1/
  device_id: "aa:bb:cc:dd:ee:ff"
metrics:
  addr: ":9100"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "nomi", cfg.Board)
	assert.Equal(t, "/sd/gifs", cfg.Assets.Dir)
	assert.True(t, cfg.Assets.Watch)
	assert.Equal(t, 250*time.Millisecond, cfg.Avatar.AdvanceMargin)
	assert.Equal(t, "grapheme", cfg.Avatar.CaptionUnit)
	assert.Equal(t, "ws://example.test/xiaozhi/v1/", cfg.Server.URL)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", cfg.Server.DeviceID)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
	// Untouched keys keep their defaults
	assert.Equal(t, 30*time.Second, cfg.Server.MaxReconnectDelay)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CORTEXFACE_BOARD", "ran-lcd")
	t.Setenv("CORTEXFACE_SERVER_TOKEN", "secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "ran-lcd", cfg.Board)
	assert.Equal(t, "secret", cfg.Server.Token)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("board: [unterminated"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Board = "lichuang-dev"
	cfg.Avatar.CaptionInterval = 80 * time.Millisecond
	cfg.Server.Token = "tok"
	require.NoError(t, Save(cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "caption_interval: 80ms")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "lichuang-dev", loaded.Board)
	assert.Equal(t, 80*time.Millisecond, loaded.Avatar.CaptionInterval)
	assert.Equal(t, "tok", loaded.Server.Token)
	assert.Equal(t, cfg.Log, loaded.Log)
}
