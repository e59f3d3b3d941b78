package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "development", cfg.Environment)
	assert.EqualValues(t, 1, cfg.Protocol.Version)
	assert.Equal(t, 5*time.Second, cfg.Timing.BroadcastLatency)
	assert.Equal(t, float64(16), cfg.Timing.FinTimeoutRatio)
	assert.Equal(t, 80*time.Second, cfg.Timing.FinTimeout())
	assert.Equal(t, 5*time.Second, cfg.Timing.FinConsistentDelay())
}

func TestLoadSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")

	cfg := Default()
	cfg.Channel.Room = "test-room"
	cfg.Timing.BroadcastLatency = 2 * time.Second

	require.NoError(t, SaveToFile(cfg, path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "test-room", loaded.Channel.Room)
	assert.Equal(t, 2*time.Second, loaded.Timing.BroadcastLatency)
}

func TestSaveToFileJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.json")

	cfg := Default()
	require.NoError(t, SaveToFile(cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"environment"`)
}
