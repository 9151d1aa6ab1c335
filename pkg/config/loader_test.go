package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `api:
  base_url: ${TEST_CHAT_API}
  timeout: 3s
socket:
  kind: redis
  url: ws://localhost:3000/socket
history:
  source: mongo
redis:
  addr: localhost:6379
  redis_db: 2
sync:
  replay_buffer: 16
timezone: Asia/Taipei
`

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chat_client.yaml"), []byte(sampleYAML), 0o644))
	t.Setenv("TEST_CHAT_API", "http://localhost:3000")

	cfg, err := LoadConfig[Client]("chat_client", dir)
	require.NoError(t, err)
	cfg.Defaults()

	assert.Equal(t, "http://localhost:3000", cfg.API.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.API.Timeout)
	assert.Equal(t, "redis", cfg.Socket.Kind)
	assert.Equal(t, 10*time.Second, cfg.Socket.HandshakeTimeout)
	assert.Equal(t, "mongo", cfg.History.Source)
	assert.Equal(t, 2, cfg.Redis.RedisDB)
	assert.Equal(t, 16, cfg.Sync.ReplayBuffer)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Taipei", loc.String())
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig[Client]("not_exist", t.TempDir())
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	var cfg Client
	cfg.Defaults()
	assert.Equal(t, 10*time.Second, cfg.API.Timeout)
	assert.Equal(t, "websocket", cfg.Socket.Kind)
	assert.Equal(t, 5*time.Second, cfg.Socket.WriteTimeout)
	assert.Equal(t, "rest", cfg.History.Source)
	assert.Equal(t, 256, cfg.Sync.ReplayBuffer)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)
}
