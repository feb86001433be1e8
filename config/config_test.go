package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	conf, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", conf.LogLevel)
	assert.Equal(t, "0.0.0.0:2000", conf.Server.Addr)
	assert.Equal(t, 1048576, conf.Server.MaxPayloadSize)
	assert.Equal(t, 10*time.Second, conf.Game.TickTime)
	assert.Equal(t, -1, conf.Game.DefaultNumTurns)
	assert.Equal(t, "memory", conf.Replay.Backend)
	assert.Equal(t, "localhost:6379", conf.Replay.Redis.GetRedisAddr())
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	body := `
log-level: debug
server:
  addr: "127.0.0.1:2100"
game:
  tick-time: 250ms
  default-num-players: 2
replay:
  backend: redis
  redis:
    host: replay-db
    port: "6380"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	conf, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", conf.LogLevel)
	assert.Equal(t, "127.0.0.1:2100", conf.Server.Addr)
	assert.Equal(t, 250*time.Millisecond, conf.Game.TickTime)
	assert.Equal(t, 2, conf.Game.DefaultNumPlayers)
	assert.Equal(t, "theMap", conf.Game.MapName)
	assert.Equal(t, "replay-db:6380", conf.Replay.Redis.GetRedisAddr())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("RAIL_ADDR", "127.0.0.1:2200")

	conf, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:2200", conf.Server.Addr)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)
}
