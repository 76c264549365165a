package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, DefaultMaxPlayers, cfg.MaxPlayers)
	assert.Equal(t, "spawn_config.json", cfg.Spawn.File)
	assert.Equal(t, PolicyJitter, cfg.Spawn.Policy)
	assert.False(t, cfg.Production())
	assert.Equal(t, "public", cfg.StaticRoot())
	assert.Equal(t, "0.0.0.0:3000", cfg.Address())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Port)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
port: 4000
max_players: 5
spawn:
  policy: scatter
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	t.Setenv("PORT", "4100")
	t.Setenv("NODE_ENV", "production")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4100, cfg.Port)
	assert.Equal(t, 5, cfg.MaxPlayers)
	assert.Equal(t, PolicyScatter, cfg.Spawn.Policy)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Production())
	assert.Equal(t, "dist", cfg.StaticRoot())
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [1"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("PORT", "three thousand")
	_, err := Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.MaxPlayers = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Spawn.Policy = "random"
	assert.Error(t, cfg.Validate())

	assert.NoError(t, Default().Validate())
}
