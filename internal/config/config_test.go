package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, 15*time.Second, cfg.Client.StartupDelay)
	require.Equal(t, 5*time.Minute, cfg.Client.SyncInterval)
	require.False(t, cfg.Client.Standalone)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
  database_url: "postgres://localhost/truenorth"
  jwt_secret: "s3cret"
client:
  base_url: "https://sync.example.com"
  sync_interval: 90s
  standalone: true
logging:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.Server.Addr)
	require.Equal(t, "https://sync.example.com", cfg.Client.BaseURL)
	require.Equal(t, 90*time.Second, cfg.Client.SyncInterval)
	require.True(t, cfg.Client.Standalone)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.NoError(t, cfg.ValidateServer())
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("client:\n  base_url: from-file\n"), 0o644))

	t.Setenv("TRUENORTH_CLIENT_BASE_URL", "https://from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://from-env", cfg.Client.BaseURL)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidation(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Error(t, cfg.ValidateServer(), "database url and jwt secret are mandatory")
	require.NoError(t, cfg.ValidateClient(), "client defaults are runnable")

	cfg.Client.BaseURL = ""
	require.Error(t, cfg.ValidateClient())
}
