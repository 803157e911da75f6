package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadReturnsDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().Server.Port, cfg.Server.Port)
}

func TestLoadParsesYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9091
storage:
  db_path: /tmp/custom.db
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9091, cfg.Server.Port)
	require.Equal(t, "/tmp/custom.db", cfg.Storage.DBPath)
}

func TestLoadEnvOverlayWinsOverYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  db_path: /tmp/from-yaml.db\n"), 0o644))

	t.Setenv("GATEWAY_DB_PATH", "/tmp/from-env.db")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/from-env.db", cfg.Storage.DBPath)
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsSmallMinClusterSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Gardener.MinClusterSize = 1
	require.Error(t, cfg.Validate())
}
