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
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, "localhost:7233", cfg.Temporal.HostPort)
	assert.Equal(t, "default", cfg.Temporal.Namespace)
	assert.Equal(t, "render-fleet", cfg.Temporal.TaskQueue)
	assert.Equal(t, "artifacts", cfg.Artifacts.Dir)
	assert.Equal(t, 7*24*time.Hour, cfg.Artifacts.SweepMaxAge)
	assert.Equal(t, "templates", cfg.Templates.Dir)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RENDERFLEET_PORT", "9999")
	t.Setenv("RENDERFLEET_TASK_QUEUE", "gpu-farm")
	t.Setenv("RENDERFLEET_SWEEP_MAX_AGE", "48h")
	t.Setenv("RENDERFLEET_DB_DEBUG", "true")
	t.Setenv("RENDERFLEET_LOG_FORMAT", "console")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "gpu-farm", cfg.Temporal.TaskQueue)
	assert.Equal(t, 48*time.Hour, cfg.Artifacts.SweepMaxAge)
	assert.True(t, cfg.Database.Debug)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoad_InvalidLogLevelRejected(t *testing.T) {
	t.Setenv("RENDERFLEET_LOG_LEVEL", "loud")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadServers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
servers:
  - name: gpu-1
    address: http://10.0.0.1:8188
    description: main box
  - name: gpu-2
    address: http://10.0.0.2:8188
`), 0o644))

	entries, err := LoadServers(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "gpu-1", entries[0].Name)
	assert.Equal(t, "http://10.0.0.1:8188", entries[0].Address)
	assert.Equal(t, "main box", entries[0].Description)
}

func TestLoadServers_MissingAddressRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
servers:
  - name: gpu-1
`), 0o644))

	_, err := LoadServers(path)
	assert.Error(t, err)
}

func TestLoadServers_MissingFile(t *testing.T) {
	_, err := LoadServers(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
