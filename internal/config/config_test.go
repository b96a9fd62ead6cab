package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRunsWithoutServices(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DBModeMemory, cfg.Database.Mode)
	assert.Equal(t, QueueModeMemory, cfg.Queue.Mode)
	assert.Equal(t, ToolModeStub, cfg.Oracle.ToolMode)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  port: 9000
oracle:
  model_high: custom-high
pipeline:
  stage_timeout: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	t.Setenv("PORT", "9444")
	t.Setenv("TOOL_MODE", "stub")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9444, cfg.Server.Port, "env wins over file")
	assert.Equal(t, "custom-high", cfg.Oracle.ModelHigh)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.StageTimeout)
}

func TestLoadPartialYAMLKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  port: 9000
oracle:
  max_retries: 5
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout, "absent keys keep defaults")
	assert.Equal(t, "gpt-4o", cfg.Oracle.ModelHigh)
	assert.Equal(t, 5, cfg.Oracle.MaxRetries)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  tip_timeout: soon\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateModeContracts(t *testing.T) {
	cfg := Default()
	cfg.Database.Mode = DBModePostgres
	assert.Error(t, cfg.Validate(), "postgres without URL must fail")

	cfg = Default()
	cfg.Queue.Mode = QueueModeDurable
	assert.Error(t, cfg.Validate(), "durable without redis addr must fail")

	cfg = Default()
	cfg.Oracle.ToolMode = ToolModeReal
	assert.Error(t, cfg.Validate(), "real oracle without key must fail")

	cfg = Default()
	cfg.Database.Mode = "banana"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Pipeline.DemoMode = true
	cfg.Database.Mode = DBModePostgres
	cfg.Database.URL = "postgres://x"
	assert.Error(t, cfg.Validate(), "demo mode refuses a real database")
}

func TestEnvModeSwitches(t *testing.T) {
	t.Setenv("DB_MODE", "memory")
	t.Setenv("QUEUE_MODE", "memory")
	t.Setenv("DEMO_MODE", "true")
	t.Setenv("OFFLINE_MODE", "1")
	t.Setenv("OFFLINE_HASH_DB_PATH", "/tmp/hashes.json")
	t.Setenv("NODE_ENV", "test")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Pipeline.DemoMode)
	assert.True(t, cfg.Offline.Enabled)
	assert.Equal(t, "/tmp/hashes.json", cfg.Offline.HashDBPath)
	assert.True(t, cfg.IsTest())
}
