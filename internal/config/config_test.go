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
	cfg, err := Load("", "")
	require.NoError(t, err)

	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.Equal(t, 5, cfg.Executor.DefaultConcurrency)
	assert.Equal(t, "UTC", cfg.Scheduler.DefaultTimezone)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_ConfigFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  backend: postgres
  host: db.internal
executor:
  default_concurrency: 20
`), 0644))

	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Storage.Backend)
	assert.Equal(t, "db.internal", cfg.Storage.Host)
	assert.Equal(t, 20, cfg.Executor.DefaultConcurrency)
	// Untouched defaults survive the merge.
	assert.Equal(t, "UTC", cfg.Scheduler.DefaultTimezone)
}

func TestLoad_EnvOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  backend: postgres
`), 0644))

	t.Setenv("ORCH_STORAGE_BACKEND", "file")
	t.Setenv("ORCH_EXECUTOR_DEFAULT_CONCURRENCY", "12")

	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.Equal(t, 12, cfg.Executor.DefaultConcurrency)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("ORCH_LOGGING_LEVEL=debug\n"), 0644))

	cfg, err := Load("", envPath)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate_RejectsUnknownBackend(t *testing.T) {
	cfg := defaults()
	cfg.Storage.Backend = "sqlite"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsNonPositiveConcurrency(t *testing.T) {
	cfg := defaults()
	cfg.Executor.DefaultConcurrency = 0
	assert.Error(t, cfg.Validate())
}

func TestDefaults_HousekeepingIntervalIsADay(t *testing.T) {
	cfg := defaults()
	assert.Equal(t, 24*time.Hour, cfg.Scheduler.HousekeepingInterval)
}
