package migrateconfig_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/outpostdb/migrator/internal/migrateconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenNoFileOrEnv(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := migrateconfig.Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Redis.Host)
	assert.Equal(t, 6379, cfg.Redis.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "migrator", cfg.KeyPrefix)
	assert.Equal(t, 3, cfg.IndexConcurrency)
}

func TestLoad_ExplicitYAMLFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "migrator.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\nkey_prefix: custom\nredis:\n  host: db.internal\n  port: 6380\n"), 0o600))

	cfg, err := migrateconfig.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "custom", cfg.KeyPrefix)
	assert.Equal(t, "db.internal", cfg.Redis.Host)
	assert.Equal(t, 6380, cfg.Redis.Port)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Chdir(t.TempDir())

	cfg, err := migrateconfig.Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoad_RejectsInvalidLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose")
	t.Chdir(t.TempDir())

	_, err := migrateconfig.Load("")
	assert.Error(t, err)
}

func TestConfig_DurationHelpers(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := migrateconfig.Load("")
	require.NoError(t, err)
	assert.Equal(t, int64(50), cfg.RetryDelay().Milliseconds())
	assert.Equal(t, int64(30_000), cfg.OperationTimeout().Milliseconds())
	assert.Equal(t, float64(10), cfg.LockTTL().Seconds())
}
