package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestLoadDefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("QUERYDECK_KEY", testKey)
	t.Setenv("QUERYDECK_CONFIG", "")

	cfg, err := LoadFrom("", filepath.Join(dir, ".env"))
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.Query.Timeout.Duration)
	assert.Equal(t, 100*time.Millisecond, cfg.Query.ProgressInterval.Duration)
	assert.Greater(t, cfg.Query.Workers, 0)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, testKey, cfg.Key)
}

func TestLoadYAMLThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("QUERYDECK_KEY", testKey)
	t.Setenv("QUERYDECK_QUERY_TIMEOUT_MS", "1500")

	path := filepath.Join(dir, "querydeck.yaml")
	yamlBody := `
data_dir: /var/lib/querydeck
query:
  timeout: 30s
  progress_interval: 250ms
  workers: 3
history:
  retention_days: 14
  prune_schedule: "@hourly"
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0644))

	cfg, err := LoadFrom(path, filepath.Join(dir, ".env"))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/querydeck", cfg.DataDir)
	assert.Equal(t, 1500*time.Millisecond, cfg.Query.Timeout.Duration, "env wins over file")
	assert.Equal(t, 250*time.Millisecond, cfg.Query.ProgressInterval.Duration)
	assert.Equal(t, 3, cfg.Query.Workers)
	assert.Equal(t, 14, cfg.History.RetentionDays)
	assert.Equal(t, "@hourly", cfg.History.PruneSchedule)
	assert.Equal(t, filepath.Join("/var/lib/querydeck", "querydeck.db"), cfg.DBPath())
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	t.Setenv("QUERYDECK_KEY", testKey)
	_, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"), filepath.Join(t.TempDir(), ".env"))
	require.Error(t, err)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("QUERYDECK_KEY", testKey)
	path := filepath.Join(dir, "querydeck.yaml")
	require.NoError(t, os.WriteFile(path, []byte("query:\n  timeout: soon\n"), 0644))

	_, err := LoadFrom(path, filepath.Join(dir, ".env"))
	require.Error(t, err)
}

func TestLoadGeneratesAndSavesKey(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("QUERYDECK_PORT=9090\n"), 0644))
	t.Setenv("QUERYDECK_KEY", "short")
	t.Setenv("QUERYDECK_PORT", "")

	cfg, err := LoadFrom(filepath.Join(dir, "absent.yaml"), envFile)
	// An explicit but missing config file is an error even while generating keys.
	require.Error(t, err)
	assert.Nil(t, cfg)

	t.Setenv("QUERYDECK_CONFIG", "")
	cfg, err = LoadFrom("", envFile)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(cfg.Key), 32)

	saved, err := godotenv.Read(envFile)
	require.NoError(t, err)
	assert.Equal(t, cfg.Key, saved["QUERYDECK_KEY"])
	assert.Equal(t, "9090", saved["QUERYDECK_PORT"], "existing entries are kept")
}
