package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 0.5, cfg.Classify.MinConfidence)
	assert.Equal(t, time.Hour, cfg.Scheduler.Interval)
}

func TestLoadFromFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
db: /tmp/x.db
correlation:
  spatial:
    max_distance_km: 80
    max_delta: 12h
scheduler:
  interval: 15m
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.DB)
	assert.Equal(t, 80.0, cfg.Correlation.Spatial.MaxDistanceKm)
	assert.Equal(t, 12*time.Hour, cfg.Correlation.Spatial.MaxDelta)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.Interval)

	// Untouched sections keep their defaults.
	def := DefaultConfig()
	assert.Equal(t, def.Correlation.Temporal, cfg.Correlation.Temporal)
	assert.Equal(t, def.Priority, cfg.Priority)
	require.NoError(t, cfg.Validate())
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.DB = ":memory:"
	cfg.Correlation.Financial.CurrencyRates = map[string]float64{"EUR": 1.1}
	require.NoError(t, cfg.SaveToFile(path))

	got, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestLoadFromFileErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db: [unterminated"), 0644))
	_, err = LoadFromFile(path)
	assert.Error(t, err)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DB = ""
	cfg.Log.Level = "loud"
	cfg.Priority.LinkedScale = 0
	cfg.Scheduler.ClassifyWorkers = 0

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"db is required", "log.level", "priority:", "scheduler:"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestAutoPopulateFromEnv(t *testing.T) {
	t.Setenv("SIGHTLINE_DB", "/data/s.db")
	t.Setenv("SIGHTLINE_LOG_LEVEL", "debug")
	t.Setenv("SIGHTLINE_CATALOG", "/etc/catalog.yaml")

	cfg := DefaultConfig()
	cfg.AutoPopulateFromEnv()
	assert.Equal(t, "/data/s.db", cfg.DB)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/etc/catalog.yaml", cfg.Catalog)
}
