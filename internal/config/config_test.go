package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 0.3, cfg.Quality.ImportanceThreshold)
	assert.Equal(t, 1000, cfg.Performance.CacheMaxSize)
	assert.Equal(t, 3600000, cfg.Performance.CacheTTLMS)
	assert.Equal(t, 3, cfg.Performance.PreloadThreshold)
	assert.Equal(t, 0.6, cfg.Retrieval.VectorWeight)
	assert.Equal(t, 0.4, cfg.Retrieval.TextWeight)
	assert.Equal(t, 0.7, cfg.Retrieval.MMRLambda)
	assert.Equal(t, 60, cfg.Retrieval.TemporalDecayHalfLife)
	assert.Equal(t, "permanent", cfg.Lifecycle.P0Retention)
	assert.Equal(t, 90, cfg.Lifecycle.P1RetentionDays)
	assert.Equal(t, 30, cfg.Lifecycle.P2RetentionDays)
	assert.Equal(t, 500, cfg.Automation.SummaryThreshold)
	assert.Equal(t, 10, cfg.Security.RateLimitPerSec)
	assert.True(t, cfg.Security.Enabled)
	assert.False(t, cfg.Security.EncryptionEnabled)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadAbsentFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory-config.json")
	doc := `{
		"quality": {"importance_threshold": 0.5, "deduplication": false},
		"performance": {"cache_max_size": 10},
		"unknown_section": {"ignored": true}
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Quality.ImportanceThreshold)
	assert.False(t, cfg.Quality.Deduplication)
	assert.Equal(t, 10, cfg.Performance.CacheMaxSize)
	// Untouched sections keep their defaults.
	assert.Equal(t, 0.7, cfg.Retrieval.MMRLambda)
	assert.True(t, cfg.Security.Enabled)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory-config.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}
