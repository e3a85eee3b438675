package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsMatchTheConfigurationTable(t *testing.T) {
	d := Defaults()
	assert.Equal(t, "love", d.BaseDir)
	assert.Equal(t, 100, d.Limit)
	assert.Equal(t, 3, d.MaxDownloadWorkers)
	assert.Equal(t, 8, d.PreloadWorkers)
	assert.Equal(t, 15, d.PreloadCount)
	assert.Equal(t, 50, d.MaxImageCache)
	assert.Equal(t, 500, d.MaxMemoryMB)
	assert.Equal(t, 500, d.MaxBrowseHistory)
	assert.Equal(t, 10, d.HighScoreThreshold)
	assert.Equal(t, 3, d.Download.MaxRetries)
	assert.Equal(t, 8192, d.Download.ChunkSize)
	assert.Equal(t, 200, d.Download.MaxFileMB)
	assert.Equal(t, 1.0, d.Download.DiskMinFreeGB)
	assert.Equal(t, 512, d.MaxFileMB)
	assert.Equal(t, 20, d.DiskMaxGB)
	assert.Equal(t, []string{"https"}, d.AllowedSchemes)
}

func TestValidateClampsOutOfRangeFields(t *testing.T) {
	c := Config{Limit: 5000, MaxDownloadWorkers: 99, PreloadCount: 0, MaxImageCache: 1}
	c.Validate()
	assert.Equal(t, 1000, c.Limit)
	assert.Equal(t, 10, c.MaxDownloadWorkers)
	assert.Equal(t, 1, c.PreloadCount)
	assert.Equal(t, 10, c.MaxImageCache)
	assert.Equal(t, []string{"https"}, c.AllowedSchemes)
}

func TestManagerLoadFallsBackToDefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	m := New(dir, nil)
	cfg := m.Load()
	assert.Equal(t, Defaults(), cfg)
}

func TestManagerSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	m := New(dir, nil)

	cfg := Defaults()
	cfg.BaseDir = "archive"
	cfg.AllowedHosts = []string{"api.example.test"}
	require.NoError(t, m.Save(cfg))

	loaded := m.Load()
	assert.Equal(t, "archive", loaded.BaseDir)
	assert.Equal(t, []string{"api.example.test"}, loaded.AllowedHosts)
	assert.FileExists(t, filepath.Join(dir, "config.json"))
}

func TestFactoryResetPersistsDefaults(t *testing.T) {
	dir := t.TempDir()
	m := New(dir, nil)

	cfg := Defaults()
	cfg.BaseDir = "custom"
	require.NoError(t, m.Save(cfg))

	reset := m.FactoryReset()
	assert.Equal(t, Defaults(), reset)
	assert.Equal(t, Defaults(), m.Load())
}
