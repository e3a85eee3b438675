package backup

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSpecs() []FileSpec {
	return []FileSpec{
		{Key: "viewed", Filename: "viewed.json", Default: []any{}},
		{Key: "favorites", Filename: "favorites.json", Default: map[string]any{}},
		{Key: "browse_history", Filename: "history.json", Default: []any{}},
	}
}

func TestCreateThenRestoreRoundTrips(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(base, "favorites.json"), []byte(`{"1":{"id":1,"tags":"a"}}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(base, "viewed.json"), []byte(`["1","2","3"]`), 0o644))

	m := New(base, "1.0.0-test", testSpecs(), nil)
	archivePath := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, m.CreateBackup(archivePath))

	info, ok := m.GetBackupInfo(archivePath)
	require.True(t, ok)
	assert.True(t, info.ChecksumValid)
	assert.Equal(t, 3, info.Stats.ViewedCount)
	assert.Equal(t, 1, info.Stats.FavoritesCount)

	// Wipe current state, then restore from the archive.
	require.NoError(t, os.WriteFile(filepath.Join(base, "favorites.json"), []byte(`{}`), 0o644))
	require.NoError(t, m.RestoreBackup(archivePath, false))

	restored, err := os.ReadFile(filepath.Join(base, "favorites.json"))
	require.NoError(t, err)
	assert.Contains(t, string(restored), `"tags": "a"`)
}

func TestRestoreRejectsTamperedArchive(t *testing.T) {
	base := t.TempDir()
	m := New(base, "1.0.0-test", testSpecs(), nil)
	archivePath := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, m.CreateBackup(archivePath))

	raw, err := os.ReadFile(archivePath)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	doc["checksum"] = "0000000000000000000000000000000000000000000000000000000000000000"
	corrupted, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(archivePath, corrupted, 0o644))

	err = m.RestoreBackup(archivePath, false)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestRestoreRejectsOversizedArchive(t *testing.T) {
	base := t.TempDir()
	m := New(base, "1.0.0-test", testSpecs(), nil)

	big := filepath.Join(t.TempDir(), "big.json")
	data := make([]byte, maxRestoreBytes+1)
	require.NoError(t, os.WriteFile(big, data, 0o644))

	err := m.RestoreBackup(big, true)
	require.Error(t, err)
}

func TestRestoreSnapshotsCurrentFilesBeforeOverwriting(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(base, "favorites.json"), []byte(`{"9":{"id":9}}`), 0o644))

	m := New(base, "1.0.0-test", testSpecs(), nil)
	archivePath := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, m.CreateBackup(archivePath))
	require.NoError(t, m.RestoreBackup(archivePath, true))

	entries, err := os.ReadDir(filepath.Join(base, backupTempDirName))
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}
