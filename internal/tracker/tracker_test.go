package tracker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchdata/internal/models"
)

func touch(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestCandidates(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "b", "export.xml"), "<HealthData/>")
	touch(t, filepath.Join(root, "a", "nested", "export.xml"), "<HealthData/>")
	touch(t, filepath.Join(root, "a", "export_cda.xml"), "<x/>")
	touch(t, filepath.Join(root, "Export.XML"), "<x/>")
	touch(t, filepath.Join(root, "export.xml.bak"), "<x/>")

	got, err := New(root).Candidates()
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a", "nested", "export.xml"),
		filepath.Join(root, "b", "export.xml"),
	}, got)
}

func TestCandidates_MissingRoot(t *testing.T) {
	got, err := New(filepath.Join(t.TempDir(), "missing")).Candidates()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.xml")
	touch(t, path, "hello")

	h, err := Hash(path)
	require.NoError(t, err)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", h)

	_, err = Hash(filepath.Join(t.TempDir(), "none"))
	assert.Error(t, err)
}

func TestNeedsProcessing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.xml")
	touch(t, path, "<HealthData/>")
	info, err := Stat(path)
	require.NoError(t, err)

	processed := time.Now()
	unchanged := &models.IngestFile{SizeBytes: info.Size, Mtime: info.Mtime, ProcessedAt: &processed}

	tests := []struct {
		name  string
		prior *models.IngestFile
		want  bool
	}{
		{"new file", nil, true},
		{"unchanged", unchanged, false},
		{"never finished", &models.IngestFile{SizeBytes: info.Size, Mtime: info.Mtime}, true},
		{"resized", &models.IngestFile{SizeBytes: info.Size + 1, Mtime: info.Mtime, ProcessedAt: &processed}, true},
		{"touched", &models.IngestFile{SizeBytes: info.Size, Mtime: info.Mtime.Add(-time.Second), ProcessedAt: &processed}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsProcessing(tt.prior, info))
		})
	}
}

func TestStatTruncatesToMicroseconds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.xml")
	touch(t, path, "x")
	mt := time.Date(2024, 1, 2, 3, 4, 5, 123456789, time.UTC)
	require.NoError(t, os.Chtimes(path, mt, mt))

	info, err := Stat(path)
	require.NoError(t, err)
	assert.Equal(t, 123456000, info.Mtime.Nanosecond())
}
