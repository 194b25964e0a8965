package diskguard

import (
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/mev-searcher/internal/config"
)

func writeFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func TestRotateLogsShiftsAndCompresses(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.log", 2048)

	cfg := config.RotationConfig{MaxSizeMB: 0, MaxFiles: 3, Compress: true}
	// MaxSizeMB of 0 bytes means "rotate anything", simulate crossed threshold.
	cfg.MaxSizeMB = 0

	rotated, reclaimed, err := rotateLogs(dir, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, rotated)
	assert.Equal(t, int64(2048), reclaimed)

	_, err = os.Stat(filepath.Join(dir, "app.log.1.gz"))
	assert.NoError(t, err, "rotated file should be compressed")

	_, err = os.Stat(filepath.Join(dir, "app.log"))
	assert.NoError(t, err, "a fresh empty file should replace the rotated one")
}

func TestCompressFileProducesValidGzip(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sample.log.1", 128)

	require.NoError(t, compressFile(path))

	f, err := os.Open(path + ".gz")
	require.NoError(t, err)
	defer f.Close()

	r, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer r.Close()

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "original file must be removed after compression")
}

func TestDeleteAgedRotatedLogsRemovesOldOnly(t *testing.T) {
	dir := t.TempDir()
	oldPath := writeFile(t, dir, "app.log.1", 64)
	newPath := writeFile(t, dir, "app.log.2", 64)

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, old, old))

	deleted, reclaimed, err := deleteAgedRotatedLogs(dir, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.Equal(t, int64(64), reclaimed)

	_, err = os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(newPath)
	assert.NoError(t, err)
}

func TestEmergencyCleanupDeletesOldestFirstUntilTarget(t *testing.T) {
	dir := t.TempDir()
	p1 := writeFile(t, dir, "a.tmp", 100)
	p2 := writeFile(t, dir, "b.old", 100)
	p3 := writeFile(t, dir, "c.tmp", 100)

	now := time.Now()
	require.NoError(t, os.Chtimes(p1, now.Add(-3*time.Hour), now.Add(-3*time.Hour)))
	require.NoError(t, os.Chtimes(p2, now.Add(-2*time.Hour), now.Add(-2*time.Hour)))
	require.NoError(t, os.Chtimes(p3, now.Add(-1*time.Hour), now.Add(-1*time.Hour)))

	deleted, reclaimed, err := emergencyCleanup(dir, 150)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.Equal(t, int64(200), reclaimed)

	_, err = os.Stat(p1)
	assert.True(t, os.IsNotExist(err), "oldest file must be deleted first")
	_, err = os.Stat(p2)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(p3)
	assert.NoError(t, err, "newest file must survive once target is met")
}

func TestEmergencyCleanupIgnoresNonMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "keep.txt", 1000)

	deleted, reclaimed, err := emergencyCleanup(dir, 1000)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
	assert.Equal(t, int64(0), reclaimed)
}

func TestSweepAllReportsPerDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "old.tmp", 50)

	cfg := config.DiskGuardConfig{
		WarningPercent:   75,
		CriticalPercent:  85,
		EmergencyPercent: 0, // force emergency tier regardless of actual usage
		Directories: []config.DiskGuardDirConfig{
			{Path: dir, CleanupEnabled: true},
		},
	}
	g := New(cfg, nil)
	reports := g.SweepAll(nil)
	require.Len(t, reports, 1)
	assert.Equal(t, TierEmergency, reports[0].Tier)
}
