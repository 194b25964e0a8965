package diskguard

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/r3e-network/mev-searcher/internal/config"
)

// rotateLogs shifts numbered rotation suffixes for any file in dir that
// has crossed cfg.MaxSizeMB, compressing the newly rotated file when
// cfg.Compress is set, and drops the oldest suffix once cfg.MaxFiles is
// exceeded.
func rotateLogs(dir string, cfg config.RotationConfig) (rotated int, reclaimed int64, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}

	maxBytes := cfg.MaxSizeMB * 1024 * 1024
	for _, entry := range entries {
		if entry.IsDir() || isRotatedName(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, statErr := entry.Info()
		if statErr != nil || info.Size() < maxBytes {
			continue
		}

		before := info.Size()
		if err := shiftRotations(path, cfg); err != nil {
			return rotated, reclaimed, err
		}
		rotated++
		reclaimed += before
	}
	return rotated, reclaimed, nil
}

func isRotatedName(name string) bool {
	return strings.Contains(name, ".log.") || strings.HasSuffix(name, ".gz")
}

// shiftRotations renames base -> base.1 (optionally compressing it),
// shifting any existing base.N up to base.N+1 and dropping whatever
// falls off the end of MaxFiles.
func shiftRotations(path string, cfg config.RotationConfig) error {
	maxFiles := cfg.MaxFiles
	if maxFiles <= 0 {
		maxFiles = 1
	}

	suffix := func(n int) string {
		if cfg.Compress {
			return fmt.Sprintf("%s.%d.gz", path, n)
		}
		return fmt.Sprintf("%s.%d", path, n)
	}

	if _, err := os.Stat(suffix(maxFiles)); err == nil {
		if err := os.Remove(suffix(maxFiles)); err != nil {
			return err
		}
	}
	for n := maxFiles - 1; n >= 1; n-- {
		if _, err := os.Stat(suffix(n)); err == nil {
			if err := os.Rename(suffix(n), suffix(n+1)); err != nil {
				return err
			}
		}
	}

	rotatedName := fmt.Sprintf("%s.1", path)
	if err := os.Rename(path, rotatedName); err != nil {
		return err
	}
	if cfg.Compress {
		if err := compressFile(rotatedName); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	return f.Close()
}

func compressFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	defer dst.Close()

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	src.Close()
	return os.Remove(path)
}

// deleteAgedRotatedLogs removes rotated/compressed log files older than
// maxAgeDays.
func deleteAgedRotatedLogs(dir string, maxAgeDays int) (deleted int, reclaimed int64, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}

	cutoff := time.Now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
	for _, entry := range entries {
		if entry.IsDir() || !isRotatedName(entry.Name()) {
			continue
		}
		info, statErr := entry.Info()
		if statErr != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			continue
		}
		deleted++
		reclaimed += info.Size()
	}
	return deleted, reclaimed, nil
}

type cleanupCandidate struct {
	path    string
	modTime time.Time
	size    int64
}

// emergencyCleanup deletes files matching the emergency patterns
// (*.log.*, *.tmp, *.old) inside dir, oldest-first, until targetBytes
// have been reclaimed or candidates are exhausted.
func emergencyCleanup(dir string, targetBytes int64) (deleted int, reclaimed int64, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}

	candidates := make([]cleanupCandidate, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isEmergencyCandidate(entry.Name()) {
			continue
		}
		info, statErr := entry.Info()
		if statErr != nil {
			continue
		}
		candidates = append(candidates, cleanupCandidate{
			path:    filepath.Join(dir, entry.Name()),
			modTime: info.ModTime(),
			size:    info.Size(),
		})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].modTime.Before(candidates[j].modTime) })

	for _, c := range candidates {
		if reclaimed >= targetBytes {
			break
		}
		if err := os.Remove(c.path); err != nil {
			continue
		}
		deleted++
		reclaimed += c.size
	}
	return deleted, reclaimed, nil
}

func isEmergencyCandidate(name string) bool {
	return strings.Contains(name, ".log.") ||
		strings.HasSuffix(name, ".tmp") ||
		strings.HasSuffix(name, ".old")
}
