package storage

import (
	"os"
	"path/filepath"

	"github.com/hyperjump/embedsim/internal/models"
)

// DiskUsageBytes returns the total size in bytes of the given artifact paths.
// Each path may be a file or a directory (recursively summed).
// Missing paths and empty strings (disabled artifacts) contribute 0; walk errors are returned.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
			continue
		}
		err = filepath.WalkDir(p, func(_ string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			total += fi.Size()
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}

// EnsureDir creates the output directory if it is absent.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &models.IOError{Op: "create output directory", Path: dir, Err: err}
	}
	return nil
}

// RemoveArtifacts deletes the given files. Missing files and empty strings are skipped.
func RemoveArtifacts(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return &models.IOError{Op: "remove artifact", Path: p, Err: err}
		}
	}
	return nil
}
