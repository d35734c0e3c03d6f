//go:build !windows

// Package diskspace checks free space on the filesystem a copy will land on.
package diskspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// InsufficientSpaceError indicates that there is not enough disk space available.
type InsufficientSpaceError struct {
	Path           string
	RequiredBytes  int64
	AvailableBytes int64
}

func (e *InsufficientSpaceError) Error() string {
	requiredMB := float64(e.RequiredBytes) / (1024 * 1024)
	availableMB := float64(e.AvailableBytes) / (1024 * 1024)
	return fmt.Sprintf("insufficient disk space for %s: need %.2f MB, have %.2f MB available",
		e.Path, requiredMB, availableMB)
}

// CheckAvailableSpace checks that requiredBytes*safetyMargin fit on the
// filesystem holding targetPath. The nearest existing ancestor is
// statted, so targetPath need not exist yet. If the filesystem cannot be
// statted the check passes and the copy fails on its own.
func CheckAvailableSpace(targetPath string, requiredBytes int64, safetyMargin float64) error {
	availableBytes, ok := available(targetPath)
	if !ok {
		return nil
	}

	requiredWithMargin := int64(float64(requiredBytes) * safetyMargin)
	if availableBytes < requiredWithMargin {
		return &InsufficientSpaceError{
			Path:           targetPath,
			RequiredBytes:  requiredWithMargin,
			AvailableBytes: availableBytes,
		}
	}
	return nil
}

// GetAvailableSpace returns the available space in bytes for the filesystem
// containing the given path. Returns 0 if unable to determine.
func GetAvailableSpace(path string) int64 {
	n, _ := available(path)
	return n
}

func available(path string) (int64, bool) {
	dir := filepath.Dir(path)
	for {
		if _, err := os.Stat(dir); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, false
	}
	// Bavail counts blocks available to unprivileged users.
	return int64(stat.Bavail) * int64(stat.Bsize), true
}

// IsInsufficientSpaceError checks if an error is an InsufficientSpaceError
func IsInsufficientSpaceError(err error) bool {
	var ise *InsufficientSpaceError
	return errors.As(err, &ise)
}

// Usage returns the total size of regular files under path, following
// neither symlinks nor mount points.
func Usage(path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}
