// Package validation checks names taken from run configurations before
// they are joined onto experiment paths.
package validation

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateFilename validates a single path component.
//
// Returns an error if the filename:
//   - Is empty
//   - Contains path separators (/ or \)
//   - Is ".."
//   - Contains null bytes
func ValidateFilename(filename string) error {
	if filename == "" {
		return fmt.Errorf("filename cannot be empty")
	}
	if strings.ContainsRune(filename, 0) {
		return fmt.Errorf("filename contains null byte: %s", filename)
	}
	if strings.ContainsRune(filename, '/') || strings.ContainsRune(filename, '\\') {
		return fmt.Errorf("filename cannot contain path separators: %s", filename)
	}
	// Names like "data..v2.nc" are fine; only the bare parent reference is not.
	if filename == ".." {
		return fmt.Errorf("filename cannot be '..': %s", filename)
	}
	return nil
}

// ValidateRelative checks a relative path such as a staging subfolder or
// a target name: it must not be absolute and must not climb out of the
// directory it is joined onto. Empty is allowed.
func ValidateRelative(rel string) error {
	if rel == "" {
		return nil
	}
	if strings.ContainsRune(rel, 0) {
		return fmt.Errorf("path contains null byte: %s", rel)
	}
	if filepath.IsAbs(rel) {
		return fmt.Errorf("path must be relative: %s", rel)
	}
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path escapes its directory: %s", rel)
	}
	return nil
}

// ValidatePathInDirectory validates that a path, when resolved, stays within baseDir.
//
// Both path and baseDir are cleaned and made absolute before comparison.
//
// Example:
//
//	ValidatePathInDirectory("../../etc/passwd", "/exp/run_x/work") // Error: escapes base dir
//	ValidatePathInDirectory("output/fesom.nc", "/exp/run_x/work")  // OK: within base dir
func ValidatePathInDirectory(path string, baseDir string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if baseDir == "" {
		return fmt.Errorf("base directory cannot be empty")
	}

	cleanPath := filepath.Clean(path)
	cleanBase := filepath.Clean(baseDir)

	var err error
	if !filepath.IsAbs(cleanBase) {
		cleanBase, err = filepath.Abs(cleanBase)
		if err != nil {
			return fmt.Errorf("failed to resolve base directory: %w", err)
		}
	}

	resolvedPath := cleanPath
	if !filepath.IsAbs(cleanPath) {
		resolvedPath = filepath.Join(cleanBase, cleanPath)
	}
	resolvedPath = filepath.Clean(resolvedPath)

	relPath, err := filepath.Rel(cleanBase, resolvedPath)
	if err != nil {
		return fmt.Errorf("failed to compute relative path: %w", err)
	}
	if strings.HasPrefix(relPath, ".."+string(filepath.Separator)) || relPath == ".." {
		return fmt.Errorf("path escapes base directory: %s (base: %s)", path, baseDir)
	}
	return nil
}
