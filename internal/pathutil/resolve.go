// Package pathutil resolves user-supplied paths and symlink chains.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rescale/simchain/internal/constants"
)

// ResolveAbsolutePath expands ~ and makes path absolute. Symlinks in the
// existing portion of the path are resolved; any non-existent tail is
// appended unchanged, so directories that will be created later resolve
// the same way as existing ones.
func ResolveAbsolutePath(path string) (string, error) {
	if path == "" {
		return os.Getwd()
	}

	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = home + path[1:]
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	resolved, err := filepath.EvalSymlinks(absPath)
	if err == nil {
		return resolved, nil
	}

	current := absPath
	var remainder []string
	for {
		if _, err := os.Stat(current); err == nil {
			resolved, err := filepath.EvalSymlinks(current)
			if err != nil {
				resolved = current
			}
			for i := len(remainder) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, remainder[i])
			}
			return resolved, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return absPath, nil
		}
		remainder = append(remainder, filepath.Base(current))
		current = parent
	}
}

// ResolveLink follows path through any chain of symlinks to the first
// non-link, returning its absolute path. A chain that loops back on
// itself is returned as path unchanged, as is a path that is not a link.
// A dangling chain resolves to the missing final target.
func ResolveLink(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	seen := map[string]bool{}
	current := abs
	for depth := 0; depth <= constants.MaxSymlinkDepth; depth++ {
		info, err := os.Lstat(current)
		if err != nil {
			if os.IsNotExist(err) && current != abs {
				return current, nil
			}
			return "", err
		}
		if info.Mode()&os.ModeSymlink == 0 {
			return current, nil
		}
		if seen[current] {
			return abs, nil
		}
		seen[current] = true

		target, err := os.Readlink(current)
		if err != nil {
			return "", fmt.Errorf("failed to read link %s: %w", current, err)
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(current), target)
		}
		current = filepath.Clean(target)
	}
	return abs, nil
}
