// Package config provides tool settings and run-configuration loading for simchain.
package config

import (
	"os"
	"path/filepath"
)

// SettingsDirectory returns the directory holding simchain.conf.
// Uses the XDG config directory, falling back to ~/.config.
func SettingsDirectory() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "simchain")
		}
		return filepath.Join(homeDir, ".config", "simchain")
	}
	return filepath.Join(configDir, "simchain")
}

// DefaultSettingsPath returns the default path for the simchain.conf file.
func DefaultSettingsPath() string {
	return filepath.Join(SettingsDirectory(), "simchain.conf")
}

// EnsureDirectory creates dir (and parents) if it doesn't exist.
func EnsureDirectory(dir string) error {
	return os.MkdirAll(dir, 0755)
}
