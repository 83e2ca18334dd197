// Package appdir resolves the paths under the engine's data directory.
package appdir

import (
	"os"
	"path/filepath"
)

// Base returns ~/.smsync, or the SMSYNC_HOME override.
func Base() string {
	if dir := os.Getenv("SMSYNC_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".smsync")
}

// DBPath returns the state database path.
func DBPath() string {
	return filepath.Join(Base(), "state.db")
}

// LogPath returns the daemon log file path.
func LogPath() string {
	return filepath.Join(Base(), "logs", "smsyncd.log")
}

// ConfigPath returns the config file path.
func ConfigPath() string {
	return filepath.Join(Base(), "config.toml")
}

// Ensure creates the data directory tree with owner-only permissions.
func Ensure() error {
	for _, d := range []string{Base(), filepath.Join(Base(), "logs")} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
