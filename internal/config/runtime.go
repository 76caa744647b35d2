package config

import (
	"os"
	"path/filepath"
)

// GetRuntimePath resolves the runtime directory before any .env is loaded.
// Relative paths are anchored at the user's home directory.
func GetRuntimePath() string {
	path := os.Getenv("PERCEPT_RUNTIME_PATH")
	if path == "" {
		path = ".percept"
	}

	if !filepath.IsAbs(path) {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		path = filepath.Join(home, path)
	}
	return path
}
