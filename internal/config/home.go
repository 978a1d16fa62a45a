package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// HomeDirName is the per-project state directory holding config, logs and history.
const HomeDirName = ".rendertest"

// HomeEnv overrides the state directory location.
const HomeEnv = "RENDERTEST_HOME"

// GetHome returns the rendertest state directory
// Priority order:
//  1. RENDERTEST_HOME environment variable (if set)
//  2. <dir>/.rendertest
//
// The directory is created if it doesn't exist
func GetHome(dir string) (string, error) {
	home := os.Getenv(HomeEnv)
	if home == "" {
		home = filepath.Join(dir, HomeDirName)
	}
	if err := os.MkdirAll(home, 0755); err != nil {
		return "", fmt.Errorf("create rendertest home directory: %w", err)
	}
	return home, nil
}

// ResolvePath anchors a relative config path at base. Absolute paths and
// ":memory:" are returned unchanged.
func ResolvePath(base, path string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
