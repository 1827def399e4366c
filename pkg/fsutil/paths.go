package fsutil

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	// AppName is the directory name used under the user cache directory.
	AppName = "datasets"

	// DataRootEnv overrides the default data root when set.
	DataRootEnv = "DATASETS_DATA_ROOT"
)

// DefaultDataRoot returns the process-wide default data root.
// Priority: $DATASETS_DATA_ROOT, then the platform cache directory
// (~/.cache/datasets on Linux, ~/Library/Caches/datasets on macOS,
// %LOCALAPPDATA%\datasets on Windows).
func DefaultDataRoot() (string, error) {
	if dir := os.Getenv(DataRootEnv); dir != "" {
		return filepath.Abs(dir)
	}
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, AppName), nil
}

// IsWithin reports whether path is root itself or lies below it.
// Both paths are cleaned lexically; symlinks are not resolved.
func IsWithin(root, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
