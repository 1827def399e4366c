// Package layout computes the on-disk locations of datasets below a data
// root:
//
//	<root>/download/<prefix>/<artifact>
//	<root>/extract/<prefix>/...
//	<root>/.locks/<prefix>.lock
//
// Resolution is pure path computation; nothing is created on disk.
package layout

import (
	"fmt"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/glorpus-work/datasets/pkg/errors"
	"github.com/glorpus-work/datasets/pkg/fsutil"
)

const (
	DownloadDirName = "download"
	ExtractDirName  = "extract"
	LocksDirName    = ".locks"
	LockSuffix      = ".lock"
	extractTmpStem  = ".tmp-"
)

// Paths are the resolved locations for one prefix.
type Paths struct {
	Root        string
	Prefix      string
	DownloadDir string
	ExtractDir  string
	LockPath    string
}

// Resolver resolves prefixes against an explicit root or a process-wide default.
type Resolver struct {
	defaultRoot string
}

// NewResolver returns a resolver using defaultRoot when a descriptor carries
// no override. An empty defaultRoot falls back to fsutil.DefaultDataRoot.
func NewResolver(defaultRoot string) (*Resolver, error) {
	if defaultRoot == "" {
		root, err := fsutil.DefaultDataRoot()
		if err != nil {
			return nil, fmt.Errorf("%w: resolving default data root: %w", errors.ErrIO, err)
		}
		defaultRoot = root
	}
	abs, err := filepath.Abs(defaultRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrIO, err)
	}
	return &Resolver{defaultRoot: abs}, nil
}

// DefaultRoot returns the root used when no override is given.
func (r *Resolver) DefaultRoot() string {
	return r.defaultRoot
}

// Root returns override when set, else the default root.
func (r *Resolver) Root(override string) string {
	if override != "" {
		return override
	}
	return r.defaultRoot
}

// Resolve returns the directories for prefix. The same inputs always produce
// the same paths.
func (r *Resolver) Resolve(dataRootOverride, prefix string) (Paths, error) {
	return Resolve(r.Root(dataRootOverride), prefix)
}

// Resolve computes the paths for prefix below root.
func Resolve(root, prefix string) (Paths, error) {
	if err := ValidatePrefix(prefix); err != nil {
		return Paths{}, err
	}
	downloadDir, err := join(DownloadRoot(root), prefix)
	if err != nil {
		return Paths{}, err
	}
	extractDir, err := join(ExtractRoot(root), prefix)
	if err != nil {
		return Paths{}, err
	}
	return Paths{
		Root:        root,
		Prefix:      prefix,
		DownloadDir: downloadDir,
		ExtractDir:  extractDir,
		LockPath:    filepath.Join(LocksRoot(root), prefix+LockSuffix),
	}, nil
}

// ValidatePrefix rejects prefixes that are empty or are not a single plain
// path segment.
func ValidatePrefix(prefix string) error {
	switch {
	case strings.TrimSpace(prefix) == "":
		return fmt.Errorf("%w: empty prefix", errors.ErrInvalidPrefix)
	case prefix == "." || prefix == "..":
		return fmt.Errorf("%w: %q", errors.ErrInvalidPrefix, prefix)
	case strings.ContainsAny(prefix, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", errors.ErrInvalidPrefix, prefix)
	case strings.ContainsRune(prefix, 0):
		return fmt.Errorf("%w: %q contains NUL", errors.ErrInvalidPrefix, prefix)
	case strings.HasPrefix(prefix, extractTmpStem) || strings.HasSuffix(prefix, LockSuffix):
		return fmt.Errorf("%w: %q uses a reserved name", errors.ErrInvalidPrefix, prefix)
	}
	return nil
}

// join places prefix below base and rejects the result when an existing
// symlink would redirect it elsewhere.
func join(base, prefix string) (string, error) {
	naive := filepath.Join(base, prefix)
	safe, err := securejoin.SecureJoin(base, prefix)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", errors.ErrInvalidPrefix, prefix, err)
	}
	if safe != naive {
		return "", fmt.Errorf("%w: %q resolves outside %s", errors.ErrInvalidPrefix, prefix, base)
	}
	return naive, nil
}

// DownloadRoot is the directory holding every prefix's downloads.
func DownloadRoot(root string) string { return filepath.Join(root, DownloadDirName) }

// ExtractRoot is the directory holding every prefix's extracted tree.
func ExtractRoot(root string) string { return filepath.Join(root, ExtractDirName) }

// LocksRoot is the directory holding the per-prefix lock files.
func LocksRoot(root string) string { return filepath.Join(root, LocksDirName) }

// ExtractTempPattern is the os.MkdirTemp pattern for staging an extraction of
// prefix next to its final directory.
func ExtractTempPattern(prefix string) string {
	return extractTmpStem + prefix + "-*"
}

// IsStaging reports whether name is a staging directory left by an extraction.
func IsStaging(name string) bool {
	return strings.HasPrefix(name, extractTmpStem)
}
