package cache

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/glorpus-work/datasets/internal/logger"
	"github.com/glorpus-work/datasets/pkg/errors"
	"github.com/glorpus-work/datasets/pkg/fsutil"
	"github.com/glorpus-work/datasets/pkg/layout"
)

// DefaultManager implements the Manager interface over one data root.
// Cleaning a prefix takes the same per-prefix lock as the cache gate, so a
// dataset is never removed while it is being prepared.
type DefaultManager struct {
	directory   string
	lockTimeout time.Duration
}

// NewManager creates a new cache manager for the data root directory.
func NewManager(directory string, lockTimeout time.Duration) *DefaultManager {
	return &DefaultManager{
		directory:   directory,
		lockTimeout: lockTimeout,
	}
}

// Clean removes cached files according to the specified options.
func (cm *DefaultManager) Clean(ctx context.Context, options CleanOptions) (*CleanResult, error) {
	if cm.directory == "" {
		return nil, errors.ErrCacheDirectory
	}

	if !options.Downloads && !options.Extracts {
		options.Downloads = true
		options.Extracts = true
	}

	prefixes := []string{options.Prefix}
	if options.Prefix == "" {
		var err error
		prefixes, err = cm.prefixes()
		if err != nil {
			return nil, errors.Tag(errors.ErrCacheClean, err)
		}
	}

	result := &CleanResult{}
	for _, prefix := range prefixes {
		downloadFreed, extractFreed, err := cm.cleanPrefix(ctx, prefix, options)
		if err != nil {
			return result, errors.Tag(errors.ErrCacheClean, errors.Wrapf(err, "prefix %s", prefix))
		}
		if downloadFreed+extractFreed == 0 {
			continue
		}
		result.DownloadFreed += downloadFreed
		result.ExtractFreed += extractFreed
		result.TotalFreed += downloadFreed + extractFreed
		result.Prefixes = append(result.Prefixes, prefix)
	}

	logger.Debug("Cache cleaned", logger.Fields{
		"root":     cm.directory,
		"freed":    result.TotalFreed,
		"prefixes": len(result.Prefixes),
	})
	return result, nil
}

func (cm *DefaultManager) cleanPrefix(ctx context.Context, prefix string, options CleanOptions) (downloadFreed, extractFreed int64, err error) {
	paths, err := layout.Resolve(cm.directory, prefix)
	if err != nil {
		return 0, 0, err
	}

	unlock, err := fsutil.Lock(ctx, paths.LockPath, cm.lockTimeout)
	if err != nil {
		return 0, 0, err
	}
	defer unlock()

	if options.Downloads {
		if downloadFreed, err = removeTree(paths.DownloadDir); err != nil {
			return 0, 0, err
		}
	}

	if options.Extracts {
		if extractFreed, err = removeTree(paths.ExtractDir); err != nil {
			return downloadFreed, 0, err
		}
		staging, _ := filepath.Glob(filepath.Join(layout.ExtractRoot(cm.directory), layout.ExtractTempPattern(prefix)))
		for _, dir := range staging {
			freed, err := removeTree(dir)
			if err != nil {
				return downloadFreed, extractFreed, err
			}
			extractFreed += freed
		}
	}

	return downloadFreed, extractFreed, nil
}

// GetInfo returns information about the cache.
func (cm *DefaultManager) GetInfo() (*Info, error) {
	info := &Info{Directory: cm.directory}

	var err error
	info.DownloadSize, info.DownloadFiles, err = fsutil.DirSize(layout.DownloadRoot(cm.directory))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get download cache info")
	}
	info.ExtractSize, info.ExtractFiles, err = fsutil.DirSize(layout.ExtractRoot(cm.directory))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get extract cache info")
	}
	info.TotalSize = info.DownloadSize + info.ExtractSize

	prefixes, err := cm.prefixes()
	if err != nil {
		return nil, err
	}
	for _, prefix := range prefixes {
		paths, err := layout.Resolve(cm.directory, prefix)
		if err != nil {
			continue
		}
		p := PrefixInfo{Prefix: prefix}
		if p.DownloadSize, _, err = fsutil.DirSize(paths.DownloadDir); err != nil {
			return nil, errors.Wrapf(err, "failed to size %s", paths.DownloadDir)
		}
		if p.ExtractSize, _, err = fsutil.DirSize(paths.ExtractDir); err != nil {
			return nil, errors.Wrapf(err, "failed to size %s", paths.ExtractDir)
		}
		if st, err := os.Stat(paths.ExtractDir); err == nil && st.IsDir() {
			p.Extracted = true
		}
		if p.DownloadSize == 0 && !p.Extracted {
			continue
		}
		info.Prefixes = append(info.Prefixes, p)
	}

	return info, nil
}

// GetDirectory returns the data root path.
func (cm *DefaultManager) GetDirectory() string {
	return cm.directory
}

// prefixes lists every prefix with a download, extract or lock entry,
// sorted and without duplicates.
func (cm *DefaultManager) prefixes() ([]string, error) {
	seen := make(map[string]struct{})

	for _, dir := range []string{layout.DownloadRoot(cm.directory), layout.ExtractRoot(cm.directory)} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Tag(errors.ErrIO, err)
		}
		for _, e := range entries {
			if layout.IsStaging(e.Name()) || layout.ValidatePrefix(e.Name()) != nil {
				continue
			}
			seen[e.Name()] = struct{}{}
		}
	}

	locks, err := os.ReadDir(layout.LocksRoot(cm.directory))
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Tag(errors.ErrIO, err)
	}
	for _, e := range locks {
		name, ok := strings.CutSuffix(e.Name(), layout.LockSuffix)
		if !ok || layout.ValidatePrefix(name) != nil {
			continue
		}
		seen[name] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// removeTree removes path and returns the bytes it held.
func removeTree(path string) (int64, error) {
	size, _, err := fsutil.DirSize(path)
	if err != nil {
		return 0, errors.Wrapf(err, "error walking %s", path)
	}
	if err := os.RemoveAll(path); err != nil {
		return 0, errors.Tag(errors.ErrIO, errors.Wrapf(err, "failed to remove %s", path))
	}
	return size, nil
}
