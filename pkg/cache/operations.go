package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/glorpus-work/datasets/internal/logger"
)

// CacheOperation renders cache management results for the command line.
type CacheOperation struct {
	manager Manager
}

// NewCacheOperation creates a new cache operation instance.
func NewCacheOperation(manager Manager) *CacheOperation {
	return &CacheOperation{
		manager: manager,
	}
}

// Clean cleans the cache based on the provided options.
func (op *CacheOperation) Clean(ctx context.Context, downloads, extracts bool, prefix string) (string, error) {
	options := CleanOptions{
		Downloads: downloads,
		Extracts:  extracts,
		Prefix:    prefix,
	}

	logger.Debug("Cleaning cache", logger.Fields{
		"downloads": options.Downloads,
		"extracts":  options.Extracts,
		"prefix":    options.Prefix,
	})

	result, err := op.manager.Clean(ctx, options)
	if err != nil {
		return "", fmt.Errorf("failed to clean cache: %w", err)
	}

	if result.TotalFreed == 0 {
		return "No files were removed from the cache.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Successfully cleaned cache. Freed %s of disk space.", humanize.IBytes(uint64(result.TotalFreed)))
	if result.DownloadFreed > 0 {
		fmt.Fprintf(&b, "\n- Downloads: %s", humanize.IBytes(uint64(result.DownloadFreed)))
	}
	if result.ExtractFreed > 0 {
		fmt.Fprintf(&b, "\n- Extracts:  %s", humanize.IBytes(uint64(result.ExtractFreed)))
	}
	if len(result.Prefixes) > 0 {
		fmt.Fprintf(&b, "\n- Datasets:  %s", strings.Join(result.Prefixes, ", "))
	}
	return b.String(), nil
}

// GetInfo returns information about the cache.
func (op *CacheOperation) GetInfo() (string, error) {
	info, err := op.manager.GetInfo()
	if err != nil {
		return "", fmt.Errorf("failed to get cache info: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, `Cache Information:
  Directory:  %s
  Total Size: %s
  Downloads:  %s (%d files)
  Extracts:   %s (%d files)`,
		info.Directory,
		humanize.IBytes(uint64(info.TotalSize)),
		humanize.IBytes(uint64(info.DownloadSize)),
		info.DownloadFiles,
		humanize.IBytes(uint64(info.ExtractSize)),
		info.ExtractFiles,
	)

	if len(info.Prefixes) > 0 {
		b.WriteString("\n  Datasets:")
		for _, p := range info.Prefixes {
			state := "downloaded"
			if p.Extracted {
				state = "extracted"
			}
			fmt.Fprintf(&b, "\n    %-28s %10s  %s", p.Prefix,
				humanize.IBytes(uint64(p.DownloadSize+p.ExtractSize)), state)
		}
	}

	return b.String(), nil
}

// GetDirectory returns the data root path.
func (op *CacheOperation) GetDirectory() string {
	return op.manager.GetDirectory()
}
