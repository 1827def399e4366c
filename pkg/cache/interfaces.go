package cache

import "context"

// Manager defines the interface for cache management operations.
type Manager interface {
	Clean(ctx context.Context, options CleanOptions) (*CleanResult, error)
	GetInfo() (*Info, error)
	GetDirectory() string
}

// CleanOptions specifies what to clean from the cache. With neither
// Downloads nor Extracts set, both are cleaned. An empty Prefix means every
// prefix under the data root.
type CleanOptions struct {
	Downloads bool
	Extracts  bool
	Prefix    string
}

// CleanResult contains information about what was cleaned.
type CleanResult struct {
	TotalFreed    int64    `json:"total_freed"`
	DownloadFreed int64    `json:"download_freed"`
	ExtractFreed  int64    `json:"extract_freed"`
	Prefixes      []string `json:"prefixes"`
}

// PrefixInfo describes the cached state of one prefix.
type PrefixInfo struct {
	Prefix       string `json:"prefix"`
	DownloadSize int64  `json:"download_size"`
	ExtractSize  int64  `json:"extract_size"`
	Extracted    bool   `json:"extracted"`
}

// Info represents cache information.
type Info struct {
	Directory     string       `json:"directory"`
	TotalSize     int64        `json:"total_size"`
	DownloadSize  int64        `json:"download_size"`
	DownloadFiles int          `json:"download_files"`
	ExtractSize   int64        `json:"extract_size"`
	ExtractFiles  int          `json:"extract_files"`
	Prefixes      []PrefixInfo `json:"prefixes"`
}
