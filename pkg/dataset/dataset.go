// Package dataset drives a descriptor from an empty cache to a verified,
// materialised dataset and exposes the result as an immutable Dataset.
package dataset

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/glorpus-work/datasets/pkg/errors"
	"github.com/glorpus-work/datasets/pkg/layout"
)

// Accessors maps named accessors to paths relative to the dataset base directory.
type Accessors struct {
	Paths map[string]string
	Lists map[string][]string
}

// Dataset is a ready dataset. It is never mutated after construction.
type Dataset struct {
	prefix       string
	dataRoot     string
	downloadDir  string
	extractDir   string
	artifactPath string
	baseDir      string
	lockPath     string
	paths        map[string]string
	lists        map[string][]string
}

// New builds a Dataset from resolved paths. materialized selects the extract
// directory as accessor base.
func New(paths layout.Paths, artifactName string, materialized bool) *Dataset {
	ds := &Dataset{
		prefix:       paths.Prefix,
		dataRoot:     paths.Root,
		downloadDir:  paths.DownloadDir,
		extractDir:   paths.ExtractDir,
		artifactPath: filepath.Join(paths.DownloadDir, artifactName),
		baseDir:      paths.DownloadDir,
		lockPath:     paths.LockPath,
	}
	if materialized {
		ds.baseDir = paths.ExtractDir
	}
	return ds
}

// Prefix returns the dataset prefix.
func (d *Dataset) Prefix() string { return d.prefix }

// DataRoot returns the root the dataset was resolved against.
func (d *Dataset) DataRoot() string { return d.dataRoot }

// DownloadDir returns <root>/download/<prefix>.
func (d *Dataset) DownloadDir() string { return d.downloadDir }

// ExtractDir returns <root>/extract/<prefix>.
func (d *Dataset) ExtractDir() string { return d.extractDir }

// ArtifactPath returns the location of the downloaded artifact.
func (d *Dataset) ArtifactPath() string { return d.artifactPath }

// BaseDir is the directory accessors are relative to: the extract directory
// for extracted or copied datasets, the download directory otherwise.
func (d *Dataset) BaseDir() string { return d.baseDir }

// File joins rel onto BaseDir.
func (d *Dataset) File(rel string) string {
	return filepath.Join(d.baseDir, filepath.FromSlash(rel))
}

// Path returns the named single-path accessor.
func (d *Dataset) Path(key string) (string, error) {
	rel, ok := d.paths[key]
	if !ok {
		return "", fmt.Errorf("%w: %s has no path %q", errors.ErrUnknownPathKey, d.prefix, key)
	}
	return d.File(rel), nil
}

// Paths returns the named list accessor.
func (d *Dataset) Paths(key string) ([]string, error) {
	rels, ok := d.lists[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no path list %q", errors.ErrUnknownPathKey, d.prefix, key)
	}
	out := make([]string, len(rels))
	for i, rel := range rels {
		out[i] = d.File(rel)
	}
	return out, nil
}

// Keys returns the sorted names of all accessors.
func (d *Dataset) Keys() []string {
	keys := make([]string, 0, len(d.paths)+len(d.lists))
	for k := range d.paths {
		keys = append(keys, k)
	}
	for k := range d.lists {
		if _, dup := d.paths[k]; !dup {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// IsList reports whether key names a list accessor.
func (d *Dataset) IsList(key string) bool {
	_, ok := d.lists[key]
	return ok
}

// WithAccessors returns a copy of d exposing acc.
func (d *Dataset) WithAccessors(acc Accessors) *Dataset {
	out := *d
	out.paths = make(map[string]string, len(acc.Paths))
	for k, v := range acc.Paths {
		out.paths[k] = v
	}
	out.lists = make(map[string][]string, len(acc.Lists))
	for k, v := range acc.Lists {
		out.lists[k] = append([]string(nil), v...)
	}
	return &out
}
