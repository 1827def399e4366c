// Package model holds the static records that parameterise dataset
// acquisition.
package model

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/glorpus-work/datasets/pkg/errors"
)

// Descriptor is the immutable configuration of one dataset.
type Descriptor struct {
	// Prefix namespaces the dataset below the data root.
	Prefix string `yaml:"prefix" json:"prefix"`
	// URLs are mirrors expected to serve byte-identical content, tried in order.
	URLs []string `yaml:"urls" json:"urls"`
	// Checksum is the expected digest, optionally prefixed with "algo:".
	Checksum string `yaml:"checksum" json:"checksum"`
	// Extract marks the artifact as an archive to unpack into the extract directory.
	Extract bool `yaml:"extract" json:"extract"`
	// Copy materialises a flat artifact into the extract directory as well.
	Copy bool `yaml:"copy,omitempty" json:"copy,omitempty"`
	// Filename overrides the artifact name derived from the first URL.
	Filename string `yaml:"filename,omitempty" json:"filename,omitempty"`
	// Files lists paths, relative to the extract directory, that must exist
	// for an extracted dataset to count as complete.
	Files []string `yaml:"files,omitempty" json:"files,omitempty"`
	// DataRoot overrides the process-wide default root when non-empty.
	DataRoot string `yaml:"data_root,omitempty" json:"data_root,omitempty"`
	// SkipVerify disables checksum verification. Checksum must then be empty.
	SkipVerify bool `yaml:"skip_verify,omitempty" json:"skip_verify,omitempty"`
}

// Validate checks the descriptor invariants. Prefix safety is checked by the
// layout package when paths are resolved.
func (d *Descriptor) Validate() error {
	if strings.TrimSpace(d.Prefix) == "" {
		return fmt.Errorf("%w: empty prefix", errors.ErrInvalidPrefix)
	}
	if len(d.URLs) == 0 {
		return fmt.Errorf("%w: %s: no urls", errors.ErrInvalidDescriptor, d.Prefix)
	}
	for _, raw := range d.URLs {
		if err := validateURL(raw); err != nil {
			return fmt.Errorf("%w: %s: %w", errors.ErrInvalidDescriptor, d.Prefix, err)
		}
	}
	if d.SkipVerify && d.Checksum != "" {
		return fmt.Errorf("%w: %s: checksum set with skip_verify", errors.ErrInvalidDescriptor, d.Prefix)
	}
	if !d.SkipVerify && strings.TrimSpace(d.Checksum) == "" {
		return fmt.Errorf("%w: %s: checksum required", errors.ErrInvalidDescriptor, d.Prefix)
	}
	if d.Extract && d.Copy {
		return fmt.Errorf("%w: %s: extract and copy are exclusive", errors.ErrInvalidDescriptor, d.Prefix)
	}
	if _, err := d.ArtifactName(); err != nil {
		return err
	}
	for _, f := range d.Files {
		if !isLocalRel(f) {
			return fmt.Errorf("%w: %s: manifest entry %q escapes extract directory", errors.ErrInvalidDescriptor, d.Prefix, f)
		}
	}
	return nil
}

// ArtifactName returns the final filename of the artifact inside the download directory.
func (d *Descriptor) ArtifactName() (string, error) {
	name := d.Filename
	if name == "" && len(d.URLs) > 0 {
		u, err := url.Parse(d.URLs[0])
		if err == nil {
			name = path.Base(u.Path)
		}
	}
	if name == "" || name == "." || name == "/" || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %s: cannot derive artifact filename", errors.ErrInvalidDescriptor, d.Prefix)
	}
	return name, nil
}

// Materialized reports whether the dataset ends up in the extract directory.
func (d *Descriptor) Materialized() bool {
	return d.Extract || d.Copy
}

// ManifestFiles returns the files expected in the extract directory. A copied
// flat artifact implies its own name when no manifest is given.
func (d *Descriptor) ManifestFiles() []string {
	if len(d.Files) > 0 || !d.Copy {
		return d.Files
	}
	name, err := d.ArtifactName()
	if err != nil {
		return nil
	}
	return []string{name}
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported url scheme %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	return nil
}

func isLocalRel(p string) bool {
	if p == "" || filepath.IsAbs(p) || strings.HasPrefix(p, "/") {
		return false
	}
	return filepath.IsLocal(filepath.FromSlash(p))
}
