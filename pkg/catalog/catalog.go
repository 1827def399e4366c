// Package catalog maps dataset names to descriptors and named path accessors.
// A catalog is a YAML document:
//
//	version: "1.0"
//	datasets:
//	  - name: DemoICPPointClouds
//	    urls: [https://example.com/DemoICPPointClouds.zip]
//	    checksum: md5:596cfcd6a2c6b4e4bcd5d4a9bc2e3c8c
//	    extract: true
//	    files: [cloud_bin_0.pcd, cloud_bin_1.pcd, cloud_bin_2.pcd, init.log]
//	    paths:
//	      transformation_log: init.log
//	    path_lists:
//	      paths: ["cloud_bin_{0..2}.pcd"]
package catalog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-version"
	"gopkg.in/yaml.v3"

	"github.com/glorpus-work/datasets/pkg/dataset"
	"github.com/glorpus-work/datasets/pkg/errors"
	"github.com/glorpus-work/datasets/pkg/layout"
	"github.com/glorpus-work/datasets/pkg/model"
)

// SupportedVersions is the constraint a catalog's schema version must satisfy.
const SupportedVersions = ">= 1.0, < 2.0"

// Entry is one named dataset.
type Entry struct {
	Name             string `yaml:"name"`
	Description      string `yaml:"description,omitempty"`
	model.Descriptor `yaml:",inline"`
	// Paths maps accessor names to paths relative to the dataset base directory.
	Paths map[string]string `yaml:"paths,omitempty"`
	// PathLists maps accessor names to path templates; see Expand.
	PathLists map[string][]string `yaml:"path_lists,omitempty"`
}

// Catalog is a validated set of entries.
type Catalog struct {
	Version  string  `yaml:"version"`
	Datasets []Entry `yaml:"datasets"`

	byName map[string]int
	lists  map[string]map[string][]string
}

// Load reads and validates the catalog at path.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", errors.ErrCatalogParse, path, err)
	}
	defer func() { _ = f.Close() }()
	c, err := LoadFromReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "catalog %s", path)
	}
	return c, nil
}

// LoadFromReader reads and validates a catalog from r.
func LoadFromReader(r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: empty document", errors.ErrCatalogParse)
		}
		return nil, fmt.Errorf("%w: %w", errors.ErrCatalogParse, err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	if err := checkVersion(c.Version); err != nil {
		return err
	}

	c.byName = make(map[string]int, len(c.Datasets))
	c.lists = make(map[string]map[string][]string, len(c.Datasets))
	// Lookup falls back to case-insensitive matching, so names must be
	// unique under case folding too.
	folded := make(map[string]string, len(c.Datasets))
	for i := range c.Datasets {
		e := &c.Datasets[i]
		if strings.TrimSpace(e.Name) == "" {
			return fmt.Errorf("%w: dataset #%d has no name", errors.ErrCatalogParse, i+1)
		}
		if prev, dup := folded[strings.ToLower(e.Name)]; dup {
			return fmt.Errorf("%w: %s collides with %s", errors.ErrDuplicateName, e.Name, prev)
		}
		folded[strings.ToLower(e.Name)] = e.Name
		if e.Prefix == "" {
			e.Prefix = e.Name
		}
		if err := layout.ValidatePrefix(e.Prefix); err != nil {
			return errors.Wrapf(err, "dataset %s", e.Name)
		}
		if err := e.Descriptor.Validate(); err != nil {
			return errors.Wrapf(err, "dataset %s", e.Name)
		}
		lists, err := e.expandAccessors()
		if err != nil {
			return errors.Wrapf(err, "dataset %s", e.Name)
		}
		c.byName[e.Name] = i
		c.lists[e.Name] = lists
	}
	return nil
}

func checkVersion(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: missing version", errors.ErrCatalogVersion)
	}
	v, err := version.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", errors.ErrCatalogVersion, raw, err)
	}
	constraint, err := version.NewConstraint(SupportedVersions)
	if err != nil {
		return err
	}
	if !constraint.Check(v) {
		return fmt.Errorf("%w: %s does not satisfy %s", errors.ErrCatalogVersion, raw, SupportedVersions)
	}
	return nil
}

// expandAccessors validates accessor paths and expands list templates.
func (e *Entry) expandAccessors() (map[string][]string, error) {
	for key, rel := range e.Paths {
		if !localPath(rel) {
			return nil, fmt.Errorf("%w: path %q = %q escapes the dataset directory", errors.ErrCatalogParse, key, rel)
		}
	}
	lists := make(map[string][]string, len(e.PathLists))
	for key, templates := range e.PathLists {
		if _, dup := e.Paths[key]; dup {
			return nil, fmt.Errorf("%w: accessor %q is both a path and a path list", errors.ErrCatalogParse, key)
		}
		var expanded []string
		for _, tmpl := range templates {
			paths, err := Expand(tmpl)
			if err != nil {
				return nil, err
			}
			for _, p := range paths {
				if !localPath(p) {
					return nil, fmt.Errorf("%w: path list %q entry %q escapes the dataset directory", errors.ErrCatalogParse, key, p)
				}
			}
			expanded = append(expanded, paths...)
		}
		lists[key] = expanded
	}
	return lists, nil
}

func localPath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") {
		return false
	}
	return filepath.IsLocal(filepath.FromSlash(p))
}

// Names returns the dataset names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the entry called name. An exact match wins over a
// case-insensitive one.
func (c *Catalog) Lookup(name string) (Entry, error) {
	if i, ok := c.byName[name]; ok {
		return c.Datasets[i], nil
	}
	for _, e := range c.Datasets {
		if strings.EqualFold(e.Name, name) {
			return e, nil
		}
	}
	return Entry{}, errors.ErrDatasetNotFoundWithName(name)
}

// Descriptor returns the descriptor for name. A non-empty dataRoot overrides
// the root recorded in the catalog.
func (c *Catalog) Descriptor(name, dataRoot string) (model.Descriptor, error) {
	e, err := c.Lookup(name)
	if err != nil {
		return model.Descriptor{}, err
	}
	desc := e.Descriptor
	desc.URLs = append([]string(nil), e.URLs...)
	desc.Files = append([]string(nil), e.Files...)
	if dataRoot != "" {
		desc.DataRoot = dataRoot
	}
	return desc, nil
}

// Accessors returns the expanded named paths of name.
func (c *Catalog) Accessors(name string) (dataset.Accessors, error) {
	e, err := c.Lookup(name)
	if err != nil {
		return dataset.Accessors{}, err
	}
	return dataset.Accessors{Paths: e.Paths, Lists: c.lists[e.Name]}, nil
}

// Bind attaches name's accessors to a dataset returned by the gate.
func (c *Catalog) Bind(name string, ds *dataset.Dataset) (*dataset.Dataset, error) {
	acc, err := c.Accessors(name)
	if err != nil {
		return nil, err
	}
	return ds.WithAccessors(acc), nil
}
