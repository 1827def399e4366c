package testutil

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mholt/archives"
)

// Entry is one member of a fixture archive.
type Entry struct {
	Name       string
	Body       []byte
	Dir        bool
	LinkTarget string
}

// TarGz builds a gzip-compressed tarball of entries. Names are written
// verbatim, so hostile names such as "../../evil" survive.
func TarGz(t *testing.T, entries ...Entry) []byte {
	t.Helper()
	format := archives.CompressedArchive{
		Compression: archives.Gz{},
		Archival:    archives.Tar{},
	}
	return build(t, format, entries)
}

// Zip builds a zip archive of entries.
func Zip(t *testing.T, entries ...Entry) []byte {
	t.Helper()
	return build(t, archives.Zip{}, entries)
}

func build(t *testing.T, format archives.Archiver, entries []Entry) []byte {
	t.Helper()
	files := make([]archives.FileInfo, 0, len(entries))
	for _, e := range entries {
		files = append(files, e.fileInfo())
	}
	var buf bytes.Buffer
	if err := format.Archive(context.Background(), &buf, files); err != nil {
		t.Fatalf("failed to build fixture archive: %v", err)
	}
	return buf.Bytes()
}

func (e Entry) fileInfo() archives.FileInfo {
	info := entryInfo{name: filepath.Base(e.Name), size: int64(len(e.Body)), mode: 0o644}
	switch {
	case e.Dir:
		info.mode = fs.ModeDir | 0o755
		info.size = 0
	case e.LinkTarget != "":
		info.mode = fs.ModeSymlink | 0o777
		info.size = 0
	}
	body := e.Body
	return archives.FileInfo{
		FileInfo:      info,
		NameInArchive: e.Name,
		LinkTarget:    e.LinkTarget,
		Open: func() (fs.File, error) {
			return &memFile{Reader: bytes.NewReader(body), info: info}, nil
		},
	}
}

type entryInfo struct {
	name string
	size int64
	mode fs.FileMode
}

func (i entryInfo) Name() string       { return i.name }
func (i entryInfo) Size() int64        { return i.size }
func (i entryInfo) Mode() fs.FileMode  { return i.mode }
func (i entryInfo) ModTime() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
func (i entryInfo) IsDir() bool        { return i.mode.IsDir() }
func (i entryInfo) Sys() any           { return nil }

type memFile struct {
	*bytes.Reader
	info entryInfo
}

func (f *memFile) Stat() (fs.FileInfo, error) { return f.info, nil }
func (f *memFile) Close() error               { return nil }

var _ io.ReadCloser = (*memFile)(nil)

// SHA256 returns the "sha256:<hex>" checksum of b.
func SHA256(b []byte) string {
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// Snapshot lists every path below dir, relative to it. A missing dir yields nil.
func Snapshot(t *testing.T, dir string) []string {
	t.Helper()
	var out []string
	err := filepath.WalkDir(dir, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("failed to walk %s: %v", dir, err)
	}
	return out
}
