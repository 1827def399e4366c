package archive

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/mholt/archives"

	"github.com/glorpus-work/datasets/internal/logger"
	"github.com/glorpus-work/datasets/pkg/errors"
	"github.com/glorpus-work/datasets/pkg/fsutil"
	"github.com/glorpus-work/datasets/pkg/layout"
)

// Manager is the Extractor for every format mholt/archives can identify.
// Archives are unpacked into a staging directory beside extractDir which is
// renamed into place only after every entry was written.
type Manager struct{}

// NewManager creates a new Manager instance.
func NewManager() *Manager {
	return &Manager{}
}

// Extract implements Extractor.
func (am *Manager) Extract(ctx context.Context, artifactPath, extractDir string, archive bool) error {
	if !archive {
		return am.copyFlat(artifactPath, extractDir)
	}
	if err := ctx.Err(); err != nil {
		return errors.Tag(errors.ErrCancelled, err)
	}

	parent := filepath.Dir(extractDir)
	if err := os.MkdirAll(parent, fsutil.DirModeDefault); err != nil {
		return errors.Tag(errors.ErrExtraction, fmt.Errorf("failed to create extract root: %w", err))
	}
	staging, err := os.MkdirTemp(parent, layout.ExtractTempPattern(filepath.Base(extractDir)))
	if err != nil {
		return errors.Tag(errors.ErrExtraction, fmt.Errorf("failed to create staging directory: %w", err))
	}
	if err := os.Chmod(staging, fsutil.DirModeDefault); err != nil {
		_ = os.RemoveAll(staging)
		return errors.Tag(errors.ErrExtraction, err)
	}

	count, err := am.unpack(ctx, artifactPath, staging)
	if err != nil {
		_ = os.RemoveAll(staging)
		return err
	}

	if err := os.RemoveAll(extractDir); err != nil {
		_ = os.RemoveAll(staging)
		return errors.Tag(errors.ErrExtraction, fmt.Errorf("failed to replace %s: %w", extractDir, err))
	}
	if err := fsutil.Commit(staging, extractDir); err != nil {
		_ = os.RemoveAll(staging)
		return errors.Tag(errors.ErrExtraction, err)
	}
	logger.Debug("Archive extracted", logger.Fields{"archive": artifactPath, "dest": extractDir, "entries": count})
	return nil
}

// copyFlat places a non-archive artifact into extractDir under its own name.
func (am *Manager) copyFlat(artifactPath, extractDir string) error {
	if err := os.MkdirAll(extractDir, fsutil.DirModeDefault); err != nil {
		return errors.Tag(errors.ErrExtraction, fmt.Errorf("failed to create extract directory: %w", err))
	}
	dst := filepath.Join(extractDir, filepath.Base(artifactPath))
	if err := fsutil.CopyFile(artifactPath, dst); err != nil {
		return errors.Tag(errors.ErrExtraction, err)
	}
	logger.Debug("Artifact copied", logger.Fields{"src": artifactPath, "dest": dst})
	return nil
}

// unpack streams every entry of the archive into destDir and returns the
// number of entries written.
func (am *Manager) unpack(ctx context.Context, archivePath, destDir string) (int, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return 0, errors.Tag(errors.ErrExtraction, fmt.Errorf("failed to open archive file: %w", err))
	}
	defer func() { _ = f.Close() }()

	format, stream, err := archives.Identify(ctx, filepath.Base(archivePath), f)
	if err != nil {
		return 0, errors.Tag(errors.ErrExtraction, fmt.Errorf("failed to identify archive format: %w", err))
	}
	ex, ok := format.(archives.Extractor)
	if !ok {
		return 0, fmt.Errorf("%w: %s is not an extractable archive (%s)", errors.ErrExtraction, archivePath, format.Extension())
	}

	count := 0
	err = ex.Extract(ctx, stream, func(ctx context.Context, entry archives.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return errors.Tag(errors.ErrCancelled, err)
		}
		if err := am.extractEntry(destDir, entry); err != nil {
			return err
		}
		count++
		return nil
	})
	switch {
	case err == nil:
		return count, nil
	case stderrors.Is(err, errors.ErrExtraction), stderrors.Is(err, errors.ErrCancelled):
		return 0, err
	case ctx.Err() != nil:
		return 0, errors.Tag(errors.ErrCancelled, ctx.Err())
	default:
		return 0, errors.Tag(errors.ErrExtraction, err)
	}
}

// extractEntry writes a single archive entry below destDir.
func (am *Manager) extractEntry(destDir string, entry archives.FileInfo) error {
	name := entry.NameInArchive
	targetPath, err := resolveEntry(destDir, name)
	if err != nil {
		return err
	}
	if targetPath == destDir {
		return nil
	}

	mode := entry.Mode()
	switch {
	case entry.IsDir():
		if err := os.MkdirAll(targetPath, fsutil.DirModeDefault); err != nil {
			return errors.Tag(errors.ErrExtraction, fmt.Errorf("failed to create directory %s: %w", name, err))
		}
		return nil
	case mode&fs.ModeSymlink != 0:
		return am.writeSymlink(destDir, name, targetPath, entry.LinkTarget)
	case entry.LinkTarget != "":
		return am.writeHardlink(destDir, name, targetPath, entry.LinkTarget)
	case mode.IsRegular():
		return am.writeRegularFile(entry, targetPath)
	default:
		logger.Debug("Skipping special archive entry", logger.Fields{"entry": name, "mode": mode.String()})
		return nil
	}
}

// resolveEntry maps an archive entry name to a path inside destDir, rejecting
// names that climb out of it either lexically or through a symlink written by
// an earlier entry.
func resolveEntry(destDir, name string) (string, error) {
	clean := filepath.FromSlash(name)
	if filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" {
		return "", fmt.Errorf("%w: absolute entry %q", errors.ErrPathTraversal, name)
	}
	naive := filepath.Join(destDir, clean)
	if !fsutil.IsWithin(destDir, naive) {
		return "", fmt.Errorf("%w: entry %q escapes extract directory", errors.ErrPathTraversal, name)
	}
	safe, err := securejoin.SecureJoin(destDir, clean)
	if err != nil {
		return "", errors.Tag(errors.ErrExtraction, fmt.Errorf("resolving entry %q: %w", name, err))
	}
	if safe != naive {
		return "", fmt.Errorf("%w: entry %q is redirected through a symlink", errors.ErrPathTraversal, name)
	}
	return naive, nil
}

// writeSymlink creates a symlink whose target must stay inside destDir.
func (am *Manager) writeSymlink(destDir, name, targetPath, linkTarget string) error {
	if linkTarget == "" {
		return fmt.Errorf("%w: symlink %q has no target", errors.ErrExtraction, name)
	}
	target := filepath.FromSlash(linkTarget)
	if filepath.IsAbs(target) {
		return fmt.Errorf("%w: symlink %q points to absolute path %q", errors.ErrPathTraversal, name, linkTarget)
	}
	if !fsutil.IsWithin(destDir, filepath.Join(filepath.Dir(targetPath), target)) {
		return fmt.Errorf("%w: symlink %q points outside extract directory", errors.ErrPathTraversal, name)
	}
	if err := os.MkdirAll(filepath.Dir(targetPath), fsutil.DirModeDefault); err != nil {
		return errors.Tag(errors.ErrExtraction, fmt.Errorf("failed to create parent directory for symlink %s: %w", name, err))
	}
	_ = os.Remove(targetPath)
	if err := os.Symlink(target, targetPath); err != nil {
		return errors.Tag(errors.ErrExtraction, fmt.Errorf("failed to create symlink %s: %w", name, err))
	}
	return nil
}

// writeHardlink links targetPath to an entry already extracted into destDir.
func (am *Manager) writeHardlink(destDir, name, targetPath, linkTarget string) error {
	source, err := resolveEntry(destDir, linkTarget)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(targetPath), fsutil.DirModeDefault); err != nil {
		return errors.Tag(errors.ErrExtraction, err)
	}
	_ = os.Remove(targetPath)
	if err := os.Link(source, targetPath); err != nil {
		return errors.Tag(errors.ErrExtraction, fmt.Errorf("failed to create hard link %s: %w", name, err))
	}
	return nil
}

// writeRegularFile writes a regular file from the archive entry to targetPath and preserves metadata.
func (am *Manager) writeRegularFile(entry archives.FileInfo, targetPath string) error {
	name := entry.NameInArchive
	src, err := entry.Open()
	if err != nil {
		return errors.Tag(errors.ErrExtraction, fmt.Errorf("failed to open entry %s: %w", name, err))
	}
	defer func() { _ = src.Close() }()

	if err := os.MkdirAll(filepath.Dir(targetPath), fsutil.DirModeDefault); err != nil {
		return errors.Tag(errors.ErrExtraction, fmt.Errorf("failed to create parent directory for %s: %w", name, err))
	}

	perm := entry.Mode().Perm() | 0o600
	dst, err := fsutil.CreateFilePerm(targetPath, perm)
	if err != nil {
		return errors.Tag(errors.ErrExtraction, fmt.Errorf("failed to create destination file %s: %w", targetPath, err))
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return errors.Tag(errors.ErrExtraction, fmt.Errorf("failed to copy entry %s: %w", name, err))
	}
	if err := dst.Close(); err != nil {
		return errors.Tag(errors.ErrExtraction, fmt.Errorf("failed to close %s: %w", targetPath, err))
	}
	if err := os.Chmod(targetPath, perm); err != nil {
		return errors.Tag(errors.ErrExtraction, fmt.Errorf("failed to set permissions for %s: %w", targetPath, err))
	}
	if mt := entry.ModTime(); !mt.IsZero() {
		_ = os.Chtimes(targetPath, mt, mt)
	}
	return nil
}
