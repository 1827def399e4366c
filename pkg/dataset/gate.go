package dataset

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/glorpus-work/datasets/internal/logger"
	"github.com/glorpus-work/datasets/pkg/archive"
	"github.com/glorpus-work/datasets/pkg/download"
	"github.com/glorpus-work/datasets/pkg/errors"
	"github.com/glorpus-work/datasets/pkg/fsutil"
	"github.com/glorpus-work/datasets/pkg/layout"
	"github.com/glorpus-work/datasets/pkg/model"
	"github.com/glorpus-work/datasets/pkg/verify"
)

// CacheGate is the Gate implementation. Within a process, concurrent calls
// with identical descriptors share one pipeline run; calls that differ only
// wait for each other on the lock file of their prefix, as processes do.
type CacheGate struct {
	resolver    *layout.Resolver
	fetcher     download.Fetcher
	verifier    verify.Verifier
	extractor   archive.Extractor
	lockTimeout time.Duration
	hooks       Hooks
	flight      singleflight.Group
}

// Option configures a CacheGate.
type Option func(*CacheGate)

// WithLockTimeout bounds how long EnsureReady waits for another writer.
// Zero waits until the context ends.
func WithLockTimeout(d time.Duration) Option {
	return func(g *CacheGate) { g.lockTimeout = d }
}

// WithHooks registers pipeline event hooks.
func WithHooks(h Hooks) Option {
	return func(g *CacheGate) { g.hooks = h }
}

// NewGate wires a gate from its collaborators.
func NewGate(resolver *layout.Resolver, fetcher download.Fetcher, verifier verify.Verifier, extractor archive.Extractor, opts ...Option) *CacheGate {
	g := &CacheGate{
		resolver:  resolver,
		fetcher:   fetcher,
		verifier:  verifier,
		extractor: extractor,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Inspect implements Gate.
func (g *CacheGate) Inspect(desc model.Descriptor) (*Dataset, bool, error) {
	ds, err := g.resolve(desc)
	if err != nil {
		return nil, false, err
	}
	return ds, g.satisfied(desc, ds), nil
}

// EnsureReady implements Gate.
func (g *CacheGate) EnsureReady(ctx context.Context, desc model.Descriptor) (*Dataset, error) {
	ds, err := g.resolve(desc)
	if err != nil {
		return nil, err
	}

	for {
		var led atomic.Bool
		ch := g.flight.DoChan(flightKey(desc, ds), func() (interface{}, error) {
			led.Store(true)
			// A caller that saw its context end before led was set has
			// already returned; the run must not start for it.
			if err := ctx.Err(); err != nil {
				return nil, errors.Tag(errors.ErrCancelled, err)
			}
			return nil, g.ensure(ctx, desc, ds)
		})
		select {
		case <-ctx.Done():
			// A run driven by our context stops promptly; wait for it so no
			// work outlives the call.
			if led.Load() {
				<-ch
			}
			return nil, errors.Tag(errors.ErrCancelled, ctx.Err())
		case res := <-ch:
			// A shared run cancelled by another caller's context is retried
			// under ours.
			if res.Shared && !led.Load() && stderrors.Is(res.Err, errors.ErrCancelled) && ctx.Err() == nil {
				continue
			}
			if res.Err != nil {
				return nil, res.Err
			}
			return ds, nil
		}
	}
}

// flightKey identifies a pipeline run. Runs are shared only between callers
// whose descriptors produce the same verified result.
func flightKey(desc model.Descriptor, ds *Dataset) string {
	return fmt.Sprintf("%s\x00%s\x00%q\x00%s\x00%t\x00%t\x00%t\x00%q",
		ds.lockPath, ds.artifactPath, desc.URLs, desc.Checksum,
		desc.Extract, desc.Copy, desc.SkipVerify, desc.ManifestFiles())
}

func (g *CacheGate) resolve(desc model.Descriptor) (*Dataset, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	paths, err := g.resolver.Resolve(desc.DataRoot, desc.Prefix)
	if err != nil {
		return nil, err
	}
	name, err := desc.ArtifactName()
	if err != nil {
		return nil, err
	}
	return New(paths, name, desc.Materialized()), nil
}

// ensure runs the state machine: checking, then under the prefix lock a
// second check followed by fetching, verifying and extracting.
func (g *CacheGate) ensure(ctx context.Context, desc model.Descriptor, ds *Dataset) (err error) {
	g.emit(PhaseChecking, ds.prefix, "checking cache", nil)
	if g.satisfied(desc, ds) {
		logger.Debug("Cache satisfied", logger.Fields{"prefix": ds.prefix})
		g.emit(PhaseReady, ds.prefix, "cache hit", nil)
		return nil
	}

	defer func() {
		if err != nil {
			logger.Error("Dataset preparation failed", logger.Fields{"prefix": ds.prefix, "error": err.Error()})
			g.emit(PhaseFailed, ds.prefix, err.Error(), err)
		}
	}()

	unlock, err := fsutil.Lock(ctx, ds.lockPath, g.lockTimeout)
	if err != nil {
		return err
	}
	defer unlock()

	// Another writer may have finished while we waited.
	if g.satisfied(desc, ds) {
		logger.Debug("Cache satisfied after waiting for lock", logger.Fields{"prefix": ds.prefix})
		g.emit(PhaseReady, ds.prefix, "completed by another writer", nil)
		return nil
	}

	if err := g.acquire(ctx, desc, ds); err != nil {
		return err
	}
	if desc.Materialized() {
		if err := g.materialize(ctx, desc, ds); err != nil {
			return err
		}
	}

	logger.Info("Dataset ready", logger.Fields{"prefix": ds.prefix, "path": ds.baseDir})
	g.emit(PhaseReady, ds.prefix, ds.baseDir, nil)
	return nil
}

// acquire leaves a verified artifact in the download directory, reusing one
// that is already there.
func (g *CacheGate) acquire(ctx context.Context, desc model.Descriptor, ds *Dataset) error {
	if g.artifactValid(desc, ds) {
		logger.Debug("Reusing downloaded artifact", logger.Fields{"path": ds.artifactPath})
		return nil
	}

	g.emit(PhaseFetching, ds.prefix, desc.URLs[0], nil)
	path, err := g.fetcher.Fetch(ctx, desc.URLs, ds.downloadDir, filepath.Base(ds.artifactPath))
	if err != nil {
		return err
	}
	if path != ds.artifactPath {
		return fmt.Errorf("%w: fetcher stored %s, expected %s", errors.ErrIO, path, ds.artifactPath)
	}

	if desc.SkipVerify {
		return nil
	}
	g.emit(PhaseVerifying, ds.prefix, ds.artifactPath, nil)
	ok, err := g.verifier.Verify(ds.artifactPath, desc.Checksum)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s does not match %s", errors.ErrIntegrity, ds.artifactPath, desc.Checksum)
	}
	return nil
}

// materialize unpacks or copies the artifact. A failed or incomplete
// extraction never leaves a cache that would pass the satisfied check.
func (g *CacheGate) materialize(ctx context.Context, desc model.Descriptor, ds *Dataset) error {
	g.emit(PhaseExtracting, ds.prefix, ds.extractDir, nil)
	existed := dirExists(ds.extractDir)
	if err := g.extractor.Extract(ctx, ds.artifactPath, ds.extractDir, desc.Extract); err != nil {
		g.discardFailedExtract(ds, !existed)
		return err
	}
	if missing := missingFiles(ds.extractDir, desc.ManifestFiles()); len(missing) > 0 {
		g.removeStaging(ds)
		removeDir(ds.extractDir)
		return fmt.Errorf("%w: %s is missing %v after extraction", errors.ErrExtraction, ds.extractDir, missing)
	}
	return nil
}

// discardFailedExtract cleans up after the extractor failed. An extract
// directory that predates the attempt is left as it was; the artifact that
// could not be extracted is removed so the old tree never counts as ready.
func (g *CacheGate) discardFailedExtract(ds *Dataset, created bool) {
	g.removeStaging(ds)
	if created {
		removeDir(ds.extractDir)
	}
	if err := os.Remove(ds.artifactPath); err != nil && !os.IsNotExist(err) {
		logger.Warn("Could not remove unextractable artifact", logger.Fields{"path": ds.artifactPath, "error": err.Error()})
	}
}

func (g *CacheGate) removeStaging(ds *Dataset) {
	staging, _ := filepath.Glob(filepath.Join(filepath.Dir(ds.extractDir), layout.ExtractTempPattern(ds.prefix)))
	for _, dir := range staging {
		_ = os.RemoveAll(dir)
	}
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		logger.Warn("Could not remove incomplete extract directory", logger.Fields{"path": path, "error": err.Error()})
	}
}

// satisfied reports whether the cache already holds a verified artifact and,
// for materialised datasets, a complete extract directory.
func (g *CacheGate) satisfied(desc model.Descriptor, ds *Dataset) bool {
	if !g.artifactValid(desc, ds) {
		return false
	}
	if !desc.Materialized() {
		return true
	}
	return dirExists(ds.extractDir) && len(missingFiles(ds.extractDir, desc.ManifestFiles())) == 0
}

func (g *CacheGate) artifactValid(desc model.Descriptor, ds *Dataset) bool {
	info, err := os.Stat(ds.artifactPath)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if desc.SkipVerify {
		return true
	}
	ok, err := g.verifier.Verify(ds.artifactPath, desc.Checksum)
	if err != nil {
		logger.Debug("Cached artifact could not be verified", logger.Fields{"path": ds.artifactPath, "error": err.Error()})
		return false
	}
	if !ok {
		logger.Warn("Cached artifact failed verification", logger.Fields{"path": ds.artifactPath})
	}
	return ok
}

func (g *CacheGate) emit(phase Phase, prefix, msg string, err error) {
	if g.hooks.OnEvent != nil {
		g.hooks.OnEvent(Event{Phase: phase, Prefix: prefix, Msg: msg, Err: err})
	}
}

func missingFiles(dir string, files []string) []string {
	var missing []string
	for _, f := range files {
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(f))); err != nil {
			missing = append(missing, f)
		}
	}
	return missing
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
