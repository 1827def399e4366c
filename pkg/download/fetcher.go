package download

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/glorpus-work/datasets/internal/logger"
	"github.com/glorpus-work/datasets/pkg/errors"
	"github.com/glorpus-work/datasets/pkg/fsutil"
)

const (
	// DefaultUserAgent is sent when no user agent is configured.
	DefaultUserAgent = "datasets/1.0"

	tempPattern = "dl-*.tmp"
)

// HTTPFetcher is a Fetcher backed by net/http. Mirrors are tried
// sequentially without backoff; there is no retry beyond mirror fallback.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	progress  Progress
}

// Option configures an HTTPFetcher.
type Option func(*HTTPFetcher)

// WithClient replaces the HTTP client.
func WithClient(c *http.Client) Option {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithProgress registers a transfer progress callback.
func WithProgress(p Progress) Option {
	return func(f *HTTPFetcher) { f.progress = p }
}

// NewFetcher creates a fetcher with the given per-request timeout (0 = none) and user agent.
func NewFetcher(timeout time.Duration, userAgent string, opts ...Option) *HTTPFetcher {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	f := &HTTPFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, urls []string, downloadDir, filename string) (string, error) {
	if len(urls) == 0 {
		return "", fmt.Errorf("%w: no urls for %s", errors.ErrFetch, filename)
	}
	if filename == "" || filepath.Base(filename) != filename {
		return "", fmt.Errorf("%w: invalid artifact filename %q", errors.ErrInvalidDescriptor, filename)
	}
	if err := os.MkdirAll(downloadDir, fsutil.DirModeDefault); err != nil {
		return "", fmt.Errorf("%w: could not create download dir: %w", errors.ErrIO, err)
	}
	finalPath := filepath.Join(downloadDir, filename)

	var failures []error
	for i, u := range urls {
		if err := ctx.Err(); err != nil {
			return "", errors.Tag(errors.ErrCancelled, err)
		}
		logger.Debug("Fetching artifact", logger.Fields{"url": u, "mirror": i + 1, "of": len(urls)})

		err := f.fetchOne(ctx, u, finalPath)
		if err == nil {
			return finalPath, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", errors.Tag(errors.ErrCancelled, ctxErr)
		}
		if stderrors.Is(err, errors.ErrIO) {
			return "", err
		}
		logger.Warn("Mirror failed", logger.Fields{"url": u, "error": err.Error()})
		failures = append(failures, fmt.Errorf("%s: %w", u, err))
	}
	return "", fmt.Errorf("%w: %s: all %d mirrors failed: %w", errors.ErrFetch, filename, len(urls), stderrors.Join(failures...))
}

// fetchOne downloads one URL into a temp file beside finalPath and commits it.
// Local disk failures are tagged ErrIO; anything else means "try the next mirror".
func (f *HTTPFetcher) fetchOne(ctx context.Context, rawURL, finalPath string) error {
	resp, err := f.doRequest(ctx, rawURL)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	tmpPath, err := f.writeBodyToTemp(resp, rawURL, filepath.Dir(finalPath))
	if err != nil {
		return err
	}
	if err := fsutil.Commit(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Tag(errors.ErrIO, err)
	}
	logger.Debug("Artifact committed", logger.Fields{"path": finalPath})
	return nil
}

func (f *HTTPFetcher) doRequest(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("User-Agent", f.userAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "download failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return resp, nil
}

// writeBodyToTemp streams the body into a temp file and returns its path. The
// temp file is removed on every failure, including a short body.
func (f *HTTPFetcher) writeBodyToTemp(resp *http.Response, rawURL, dir string) (tmpPath string, err error) {
	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return "", fmt.Errorf("%w: could not create temp file: %w", errors.ErrIO, err)
	}
	tmpPath = tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	var dst io.Writer = diskWriter{tmp}
	if f.progress != nil {
		dst = &progressWriter{w: dst, url: rawURL, total: resp.ContentLength, report: f.progress}
	}

	written, err := io.Copy(dst, resp.Body)
	if err != nil {
		if stderrors.Is(err, errors.ErrIO) {
			return "", err
		}
		return "", errors.Wrap(err, "could not read body")
	}
	if resp.ContentLength >= 0 && written != resp.ContentLength {
		return "", fmt.Errorf("short body: got %d of %d bytes", written, resp.ContentLength)
	}
	if err = tmp.Sync(); err != nil {
		return "", fmt.Errorf("%w: could not sync file: %w", errors.ErrIO, err)
	}
	if err = tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: could not close file: %w", errors.ErrIO, err)
	}
	if err = os.Chmod(tmpPath, fsutil.FileModeDefault); err != nil {
		return "", fmt.Errorf("%w: could not set permissions: %w", errors.ErrIO, err)
	}
	return tmpPath, nil
}

// diskWriter tags write failures so they are not mistaken for a bad mirror.
type diskWriter struct{ f *os.File }

func (w diskWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		return n, errors.Tag(errors.ErrIO, err)
	}
	return n, nil
}

type progressWriter struct {
	w       io.Writer
	url     string
	written int64
	total   int64
	report  Progress
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	p.report(p.url, p.written, p.total)
	return n, err
}
