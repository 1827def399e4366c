// Package download retrieves dataset artifacts over HTTP(S) with mirror
// fallback, staging every transfer in a temp file that is only renamed into
// place once complete.
package download

import "context"

// Fetcher downloads one artifact from an ordered list of mirrors.
//
//go:generate mockgen -source=interfaces.go -destination=./mocks/interfaces.go -package=mocks
type Fetcher interface {
	// Fetch tries urls in order and stores the first complete body as
	// downloadDir/filename, returning that path. It creates downloadDir when
	// missing. A cancelled ctx yields ErrCancelled; exhausting every mirror
	// yields ErrFetch.
	Fetch(ctx context.Context, urls []string, downloadDir, filename string) (string, error)
}

// Progress receives transfer updates. total is -1 when the server declared no length.
type Progress func(url string, written, total int64)
