// Package archive materialises downloaded artifacts into a dataset's extract
// directory, either by unpacking an archive or by copying a flat file.
package archive

import "context"

// Extractor places an artifact's content into extractDir.
//
//go:generate mockgen -source=interfaces.go -destination=./mocks/interfaces.go -package=mocks
type Extractor interface {
	// Extract unpacks artifactPath into extractDir when archive is true, or
	// copies it there under its own name otherwise. Entries resolving outside
	// extractDir fail with ErrPathTraversal. On failure extractDir is left as
	// it was before the call.
	Extract(ctx context.Context, artifactPath, extractDir string, archive bool) error
}
