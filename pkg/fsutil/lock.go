package fsutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fluxcd/pkg/lockedfile"

	"github.com/glorpus-work/datasets/pkg/errors"
)

// Lock takes the cross-process lock file at path, giving up when ctx ends or
// timeout elapses. A zero timeout waits until ctx ends. The returned func
// releases the lock.
func Lock(ctx context.Context, path string, timeout time.Duration) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), DirModeDefault); err != nil {
		return nil, fmt.Errorf("%w: creating lock directory: %w", errors.ErrIO, err)
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		unlock func()
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		unlock, err := lockedfile.MutexAt(path).Lock()
		ch <- result{unlock: unlock, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("%w: acquiring lock %s: %w", errors.ErrIO, path, r.err)
		}
		return r.unlock, nil
	case <-waitCtx.Done():
		// Release the lock if it is granted after we stopped waiting.
		go func() {
			if r := <-ch; r.err == nil {
				r.unlock()
			}
		}()
		if err := ctx.Err(); err != nil {
			return nil, errors.Tag(errors.ErrCancelled, err)
		}
		return nil, fmt.Errorf("%w: %s after %s", errors.ErrLockTimeout, path, timeout)
	}
}
