package pkgcache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5"
	platformerrors "github.com/jmgilman/go/errors"
)

// LockCoordinator hands out exclusive, cross-process locks backed by lock
// files. Mutual exclusion comes from an advisory flock on the open file; the
// file's existence additionally tells lock-free readers that a slot is busy.
type LockCoordinator struct {
	fs      billy.Filesystem
	logger  *Logger
	metrics Metrics
}

// LockOption configures a LockCoordinator.
type LockOption func(*LockCoordinator)

// WithLockLogger sets the logger used for lock events.
func WithLockLogger(logger *Logger) LockOption {
	return func(lc *LockCoordinator) {
		lc.logger = logger
	}
}

// WithLockMetrics sets the sink notified of lock timeouts.
func WithLockMetrics(m Metrics) LockOption {
	return func(lc *LockCoordinator) {
		lc.metrics = m
	}
}

// NewLockCoordinator creates a coordinator operating on fs. Files opened
// through fs must implement billy.File's Lock and Unlock with real flock
// semantics (osfs does) for locks to exclude other processes.
func NewLockCoordinator(fs billy.Filesystem, opts ...LockOption) *LockCoordinator {
	lc := &LockCoordinator{fs: fs}
	for _, opt := range opts {
		opt(lc)
	}
	if lc.metrics == nil {
		lc.metrics = nopMetrics{}
	}
	return lc
}

// LockHandle is a held lock. The zero value and nil are valid, unheld handles.
type LockHandle struct {
	path string
	file billy.File
}

// Path returns the lock file path.
func (h *LockHandle) Path() string {
	if h == nil {
		return ""
	}
	return h.path
}

// Held reports whether the handle still owns its lock.
func (h *LockHandle) Held() bool {
	return h != nil && h.file != nil
}

// Acquire opens (creating if needed) the lock file at path and waits for an
// exclusive lock on it, for at most timeout.
//
// If the lock is not granted in time the returned error wraps
// ErrPackingInProgress and carries platformerrors.CodeTimeout. If ctx ends
// first, the context's error is returned wrapped.
func (lc *LockCoordinator) Acquire(ctx context.Context, path string, timeout time.Duration) (*LockHandle, error) {
	if err := lc.ensureParent(path); err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeInternal,
			fmt.Sprintf("failed to create lock directory for %s", path))
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		f, err := lc.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return nil, platformerrors.Wrap(err, platformerrors.CodeInternal,
				fmt.Sprintf("failed to open lock file %s", path))
		}

		if err := lockFile(waitCtx, f); err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				lc.metrics.PackageLocked()
				lc.logger.Debug(ctx, "lock held by another process", "path", path, "timeout", timeout)
				return nil, platformerrors.WithContext(
					platformerrors.Wrapf(ErrPackingInProgress, platformerrors.CodeTimeout,
						"lock not acquired within %s", timeout),
					"path", path,
				)
			}
			if ctx.Err() != nil {
				return nil, fmt.Errorf("waiting for lock %s: %w", path, ctx.Err())
			}
			return nil, platformerrors.Wrap(err, platformerrors.CodeInternal,
				fmt.Sprintf("failed to lock %s", path))
		}

		// A previous holder deletes the file before unlocking it. If that
		// happened while we waited, we hold a lock on an unlinked file that
		// nobody else can see, so start over with a fresh one.
		current, err := stillLinked(lc.fs, path, f)
		if err != nil {
			_ = f.Unlock()
			_ = f.Close()
			return nil, platformerrors.Wrap(err, platformerrors.CodeInternal,
				fmt.Sprintf("failed to verify lock file %s", path))
		}
		if current {
			lc.logger.Info(ctx, "lock package", "path", path)
			return &LockHandle{path: path, file: f}, nil
		}
		_ = f.Unlock()
		_ = f.Close()
	}
}

// Release deletes the lock file and then drops the lock. Releasing a nil or
// already released handle does nothing.
func (lc *LockCoordinator) Release(ctx context.Context, h *LockHandle) error {
	lc.logger.Info(ctx, "unlocking package")
	if !h.Held() {
		return nil
	}

	lc.logger.Info(ctx, "delete file", "path", h.path)
	var errs []error
	if err := lc.fs.Remove(h.path); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to remove lock file: %w", err))
	}
	if err := h.file.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("failed to unlock: %w", err))
	}
	if err := h.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close lock file: %w", err))
	}
	h.file = nil

	if len(errs) > 0 {
		return platformerrors.Wrap(errors.Join(errs...), platformerrors.CodeInternal,
			fmt.Sprintf("failed to release lock %s", h.path))
	}
	return nil
}

// ensureParent creates the directory holding path.
func (lc *LockCoordinator) ensureParent(path string) error {
	return lc.fs.MkdirAll(filepath.Dir(path), 0o755)
}

// lockFile blocks on f.Lock until it succeeds or ctx is done. When ctx wins,
// the pending Lock call is left to finish in the background; whatever it
// obtains is released and the file closed.
func lockFile(ctx context.Context, f billy.File) error {
	done := make(chan error, 1)
	go func() {
		done <- f.Lock()
	}()

	select {
	case err := <-done:
		if err != nil {
			_ = f.Close()
		}
		return err
	case <-ctx.Done():
		go func() {
			if err := <-done; err == nil {
				_ = f.Unlock()
			}
			_ = f.Close()
		}()
		return ctx.Err()
	}
}

type statFile interface {
	Stat() (fs.FileInfo, error)
}

// stillLinked reports whether path still names the file f refers to.
// Filesystems whose files cannot be stat'ed fall back to an existence check.
func stillLinked(fsys billy.Filesystem, path string, f billy.File) (bool, error) {
	onDisk, err := fsys.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	sf, ok := f.(statFile)
	if !ok {
		return true, nil
	}
	held, err := sf.Stat()
	if err != nil {
		return false, err
	}
	if onDisk.Sys() == nil || held.Sys() == nil {
		return true, nil
	}
	return os.SameFile(onDisk, held), nil
}
