package pkgcache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5/util"
	platformerrors "github.com/jmgilman/go/errors"
)

// CachePackage builds the package described by req unless it is already
// cached.
//
// The only build-related error returned is one wrapping ErrPackingInProgress,
// meaning another caller held the slot lock for longer than the lock timeout.
// Invalid requests are rejected before touching the filesystem. Everything
// that goes wrong while packing is recorded in the slot's error record
// instead of being returned; use ReadError to find out.
//
// Once the lock is held the build runs to completion even if ctx is
// canceled.
func (c *Cache) CachePackage(ctx context.Context, req *PackageRequest) error {
	if req == nil {
		return platformerrors.New(platformerrors.CodeInvalidInput, "package request cannot be nil")
	}
	if c.source == nil {
		return platformerrors.New(platformerrors.CodeInvalidConfig, "no repository source configured")
	}
	slot, err := c.SlotFor(req)
	if err != nil {
		return err
	}

	logger := c.logger.WithFingerprint(slot.Fingerprint)

	lock, err := c.locks.Acquire(ctx, slot.LockPath(), c.lockTimeout)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.locks.Release(ctx, lock); err != nil {
			logger.Error(ctx, "failed to release package lock", "error", err)
		}
	}()

	// Whoever held the lock before us may have just finished this package.
	if c.isFile(slot.ReadyPath()) {
		c.metrics.PackageCached()
		logger.Debug(ctx, "package already built")
		return nil
	}

	c.build(context.WithoutCancel(ctx), logger, slot, req)
	return nil
}

// build packs the artifact and marks the slot ready, or records why it could
// not. It must only run while the slot lock is held.
func (c *Cache) build(ctx context.Context, logger *Logger, slot Slot, req *PackageRequest) {
	failure := c.pack(ctx, slot, req)
	if failure == nil {
		failure = c.markReady(slot)
	}
	if failure == nil {
		logger.Info(ctx, "package ready", "path", slot.ArtifactPath())
		return
	}
	c.fail(ctx, logger, slot, failure)
}

// pack assembles the artifact. It returns nil on success, a list of
// RepositoryFailure when repositories were unusable, or the fault payload of
// any other error (including panics raised by collaborators).
func (c *Cache) pack(ctx context.Context, slot Slot, req *PackageRequest) (failure any) {
	defer func() {
		if r := recover(); r != nil {
			failure = faultPayload(platformerrors.Newf(platformerrors.CodeInternal, "packing panicked: %v", r))
		}
	}()

	if err := c.fs.MkdirAll(slot.Dir(), 0o755); err != nil {
		return faultPayload(platformerrors.Wrap(err, platformerrors.CodeInternal, "failed to create package directory"))
	}

	packer, err := c.newPacker(slot.ArtifactPath())
	if err != nil {
		return faultPayload(platformerrors.Wrap(err, platformerrors.CodeBuildFailed, "failed to create packer"))
	}

	var failures []RepositoryFailure
	for _, repo := range req.Repositories {
		checkoutDir, err := c.source.Checkout(ctx, repo)
		if err != nil {
			failures = append(failures, RepositoryFailure{Repository: repo.String(), Error: err.Error()})
			continue
		}

		msg, failed, err := c.ledger.Read(filepath.Join(checkoutDir, ErrorMarker))
		if err != nil {
			return faultPayload(platformerrors.Wrap(err, platformerrors.CodeInternal,
				fmt.Sprintf("failed to read repository error for %s", repo.Repository)))
		}
		if failed {
			failures = append(failures, RepositoryFailure{Repository: repo.String(), Error: msg})
		}

		// Keep collecting failures, but stop packing after the first one.
		if len(failures) > 0 {
			continue
		}

		for _, fo := range repo.Folders {
			if err := packer.AddFolder(checkoutDir, fo.Source, fo.Destination); err != nil {
				return faultPayload(platformerrors.Wrapf(err, platformerrors.CodeBuildFailed,
					"failed to add folder %s from %s", fo, repo.Repository))
			}
		}
	}

	if len(failures) > 0 {
		return failures
	}

	if err := packer.Flush(); err != nil {
		return faultPayload(platformerrors.Wrap(err, platformerrors.CodeBuildFailed, "failed to write package"))
	}
	return nil
}

// markReady clears the stale error record of an earlier attempt and then
// creates the ready marker. The artifact must already be complete.
func (c *Cache) markReady(slot Slot) any {
	if err := c.ledger.Clear(slot.ErrorPath()); err != nil {
		return faultPayload(platformerrors.Wrap(err, platformerrors.CodeInternal, "failed to clear previous package error"))
	}
	f, err := c.fs.Create(slot.ReadyPath())
	if err != nil {
		return faultPayload(platformerrors.Wrap(err, platformerrors.CodeInternal, "failed to create ready marker"))
	}
	if err := f.Close(); err != nil {
		return faultPayload(platformerrors.Wrap(err, platformerrors.CodeInternal, "failed to close ready marker"))
	}
	return nil
}

// fail records failure and discards everything the attempt produced except
// the error record itself.
func (c *Cache) fail(ctx context.Context, logger *Logger, slot Slot, failure any) {
	logger.Error(ctx, "create package failed", "error", describeFailure(failure))
	c.metrics.PackageError()

	if err := c.ledger.Record(slot.ErrorPath(), failure); err != nil {
		logger.Error(ctx, "failed to record package error", "path", slot.ErrorPath(), "error", err)
	}
	if err := c.fs.Remove(slot.ReadyPath()); err != nil && !os.IsNotExist(err) {
		logger.Error(ctx, "failed to remove ready marker", "path", slot.ReadyPath(), "error", err)
	}
	if err := util.RemoveAll(c.fs, slot.Dir()); err != nil {
		logger.Error(ctx, "failed to remove package directory", "path", slot.Dir(), "error", err)
	}
}

// Invalidate removes the artifact, ready marker and error record of key so
// the next CachePackage builds it again. It waits for a running build like
// CachePackage does.
func (c *Cache) Invalidate(ctx context.Context, key Key) error {
	slot, err := c.SlotFor(key)
	if err != nil {
		return err
	}

	lock, err := c.locks.Acquire(ctx, slot.LockPath(), c.lockTimeout)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.locks.Release(ctx, lock); err != nil {
			c.logger.Error(ctx, "failed to release package lock", "fingerprint", string(slot.Fingerprint), "error", err)
		}
	}()

	// Readiness goes first so no reader sees a ready slot without its artifact.
	if err := c.fs.Remove(slot.ReadyPath()); err != nil && !os.IsNotExist(err) {
		return platformerrors.Wrap(err, platformerrors.CodeInternal, "failed to remove ready marker")
	}
	if err := util.RemoveAll(c.fs, slot.Dir()); err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeInternal, "failed to remove package directory")
	}
	if err := c.ledger.Clear(slot.ErrorPath()); err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeInternal, "failed to remove package error")
	}

	c.logger.Info(ctx, "package invalidated", "fingerprint", string(slot.Fingerprint))
	return nil
}

func describeFailure(failure any) string {
	switch f := failure.(type) {
	case []RepositoryFailure:
		if len(f) == 1 {
			return fmt.Sprintf("%s: %s", f[0].Repository, f[0].Error)
		}
		return fmt.Sprintf("%d repositories failed, first %s: %s", len(f), f[0].Repository, f[0].Error)
	case *platformerrors.ErrorResponse:
		return f.Message
	default:
		return fmt.Sprint(failure)
	}
}
