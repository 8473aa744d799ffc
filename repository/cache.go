// Package repository provides a pkgcache.RepositorySource backed by Git
// clones.
//
// # Layout
//
// Each requested revision of a repository gets its own working tree:
//
//	<checkout_root>/
//	└── github.com/my/repo/
//	    ├── 3f2a9c1/                # Working tree at commit 3f2a9c1
//	    ├── 3f2a9c1.clone_ready     # Present once the clone completed
//	    ├── 3f2a9c1.clone_lock      # Held while a clone runs
//	    └── main/
//
// Clones are created on first use. Concurrent callers, in-process or not,
// serialize on the checkout's lock file and the loser of the race reuses the
// winner's clone.
//
// # Failures
//
// A failed clone leaves an empty checkout directory containing a .error file
// with the failure text. pkgcache picks that file up and copies it into the
// package's error record. The failure is sticky: later Checkout calls return
// the same directory without cloning again until Remove is called.
package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	gitcache "github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/filesystem"
	platformerrors "github.com/jmgilman/go/errors"

	"github.com/jmgilman/go/pkgcache"
)

// Marker suffixes next to a checkout directory.
const (
	ReadyMarker = ".clone_ready"
	LockMarker  = ".clone_lock"
)

// DefaultLockTimeout bounds how long Checkout waits for a clone running in
// another caller.
const DefaultLockTimeout = 5 * time.Minute

// Cache clones repositories into per-revision checkout directories.
type Cache struct {
	root        string
	fs          billy.Filesystem
	locks       *pkgcache.LockCoordinator
	lockTimeout time.Duration
	depth       int
	auth        transport.AuthMethod
	logger      *pkgcache.Logger
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	fs          billy.Filesystem
	lockTimeout time.Duration
	depth       int
	auth        transport.AuthMethod
	logger      *pkgcache.Logger
}

// WithFilesystem sets the filesystem for checkouts. Defaults to the host
// filesystem.
func WithFilesystem(fs billy.Filesystem) Option {
	return func(opts *options) {
		opts.fs = fs
	}
}

// WithLockTimeout sets how long to wait for a concurrent clone.
func WithLockTimeout(timeout time.Duration) Option {
	return func(opts *options) {
		opts.lockTimeout = timeout
	}
}

// WithDepth makes clones of branch or default-branch requests shallow. It has
// no effect on requests for a specific commit, which need full history.
func WithDepth(depth int) Option {
	return func(opts *options) {
		opts.depth = depth
	}
}

// WithAuth sets transport authentication for clones.
func WithAuth(auth transport.AuthMethod) Option {
	return func(opts *options) {
		opts.auth = auth
	}
}

// WithLogger sets the logger.
func WithLogger(logger *pkgcache.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

// New creates a checkout cache rooted at root. Without WithFilesystem a
// relative root is resolved against the working directory.
func New(root string, opts ...Option) (*Cache, error) {
	if root == "" {
		return nil, platformerrors.New(platformerrors.CodeInvalidConfig, "checkout root cannot be empty")
	}

	o := &options{
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.fs == nil {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidConfig,
				fmt.Sprintf("failed to resolve checkout root %s", root))
		}
		root = abs
		o.fs = osfs.New("/", osfs.WithBoundOS())
	}
	if o.logger == nil {
		o.logger = pkgcache.NewNopLogger()
	}

	if err := o.fs.MkdirAll(root, 0o755); err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeInternal,
			fmt.Sprintf("failed to create checkout root %s", root))
	}

	return &Cache{
		root:        root,
		fs:          o.fs,
		locks:       pkgcache.NewLockCoordinator(o.fs, pkgcache.WithLockLogger(o.logger)),
		lockTimeout: o.lockTimeout,
		depth:       o.depth,
		auth:        o.auth,
		logger:      o.logger,
	}, nil
}

// Dir returns the checkout directory for req without touching the
// filesystem.
func (c *Cache) Dir(req pkgcache.RepositoryRequest) (string, error) {
	if req.Repository == "" {
		return "", platformerrors.New(platformerrors.CodeInvalidInput, "repository URL cannot be empty")
	}
	normalized := normalizeURL(req.Repository)
	revision := cleanRelative(req.Revision())
	if normalized == "" || revision == "" {
		return "", platformerrors.Newf(platformerrors.CodeInvalidInput,
			"cannot derive checkout path for %s", req)
	}
	return filepath.Join(c.root, normalized, revision), nil
}

// Checkout implements pkgcache.RepositorySource. It clones the requested
// revision if no checkout exists yet. Clone failures are recorded in the
// checkout's .error file rather than returned; the returned error is reserved
// for invalid requests, lock timeouts and filesystem faults.
func (c *Cache) Checkout(ctx context.Context, req pkgcache.RepositoryRequest) (string, error) {
	dir, err := c.Dir(req)
	if err != nil {
		return "", err
	}
	if c.present(dir) {
		return dir, nil
	}

	lock, err := c.locks.Acquire(ctx, dir+LockMarker, c.lockTimeout)
	if err != nil {
		return "", fmt.Errorf("clone of %s: %w", req.Repository, err)
	}
	defer func() {
		if err := c.locks.Release(ctx, lock); err != nil {
			c.logger.Error(ctx, "failed to release clone lock", "path", dir, "error", err)
		}
	}()

	if c.present(dir) {
		return dir, nil
	}

	c.logger.Info(ctx, "cloning repository", "repository", req.Repository, "revision", req.Revision(), "path", dir)
	if err := c.clone(ctx, dir, req); err != nil {
		c.logger.Error(ctx, "clone failed", "repository", req.Repository, "error", err)
		if err := c.recordFailure(dir, err); err != nil {
			return "", err
		}
	}
	return dir, nil
}

// Remove deletes the checkout for req, including a recorded clone failure, so
// the next Checkout clones again.
func (c *Cache) Remove(ctx context.Context, req pkgcache.RepositoryRequest) error {
	dir, err := c.Dir(req)
	if err != nil {
		return err
	}

	lock, err := c.locks.Acquire(ctx, dir+LockMarker, c.lockTimeout)
	if err != nil {
		return fmt.Errorf("remove %s: %w", req.Repository, err)
	}
	defer func() {
		if err := c.locks.Release(ctx, lock); err != nil {
			c.logger.Error(ctx, "failed to release clone lock", "path", dir, "error", err)
		}
	}()

	if err := c.fs.Remove(dir + ReadyMarker); err != nil && !os.IsNotExist(err) {
		return platformerrors.Wrap(err, platformerrors.CodeInternal, "failed to remove clone marker")
	}
	if err := util.RemoveAll(c.fs, dir); err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeInternal, "failed to remove checkout")
	}
	return nil
}

// present reports whether dir holds a finished clone or a recorded failure.
func (c *Cache) present(dir string) bool {
	if _, err := c.fs.Stat(dir + ReadyMarker); err == nil {
		return true
	}
	_, err := c.fs.Stat(filepath.Join(dir, pkgcache.ErrorMarker))
	return err == nil
}

// clone creates a fresh working tree of req in dir and marks it ready.
func (c *Cache) clone(ctx context.Context, dir string, req pkgcache.RepositoryRequest) error {
	if err := util.RemoveAll(c.fs, dir); err != nil {
		return fmt.Errorf("failed to clear checkout directory: %w", err)
	}
	if err := c.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkout directory: %w", err)
	}

	worktreeFs, err := c.fs.Chroot(dir)
	if err != nil {
		return fmt.Errorf("failed to scope filesystem to checkout: %w", err)
	}
	dotGitFs, err := worktreeFs.Chroot(".git")
	if err != nil {
		return fmt.Errorf("failed to create .git filesystem: %w", err)
	}
	storage := filesystem.NewStorage(dotGitFs, gitcache.NewObjectLRUDefault())

	cloneOpts := &gogit.CloneOptions{
		URL:  req.Repository,
		Auth: c.auth,
	}
	if req.Branch != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(req.Branch)
		cloneOpts.SingleBranch = true
	}
	if req.Commit == "" && c.depth > 0 {
		cloneOpts.Depth = c.depth
	}

	repo, err := gogit.CloneContext(ctx, storage, worktreeFs, cloneOpts)
	if err != nil {
		return wrapError(err, "failed to clone repository")
	}

	if req.Commit != "" {
		hash, err := repo.ResolveRevision(plumbing.Revision(req.Commit))
		if err != nil {
			return wrapError(err, fmt.Sprintf("failed to resolve commit %s", req.Commit))
		}
		wt, err := repo.Worktree()
		if err != nil {
			return wrapError(err, "failed to get worktree")
		}
		if err := wt.Checkout(&gogit.CheckoutOptions{Hash: *hash, Force: true}); err != nil {
			return wrapError(err, fmt.Sprintf("failed to check out %s", req.Commit))
		}
	}

	marker, err := c.fs.Create(dir + ReadyMarker)
	if err != nil {
		return fmt.Errorf("failed to create clone marker: %w", err)
	}
	return marker.Close()
}

// recordFailure resets dir to an empty directory holding the failure text.
func (c *Cache) recordFailure(dir string, cause error) error {
	if err := util.RemoveAll(c.fs, dir); err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeInternal, "failed to clean failed checkout")
	}
	if err := c.fs.MkdirAll(dir, 0o755); err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeInternal, "failed to recreate checkout directory")
	}
	path := filepath.Join(dir, pkgcache.ErrorMarker)
	if err := util.WriteFile(c.fs, path, []byte(cause.Error()), 0o644); err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeInternal, "failed to record clone failure")
	}
	return nil
}
