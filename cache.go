package pkgcache

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	platformerrors "github.com/jmgilman/go/errors"

	"github.com/jmgilman/go/pkgcache/packer"
)

// DefaultLockTimeout bounds how long CachePackage waits for a slot lock.
const DefaultLockTimeout = 2 * time.Second

// Cache builds and serves package artifacts under a single cache root.
//
// A Cache holds no per-slot state in memory; all coordination happens through
// the filesystem, so independent Cache values (in one or many processes)
// pointing at the same root cooperate correctly.
type Cache struct {
	root        string
	fs          billy.Filesystem
	source      RepositorySource
	newPacker   PackerFactory
	locks       *LockCoordinator
	ledger      *ErrorLedger
	lockTimeout time.Duration
	metrics     Metrics
	logger      *Logger
}

// Option configures a Cache.
type Option func(*cacheOptions)

type cacheOptions struct {
	fs          billy.Filesystem
	source      RepositorySource
	newPacker   PackerFactory
	lockTimeout time.Duration
	metrics     Metrics
	logger      *Logger
}

// WithFilesystem sets the filesystem used for all cache I/O. It defaults to
// the host filesystem. Cross-process locking requires a filesystem whose
// files implement flock, such as osfs.
func WithFilesystem(fs billy.Filesystem) Option {
	return func(opts *cacheOptions) {
		opts.fs = fs
	}
}

// WithRepositorySource sets where repository checkouts come from. It defaults
// to LocalSource, which treats each repository as a local directory.
func WithRepositorySource(source RepositorySource) Option {
	return func(opts *cacheOptions) {
		opts.source = source
	}
}

// WithPackerFactory replaces the zip packer.
func WithPackerFactory(factory PackerFactory) Option {
	return func(opts *cacheOptions) {
		opts.newPacker = factory
	}
}

// WithLockTimeout sets how long CachePackage waits for a busy slot.
func WithLockTimeout(timeout time.Duration) Option {
	return func(opts *cacheOptions) {
		opts.lockTimeout = timeout
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(opts *cacheOptions) {
		opts.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *Logger) Option {
	return func(opts *cacheOptions) {
		opts.logger = logger
	}
}

// New creates a cache rooted at root. The root directory is created if it
// does not exist. On the host filesystem a relative root is resolved against
// the working directory.
//
// Example:
//
//	c, err := pkgcache.New("/var/cache/packages",
//	    pkgcache.WithRepositorySource(repos),
//	    pkgcache.WithLogger(logger))
func New(root string, opts ...Option) (*Cache, error) {
	if root == "" {
		return nil, platformerrors.New(platformerrors.CodeInvalidConfig, "cache root cannot be empty")
	}

	options := &cacheOptions{
		source:      LocalSource{},
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.fs == nil {
		// The host filesystem resolves every path against "/", so a relative
		// root has to be anchored at the working directory first.
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidConfig,
				fmt.Sprintf("failed to resolve cache root %s", root))
		}
		root = abs
		options.fs = osfs.New("/", osfs.WithBoundOS())
	}
	if options.metrics == nil {
		options.metrics = nopMetrics{}
	}
	if options.logger == nil {
		options.logger = NewNopLogger()
	}
	if options.lockTimeout <= 0 {
		return nil, platformerrors.Newf(platformerrors.CodeInvalidConfig,
			"lock timeout must be positive, got %s", options.lockTimeout)
	}

	fs := options.fs
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeInternal,
			fmt.Sprintf("failed to create cache root %s", root))
	}

	newPacker := options.newPacker
	if newPacker == nil {
		newPacker = func(artifactPath string) (ArtifactPacker, error) {
			return packer.New(fs, artifactPath), nil
		}
	}

	return &Cache{
		root:        root,
		fs:          fs,
		source:      options.source,
		newPacker:   newPacker,
		locks:       NewLockCoordinator(fs, WithLockLogger(options.logger), WithLockMetrics(options.metrics)),
		ledger:      NewErrorLedger(fs),
		lockTimeout: options.lockTimeout,
		metrics:     options.metrics,
		logger:      options.logger,
	}, nil
}

// Root returns the cache root directory.
func (c *Cache) Root() string {
	return c.root
}
