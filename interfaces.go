package pkgcache

import "context"

// RepositorySource provides local working copies of repositories.
//
// Checkout returns the checkout directory for req. A source that failed to
// prepare the checkout earlier may instead record the failure in a file named
// ErrorMarker inside the returned directory; its contents are copied into the
// package's error record. A returned error is treated the same way.
type RepositorySource interface {
	Checkout(ctx context.Context, req RepositoryRequest) (string, error)
}

// ArtifactPacker assembles a package artifact.
//
// AddFolder schedules the contents of source (relative to checkoutDir) for
// inclusion under destination. Flush writes the finished artifact. Any error
// aborts the build.
type ArtifactPacker interface {
	AddFolder(checkoutDir, source, destination string) error
	Flush() error
}

// PackerFactory creates the packer that writes the artifact at artifactPath.
type PackerFactory func(artifactPath string) (ArtifactPacker, error)

// Metrics receives fire-and-forget counters for cache events.
type Metrics interface {
	// PackageCached is called when a ready package is served or found ready
	// after acquiring its lock.
	PackageCached()
	// PackageError is called when a build fails.
	PackageError()
	// PackageLocked is called when a slot lock could not be acquired in time.
	PackageLocked()
}

type nopMetrics struct{}

func (nopMetrics) PackageCached() {}
func (nopMetrics) PackageError()  {}
func (nopMetrics) PackageLocked() {}
