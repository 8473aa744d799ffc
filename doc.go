// Package pkgcache builds and caches package artifacts assembled from folders of
// one or more repository checkouts.
//
// # Overview
//
// Every artifact is identified by a caller-supplied fingerprint. The cache maps
// a fingerprint to a slot under the cache root:
//
//	<cache_root>/
//	├── abc123/
//	│   └── package.zip             # The artifact
//	├── abc123.package_ready         # Present once package.zip is complete
//	├── abc123.package_clone_lock    # Present while a build holds the slot
//	└── abc123.error                 # JSON record of the last failed build
//
// The markers live next to the slot directory rather than inside it. Taking
// the lock therefore never creates the slot directory, and removing a failed
// build's directory leaves its error record readable.
//
// # Usage
//
// Create a cache and build a package:
//
//	c, err := pkgcache.New("/var/cache/packages")
//	if err != nil {
//	    return err
//	}
//
//	req := &pkgcache.PackageRequest{
//	    ID: "abc123",
//	    Repositories: []pkgcache.RepositoryRequest{{
//	        Repository: "/src/app",
//	        Folders:    []pkgcache.FolderOverride{{Source: "src", Destination: "/"}},
//	    }},
//	}
//	if err := c.CachePackage(ctx, req); err != nil {
//	    if pkgcache.IsPackingInProgress(err) {
//	        // Another caller is building this package; retry later.
//	    }
//	    return err
//	}
//
//	if path, ok := c.Fetch(ctx, req); ok {
//	    // serve path
//	} else if msg, ok := c.ReadError(ctx, req); ok {
//	    // the build failed; msg holds the JSON failure record
//	}
//
// # Concurrency
//
// CachePackage may be called concurrently from any number of goroutines or
// processes on the same host. An exclusive file lock per slot guarantees that
// a given fingerprint is packed at most once; callers that arrive while a
// build is running wait up to the configured lock timeout (two seconds by
// default) and then fail with ErrPackingInProgress. Once the lock is granted
// the ready marker is checked again, so callers that lost the race return
// without doing any work.
//
// Readers (IsReady, Fetch, ReadError, Status) never take the lock. They treat
// the presence of the lock marker as "not ready".
//
// # Failures
//
// Build failures are not returned from CachePackage. They are written to the
// slot's error record, logged, and counted, and the partial slot directory is
// removed. Callers discover them through ReadError. A later CachePackage call
// for the same fingerprint retries the build.
package pkgcache
