package pkgcache

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/go/pkgcache/packer"
)

// hostFS returns a filesystem with real flock semantics.
func hostFS() billy.Filesystem {
	return osfs.New("/", osfs.WithBoundOS())
}

// newMemCache creates a cache on an in-memory filesystem rooted at /cache.
func newMemCache(t *testing.T, opts ...Option) (*Cache, billy.Filesystem) {
	t.Helper()
	fs := memfs.New()
	c, err := New("/cache", append([]Option{WithFilesystem(fs)}, opts...)...)
	require.NoError(t, err)
	return c, fs
}

// newHostCache creates a cache on the host filesystem in a temporary
// directory.
func newHostCache(t *testing.T, opts ...Option) *Cache {
	t.Helper()
	c, err := New(filepath.Join(t.TempDir(), "cache"), append([]Option{WithFilesystem(hostFS())}, opts...)...)
	require.NoError(t, err)
	return c
}

// writeFiles creates files below dir.
func writeFiles(t *testing.T, fs billy.Filesystem, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, util.WriteFile(fs, path, []byte(content), 0o644))
	}
}

// zipContents returns name → content for every entry of the archive at path.
func zipContents(t *testing.T, fs billy.Filesystem, path string) map[string]string {
	t.Helper()
	data, err := util.ReadFile(fs, path)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	contents := make(map[string]string, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		contents[f.Name] = string(body)
	}
	return contents
}

func zipNames(t *testing.T, fs billy.Filesystem, path string) []string {
	t.Helper()
	contents := zipContents(t, fs, path)
	names := make([]string, 0, len(contents))
	for name := range contents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// sourceFunc adapts a function to RepositorySource.
type sourceFunc func(ctx context.Context, req RepositoryRequest) (string, error)

func (f sourceFunc) Checkout(ctx context.Context, req RepositoryRequest) (string, error) {
	return f(ctx, req)
}

// hookedPacker wraps the zip packer to observe and interfere with builds.
type hookedPacker struct {
	ArtifactPacker
	flushes     *atomic.Int32
	beforeFlush func()
	flushErr    error
}

func (p *hookedPacker) Flush() error {
	p.flushes.Add(1)
	if p.beforeFlush != nil {
		p.beforeFlush()
	}
	if p.flushErr != nil {
		return p.flushErr
	}
	return p.ArtifactPacker.Flush()
}

// hookedFactory returns a PackerFactory producing hookedPackers on fs.
func hookedFactory(fs billy.Filesystem, flushes *atomic.Int32, beforeFlush func(), flushErr error) PackerFactory {
	return func(artifactPath string) (ArtifactPacker, error) {
		return &hookedPacker{
			ArtifactPacker: packer.New(fs, artifactPath),
			flushes:        flushes,
			beforeFlush:    beforeFlush,
			flushErr:       flushErr,
		}, nil
	}
}

// panicPacker panics when asked to add a folder.
type panicPacker struct{}

func (panicPacker) AddFolder(string, string, string) error { panic("packer exploded") }
func (panicPacker) Flush() error                           { return nil }
