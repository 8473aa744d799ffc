package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	platformerrors "github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/jmgilman/go/pkgcache"
	"github.com/jmgilman/go/pkgcache/internal/testutil"
)

func newTestCache(t *testing.T, opts ...Option) *Cache {
	t.Helper()
	c, err := New(filepath.Join(t.TempDir(), "checkouts"), opts...)
	require.NoError(t, err)
	return c
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestNew(t *testing.T) {
	t.Run("empty root", func(t *testing.T) {
		_, err := New("")
		require.Error(t, err)
		var perr platformerrors.PlatformError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, platformerrors.CodeInvalidConfig, perr.Code())
	})

	t.Run("creates root", func(t *testing.T) {
		fs := memfs.New()
		_, err := New("/checkouts", WithFilesystem(fs))
		require.NoError(t, err)

		info, err := fs.Stat("/checkouts")
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})
}

func TestCache_Checkout_RelativeRoot(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	source, _ := testutil.NewRepo(t, dir, map[string]string{"README.md": "hello\n"})
	t.Chdir(dir)

	c, err := New("checkouts")
	require.NoError(t, err)

	checkout, err := c.Checkout(ctx, pkgcache.RepositoryRequest{Repository: source.Path})
	require.NoError(t, err)
	rel, err := filepath.Rel(filepath.Join(dir, "checkouts"), checkout)
	require.NoError(t, err)
	assert.False(t, filepath.IsAbs(rel))
	assert.NotContains(t, rel, "..")
	assert.Equal(t, "hello\n", readFile(t, filepath.Join(checkout, "README.md")))
}

func TestCache_Dir(t *testing.T) {
	c, err := New("/checkouts", WithFilesystem(memfs.New()))
	require.NoError(t, err)

	tests := []struct {
		name     string
		req      pkgcache.RepositoryRequest
		expected string
	}{
		{
			name:     "commit wins over branch",
			req:      pkgcache.RepositoryRequest{Repository: "https://github.com/my/repo.git", Commit: "abc123", Branch: "main"},
			expected: "/checkouts/github.com/my/repo/abc123",
		},
		{
			name:     "branch",
			req:      pkgcache.RepositoryRequest{Repository: "git@github.com:my/repo", Branch: "release/v1"},
			expected: "/checkouts/github.com/my/repo/release/v1",
		},
		{
			name:     "default revision",
			req:      pkgcache.RepositoryRequest{Repository: "https://github.com/my/repo"},
			expected: "/checkouts/github.com/my/repo/HEAD",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, err := c.Dir(tt.req)
			require.NoError(t, err)
			assert.Equal(t, filepath.FromSlash(tt.expected), dir)
		})
	}

	t.Run("empty repository", func(t *testing.T) {
		_, err := c.Dir(pkgcache.RepositoryRequest{})
		require.Error(t, err)
	})

	t.Run("revision escaping the checkout", func(t *testing.T) {
		_, err := c.Dir(pkgcache.RepositoryRequest{Repository: "https://github.com/my/repo", Branch: ".."})
		require.Error(t, err)
	})
}

func TestCache_Checkout_DefaultBranch(t *testing.T) {
	ctx := context.Background()
	source, _ := testutil.NewRepo(t, t.TempDir(), map[string]string{
		"README.md":    "hello\n",
		"lib/code.txt": "code\n",
	})
	c := newTestCache(t)
	req := pkgcache.RepositoryRequest{Repository: source.Path}

	dir, err := c.Checkout(ctx, req)
	require.NoError(t, err)

	expected, err := c.Dir(req)
	require.NoError(t, err)
	assert.Equal(t, expected, dir)
	assert.Equal(t, "hello\n", readFile(t, filepath.Join(dir, "README.md")))
	assert.Equal(t, "code\n", readFile(t, filepath.Join(dir, "lib", "code.txt")))
	assert.FileExists(t, dir+ReadyMarker)
	assert.NoFileExists(t, dir+LockMarker)
	assert.NoFileExists(t, filepath.Join(dir, pkgcache.ErrorMarker))
}

func TestCache_Checkout_ReusesExistingClone(t *testing.T) {
	ctx := context.Background()
	source, _ := testutil.NewRepo(t, t.TempDir(), map[string]string{"README.md": "hello\n"})
	c := newTestCache(t)
	req := pkgcache.RepositoryRequest{Repository: source.Path}

	first, err := c.Checkout(ctx, req)
	require.NoError(t, err)

	// A second clone would fail once the source is gone.
	require.NoError(t, os.RemoveAll(source.Path))

	second, err := c.Checkout(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, "hello\n", readFile(t, filepath.Join(second, "README.md")))
	assert.NoFileExists(t, filepath.Join(second, pkgcache.ErrorMarker))
}

func TestCache_Checkout_Commit(t *testing.T) {
	ctx := context.Background()
	source, first := testutil.NewRepo(t, t.TempDir(), map[string]string{"VERSION": "v1\n"})
	second := source.Commit(t, "bump", map[string]string{"VERSION": "v2\n"})
	c := newTestCache(t)

	dir, err := c.Checkout(ctx, pkgcache.RepositoryRequest{Repository: source.Path, Commit: first.String()})
	require.NoError(t, err)
	assert.Equal(t, "v1\n", readFile(t, filepath.Join(dir, "VERSION")))
	assert.Equal(t, first.String(), filepath.Base(dir))

	dir, err = c.Checkout(ctx, pkgcache.RepositoryRequest{Repository: source.Path, Commit: second.String()})
	require.NoError(t, err)
	assert.Equal(t, "v2\n", readFile(t, filepath.Join(dir, "VERSION")))
}

func TestCache_Checkout_Branch(t *testing.T) {
	ctx := context.Background()
	source, first := testutil.NewRepo(t, t.TempDir(), map[string]string{"VERSION": "v1\n"})
	source.Branch(t, "release", first)
	source.Commit(t, "bump", map[string]string{"VERSION": "v2\n"})
	c := newTestCache(t)

	dir, err := c.Checkout(ctx, pkgcache.RepositoryRequest{Repository: source.Path, Branch: "release"})
	require.NoError(t, err)
	assert.Equal(t, "v1\n", readFile(t, filepath.Join(dir, "VERSION")))

	dir, err = c.Checkout(ctx, pkgcache.RepositoryRequest{Repository: source.Path})
	require.NoError(t, err)
	assert.Equal(t, "v2\n", readFile(t, filepath.Join(dir, "VERSION")))
}

func TestCache_Checkout_FailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	req := pkgcache.RepositoryRequest{Repository: filepath.Join(t.TempDir(), "missing")}

	dir, err := c.Checkout(ctx, req)
	require.NoError(t, err)

	errPath := filepath.Join(dir, pkgcache.ErrorMarker)
	assert.FileExists(t, errPath)
	assert.Contains(t, readFile(t, errPath), "failed to clone repository")
	assert.NoFileExists(t, dir+ReadyMarker)
	assert.NoDirExists(t, filepath.Join(dir, ".git"))

	// The failure is sticky until the checkout is removed.
	again, err := c.Checkout(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, dir, again)
	assert.FileExists(t, errPath)

	require.NoError(t, c.Remove(ctx, req))
	assert.NoDirExists(t, dir)
}

func TestCache_Checkout_UnknownCommit(t *testing.T) {
	ctx := context.Background()
	source, _ := testutil.NewRepo(t, t.TempDir(), map[string]string{"README.md": "hello\n"})
	c := newTestCache(t)

	dir, err := c.Checkout(ctx, pkgcache.RepositoryRequest{
		Repository: source.Path,
		Commit:     "0123456789abcdef0123456789abcdef01234567",
	})
	require.NoError(t, err)

	assert.Contains(t, readFile(t, filepath.Join(dir, pkgcache.ErrorMarker)), "0123456789abcdef0123456789abcdef01234567")
	assert.NoFileExists(t, filepath.Join(dir, "README.md"))
}

func TestCache_Checkout_Concurrent(t *testing.T) {
	ctx := context.Background()
	source, _ := testutil.NewRepo(t, t.TempDir(), map[string]string{"README.md": "hello\n"})
	c := newTestCache(t)
	req := pkgcache.RepositoryRequest{Repository: source.Path}

	dirs := make([]string, 8)
	var g errgroup.Group
	for i := range dirs {
		g.Go(func() error {
			dir, err := c.Checkout(ctx, req)
			dirs[i] = dir
			return err
		})
	}
	require.NoError(t, g.Wait())

	for _, dir := range dirs {
		assert.Equal(t, dirs[0], dir)
	}
	assert.Equal(t, "hello\n", readFile(t, filepath.Join(dirs[0], "README.md")))
	assert.NoFileExists(t, filepath.Join(dirs[0], pkgcache.ErrorMarker))
}

func TestCache_Checkout_LockTimeout(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, WithLockTimeout(50*time.Millisecond))
	req := pkgcache.RepositoryRequest{Repository: "https://github.com/my/repo"}

	dir, err := c.Dir(req)
	require.NoError(t, err)

	locks := pkgcache.NewLockCoordinator(osfs.New("/", osfs.WithBoundOS()))
	held, err := locks.Acquire(ctx, dir+LockMarker, time.Second)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, locks.Release(ctx, held))
	}()

	_, err = c.Checkout(ctx, req)
	require.Error(t, err)
	assert.True(t, pkgcache.IsPackingInProgress(err))
	assert.NoDirExists(t, dir)
}
