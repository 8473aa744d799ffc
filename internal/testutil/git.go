// Package testutil provides Git fixtures for tests.
package testutil

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Test user information for fixture commits.
const (
	TestAuthor = "Test User"
	TestEmail  = "test@example.com"
)

// Repo is a non-bare repository on disk used as a clone source.
type Repo struct {
	Path string
	repo *gogit.Repository
}

// NewRepo initializes a repository at dir/source and commits files to master.
func NewRepo(t *testing.T, dir string, files map[string]string) (*Repo, plumbing.Hash) {
	t.Helper()

	path := filepath.Join(dir, "source")
	repo, err := gogit.PlainInit(path, false)
	if err != nil {
		t.Fatalf("failed to init test repo: %v", err)
	}

	r := &Repo{Path: path, repo: repo}
	hash := r.Commit(t, "initial commit", files)

	// HEAD must name master explicitly so clones without a branch resolve it.
	master := plumbing.NewHashReference(plumbing.Master, hash)
	if err := repo.Storer.SetReference(master); err != nil {
		t.Fatalf("failed to set master ref: %v", err)
	}
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.Master)
	if err := repo.Storer.SetReference(head); err != nil {
		t.Fatalf("failed to set HEAD: %v", err)
	}

	return r, hash
}

// Commit writes files into the working tree and commits them on the current
// branch.
func (r *Repo) Commit(t *testing.T, message string, files map[string]string) plumbing.Hash {
	t.Helper()

	wt, err := r.repo.Worktree()
	if err != nil {
		t.Fatalf("failed to get worktree: %v", err)
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		full := filepath.Join(r.Path, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("failed to create directory for %s: %v", name, err)
		}
		if err := os.WriteFile(full, []byte(files[name]), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
		if _, err := wt.Add(name); err != nil {
			t.Fatalf("failed to add %s: %v", name, err)
		}
	}

	hash, err := wt.Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  TestAuthor,
			Email: TestEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
	return hash
}

// Branch creates a branch pointing at hash.
func (r *Repo) Branch(t *testing.T, name string, hash plumbing.Hash) {
	t.Helper()

	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), hash)
	if err := r.repo.Storer.SetReference(ref); err != nil {
		t.Fatalf("failed to create branch %s: %v", name, err)
	}
}
