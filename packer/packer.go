// Package packer writes package artifacts as zip archives.
//
// A Packer collects folder contributions from one or more checkouts and
// writes them into a single archive on Flush:
//
//	p := packer.New(osfs.New("/"), "/cache/abc123/package.zip")
//	_ = p.AddFolder("/checkouts/app", "src", "/")
//	_ = p.AddFolder("/checkouts/docs", "guide", "docs")
//	err := p.Flush()
//
// The archive is written to a temporary file and renamed into place, so the
// artifact path either does not exist or holds a complete archive.
package packer

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/klauspost/compress/zip"
)

// Packer accumulates files for a zip artifact. It is not safe for concurrent
// use.
type Packer struct {
	fs      billy.Filesystem
	path    string
	entries map[string]entry // archive name → source file
	flushed bool
}

type entry struct {
	source string
	info   os.FileInfo
}

// New creates a packer that writes the archive to artifactPath on fs.
func New(fs billy.Filesystem, artifactPath string) *Packer {
	return &Packer{
		fs:      fs,
		path:    artifactPath,
		entries: make(map[string]entry),
	}
}

// Path returns the artifact path.
func (p *Packer) Path() string {
	return p.path
}

// Len returns the number of files scheduled for the archive.
func (p *Packer) Len() int {
	return len(p.entries)
}

// AddFolder schedules every regular file below checkoutDir/source for the
// archive, placed under destination ("/" or "" is the archive root). source
// may also name a single file, which is then stored as destination/<name>.
//
// Git metadata directories are skipped. When two calls contribute the same
// archive name, the later one wins.
func (p *Packer) AddFolder(checkoutDir, source, destination string) error {
	if p.flushed {
		return fmt.Errorf("packer already flushed")
	}

	root, err := safeJoin(checkoutDir, source)
	if err != nil {
		return err
	}
	prefix := archivePrefix(destination)

	info, err := p.fs.Stat(root)
	if err != nil {
		return fmt.Errorf("source folder %s: %w", source, err)
	}
	if !info.IsDir() {
		return p.add(path.Join(prefix, info.Name()), root, info)
	}

	return util.Walk(p.fs, root, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("walk failed at %s: %w", filePath, err)
		}
		if info.IsDir() {
			if info.Name() == ".git" && filePath != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		relPath, err := filepath.Rel(root, filePath)
		if err != nil {
			return fmt.Errorf("failed to get relative path for %s: %w", filePath, err)
		}
		return p.add(path.Join(prefix, filepath.ToSlash(relPath)), filePath, info)
	})
}

func (p *Packer) add(name, source string, info os.FileInfo) error {
	if name == "" || name == "." {
		return fmt.Errorf("invalid archive name for %s", source)
	}
	p.entries[name] = entry{source: source, info: info}
	return nil
}

// Flush writes the archive. Entries are stored in name order so equal inputs
// produce equal archives. A packer can be flushed once.
func (p *Packer) Flush() error {
	if p.flushed {
		return fmt.Errorf("packer already flushed")
	}
	p.flushed = true

	tmpPath := p.path + ".tmp"
	tmpFile, err := p.fs.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary archive: %w", err)
	}

	if err := p.writeArchive(tmpFile); err != nil {
		tmpFile.Close()
		_ = p.fs.Remove(tmpPath)
		return err
	}

	if s, ok := tmpFile.(interface{ Sync() error }); ok {
		if err := s.Sync(); err != nil {
			tmpFile.Close()
			_ = p.fs.Remove(tmpPath)
			return fmt.Errorf("failed to sync archive: %w", err)
		}
	}

	if err := tmpFile.Close(); err != nil {
		_ = p.fs.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary archive: %w", err)
	}

	if err := p.fs.Rename(tmpPath, p.path); err != nil {
		_ = p.fs.Remove(tmpPath)
		return fmt.Errorf("failed to rename archive: %w", err)
	}
	return nil
}

func (p *Packer) writeArchive(w io.Writer) error {
	names := make([]string, 0, len(p.entries))
	for name := range p.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	zw := zip.NewWriter(w)
	for _, name := range names {
		if err := p.writeEntry(zw, name, p.entries[name]); err != nil {
			zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	return nil
}

func (p *Packer) writeEntry(zw *zip.Writer, name string, e entry) error {
	header, err := zip.FileInfoHeader(e.info)
	if err != nil {
		return fmt.Errorf("failed to create zip header for %s: %w", name, err)
	}
	header.Name = name
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to write zip header for %s: %w", name, err)
	}

	src, err := p.fs.Open(e.source)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", e.source, err)
	}
	defer src.Close()

	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("failed to write file content for %s: %w", name, err)
	}
	return nil
}

// safeJoin joins member onto root and rejects results outside root.
func safeJoin(root, member string) (string, error) {
	fullPath := filepath.Join(root, member)
	rel, err := filepath.Rel(root, fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", member, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("source %s escapes checkout %s", member, root)
	}
	return fullPath, nil
}

// archivePrefix normalizes a destination into a relative archive path. Since
// the destination is cleaned as a rooted path, ".." elements cannot climb
// above the archive root.
func archivePrefix(destination string) string {
	return strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(destination)), "/")
}
