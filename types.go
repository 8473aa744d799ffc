package pkgcache

import (
	"fmt"
	"strings"
)

// Fingerprint identifies the content of a package artifact. It is supplied by
// the caller and used verbatim as the name of the cache slot.
type Fingerprint string

// Fingerprint returns f itself so that a bare fingerprint satisfies Key.
func (f Fingerprint) Fingerprint() Fingerprint {
	return f
}

// Key is anything that identifies a cache slot: either a Fingerprint or a
// request that carries one.
type Key interface {
	Fingerprint() Fingerprint
}

// PackageRequest describes a package assembled from one or more repositories.
// Repositories are processed in order.
type PackageRequest struct {
	ID           Fingerprint         // Caller-supplied fingerprint of the package
	Repositories []RepositoryRequest // Repositories contributing to the package
}

// Fingerprint returns the request's fingerprint.
func (r *PackageRequest) Fingerprint() Fingerprint {
	if r == nil {
		return ""
	}
	return r.ID
}

// RepositoryRequest selects a revision of one repository and the folders it
// contributes to the package.
type RepositoryRequest struct {
	Repository string           // Repository URL or local path
	Commit     string           // Commit to check out (optional)
	Branch     string           // Branch to check out when Commit is empty (optional)
	Folders    []FolderOverride // Folders copied into the package
}

// Revision returns the commit, the branch, or "HEAD", in that order of
// preference.
func (r RepositoryRequest) Revision() string {
	switch {
	case r.Commit != "":
		return r.Commit
	case r.Branch != "":
		return r.Branch
	default:
		return "HEAD"
	}
}

// String returns the identity descriptor recorded in error payloads.
//
// Format: repository|revision|source>destination,source>destination
func (r RepositoryRequest) String() string {
	folders := make([]string, 0, len(r.Folders))
	for _, fo := range r.Folders {
		folders = append(folders, fo.String())
	}
	return fmt.Sprintf("%s|%s|%s", r.Repository, r.Revision(), strings.Join(folders, ","))
}

// FolderOverride maps a folder of a checkout to a location inside the package.
type FolderOverride struct {
	Source      string // Folder relative to the checkout root
	Destination string // Folder inside the package; "/" is the archive root
}

func (f FolderOverride) String() string {
	return f.Source + ">" + f.Destination
}

// SlotState summarizes what a reader can observe about a slot.
type SlotState int

const (
	// SlotMissing means nothing has been built for the fingerprint.
	SlotMissing SlotState = iota
	// SlotBuilding means a build currently holds the slot lock.
	SlotBuilding
	// SlotReady means the artifact is complete and safe to read.
	SlotReady
	// SlotFailed means the most recent build failed and recorded an error.
	SlotFailed
)

func (s SlotState) String() string {
	switch s {
	case SlotMissing:
		return "missing"
	case SlotBuilding:
		return "building"
	case SlotReady:
		return "ready"
	case SlotFailed:
		return "failed"
	default:
		return fmt.Sprintf("SlotState(%d)", int(s))
	}
}
