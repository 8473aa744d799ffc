package pkgcache

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Marker and artifact file names.
const (
	// ArtifactName is the artifact file inside a slot directory.
	ArtifactName = "package.zip"
	// ReadyMarker suffix marks a slot whose artifact is complete.
	ReadyMarker = ".package_ready"
	// LockMarker suffix names the slot's lock file.
	LockMarker = ".package_clone_lock"
	// ErrorMarker suffix names the slot's error record. Repository sources use
	// the same name inside a checkout directory.
	ErrorMarker = ".error"

	// tempSuffix is appended to files while they are being written.
	tempSuffix = ".tmp"
)

// Slot is the set of paths belonging to one fingerprint. Computing a Slot
// performs no I/O.
type Slot struct {
	Fingerprint Fingerprint
	dir         string
}

// Dir returns the slot directory holding the artifact.
func (s Slot) Dir() string { return s.dir }

// ArtifactPath returns the path of the artifact file.
func (s Slot) ArtifactPath() string { return filepath.Join(s.dir, ArtifactName) }

// ReadyPath returns the path of the ready marker.
func (s Slot) ReadyPath() string { return s.dir + ReadyMarker }

// LockPath returns the path of the lock marker.
func (s Slot) LockPath() string { return s.dir + LockMarker }

// ErrorPath returns the path of the error record.
func (s Slot) ErrorPath() string { return s.dir + ErrorMarker }

// reservedSuffixes name the files kept next to a slot directory. A
// fingerprint ending in one of them would alias another slot's markers.
var reservedSuffixes = []string{ReadyMarker, LockMarker, ErrorMarker, tempSuffix}

// ValidateFingerprint reports whether fp can be used as a slot name.
func ValidateFingerprint(fp Fingerprint) error {
	switch {
	case fp == "":
		return invalidFingerprint(fp, "empty")
	case fp == "." || fp == "..":
		return invalidFingerprint(fp, "reserved name")
	case strings.ContainsAny(string(fp), `/\`):
		return invalidFingerprint(fp, "contains a path separator")
	}
	for _, suffix := range reservedSuffixes {
		if strings.HasSuffix(string(fp), suffix) {
			return invalidFingerprint(fp, fmt.Sprintf("ends in reserved suffix %s", suffix))
		}
	}
	return nil
}

// SlotFor resolves key to its slot under the cache root.
func (c *Cache) SlotFor(key Key) (Slot, error) {
	if key == nil {
		return Slot{}, invalidFingerprint("", "nil key")
	}
	fp := key.Fingerprint()
	if err := ValidateFingerprint(fp); err != nil {
		return Slot{}, err
	}
	return Slot{Fingerprint: fp, dir: filepath.Join(c.root, string(fp))}, nil
}

// IsReady reports whether the artifact for key is complete and no build holds
// its lock. The answer is a point-in-time observation.
func (c *Cache) IsReady(key Key) bool {
	slot, err := c.SlotFor(key)
	if err != nil {
		return false
	}
	return c.isReady(slot)
}

func (c *Cache) isReady(slot Slot) bool {
	info, err := c.fs.Stat(slot.Dir())
	if err != nil || !info.IsDir() {
		return false
	}
	return c.isFile(slot.ReadyPath()) &&
		c.isFile(slot.ArtifactPath()) &&
		!c.exists(slot.LockPath())
}

// Fetch returns the artifact path for key if it is ready.
func (c *Cache) Fetch(ctx context.Context, key Key) (string, bool) {
	slot, err := c.SlotFor(key)
	if err != nil || !c.isReady(slot) {
		return "", false
	}
	c.metrics.PackageCached()
	c.logger.Debug(ctx, "package served from cache", "fingerprint", string(slot.Fingerprint))
	return slot.ArtifactPath(), true
}

// ReadError returns the raw error record of the most recent failed build for
// key. It does not take the lock and works whatever state the slot is in.
func (c *Cache) ReadError(ctx context.Context, key Key) (string, bool) {
	slot, err := c.SlotFor(key)
	if err != nil {
		return "", false
	}
	msg, ok, err := c.ledger.Read(slot.ErrorPath())
	if err != nil {
		c.logger.Warn(ctx, "failed to read package error", "path", slot.ErrorPath(), "error", err)
		return "", false
	}
	return msg, ok
}

// Status summarizes the observable state of key's slot.
func (c *Cache) Status(key Key) SlotState {
	slot, err := c.SlotFor(key)
	if err != nil {
		return SlotMissing
	}
	switch {
	case c.exists(slot.LockPath()):
		return SlotBuilding
	case c.isReady(slot):
		return SlotReady
	case c.exists(slot.ErrorPath()):
		return SlotFailed
	default:
		return SlotMissing
	}
}

func (c *Cache) exists(path string) bool {
	_, err := c.fs.Stat(path)
	return err == nil
}

func (c *Cache) isFile(path string) bool {
	info, err := c.fs.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
