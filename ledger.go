package pkgcache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// ErrorLedger persists the last build failure of a slot. Records are
// overwritten, never appended, and can be read without holding any lock.
type ErrorLedger struct {
	fs billy.Filesystem
}

// NewErrorLedger creates a ledger operating on fs.
func NewErrorLedger(fs billy.Filesystem) *ErrorLedger {
	return &ErrorLedger{fs: fs}
}

// Record serializes payload as one line of JSON and writes it to path,
// replacing any previous record. The write goes through a temporary file and
// a rename so readers never see a truncated record.
func (l *ErrorLedger) Record(path string, payload any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return fmt.Errorf("failed to marshal error payload: %w", err)
	}

	tmpPath := path + tempSuffix
	tmpFile, err := l.fs.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary error file: %w", err)
	}

	if _, err := tmpFile.Write(buf.Bytes()); err != nil {
		tmpFile.Close()
		_ = l.fs.Remove(tmpPath)
		return fmt.Errorf("failed to write temporary error file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		_ = l.fs.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary error file: %w", err)
	}

	if err := l.fs.Rename(tmpPath, path); err != nil {
		_ = l.fs.Remove(tmpPath)
		return fmt.Errorf("failed to rename error file: %w", err)
	}

	return nil
}

// Read returns the raw contents of the record at path. The boolean is false
// when no record exists.
func (l *ErrorLedger) Read(path string) (string, bool, error) {
	data, err := util.ReadFile(l.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read error file: %w", err)
	}
	return string(data), true, nil
}

// Clear removes the record at path if there is one.
func (l *ErrorLedger) Clear(path string) error {
	if err := l.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove error file: %w", err)
	}
	return nil
}
