// Package storage writes received files into the storage directory without
// ever replacing a file that is already there.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
	// partSuffix marks files still being assembled by a chunked transfer.
	partSuffix = ".part"
)

var (
	// ErrInvalidName indicates a peer-supplied filename with no usable base name.
	ErrInvalidName = errors.New("invalid filename")
	// ErrSequence indicates a chunk arrived out of order.
	ErrSequence = errors.New("chunk out of sequence")
	// ErrTooLarge indicates a chunked transfer exceeded the configured size cap.
	ErrTooLarge = errors.New("file exceeds size limit")
	// ErrFinished indicates a write to a transfer that was already committed or aborted.
	ErrFinished = errors.New("transfer already finished")
)

// SanitizeName reduces a peer-supplied path to its trimmed base name. Both '/'
// and '\' count as separators so Windows clients cannot escape the root.
func SanitizeName(raw string) (string, error) {
	name := strings.ReplaceAll(raw, "\\", "/")
	name = strings.TrimSpace(path.Base(name))
	switch {
	case name == "", name == ".", name == "..", name == "/":
		return "", fmt.Errorf("%w: %q", ErrInvalidName, raw)
	case strings.ContainsRune(name, 0):
		return "", fmt.Errorf("%w: contains NUL", ErrInvalidName)
	}
	return name, nil
}

// Prepare makes sure dir exists. With clean set, an existing dir is removed
// first so the server starts with an empty storage root.
func Prepare(dir string, clean bool) error {
	if clean {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("clean storage dir: %w", err)
		}
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}
	return nil
}

// Store is the storage root shared by all connections.
type Store struct {
	dir string
}

// New returns a Store rooted at dir. The directory is created lazily.
func New(dir string) *Store {
	if dir == "" {
		dir = "."
	}
	return &Store{dir: dir}
}

// Dir returns the storage root.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the destination path for an already sanitized name.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Exists reports whether a file with the given name is already stored.
func (s *Store) Exists(name string) bool {
	_, err := os.Lstat(s.Path(name))
	return err == nil
}

// SaveNew writes data as the complete contents of name. If the file already
// exists nothing is written and written is false. Creation is exclusive, so two
// connections racing on the same name cannot overwrite each other.
func (s *Store) SaveNew(name string, data []byte) (written bool, err error) {
	if err := os.MkdirAll(s.dir, dirPerm); err != nil {
		return false, fmt.Errorf("create storage dir: %w", err)
	}
	dst := s.Path(name)
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(dst)
		return false, fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(dst)
		return false, fmt.Errorf("close %s: %w", name, err)
	}
	return true, nil
}
