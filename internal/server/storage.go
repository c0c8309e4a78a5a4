package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vaultkeep/vaultbackup/internal/verrors"
)

// Storage writes verified plaintext files under a single root directory,
// the way dittofs's filesystem block store writes blocks under its base
// path: via a temp file plus atomic rename, never by streaming directly
// into the final path.
type Storage struct {
	root string
}

// NewStorage opens (creating if necessary) a storage root.
func NewStorage(root string) (*Storage, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, &verrors.StorageError{Op: "storage.NewStorage", Err: err}
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, &verrors.StorageError{Op: "storage.NewStorage", Err: err}
	}
	return &Storage{root: abs}, nil
}

// resolvePath rejects a filename that would escape the storage root
// instead of silently sanitizing it: a path-traversal attempt is a
// protocol failure, not something to be quietly corrected.
func (s *Storage) resolvePath(filename string) (string, error) {
	if filename == "" {
		return "", fmt.Errorf("empty filename")
	}
	if strings.ContainsRune(filename, os.PathSeparator) || strings.Contains(filename, "..") {
		return "", fmt.Errorf("filename %q contains path separators or traversal", filename)
	}

	joined := filepath.Join(s.root, filename)
	rel, err := filepath.Rel(s.root, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("filename %q escapes storage root", filename)
	}
	return joined, nil
}

// WriteFile atomically writes data under filename, rejecting any filename
// that would resolve outside the storage root.
func (s *Storage) WriteFile(filename string, data []byte) error {
	path, err := s.resolvePath(filename)
	if err != nil {
		return &verrors.StorageError{Op: "storage.WriteFile", Client: filename, Err: err}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return &verrors.StorageError{Op: "storage.WriteFile", Client: filename, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &verrors.StorageError{Op: "storage.WriteFile", Client: filename, Err: err}
	}
	return nil
}

// Path exposes the final on-disk path for a filename that has already
// passed resolvePath's checks, for the registry's RecordFile call.
func (s *Storage) Path(filename string) (string, error) {
	return s.resolvePath(filename)
}

// removeQuiet removes a file written for an upload that was later
// reported as a CRC mismatch or permanent failure. Missing files are not
// an error: the write may never have completed.
func (s *Storage) removeQuiet(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
