// Stores the document in a single JSON file.

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/maruel/jsondb/internal/jsondb"
)

// FileBackend stores the document in one file.
//
// Saves write a temporary file next to the target and rename it over the
// target, so a crash never leaves a truncated document behind.
type FileBackend struct {
	path string
}

// NewFileBackend returns a backend for path, creating its parent directory.
func NewFileBackend(path string) (*FileBackend, error) {
	if path == "" {
		return nil, errors.New("path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create directory for %s: %w", abs, err)
	}
	return &FileBackend{path: abs}, nil
}

// Path returns the absolute path of the file.
func (f *FileBackend) Path() string {
	return f.path
}

// Exists implements jsondb.Backend.
func (f *FileBackend) Exists() (bool, error) {
	fi, err := os.Stat(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", f.path, err)
	}
	if fi.IsDir() {
		return false, fmt.Errorf("%s is a directory", f.path)
	}
	return true, nil
}

// CreateEmpty implements jsondb.Backend.
func (f *FileBackend) CreateEmpty() error {
	return f.Save(jsondb.EmptyDocument())
}

// Load implements jsondb.Backend.
func (f *FileBackend) Load() (*jsondb.Document, error) {
	data, err := os.ReadFile(f.path) //nolint:gosec // G304: path is chosen by the caller
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	doc, err := jsondb.DecodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.path, err)
	}
	return doc, nil
}

// Save implements jsondb.Backend.
func (f *FileBackend) Save(doc *jsondb.Document) error {
	data, err := jsondb.EncodeDocument(doc)
	if err != nil {
		return err
	}
	return writeFileAtomic(f.path, data)
}

// writeFileAtomic writes data to a temporary file in the same directory,
// syncs it and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		return errors.Join(fmt.Errorf("failed to write %s: %w", tmpPath, err), tmp.Close(), os.Remove(tmpPath))
	}
	if err := tmp.Sync(); err != nil {
		return errors.Join(fmt.Errorf("failed to sync %s: %w", tmpPath, err), tmp.Close(), os.Remove(tmpPath))
	}
	if err := tmp.Close(); err != nil {
		return errors.Join(fmt.Errorf("failed to close %s: %w", tmpPath, err), os.Remove(tmpPath))
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil { //nolint:gosec // G302: the document is not secret
		return errors.Join(fmt.Errorf("failed to chmod %s: %w", tmpPath, err), os.Remove(tmpPath))
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Join(fmt.Errorf("failed to rename to %s: %w", path, err), os.Remove(tmpPath))
	}
	return nil
}
