package license

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoStoredLicense is returned by Load when no license file exists yet.
var ErrNoStoredLicense = errors.New("no stored license")

// Store persists the raw encrypted license blob.
type Store interface {
	Save(ctx context.Context, blob []byte) error
	Load(ctx context.Context) ([]byte, error)
}

// FileStore keeps the blob in a single file.
type FileStore struct {
	path string
}

// NewFileStore creates a store writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the license file location.
func (s *FileStore) Path() string { return s.path }

// Save replaces the license file atomically: the blob is written to a
// temporary file in the same directory and renamed over the old one.
func (s *FileStore) Save(_ context.Context, blob []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create license directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".license-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp license file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("write license file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync license file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close license file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod license file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace license file: %w", err)
	}
	return nil
}

// Load reads the license file. It returns ErrNoStoredLicense when the file
// does not exist.
func (s *FileStore) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoStoredLicense
	}
	if err != nil {
		return nil, fmt.Errorf("read license file: %w", err)
	}
	return data, nil
}
