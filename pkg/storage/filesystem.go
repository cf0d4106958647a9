package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemStorage implements BlobStorage on a local directory. It is the
// development and test backend; content types are recorded in the database,
// not here, so Put ignores them.
type FilesystemStorage struct {
	rootDir string
}

// NewFilesystemStorage creates a filesystem-backed blob store rooted at
// rootDir, creating the directory if needed.
func NewFilesystemStorage(rootDir string) (*FilesystemStorage, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root directory: %w", err)
	}
	return &FilesystemStorage{rootDir: abs}, nil
}

// resolve maps a blob key to a path under the root, rejecting keys that
// would escape it.
func (s *FilesystemStorage) resolve(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty storage key")
	}
	path := filepath.Join(s.rootDir, filepath.FromSlash(key))
	if !strings.HasPrefix(path, s.rootDir+string(filepath.Separator)) {
		return "", fmt.Errorf("storage key %q escapes the root", key)
	}
	return path, nil
}

// Put stores content under key.
func (s *FilesystemStorage) Put(ctx context.Context, key string, content io.Reader, _ string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create object file: %w", err)
	}
	if _, err := io.Copy(f, content); err != nil {
		f.Close()
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close object file: %w", err)
	}
	return nil
}

// Get opens the object at key.
func (s *FilesystemStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open object: %w", err)
	}
	return f, nil
}

// Exists reports whether key is stored.
func (s *FilesystemStorage) Exists(ctx context.Context, key string) (bool, error) {
	path, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object: %w", err)
	}
	return true, nil
}

// Delete removes the object at key. Missing objects are not an error.
func (s *FilesystemStorage) Delete(ctx context.Context, key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// HealthCheck verifies the root directory is usable.
func (s *FilesystemStorage) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(s.rootDir)
	if err != nil {
		return fmt.Errorf("storage root unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage root %s is not a directory", s.rootDir)
	}
	return nil
}

var _ BlobStorage = (*FilesystemStorage)(nil)
