package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStore implements Store using local disk. Folders map to
// subdirectories of the base directory. Suitable for development and tests.
type LocalStore struct {
	baseDir string
}

// NewLocalStore creates a new LocalStore rooted at baseDir.
// If baseDir is empty, a directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "framebooth-assets")
	}

	if err := os.MkdirAll(baseDir, 0750); err != nil {
		return nil, fmt.Errorf("create asset directory: %w", err)
	}

	return &LocalStore{baseDir: baseDir}, nil
}

// BaseDir returns the root asset directory.
func (s *LocalStore) BaseDir() string {
	return s.baseDir
}

// SaveAsset writes the asset to disk and returns its path relative to the
// base directory as the file ID.
func (s *LocalStore) SaveAsset(ctx context.Context, folder, name string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	dir := s.baseDir
	if folder != "" {
		dir = filepath.Join(s.baseDir, folder)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return "", fmt.Errorf("create folder: %w", err)
		}
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path) // #nosec G304 - path is constructed internally
	if err != nil {
		return "", fmt.Errorf("create asset file: %w", err)
	}

	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write asset file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close asset file: %w", err)
	}

	rel, err := filepath.Rel(s.baseDir, path)
	if err != nil {
		return "", fmt.Errorf("relativize asset path: %w", err)
	}
	return rel, nil
}

// Compile-time check that LocalStore implements Store.
var _ Store = (*LocalStore)(nil)
