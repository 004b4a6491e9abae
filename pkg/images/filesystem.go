package images

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemStore implements BlobStore on the local filesystem. Each
// blob key maps to a file under the root directory.
type FilesystemStore struct {
	root string
}

var _ BlobStore = (*FilesystemStore)(nil)

// NewFilesystemStore creates a filesystem-backed blob store rooted at
// the given directory, creating it if needed.
func NewFilesystemStore(root string) (*FilesystemStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root directory: %w", err)
	}
	return &FilesystemStore{root: root}, nil
}

// path resolves a blob key to a file path, rejecting keys that would
// escape the root.
func (s *FilesystemStore) path(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("blob key is empty")
	}
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(s.root, cleaned), nil
}

// Put implements BlobStore.
func (s *FilesystemStore) Put(ctx context.Context, key string, content io.Reader, contentType string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create blob directory: %w", err)
	}

	// Write to a temp file first so a partial write never leaves a
	// truncated blob under the final key.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp blob file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, content); err != nil {
		tmp.Close()
		return fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close blob file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("finalize blob file: %w", err)
	}
	return nil
}

// PutHashed implements BlobStore.
func (s *FilesystemStore) PutHashed(ctx context.Context, content []byte, contentType string) (string, error) {
	key := BlobKey(content)
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if exists {
		return key, nil
	}
	if err := s.Put(ctx, key, bytes.NewReader(content), contentType); err != nil {
		return "", err
	}
	return key, nil
}

// Get implements BlobStore.
func (s *FilesystemStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", key, err)
	}
	return f, nil
}

// Exists implements BlobStore.
func (s *FilesystemStore) Exists(ctx context.Context, key string) (bool, error) {
	path, err := s.path(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat blob %s: %w", key, err)
	}
	return true, nil
}

// DeleteBlobs implements BlobStore.
func (s *FilesystemStore) DeleteBlobs(ctx context.Context, keys []string) error {
	var firstErr error
	for _, key := range keys {
		path, err := s.path(key)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("delete blob %s: %w", key, err)
			}
		}
	}
	return firstErr
}

// HealthCheck implements BlobStore.
func (s *FilesystemStore) HealthCheck(ctx context.Context) error {
	if _, err := os.Stat(s.root); err != nil {
		return fmt.Errorf("blob root unavailable: %w", err)
	}
	return nil
}
