package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileSystemStore keeps blobs on local disk, one directory per
// namespace:
//
//	<root>/
//	  <namespace>/
//	    <blob name>   (file bytes, stored encrypted-at-rest as received)
type FileSystemStore struct {
	root string
}

// NewFileSystemStore creates a store rooted at the given path,
// creating the root directory if needed.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &FileSystemStore{root: root}, nil
}

func (s *FileSystemStore) namespaceDir(namespace string) (string, error) {
	if !validName(namespace) {
		return "", fmt.Errorf("invalid namespace %q", namespace)
	}
	return filepath.Join(s.root, namespace), nil
}

func (s *FileSystemStore) blobPath(namespace, name string) (string, error) {
	dir, err := s.namespaceDir(namespace)
	if err != nil {
		return "", err
	}
	if !validName(name) {
		return "", fmt.Errorf("invalid blob name %q", name)
	}
	return filepath.Join(dir, name), nil
}

// CreateNamespace makes the namespace directory.
func (s *FileSystemStore) CreateNamespace(_ context.Context, namespace string) error {
	dir, err := s.namespaceDir(namespace)
	if err != nil {
		return err
	}
	if err := os.Mkdir(dir, 0755); err != nil {
		if os.IsExist(err) {
			return ErrExists
		}
		return fmt.Errorf("failed to create namespace: %w", err)
	}
	return nil
}

// RemoveNamespace deletes the namespace directory and its contents.
func (s *FileSystemStore) RemoveNamespace(_ context.Context, namespace string) error {
	dir, err := s.namespaceDir(namespace)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to stat namespace: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove namespace: %w", err)
	}
	return nil
}

// Put writes the blob atomically (temp file + rename) and verifies the
// declared size.
func (s *FileSystemStore) Put(_ context.Context, namespace, name string, r io.Reader, size int64) error {
	destPath, err := s.blobPath(namespace, name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Dir(destPath)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to stat namespace: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if written != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// Get copies the named blob to w.
func (s *FileSystemStore) Get(_ context.Context, namespace, name string, w io.Writer) error {
	srcPath, err := s.blobPath(namespace, name)
	if err != nil {
		return err
	}

	f, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to open blob: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read blob: %w", err)
	}
	return nil
}

// Delete removes the named blob.
func (s *FileSystemStore) Delete(_ context.Context, namespace, name string) error {
	path, err := s.blobPath(namespace, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to remove blob: %w", err)
	}
	return nil
}

// Compile-time check that FileSystemStore implements the Store interface
var _ Store = (*FileSystemStore)(nil)
