package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryStore is an in-memory implementation of the Store interface,
// useful for testing. It is safe for concurrent use.
type MemoryStore struct {
	namespaces map[string]map[string][]byte
	mu         sync.RWMutex
}

// NewMemoryStore creates an empty in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		namespaces: make(map[string]map[string][]byte),
	}
}

// CreateNamespace allocates an empty namespace.
func (m *MemoryStore) CreateNamespace(_ context.Context, namespace string) error {
	if !validName(namespace) {
		return fmt.Errorf("invalid namespace %q", namespace)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.namespaces[namespace]; ok {
		return ErrExists
	}
	m.namespaces[namespace] = make(map[string][]byte)
	return nil
}

// RemoveNamespace drops the namespace and all blobs in it.
func (m *MemoryStore) RemoveNamespace(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.namespaces[namespace]; !ok {
		return ErrNotFound
	}
	delete(m.namespaces, namespace)
	return nil
}

// Put stores a blob, overwriting any previous one of the same name.
func (m *MemoryStore) Put(_ context.Context, namespace, name string, r io.Reader, size int64) error {
	if !validName(name) {
		return fmt.Errorf("invalid blob name %q", name)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read blob: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	blobs, ok := m.namespaces[namespace]
	if !ok {
		return ErrNotFound
	}
	blobs[name] = data
	return nil
}

// Get writes the named blob to w.
func (m *MemoryStore) Get(_ context.Context, namespace, name string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	blobs, ok := m.namespaces[namespace]
	if !ok {
		return ErrNotFound
	}
	data, ok := blobs[name]
	if !ok {
		return ErrNotFound
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}
	return nil
}

// Delete removes the named blob.
func (m *MemoryStore) Delete(_ context.Context, namespace, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	blobs, ok := m.namespaces[namespace]
	if !ok {
		return ErrNotFound
	}
	if _, ok := blobs[name]; !ok {
		return ErrNotFound
	}
	delete(blobs, name)
	return nil
}

// Compile-time check that MemoryStore implements the Store interface
var _ Store = (*MemoryStore)(nil)
