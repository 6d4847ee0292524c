package blob

import (
	"context"
	"errors"
	"io"
	"strings"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrExists indicates the namespace already exists.
	ErrExists = errors.New("blob: already exists")
	// ErrNotFound indicates the namespace or blob does not exist.
	ErrNotFound = errors.New("blob: not found")
)

// Store holds the raw bytes of uploaded files. Each account owns one
// namespace; blob names are unique within a namespace. Metadata about
// the files (size, publicity, download counts) lives in the database,
// not here.
type Store interface {
	// CreateNamespace allocates storage for a new account.
	// Returns ErrExists if the namespace is already present.
	CreateNamespace(ctx context.Context, namespace string) error

	// RemoveNamespace deletes a namespace and every blob in it.
	// Returns ErrNotFound if the namespace does not exist.
	RemoveNamespace(ctx context.Context, namespace string) error

	// Put stores a blob, overwriting any previous blob of the same name.
	Put(ctx context.Context, namespace, name string, r io.Reader, size int64) error

	// Get writes the named blob to w.
	// Returns ErrNotFound if the blob does not exist.
	Get(ctx context.Context, namespace, name string, w io.Writer) error

	// Delete removes the named blob.
	// Returns ErrNotFound if the blob does not exist.
	Delete(ctx context.Context, namespace, name string) error
}

// validName reports whether s is safe to use as a namespace or blob
// name: non-empty, no path separators, no traversal components.
func validName(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, "/\\\x00")
}
