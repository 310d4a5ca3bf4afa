package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrNotFound is returned when a blob does not exist.
var ErrNotFound = errors.New("blobstore: blob not found")

// ErrInvalidKey is returned for keys that are empty, absolute or escape the
// store root.
var ErrInvalidKey = errors.New("blobstore: invalid key")

// Blob is an open, immutable blob.
type Blob interface {
	io.Closer
	// Size returns the blob length in bytes.
	Size() int64
	// ReadRange returns a reader over length bytes starting at off.
	// A length that runs past the end is clamped.
	ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error)
}

// WritableBlob streams a new blob. The blob becomes visible under its key
// only when Close returns nil.
type WritableBlob interface {
	io.WriteCloser
	// Abort discards everything written so far. Abort after Close is a no-op.
	Abort(ctx context.Context) error
}

// Store holds index files under slash-separated keys.
// Implementations must be safe for concurrent use.
type Store interface {
	Open(ctx context.Context, key string) (Blob, error)
	Create(ctx context.Context, key string) (WritableBlob, error)
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, key string) error
	// List returns the sorted keys that start with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// CleanKey validates key and returns its canonical form.
func CleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	clean := path.Clean(key)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return clean, nil
}

// JoinPrefix prepends a store root prefix to key.
func JoinPrefix(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return path.Join(prefix, key)
}

// TrimPrefix strips a store root prefix from an object name.
func TrimPrefix(prefix, name string) string {
	if prefix == "" {
		return name
	}
	name = strings.TrimPrefix(name, strings.TrimSuffix(prefix, "/"))
	return strings.TrimPrefix(name, "/")
}

// ClampRange bounds a range request to a blob of the given size.
func ClampRange(size, off, length int64) (int64, int64, error) {
	if off < 0 || length < 0 {
		return 0, 0, fmt.Errorf("blobstore: invalid range %d+%d", off, length)
	}
	if off >= size {
		return size, 0, nil
	}
	return off, min(length, size-off), nil
}
