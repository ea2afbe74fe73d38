// Package storage implements the destination side of synchronization: an
// abstraction over "somewhere packages and indexes get published to" that
// hides the difference between a local filesystem and an object store.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Read when the path does not exist.
var ErrNotFound = errors.New("storage: not found")

// Storage is the destination-side abstraction named in spec.md §4.1. Every
// method is safe for concurrent use by multiple goroutines operating on
// disjoint paths; callers that need atomicity across several paths (the
// Executor's publication protocol) must sequence calls themselves.
type Storage interface {
	// Read returns the full contents of path, or ErrNotFound.
	Read(ctx context.Context, path string) ([]byte, error)

	// WriteAtomic writes data to path such that a concurrent Read sees
	// either the previous contents (if any) or the complete new contents,
	// never a partial write. contentType may be empty.
	WriteAtomic(ctx context.Context, path string, data io.Reader, size int64, contentType string) error

	// Delete removes path. Deleting a path that does not exist is not an
	// error.
	Delete(ctx context.Context, path string) error

	// List returns every path with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Invalidator is the separate CDN-invalidation capability named in
// spec.md §4.1, bound only when a repository's destination configures one.
type Invalidator interface {
	Invalidate(ctx context.Context, paths []string) error
}
