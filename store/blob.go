package store

import (
	"context"
	"io"
)

// BlobStore is the content store, keyed by an opaque key. Durability is the
// store's problem; this service only orchestrates puts, gets and deletes.
type BlobStore interface {
	// Put streams an object into the store.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Get opens the whole object and reports its size.
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)
	// GetRange opens the inclusive byte span [start, end].
	GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error)
	// Head reports the object size without opening it.
	Head(ctx context.Context, key string) (int64, error)
	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
}
