package store

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// MemoryBlobStore is a map-backed BlobStore for tests.
type MemoryBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: map[string][]byte{}}
}

func (m *MemoryBlobStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = b
	return nil
}

func (m *MemoryBlobStore) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[key]
	if !ok {
		return nil, 0, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), int64(len(b)), nil
}

func (m *MemoryBlobStore) GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	if start < 0 || start >= int64(len(b)) || end < start {
		return nil, ErrNotFound
	}
	if end >= int64(len(b)) {
		end = int64(len(b)) - 1
	}
	return io.NopCloser(bytes.NewReader(b[start : end+1])), nil
}

func (m *MemoryBlobStore) Head(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[key]
	if !ok {
		return 0, ErrNotFound
	}
	return int64(len(b)), nil
}

func (m *MemoryBlobStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

// Contains reports whether a key is present. Test helper.
func (m *MemoryBlobStore) Contains(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[key]
	return ok
}
