package store

import (
	"context"
	"time"
)

// KV is the small ephemeral key-value port behind the access cache and the
// preview records. Values are opaque bytes with a TTL; a miss is not an
// error.
type KV interface {
	GetBytes(ctx context.Context, key string) ([]byte, bool, error)
	SetBytes(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// TakeBytes atomically reads and removes a key. Of many concurrent
	// takers exactly one receives the value; the rest see a miss.
	TakeBytes(ctx context.Context, key string) ([]byte, bool, error)
}
