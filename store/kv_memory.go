package store

import (
	"context"
	"sync"
	"time"
)

type kvEntry struct {
	val       []byte
	expiresAt time.Time // zero = no expiry
}

// MemoryKV is a map-backed KV for tests. Expiry is checked lazily on read.
type MemoryKV struct {
	mu      sync.Mutex
	entries map[string]kvEntry
	// Now is overridable so TTL behaviour is testable without sleeping.
	Now func() time.Time
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{entries: map[string]kvEntry{}, Now: time.Now}
}

func (m *MemoryKV) GetBytes(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && m.Now().After(e.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	out := make([]byte, len(e.val))
	copy(out, e.val)
	return out, true, nil
}

func (m *MemoryKV) SetBytes(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := kvEntry{val: append([]byte(nil), val...)}
	if ttl > 0 {
		e.expiresAt = m.Now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *MemoryKV) TakeBytes(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	delete(m.entries, key)
	if !e.expiresAt.IsZero() && m.Now().After(e.expiresAt) {
		return nil, false, nil
	}
	return e.val, true, nil
}

func (m *MemoryKV) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Len reports the number of live entries. Test helper.
func (m *MemoryKV) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
