package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dropgate/dropgate/models"
)

const grantKeyPrefix = "grant:"

// GrantCache mirrors ledger rows in the KV for the hot read path. It is
// advisory: entries may be stale, and no quota decision is ever made from a
// cached copy alone.
type GrantCache struct {
	kv  KV
	ttl time.Duration
}

func NewGrantCache(kv KV, ttl time.Duration) *GrantCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &GrantCache{kv: kv, ttl: ttl}
}

// Get returns the cached grant, or ok=false on miss, decode failure, or KV
// error. Callers fall back to the ledger in every non-ok case.
func (c *GrantCache) Get(ctx context.Context, token string) (*models.Grant, bool) {
	b, ok, err := c.kv.GetBytes(ctx, grantKeyPrefix+token)
	if err != nil || !ok {
		return nil, false
	}
	var g models.Grant
	if err := json.Unmarshal(b, &g); err != nil {
		return nil, false
	}
	return &g, true
}

// Put stores a grant snapshot with the cache TTL.
func (c *GrantCache) Put(ctx context.Context, g *models.Grant) error {
	b, err := json.Marshal(g)
	if err != nil {
		return err
	}
	return c.kv.SetBytes(ctx, grantKeyPrefix+g.Token, b, c.ttl)
}

// Invalidate removes the cached entry.
func (c *GrantCache) Invalidate(ctx context.Context, token string) error {
	return c.kv.Delete(ctx, grantKeyPrefix+token)
}
