package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dropgate/dropgate/models"
)

// MemoryLedger implements Ledger with a mutex-guarded map. It preserves the
// same conditional-update semantics as the SQL implementation so concurrency
// tests against it are meaningful.
type MemoryLedger struct {
	mu       sync.Mutex
	grants   map[string]*models.Grant
	archives map[string]*models.ArchivedGrant // keyed by grant token
	events   []models.DownloadEvent
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		grants:   map[string]*models.Grant{},
		archives: map[string]*models.ArchivedGrant{},
	}
}

func copyGrant(g *models.Grant) *models.Grant {
	c := *g
	if g.OwnerID != nil {
		v := *g.OwnerID
		c.OwnerID = &v
	}
	if g.DownloadCap != nil {
		v := *g.DownloadCap
		c.DownloadCap = &v
	}
	if g.ExpiresAt != nil {
		v := *g.ExpiresAt
		c.ExpiresAt = &v
	}
	if g.DeletedAt != nil {
		v := *g.DeletedAt
		c.DeletedAt = &v
	}
	return &c
}

func (l *MemoryLedger) Create(ctx context.Context, g *models.Grant) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.grants[g.Token]; exists {
		return ErrConflict
	}
	l.grants[g.Token] = copyGrant(g)
	return nil
}

func (l *MemoryLedger) Get(ctx context.Context, token string) (*models.Grant, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.grants[token]
	if !ok {
		return nil, ErrNotFound
	}
	return copyGrant(g), nil
}

func (l *MemoryLedger) Consume(ctx context.Context, token string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.grants[token]
	if !ok {
		return 0, ErrNotFound
	}
	if g.Status != models.StatusActive {
		return 0, ErrNoQuota
	}
	if g.DownloadCap != nil && g.DownloadCount >= *g.DownloadCap {
		return 0, ErrNoQuota
	}
	g.DownloadCount++
	return g.DownloadCount, nil
}

func (l *MemoryLedger) UpdateStatus(ctx context.Context, token string, from, to models.GrantStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.grants[token]
	if !ok {
		return ErrNotFound
	}
	if g.Status != from {
		return ErrConflict
	}
	g.Status = to
	return nil
}

func (l *MemoryLedger) SoftDelete(ctx context.Context, token, deletedBy string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.grants[token]
	if !ok {
		return ErrNotFound
	}
	if g.Status != models.StatusActive {
		return ErrConflict
	}
	now := time.Now()
	g.Status = models.StatusSoftDeleted
	g.DeletedAt = &now
	g.DeletedBy = deletedBy
	return nil
}

func (l *MemoryLedger) Restore(ctx context.Context, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.grants[token]
	if !ok {
		return ErrNotFound
	}
	if g.Status != models.StatusSoftDeleted {
		return ErrConflict
	}
	g.Status = models.StatusActive
	g.DeletedAt = nil
	g.DeletedBy = ""
	return nil
}

func (l *MemoryLedger) Delete(ctx context.Context, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.grants, token)
	return nil
}

func (l *MemoryLedger) FindTerminal(ctx context.Context, now time.Time, retention time.Duration, limit int) ([]models.Grant, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := now.Add(-retention)
	var out []models.Grant
	for _, g := range l.grants {
		if g.Status == models.StatusPurged {
			continue
		}
		due := (g.ExpiresAt != nil && g.ExpiresAt.Before(now)) ||
			g.Status == models.StatusExhausted ||
			(g.Status == models.StatusSoftDeleted && g.DeletedAt != nil && g.DeletedAt.Before(cutoff))
		if due {
			out = append(out, *copyGrant(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *MemoryLedger) ListByOwner(ctx context.Context, ownerID string, offset, limit int) ([]models.Grant, int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var all []models.Grant
	for _, g := range l.grants {
		if g.OwnerID != nil && *g.OwnerID == ownerID && g.Status != models.StatusPurged {
			all = append(all, *copyGrant(g))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (l *MemoryLedger) Archive(ctx context.Context, a *models.ArchivedGrant) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.archives[a.GrantToken]; exists {
		return nil
	}
	c := *a
	l.archives[a.GrantToken] = &c
	return nil
}

func (l *MemoryLedger) RecordEvent(ctx context.Context, ev *models.DownloadEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, *ev)
	return nil
}

// ArchivedFor returns the archive snapshot for a grant token, if any. Test
// helper.
func (l *MemoryLedger) ArchivedFor(token string) (*models.ArchivedGrant, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.archives[token]
	if !ok {
		return nil, false
	}
	c := *a
	return &c, true
}

// Events returns recorded download events. Test helper.
func (l *MemoryLedger) Events() []models.DownloadEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.DownloadEvent(nil), l.events...)
}
