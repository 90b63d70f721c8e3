// Package delivery is the authorization and streaming core. It resolves
// grant tokens, enforces expiry and quota, opens blob handles and keeps the
// three stores consistent when a grant is purged.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropgate/dropgate/models"
	"github.com/dropgate/dropgate/store"
)

// Engine ties the three stores together. Quota decisions always go to the
// ledger; the cache only accelerates reads.
type Engine struct {
	Ledger store.Ledger
	Blobs  store.BlobStore
	Cache  *store.GrantCache
	Policy *Policy
	Log    *zap.SugaredLogger

	// now is swappable in tests.
	now func() time.Time
}

func NewEngine(ledger store.Ledger, blobs store.BlobStore, cache *store.GrantCache, policy *Policy, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{
		Ledger: ledger,
		Blobs:  blobs,
		Cache:  cache,
		Policy: policy,
		Log:    log,
		now:    time.Now,
	}
}

// Now returns the engine's clock reading.
func (e *Engine) Now() time.Time {
	return e.now()
}

// SetClock overrides the engine clock. Test use only.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Resolve loads a grant by token, cache first. A cached copy in a terminal
// state is re-checked against the ledger before the terminal answer is
// given, so a restore is never shadowed by a stale cache entry.
func (e *Engine) Resolve(ctx context.Context, token string) (*models.Grant, error) {
	if e.Cache != nil {
		if g, ok := e.Cache.Get(ctx, token); ok {
			if g.Status == models.StatusActive {
				return g, nil
			}
			// fall through to the ledger for terminal cache hits
		}
	}

	g, err := e.Ledger.Get(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("resolve %s: %w", token, err)
	}
	if e.Cache != nil {
		if err := e.Cache.Put(ctx, g); err != nil {
			e.Log.Warnw("cache put failed", "token", token, "error", err)
		}
	}
	return g, nil
}

// Authorize checks the grant against the clock and its own state. It is pure:
// no store is touched and no quota is spent. Deletion wins over expiry, and
// expiry wins over exhaustion, so the caller reports the most specific
// condition.
func (e *Engine) Authorize(g *models.Grant, now time.Time) error {
	switch g.Status {
	case models.StatusPurged:
		return ErrNotFound
	case models.StatusSoftDeleted:
		return ErrDeleted
	case models.StatusExpired:
		return ErrExpired
	case models.StatusExhausted:
		return ErrExhausted
	}
	if g.ExpiresAt != nil && !now.Before(*g.ExpiresAt) {
		return ErrExpired
	}
	if g.DownloadCap != nil && g.DownloadCount >= *g.DownloadCap {
		return ErrExhausted
	}
	return nil
}

// Handle is an open blob stream plus the span it covers.
type Handle struct {
	Body  io.ReadCloser
	Range *ByteRange
	Size  int64
}

// Open obtains a blob handle for the grant, ranged when rng is non-nil. The
// handle is opened before any quota is consumed so a storage failure costs
// the holder nothing.
func (e *Engine) Open(ctx context.Context, g *models.Grant, rng *ByteRange) (*Handle, error) {
	if rng != nil {
		body, err := e.Blobs.GetRange(ctx, g.BlobKey, rng.Start, rng.End)
		if err != nil {
			return nil, fmt.Errorf("open range %s: %w", g.Token, err)
		}
		return &Handle{Body: body, Range: rng, Size: g.SizeBytes}, nil
	}
	body, size, err := e.Blobs.Get(ctx, g.BlobKey)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", g.Token, err)
	}
	return &Handle{Body: body, Size: size}, nil
}

// Consume spends one download against the grant's cap. The returned count is
// the value after this consumption; reachedCap is true when this was the
// final permitted download. The cache is refreshed so subsequent status
// reads see the new count, but a cache failure never fails the delivery.
func (e *Engine) Consume(ctx context.Context, g *models.Grant) (count int64, reachedCap bool, err error) {
	count, err = e.Ledger.Consume(ctx, g.Token)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return 0, false, ErrNotFound
		case errors.Is(err, store.ErrNoQuota):
			return 0, false, ErrExhausted
		}
		return 0, false, fmt.Errorf("consume %s: %w", g.Token, err)
	}

	g.DownloadCount = count
	reachedCap = g.DownloadCap != nil && count >= *g.DownloadCap
	if reachedCap {
		g.Status = models.StatusExhausted
		if uerr := e.Ledger.UpdateStatus(ctx, g.Token, models.StatusActive, models.StatusExhausted); uerr != nil && !errors.Is(uerr, store.ErrConflict) {
			e.Log.Warnw("exhaust mark failed", "token", g.Token, "error", uerr)
		}
	}
	if e.Cache != nil {
		if cerr := e.Cache.Put(ctx, g); cerr != nil {
			e.Log.Warnw("cache refresh failed", "token", g.Token, "error", cerr)
		}
	}
	return count, reachedCap, nil
}

// SettleTerminal records a clock- or cap-driven terminal state discovered at
// delivery time and schedules the purge, so routine traffic keeps the stores
// tidy between sweeps. Only active grants are settled; anything else is
// already the sweeper's business.
func (e *Engine) SettleTerminal(ctx context.Context, g *models.Grant, cause error) {
	if g.Status != models.StatusActive {
		return
	}
	var to models.GrantStatus
	var reason models.TerminationReason
	switch {
	case errors.Is(cause, ErrExpired):
		to, reason = models.StatusExpired, models.ReasonTimeExpired
	case errors.Is(cause, ErrExhausted):
		to, reason = models.StatusExhausted, models.ReasonDownloadLimit
	default:
		return
	}
	if err := e.Ledger.UpdateStatus(ctx, g.Token, models.StatusActive, to); err != nil && !errors.Is(err, store.ErrConflict) && !errors.Is(err, store.ErrNotFound) {
		e.Log.Warnw("terminal mark failed", "token", g.Token, "error", err)
		return
	}
	g.Status = to
	e.PurgeAsync(g, reason)
}

// Purge removes a terminal grant from every store: archive snapshot first,
// then cache entry, then blob, then ledger row. The order makes every crash
// point recoverable by a later sweep, and the archive write is idempotent so
// a retry cannot duplicate provenance.
func (e *Engine) Purge(ctx context.Context, g *models.Grant, reason models.TerminationReason) error {
	now := e.now()
	arch := &models.ArchivedGrant{
		ID:             uuid.NewString(),
		GrantToken:     g.Token,
		OwnerID:        g.OwnerID,
		DisplayName:    g.DisplayName,
		BlobKey:        g.BlobKey,
		Mime:           g.Mime,
		SizeBytes:      g.SizeBytes,
		TotalDownloads: g.DownloadCount,
		Reason:         reason,
		CreatedAt:      g.CreatedAt,
		ArchivedAt:     now,
	}
	if err := e.Ledger.Archive(ctx, arch); err != nil {
		return fmt.Errorf("archive %s: %w", g.Token, err)
	}
	if e.Cache != nil {
		if err := e.Cache.Invalidate(ctx, g.Token); err != nil {
			return fmt.Errorf("invalidate %s: %w", g.Token, err)
		}
	}
	if err := e.Blobs.Delete(ctx, g.BlobKey); err != nil {
		return fmt.Errorf("delete blob %s: %w", g.Token, err)
	}
	if err := e.Ledger.Delete(ctx, g.Token); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete row %s: %w", g.Token, err)
	}
	return nil
}

// PurgeAsync runs Purge on a fresh goroutine with its own deadline, for the
// post-delivery cleanup of a just-exhausted grant. Failures are logged and
// left for the sweeper.
func (e *Engine) PurgeAsync(g *models.Grant, reason models.TerminationReason) {
	snapshot := *g
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.Purge(ctx, &snapshot, reason); err != nil {
			e.Log.Warnw("deferred purge failed", "token", snapshot.Token, "error", err)
		}
	}()
}
