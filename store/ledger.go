package store

import (
	"context"
	"time"

	"github.com/dropgate/dropgate/models"
)

// Ledger is the durable record of every grant and the only authority for
// ownership, quota and expiry decisions.
type Ledger interface {
	Create(ctx context.Context, g *models.Grant) error
	Get(ctx context.Context, token string) (*models.Grant, error)

	// Consume atomically increments the download count while it is below
	// the cap (or the cap is null) and the grant is active, returning the
	// new count. Returns ErrNoQuota when the condition fails on an existing
	// grant, ErrNotFound otherwise. Never implemented as read-then-write.
	Consume(ctx context.Context, token string) (int64, error)

	// UpdateStatus moves the grant from one status to another only when it
	// currently holds the expected status. ErrConflict on mismatch.
	UpdateStatus(ctx context.Context, token string, from, to models.GrantStatus) error
	SoftDelete(ctx context.Context, token, deletedBy string) error
	Restore(ctx context.Context, token string) error
	Delete(ctx context.Context, token string) error

	// FindTerminal lists grants due for reconciliation at now: past expiry,
	// exhausted, or soft-deleted longer than the retention window. Purged
	// rows are never returned.
	FindTerminal(ctx context.Context, now time.Time, retention time.Duration, limit int) ([]models.Grant, error)

	ListByOwner(ctx context.Context, ownerID string, offset, limit int) ([]models.Grant, int64, error)

	// Archive persists a terminal snapshot. Idempotent per grant token, so
	// a sweeper re-run after a crash cannot duplicate provenance.
	Archive(ctx context.Context, a *models.ArchivedGrant) error

	// RecordEvent stores one delivery attempt; best-effort callers ignore
	// the error.
	RecordEvent(ctx context.Context, ev *models.DownloadEvent) error
}
