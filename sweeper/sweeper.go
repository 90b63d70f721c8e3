// Package sweeper reconciles grants that have left service: expired, used
// up, or soft-deleted past their retention window. Each pass archives and
// purges whatever the delivery path left behind, so the blob store never
// accumulates unreachable objects.
package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dropgate/dropgate/delivery"
	"github.com/dropgate/dropgate/events"
	"github.com/dropgate/dropgate/models"
	"github.com/dropgate/dropgate/store"
)

// Sweeper periodically drains terminal grants through the purge path.
type Sweeper struct {
	Engine    *delivery.Engine
	Ledger    store.Ledger
	Sink      events.Sink
	Log       *zap.SugaredLogger
	Retention time.Duration
	BatchSize int
}

func New(engine *delivery.Engine, ledger store.Ledger, sink events.Sink, log *zap.SugaredLogger, retention time.Duration) *Sweeper {
	if sink == nil {
		sink = events.Nop{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if retention <= 0 {
		retention = 72 * time.Hour
	}
	return &Sweeper{
		Engine:    engine,
		Ledger:    ledger,
		Sink:      sink,
		Log:       log,
		Retention: retention,
		BatchSize: 200,
	}
}

// reasonFor maps a terminal grant to its archive reason. Soft deletion wins
// over expiry, and expiry wins over the download cap, mirroring the
// authorization order.
func reasonFor(g *models.Grant, now time.Time) models.TerminationReason {
	switch g.Status {
	case models.StatusSoftDeleted:
		return models.ReasonManualDeletion
	case models.StatusExhausted:
		return models.ReasonDownloadLimit
	}
	if g.ExpiresAt != nil && !now.Before(*g.ExpiresAt) {
		return models.ReasonTimeExpired
	}
	return models.ReasonDownloadLimit
}

// Sweep runs one reconciliation pass at now. It returns how many grants were
// due and how many were fully cleaned; failures are logged and do not stop
// the pass, including a failed ledger query, which counts as a pass that
// found nothing. Exactly one summary event is emitted per pass even when
// nothing was due, so a silent sweeper is distinguishable from a dead one.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (found, cleaned int) {
	due, err := s.Ledger.FindTerminal(ctx, now, s.Retention, s.BatchSize)
	if err != nil {
		s.Log.Errorw("sweep query failed", "error", err)
		s.Sink.Sweep(events.SweepSummary{Found: 0, Cleaned: 0, At: now})
		return 0, 0
	}
	found = len(due)

	for i := range due {
		g := &due[i]
		if perr := s.Engine.Purge(ctx, g, reasonFor(g, now)); perr != nil {
			s.Log.Warnw("sweep purge failed", "token", g.Token, "error", perr)
			continue
		}
		cleaned++
	}

	s.Sink.Sweep(events.SweepSummary{Found: found, Cleaned: cleaned, At: now})
	if found > 0 {
		s.Log.Infow("sweep pass", "found", found, "cleaned", cleaned)
	}
	return found, cleaned
}

// Run sweeps on the given interval until the context is canceled. The first
// pass runs immediately so a restart does not postpone overdue cleanup.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	s.Sweep(ctx, time.Now())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx, time.Now())
		}
	}
}
