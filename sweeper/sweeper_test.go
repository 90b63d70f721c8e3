package sweeper

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropgate/dropgate/delivery"
	"github.com/dropgate/dropgate/events"
	"github.com/dropgate/dropgate/models"
	"github.com/dropgate/dropgate/store"
)

type captureSink struct {
	mu        sync.Mutex
	summaries []events.SweepSummary
}

func (c *captureSink) Delivery(events.DeliveryResult) {}

func (c *captureSink) Sweep(ev events.SweepSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summaries = append(c.summaries, ev)
}

func (c *captureSink) last(t *testing.T) events.SweepSummary {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.summaries)
	return c.summaries[len(c.summaries)-1]
}

type harness struct {
	sweeper *Sweeper
	ledger  *store.MemoryLedger
	blobs   *store.MemoryBlobStore
	sink    *captureSink
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ledger := store.NewMemoryLedger()
	blobs := store.NewMemoryBlobStore()
	cache := store.NewGrantCache(store.NewMemoryKV(), time.Hour)
	policy := delivery.NewPolicy(nil, nil)
	engine := delivery.NewEngine(ledger, blobs, cache, policy, nil)
	sink := &captureSink{}
	return &harness{
		sweeper: New(engine, ledger, sink, nil, 72*time.Hour),
		ledger:  ledger,
		blobs:   blobs,
		sink:    sink,
	}
}

func (h *harness) seed(t *testing.T, mutate func(*models.Grant)) *models.Grant {
	t.Helper()
	ctx := context.Background()
	g := &models.Grant{
		Token:       uuid.NewString(),
		BlobKey:     "blobs/" + uuid.NewString(),
		DisplayName: "file.bin",
		Mime:        "application/octet-stream",
		SizeBytes:   4,
		Status:      models.StatusActive,
		CreatedAt:   time.Now().Add(-24 * time.Hour),
	}
	if mutate != nil {
		mutate(g)
	}
	require.NoError(t, h.blobs.Put(ctx, g.BlobKey, strings.NewReader("data"), 4, g.Mime))
	require.NoError(t, h.ledger.Create(ctx, g))
	return g
}

func TestSweepCleansTerminalGrants(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	now := time.Now()

	past := now.Add(-time.Hour)
	oldDelete := now.Add(-100 * time.Hour)
	future := now.Add(time.Hour)

	expired := h.seed(t, func(g *models.Grant) { g.ExpiresAt = &past })
	exhausted := h.seed(t, func(g *models.Grant) { g.Status = models.StatusExhausted })
	deleted := h.seed(t, func(g *models.Grant) {
		g.Status = models.StatusSoftDeleted
		g.DeletedAt = &oldDelete
	})
	live := h.seed(t, func(g *models.Grant) { g.ExpiresAt = &future })
	recentDelete := h.seed(t, func(g *models.Grant) {
		g.Status = models.StatusSoftDeleted
		g.DeletedAt = &now
	})

	found, cleaned := h.sweeper.Sweep(ctx, now)
	assert.Equal(t, 3, found)
	assert.Equal(t, 3, cleaned)

	for _, g := range []*models.Grant{expired, exhausted, deleted} {
		_, err := h.ledger.Get(ctx, g.Token)
		assert.ErrorIs(t, err, store.ErrNotFound, "token %s should be purged", g.Token)
		assert.False(t, h.blobs.Contains(g.BlobKey))
		_, ok := h.ledger.ArchivedFor(g.Token)
		assert.True(t, ok, "token %s should be archived", g.Token)
	}

	for _, g := range []*models.Grant{live, recentDelete} {
		_, err := h.ledger.Get(ctx, g.Token)
		assert.NoError(t, err, "token %s should survive", g.Token)
		assert.True(t, h.blobs.Contains(g.BlobKey))
	}

	summary := h.sink.last(t)
	assert.Equal(t, 3, summary.Found)
	assert.Equal(t, 3, summary.Cleaned)
}

func TestSweepRecordsReasons(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	now := time.Now()

	past := now.Add(-time.Hour)
	oldDelete := now.Add(-100 * time.Hour)

	expired := h.seed(t, func(g *models.Grant) { g.ExpiresAt = &past })
	exhausted := h.seed(t, func(g *models.Grant) { g.Status = models.StatusExhausted })
	deleted := h.seed(t, func(g *models.Grant) {
		g.Status = models.StatusSoftDeleted
		g.DeletedAt = &oldDelete
	})

	h.sweeper.Sweep(ctx, now)

	want := map[string]models.TerminationReason{
		expired.Token:   models.ReasonTimeExpired,
		exhausted.Token: models.ReasonDownloadLimit,
		deleted.Token:   models.ReasonManualDeletion,
	}
	for token, reason := range want {
		arch, ok := h.ledger.ArchivedFor(token)
		require.True(t, ok)
		assert.Equal(t, reason, arch.Reason)
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	now := time.Now()

	past := now.Add(-time.Hour)
	h.seed(t, func(g *models.Grant) { g.ExpiresAt = &past })

	found, cleaned := h.sweeper.Sweep(ctx, now)
	assert.Equal(t, 1, found)
	assert.Equal(t, 1, cleaned)

	found, cleaned = h.sweeper.Sweep(ctx, now)
	assert.Zero(t, found)
	assert.Zero(t, cleaned)

	// summary is still emitted for the empty pass
	summary := h.sink.last(t)
	assert.Zero(t, summary.Found)
}

type brokenLedger struct {
	*store.MemoryLedger
}

func (brokenLedger) FindTerminal(context.Context, time.Time, time.Duration, int) ([]models.Grant, error) {
	return nil, errors.New("connection refused")
}

func TestSweepLedgerFailureStillReports(t *testing.T) {
	t.Parallel()
	ledger := brokenLedger{store.NewMemoryLedger()}
	cache := store.NewGrantCache(store.NewMemoryKV(), time.Hour)
	policy := delivery.NewPolicy(nil, nil)
	engine := delivery.NewEngine(ledger.MemoryLedger, store.NewMemoryBlobStore(), cache, policy, nil)
	sink := &captureSink{}
	s := New(engine, ledger, sink, nil, 72*time.Hour)

	now := time.Now()
	found, cleaned := s.Sweep(context.Background(), now)
	assert.Zero(t, found)
	assert.Zero(t, cleaned)

	require.Len(t, sink.summaries, 1)
	summary := sink.last(t)
	assert.Zero(t, summary.Found)
	assert.Zero(t, summary.Cleaned)
	assert.Equal(t, now, summary.At)
}

func TestSweepEmptyLedger(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	found, cleaned := h.sweeper.Sweep(context.Background(), time.Now())
	assert.Zero(t, found)
	assert.Zero(t, cleaned)
	assert.Len(t, h.sink.summaries, 1)
}
