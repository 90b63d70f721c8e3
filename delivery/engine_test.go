package delivery

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropgate/dropgate/models"
	"github.com/dropgate/dropgate/store"
)

type fixture struct {
	engine *Engine
	ledger *store.MemoryLedger
	blobs  *store.MemoryBlobStore
	kv     *store.MemoryKV
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledger := store.NewMemoryLedger()
	blobs := store.NewMemoryBlobStore()
	kv := store.NewMemoryKV()
	cache := store.NewGrantCache(kv, time.Hour)
	policy := NewPolicy([]string{".exe", ".msi"}, []string{"image/", "text/", "application/pdf"})
	return &fixture{
		engine: NewEngine(ledger, blobs, cache, policy, nil),
		ledger: ledger,
		blobs:  blobs,
		kv:     kv,
	}
}

func (f *fixture) seed(t *testing.T, content string, cap *int64, expiresAt *time.Time) *models.Grant {
	t.Helper()
	ctx := context.Background()
	g := &models.Grant{
		Token:       uuid.NewString(),
		BlobKey:     "blobs/" + uuid.NewString(),
		DisplayName: "report.pdf",
		Mime:        "application/pdf",
		SizeBytes:   int64(len(content)),
		DownloadCap: cap,
		Status:      models.StatusActive,
		CreatedAt:   time.Now(),
		ExpiresAt:   expiresAt,
	}
	require.NoError(t, f.blobs.Put(ctx, g.BlobKey, strings.NewReader(content), g.SizeBytes, g.Mime))
	require.NoError(t, f.ledger.Create(ctx, g))
	return g
}

func capOf(n int64) *int64 { return &n }

func TestEngineResolve(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	g := f.seed(t, "hello", nil, nil)

	got, err := f.engine.Resolve(ctx, g.Token)
	require.NoError(t, err)
	assert.Equal(t, g.Token, got.Token)

	// second read is served from cache
	cached, err := f.engine.Resolve(ctx, g.Token)
	require.NoError(t, err)
	assert.Equal(t, g.BlobKey, cached.BlobKey)

	_, err = f.engine.Resolve(ctx, "no-such-token")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngineResolveStaleTerminalCache(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	g := f.seed(t, "hello", nil, nil)

	// Poison the cache with a soft-deleted copy while the ledger row is
	// still active. Resolve must go back to the ledger.
	stale := *g
	stale.Status = models.StatusSoftDeleted
	cache := store.NewGrantCache(f.kv, time.Hour)
	require.NoError(t, cache.Put(ctx, &stale))

	got, err := f.engine.Resolve(ctx, g.Token)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)
}

func TestEngineAuthorize(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	tests := []struct {
		name  string
		grant models.Grant
		want  error
	}{
		{"active unlimited", models.Grant{Status: models.StatusActive}, nil},
		{"active with headroom", models.Grant{Status: models.StatusActive, DownloadCap: capOf(5), DownloadCount: 4, ExpiresAt: &future}, nil},
		{"soft deleted", models.Grant{Status: models.StatusSoftDeleted}, ErrDeleted},
		{"purged", models.Grant{Status: models.StatusPurged}, ErrNotFound},
		{"marked expired", models.Grant{Status: models.StatusExpired}, ErrExpired},
		{"marked exhausted", models.Grant{Status: models.StatusExhausted}, ErrExhausted},
		{"clock expired", models.Grant{Status: models.StatusActive, ExpiresAt: &past}, ErrExpired},
		{"cap reached", models.Grant{Status: models.StatusActive, DownloadCap: capOf(3), DownloadCount: 3}, ErrExhausted},
		// deletion is reported even when the grant is also past expiry
		{"deleted and expired", models.Grant{Status: models.StatusSoftDeleted, ExpiresAt: &past}, ErrDeleted},
		// expiry is reported even when quota is also gone
		{"expired and exhausted", models.Grant{Status: models.StatusActive, ExpiresAt: &past, DownloadCap: capOf(1), DownloadCount: 1}, ErrExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.engine.Authorize(&tt.grant, now)
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestEngineOpenFull(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	g := f.seed(t, "0123456789", nil, nil)

	h, err := f.engine.Open(ctx, g, nil)
	require.NoError(t, err)
	defer h.Body.Close()

	body, err := io.ReadAll(h.Body)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(body))
	assert.EqualValues(t, 10, h.Size)
	assert.Nil(t, h.Range)
}

func TestEngineOpenRanged(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	g := f.seed(t, "0123456789", nil, nil)

	rng, err := ParseRange("bytes=2-5", g.SizeBytes)
	require.NoError(t, err)

	h, err := f.engine.Open(ctx, g, rng)
	require.NoError(t, err)
	defer h.Body.Close()

	body, err := io.ReadAll(h.Body)
	require.NoError(t, err)
	assert.Equal(t, "2345", string(body))
	assert.Equal(t, "bytes 2-5/10", h.Range.ContentRange())
	assert.EqualValues(t, 4, h.Range.Length())
}

func TestEngineOpenFailureDoesNotCharge(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	g := f.seed(t, "hello", capOf(2), nil)

	// remove the blob out from under the grant
	require.NoError(t, f.blobs.Delete(ctx, g.BlobKey))

	_, err := f.engine.Open(ctx, g, nil)
	require.Error(t, err)
	assert.False(t, Terminal(err))

	fresh, err := f.ledger.Get(ctx, g.Token)
	require.NoError(t, err)
	assert.EqualValues(t, 0, fresh.DownloadCount)
}

func TestEngineConsume(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	g := f.seed(t, "hello", capOf(2), nil)

	count, reached, err := f.engine.Consume(ctx, g)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
	assert.False(t, reached)

	count, reached, err = f.engine.Consume(ctx, g)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
	assert.True(t, reached)

	_, _, err = f.engine.Consume(ctx, g)
	assert.ErrorIs(t, err, ErrExhausted)

	fresh, err := f.ledger.Get(ctx, g.Token)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExhausted, fresh.Status)
}

func TestEngineConsumeExactUnderContention(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	g := f.seed(t, "hello", capOf(5), nil)

	const attempts = 100
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := *g
			if _, _, err := f.engine.Consume(ctx, &local); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, granted)
	fresh, err := f.ledger.Get(ctx, g.Token)
	require.NoError(t, err)
	assert.EqualValues(t, 5, fresh.DownloadCount)
}

func TestEnginePurge(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	g := f.seed(t, "hello", capOf(1), nil)

	// warm the cache
	_, err := f.engine.Resolve(ctx, g.Token)
	require.NoError(t, err)

	require.NoError(t, f.engine.Purge(ctx, g, models.ReasonDownloadLimit))

	arch, ok := f.ledger.ArchivedFor(g.Token)
	require.True(t, ok)
	assert.Equal(t, models.ReasonDownloadLimit, arch.Reason)
	assert.Equal(t, g.BlobKey, arch.BlobKey)

	assert.False(t, f.blobs.Contains(g.BlobKey))
	_, err = f.ledger.Get(ctx, g.Token)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = f.engine.Resolve(ctx, g.Token)
	assert.ErrorIs(t, err, ErrNotFound)

	// purging again is a no-op for the archive and must not fail
	require.NoError(t, f.engine.Purge(ctx, g, models.ReasonDownloadLimit))
}

func TestEngineSettleTerminal(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)
	g := f.seed(t, "hello", nil, &past)

	err := f.engine.Authorize(g, time.Now())
	require.ErrorIs(t, err, ErrExpired)

	f.engine.SettleTerminal(ctx, g, err)
	assert.Equal(t, models.StatusExpired, g.Status)

	// the deferred purge drains the grant from every store
	assert.Eventually(t, func() bool {
		_, err := f.ledger.Get(ctx, g.Token)
		return errors.Is(err, store.ErrNotFound) && !f.blobs.Contains(g.BlobKey)
	}, 2*time.Second, 10*time.Millisecond)

	arch, ok := f.ledger.ArchivedFor(g.Token)
	require.True(t, ok)
	assert.Equal(t, models.ReasonTimeExpired, arch.Reason)
}

func TestEngineFullDeliveryRoundTrip(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	raw := make([]byte, 1000)
	for i := range raw {
		raw[i] = byte(i % 251)
	}
	content := string(raw)
	g := f.seed(t, content, capOf(5), nil)

	got, err := f.engine.Resolve(ctx, g.Token)
	require.NoError(t, err)
	require.NoError(t, f.engine.Authorize(got, time.Now()))

	rng, err := ParseRange("bytes=100-199", got.SizeBytes)
	require.NoError(t, err)

	h, err := f.engine.Open(ctx, got, rng)
	require.NoError(t, err)
	defer h.Body.Close()

	_, _, err = f.engine.Consume(ctx, got)
	require.NoError(t, err)

	body, err := io.ReadAll(h.Body)
	require.NoError(t, err)
	assert.Equal(t, raw[100:200], body)
	assert.Equal(t, "bytes 100-199/1000", h.Range.ContentRange())
	assert.Equal(t, "4", got.Remaining(got.DownloadCount))
}
