package cache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSQLiteCache(t *testing.T, cfg Config) (*Cache, *store.SQLiteStore, *time.Time) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	now := t0
	c := New(st, cfg)
	c.SetClock(func() time.Time { return now })
	return c, st, &now
}

func webRequest(url string) model.FetchRequest {
	return model.FetchRequest{SourceType: model.SourceWeb, Identifier: url}
}

func TestCache_TTLBoundary(t *testing.T) {
	c, _, now := newSQLiteCache(t, Config{TTL: 300 * time.Second})
	ctx := context.Background()
	req := webRequest("https://example.com/a")

	c.Store(ctx, req, "jina", &model.Content{Title: "A", Body: "alpha"})

	*now = t0.Add(299 * time.Second)
	entry, ok := c.Lookup(ctx, req.Fingerprint())
	require.True(t, ok)
	assert.Equal(t, "jina", entry.Provider)
	assert.Equal(t, "alpha", entry.Value.Body)

	*now = t0.Add(300 * time.Second)
	_, ok = c.Lookup(ctx, req.Fingerprint())
	assert.False(t, ok, "entry must expire exactly at FetchedAt+TTL")

	*now = t0.Add(301 * time.Second)
	_, ok = c.Lookup(ctx, req.Fingerprint())
	assert.False(t, ok)
}

func TestCache_SourceTTLOverride(t *testing.T) {
	c, _, _ := newSQLiteCache(t, Config{
		TTL:       time.Hour,
		SourceTTL: map[model.SourceType]time.Duration{model.SourceYouTube: 24 * time.Hour},
	})

	assert.Equal(t, 24*time.Hour, c.TTLFor(model.SourceYouTube))
	assert.Equal(t, time.Hour, c.TTLFor(model.SourceWeb))
}

func TestCache_DefaultTTL(t *testing.T) {
	c := New(&fakeBackend{}, Config{})
	assert.Equal(t, DefaultTTL, c.TTLFor(model.SourcePDF))
}

func TestCache_LastWriteWins(t *testing.T) {
	c, _, now := newSQLiteCache(t, Config{TTL: time.Hour})
	ctx := context.Background()
	req := webRequest("https://example.com/a")

	c.Store(ctx, req, "jina", &model.Content{Body: "first"})
	*now = t0.Add(time.Minute)
	c.Store(ctx, req, "firecrawl", &model.Content{Body: "second"})

	entry, ok := c.Lookup(ctx, req.Fingerprint())
	require.True(t, ok)
	assert.Equal(t, "firecrawl", entry.Provider)
	assert.Equal(t, "second", entry.Value.Body)
}

func TestCache_EquivalentRequestsShareEntry(t *testing.T) {
	c, _, _ := newSQLiteCache(t, Config{TTL: time.Hour})
	ctx := context.Background()

	c.Store(ctx, webRequest("HTTPS://Example.com/a#section"), "jina", &model.Content{Body: "x"})

	_, ok := c.Lookup(ctx, webRequest("https://example.com/a").Fingerprint())
	assert.True(t, ok)
}

func TestCache_NilContentNotStored(t *testing.T) {
	b := &fakeBackend{}
	c := New(b, Config{})
	c.Store(context.Background(), webRequest("https://x"), "p", nil)
	assert.Equal(t, 0, b.puts)
}

func TestCache_InvalidateClearPruneStats(t *testing.T) {
	c, _, now := newSQLiteCache(t, Config{
		TTL:       time.Hour,
		SourceTTL: map[model.SourceType]time.Duration{model.SourcePDF: time.Minute},
	})
	ctx := context.Background()

	a := webRequest("https://example.com/a")
	b := webRequest("https://example.com/b")
	p := model.FetchRequest{SourceType: model.SourcePDF, Identifier: "https://example.com/c.pdf"}
	c.Store(ctx, a, "jina", &model.Content{Body: "a"})
	c.Store(ctx, b, "jina", &model.Content{Body: "b"})
	c.Store(ctx, p, "pdf_direct", &model.Content{Body: "c"})

	*now = t0.Add(2 * time.Minute)
	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Valid)
	assert.Equal(t, 1, stats.Expired)

	pruned, err := c.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	ok, err := c.Invalidate(ctx, a.Fingerprint())
	require.NoError(t, err)
	assert.True(t, ok)
	_, hit := c.Lookup(ctx, a.Fingerprint())
	assert.False(t, hit)

	ok, err = c.Invalidate(ctx, a.Fingerprint())
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := c.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// fakeBackend injects failures the SQLite store cannot easily produce.
type fakeBackend struct {
	getErr  error
	putErr  error
	puts    int
	deleted []string
}

func (f *fakeBackend) GetCacheEntry(_ context.Context, _ string) (*model.CacheEntry, error) {
	return nil, f.getErr
}

func (f *fakeBackend) PutCacheEntry(_ context.Context, _ model.CacheEntry) error {
	f.puts++
	return f.putErr
}

func (f *fakeBackend) DeleteCacheEntry(_ context.Context, fp string) (bool, error) {
	f.deleted = append(f.deleted, fp)
	return true, nil
}

func (f *fakeBackend) ClearCache(_ context.Context) (int, error) { return 0, nil }

func (f *fakeBackend) PruneCache(_ context.Context, _ time.Time) (int, error) { return 0, nil }

func (f *fakeBackend) CacheStats(_ context.Context, _ time.Time) (*model.CacheStats, error) {
	return &model.CacheStats{}, nil
}

func TestCache_CorruptEntryIsMissAndDeleted(t *testing.T) {
	b := &fakeBackend{getErr: eris.Wrapf(store.ErrCorruptEntry, "sqlite: decode %s", "fp")}
	c := New(b, Config{})

	entry, ok := c.Lookup(context.Background(), "fp")
	assert.False(t, ok)
	assert.Nil(t, entry)
	assert.Equal(t, []string{"fp"}, b.deleted)
}

func TestCache_BackendErrorIsMiss(t *testing.T) {
	b := &fakeBackend{getErr: errors.New("disk I/O error")}
	c := New(b, Config{})

	_, ok := c.Lookup(context.Background(), "fp")
	assert.False(t, ok)
	assert.Empty(t, b.deleted, "only corrupt rows are removed")
}

func TestCache_WriteFailureSwallowed(t *testing.T) {
	b := &fakeBackend{putErr: errors.New("database is locked")}
	c := New(b, Config{})

	assert.NotPanics(t, func() {
		c.Store(context.Background(), webRequest("https://x"), "p", &model.Content{Body: "x"})
	})
	assert.Equal(t, 1, b.puts)
}
