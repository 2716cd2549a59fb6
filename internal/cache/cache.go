// Package cache keeps previously fetched content keyed by request
// fingerprint. Expiry is decided at read time; rows past their TTL are misses
// even before Prune removes them.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ingest-cli/internal/model"
	"github.com/sells-group/ingest-cli/internal/store"
)

// DefaultTTL matches the historical one week retention.
const DefaultTTL = 168 * time.Hour

// Backend is the slice of store.Store the cache needs.
type Backend interface {
	GetCacheEntry(ctx context.Context, fingerprint string) (*model.CacheEntry, error)
	PutCacheEntry(ctx context.Context, entry model.CacheEntry) error
	DeleteCacheEntry(ctx context.Context, fingerprint string) (bool, error)
	ClearCache(ctx context.Context) (int, error)
	PruneCache(ctx context.Context, now time.Time) (int, error)
	CacheStats(ctx context.Context, now time.Time) (*model.CacheStats, error)
}

// Config controls entry lifetimes.
type Config struct {
	TTL       time.Duration
	SourceTTL map[model.SourceType]time.Duration
}

// Cache is a TTL cache over a persistent backend.
type Cache struct {
	backend Backend
	cfg     Config

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// New creates a cache over backend.
func New(backend Backend, cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Cache{backend: backend, cfg: cfg, nowFunc: time.Now}
}

// SetClock replaces the cache's time source.
func (c *Cache) SetClock(now func() time.Time) {
	c.nowFunc = now
}

// TTLFor returns the lifetime given to new entries of source type st.
func (c *Cache) TTLFor(st model.SourceType) time.Duration {
	if d, ok := c.cfg.SourceTTL[st]; ok && d > 0 {
		return d
	}
	return c.cfg.TTL
}

// Lookup returns the entry for fingerprint when one exists and is still
// valid. Backend failures and undecodable rows are reported as misses; a
// corrupt row is removed so the next fetch can replace it.
func (c *Cache) Lookup(ctx context.Context, fingerprint string) (*model.CacheEntry, bool) {
	entry, err := c.backend.GetCacheEntry(ctx, fingerprint)
	if err != nil {
		if errors.Is(err, store.ErrCorruptEntry) {
			zap.L().Warn("cache: dropping corrupt entry",
				zap.String("fingerprint", fingerprint),
				zap.Error(err),
			)
			if _, derr := c.backend.DeleteCacheEntry(ctx, fingerprint); derr != nil {
				zap.L().Warn("cache: delete corrupt entry failed", zap.String("fingerprint", fingerprint), zap.Error(derr))
			}
			return nil, false
		}
		zap.L().Warn("cache: lookup failed, treating as miss",
			zap.String("fingerprint", fingerprint),
			zap.Error(err),
		)
		return nil, false
	}
	if entry == nil {
		return nil, false
	}
	if !entry.ValidAt(c.nowFunc()) {
		zap.L().Debug("cache: entry expired",
			zap.String("fingerprint", fingerprint),
			zap.Time("expires_at", entry.ExpiresAt()),
		)
		return nil, false
	}
	return entry, true
}

// Store records content fetched by provider for req. Write failures are
// logged and swallowed; the caller already has its content.
func (c *Cache) Store(ctx context.Context, req model.FetchRequest, provider string, content *model.Content) {
	if content == nil {
		return
	}
	entry := model.CacheEntry{
		Fingerprint: req.Fingerprint(),
		SourceType:  req.SourceType,
		Identifier:  req.Identifier,
		Provider:    provider,
		Value:       *content,
		FetchedAt:   c.nowFunc().UTC(),
		TTL:         c.TTLFor(req.SourceType),
	}
	if err := c.backend.PutCacheEntry(ctx, entry); err != nil {
		zap.L().Warn("cache: store failed",
			zap.String("fingerprint", entry.Fingerprint),
			zap.String("provider", provider),
			zap.Error(err),
		)
	}
}

// Invalidate removes one entry and reports whether it existed.
func (c *Cache) Invalidate(ctx context.Context, fingerprint string) (bool, error) {
	ok, err := c.backend.DeleteCacheEntry(ctx, fingerprint)
	return ok, eris.Wrap(err, "cache: invalidate")
}

// Clear removes every entry.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	n, err := c.backend.ClearCache(ctx)
	return n, eris.Wrap(err, "cache: clear")
}

// Prune removes expired entries.
func (c *Cache) Prune(ctx context.Context) (int, error) {
	n, err := c.backend.PruneCache(ctx, c.nowFunc().UTC())
	return n, eris.Wrap(err, "cache: prune")
}

// Stats summarizes the cache at the current time.
func (c *Cache) Stats(ctx context.Context) (*model.CacheStats, error) {
	stats, err := c.backend.CacheStats(ctx, c.nowFunc().UTC())
	return stats, eris.Wrap(err, "cache: stats")
}
