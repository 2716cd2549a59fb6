package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ingest-cli/internal/model"
)

// ErrCorruptEntry marks a cache row whose payload cannot be decoded.
var ErrCorruptEntry = eris.New("store: corrupt cache entry")

// AttemptFilter specifies criteria for listing logged attempts.
type AttemptFilter struct {
	Provider string    `json:"provider,omitempty"`
	Since    time.Time `json:"since,omitempty"`
	Limit    int       `json:"limit,omitempty"`
}

// Store defines the persistence interface for fetch state shared across
// invocations: cached results, breaker and limiter records, and the attempt log.
type Store interface {
	// Cache
	GetCacheEntry(ctx context.Context, fingerprint string) (*model.CacheEntry, error)
	PutCacheEntry(ctx context.Context, entry model.CacheEntry) error
	DeleteCacheEntry(ctx context.Context, fingerprint string) (bool, error)
	ClearCache(ctx context.Context) (int, error)
	PruneCache(ctx context.Context, now time.Time) (int, error)
	CacheStats(ctx context.Context, now time.Time) (*model.CacheStats, error)

	// Breakers. UpdateBreaker runs fn in an atomic read-modify-write.
	GetBreaker(ctx context.Context, provider string) (*model.BreakerState, error)
	UpdateBreaker(ctx context.Context, provider string, fn func(*model.BreakerState) error) (*model.BreakerState, error)
	ListBreakers(ctx context.Context) ([]model.BreakerState, error)

	// Limiters. UpdateLimiter runs fn in an atomic read-modify-write.
	GetLimiter(ctx context.Context, provider string) (*model.LimiterState, error)
	UpdateLimiter(ctx context.Context, provider string, fn func(*model.LimiterState) error) (*model.LimiterState, error)

	// Attempt log
	RecordAttempts(ctx context.Context, records []model.AttemptRecord) error
	ListAttempts(ctx context.Context, filter AttemptFilter) ([]model.AttemptRecord, error)
	CountFailures(ctx context.Context, provider string, since time.Time) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func toMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}
