package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/ingest-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at path with WAL mode and a busy timeout
// applied to every pooled connection. ":memory:" opens a private in-memory
// database limited to a single connection.
func NewSQLite(path string) (*SQLiteStore, error) {
	memory := path == ":memory:"
	if !memory {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, eris.Wrapf(err, "sqlite: create dir %s", dir)
			}
		}
	}

	dsn := sqliteDSN(path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if memory {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db}, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "_pragma=") {
		return path
	}
	pragmas := []string{
		"_pragma=busy_timeout(5000)",
		"_pragma=synchronous(NORMAL)",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	prefix := ""
	if !strings.HasPrefix(path, "file:") {
		prefix = "file:"
	}
	return prefix + path + sep + strings.Join(pragmas, "&")
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS fetch_cache (
	fingerprint TEXT PRIMARY KEY,
	source_type TEXT NOT NULL,
	identifier  TEXT NOT NULL,
	provider    TEXT NOT NULL,
	value       TEXT NOT NULL,
	fetched_at  INTEGER NOT NULL,
	ttl_ms      INTEGER NOT NULL,
	expires_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS breaker_state (
	provider             TEXT PRIMARY KEY,
	state                TEXT NOT NULL DEFAULT 'closed',
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	opened_at            INTEGER,
	probe_started_at     INTEGER,
	last_failure_at      INTEGER,
	updated_at           INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS limiter_state (
	provider        TEXT PRIMARY KEY,
	last_request_at INTEGER
);

CREATE TABLE IF NOT EXISTS fetch_attempts (
	id          TEXT PRIMARY KEY,
	request_id  TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	source_type TEXT NOT NULL,
	provider    TEXT NOT NULL,
	try         INTEGER NOT NULL DEFAULT 0,
	result      TEXT NOT NULL,
	kind        TEXT NOT NULL DEFAULT '',
	skip_reason TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	elapsed_ms  INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fetch_cache_expires_at ON fetch_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_fetch_attempts_provider ON fetch_attempts(provider, created_at);
CREATE INDEX IF NOT EXISTS idx_fetch_attempts_request ON fetch_attempts(request_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Cache

func (s *SQLiteStore) GetCacheEntry(ctx context.Context, fingerprint string) (*model.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT fingerprint, source_type, identifier, provider, value, fetched_at, ttl_ms
		 FROM fetch_cache WHERE fingerprint = ?`,
		fingerprint,
	)

	var e model.CacheEntry
	var value string
	var fetchedAt, ttlMS int64
	err := row.Scan(&e.Fingerprint, &e.SourceType, &e.Identifier, &e.Provider, &value, &fetchedAt, &ttlMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cache entry")
	}
	if err := json.Unmarshal([]byte(value), &e.Value); err != nil {
		return nil, eris.Wrapf(ErrCorruptEntry, "sqlite: decode %s: %v", fingerprint, err)
	}
	e.FetchedAt = time.UnixMilli(fetchedAt).UTC()
	e.TTL = time.Duration(ttlMS) * time.Millisecond
	return &e, nil
}

func (s *SQLiteStore) PutCacheEntry(ctx context.Context, e model.CacheEntry) error {
	value, err := json.Marshal(e.Value)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal cache value")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO fetch_cache (fingerprint, source_type, identifier, provider, value, fetched_at, ttl_ms, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET
			source_type = excluded.source_type,
			identifier  = excluded.identifier,
			provider    = excluded.provider,
			value       = excluded.value,
			fetched_at  = excluded.fetched_at,
			ttl_ms      = excluded.ttl_ms,
			expires_at  = excluded.expires_at`,
		e.Fingerprint, string(e.SourceType), e.Identifier, e.Provider, string(value),
		e.FetchedAt.UnixMilli(), e.TTL.Milliseconds(), e.ExpiresAt().UnixMilli(),
	)
	return eris.Wrap(err, "sqlite: put cache entry")
}

func (s *SQLiteStore) DeleteCacheEntry(ctx context.Context, fingerprint string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM fetch_cache WHERE fingerprint = ?`, fingerprint)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: delete cache entry %s", fingerprint)
	}
	n, err := res.RowsAffected()
	return n > 0, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) ClearCache(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM fetch_cache`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: clear cache")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) PruneCache(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM fetch_cache WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prune cache")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) CacheStats(ctx context.Context, now time.Time) (*model.CacheStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_type, COUNT(*), SUM(CASE WHEN expires_at > ? THEN 1 ELSE 0 END)
		 FROM fetch_cache GROUP BY source_type`,
		now.UnixMilli(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: cache stats")
	}
	defer rows.Close() //nolint:errcheck

	stats := &model.CacheStats{BySource: make(map[string]int)}
	for rows.Next() {
		var source string
		var total, valid int
		if err := rows.Scan(&source, &total, &valid); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cache stats")
		}
		stats.BySource[source] = total
		stats.Total += total
		stats.Valid += valid
	}
	stats.Expired = stats.Total - stats.Valid
	return stats, eris.Wrap(rows.Err(), "sqlite: iterate cache stats")
}

// Breakers

const breakerColumns = `provider, state, consecutive_failures, opened_at, probe_started_at, last_failure_at, updated_at`

func (s *SQLiteStore) GetBreaker(ctx context.Context, provider string) (*model.BreakerState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+breakerColumns+` FROM breaker_state WHERE provider = ?`, provider)
	b, err := scanBreaker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get breaker %s", provider)
	}
	return b, nil
}

func (s *SQLiteStore) UpdateBreaker(ctx context.Context, provider string, fn func(*model.BreakerState) error) (*model.BreakerState, error) {
	var out *model.BreakerState
	err := s.immediate(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx, `SELECT `+breakerColumns+` FROM breaker_state WHERE provider = ?`, provider)
		b, err := scanBreaker(row)
		if errors.Is(err, sql.ErrNoRows) {
			b = &model.BreakerState{Provider: provider, State: model.BreakerClosed}
		} else if err != nil {
			return eris.Wrap(err, "sqlite: read breaker")
		}
		if err := fn(b); err != nil {
			return err
		}
		b.Provider = provider
		b.State = b.Phase()
		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = time.Now().UTC()
		}
		_, err = conn.ExecContext(ctx,
			`INSERT INTO breaker_state (`+breakerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(provider) DO UPDATE SET
				state                = excluded.state,
				consecutive_failures = excluded.consecutive_failures,
				opened_at            = excluded.opened_at,
				probe_started_at     = excluded.probe_started_at,
				last_failure_at      = excluded.last_failure_at,
				updated_at           = excluded.updated_at`,
			b.Provider, string(b.State), b.ConsecutiveFailures,
			toMillis(b.OpenedAt), toMillis(b.ProbeStartedAt), toMillis(b.LastFailureAt), b.UpdatedAt.UnixMilli(),
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: write breaker")
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: update breaker %s", provider)
	}
	return out, nil
}

func (s *SQLiteStore) ListBreakers(ctx context.Context) ([]model.BreakerState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+breakerColumns+` FROM breaker_state ORDER BY provider`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list breakers")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.BreakerState
	for rows.Next() {
		b, err := scanBreaker(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan breaker")
		}
		out = append(out, *b)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate breakers")
}

// Limiters

func (s *SQLiteStore) GetLimiter(ctx context.Context, provider string) (*model.LimiterState, error) {
	var last *int64
	err := s.db.QueryRowContext(ctx, `SELECT last_request_at FROM limiter_state WHERE provider = ?`, provider).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get limiter %s", provider)
	}
	return &model.LimiterState{Provider: provider, LastRequestAt: fromMillis(last)}, nil
}

func (s *SQLiteStore) UpdateLimiter(ctx context.Context, provider string, fn func(*model.LimiterState) error) (*model.LimiterState, error) {
	var out *model.LimiterState
	err := s.immediate(ctx, func(conn *sql.Conn) error {
		var last *int64
		err := conn.QueryRowContext(ctx, `SELECT last_request_at FROM limiter_state WHERE provider = ?`, provider).Scan(&last)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return eris.Wrap(err, "sqlite: read limiter")
		}
		l := &model.LimiterState{Provider: provider, LastRequestAt: fromMillis(last)}
		if err := fn(l); err != nil {
			return err
		}
		_, err = conn.ExecContext(ctx,
			`INSERT INTO limiter_state (provider, last_request_at) VALUES (?, ?)
			 ON CONFLICT(provider) DO UPDATE SET last_request_at = excluded.last_request_at`,
			provider, toMillis(l.LastRequestAt),
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: write limiter")
		}
		out = l
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: update limiter %s", provider)
	}
	return out, nil
}

// Attempt log

func (s *SQLiteStore) RecordAttempts(ctx context.Context, records []model.AttemptRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin attempts tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, r := range records {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO fetch_attempts (id, request_id, fingerprint, source_type, provider, try, result, kind, skip_reason, error, elapsed_ms, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.RequestID, r.Fingerprint, string(r.SourceType), r.Provider, r.Try, string(r.Result),
			r.Kind, r.SkipReason, r.Error, r.Elapsed.Milliseconds(), r.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert attempt")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit attempts")
}

func (s *SQLiteStore) ListAttempts(ctx context.Context, filter AttemptFilter) ([]model.AttemptRecord, error) {
	query := `SELECT id, request_id, fingerprint, source_type, provider, try, result, kind, skip_reason, error, elapsed_ms, created_at
		FROM fetch_attempts WHERE created_at >= ?`
	args := []any{filter.Since.UnixMilli()}
	if filter.Provider != "" {
		query += ` AND provider = ?`
		args = append(args, filter.Provider)
	}
	query += ` ORDER BY created_at DESC, try DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list attempts")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.AttemptRecord
	for rows.Next() {
		var r model.AttemptRecord
		var elapsedMS, createdAt int64
		if err := rows.Scan(&r.ID, &r.RequestID, &r.Fingerprint, &r.SourceType, &r.Provider, &r.Try, &r.Result,
			&r.Kind, &r.SkipReason, &r.Error, &elapsedMS, &createdAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan attempt")
		}
		r.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		r.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate attempts")
}

func (s *SQLiteStore) CountFailures(ctx context.Context, provider string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fetch_attempts WHERE provider = ? AND result = ? AND created_at >= ?`,
		provider, string(model.AttemptFailed), since.UnixMilli(),
	).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count failures %s", provider)
}

// helpers

// immediate runs fn on a dedicated connection inside BEGIN IMMEDIATE, which
// takes the database write lock up front so concurrent read-modify-write
// cycles from other connections or processes serialize behind busy_timeout.
func (s *SQLiteStore) immediate(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return eris.Wrap(err, "sqlite: acquire conn")
	}
	defer conn.Close() //nolint:errcheck

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return eris.Wrap(err, "sqlite: begin immediate")
	}
	if err := fn(conn); err != nil {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK")
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK")
		return eris.Wrap(err, "sqlite: commit")
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanBreaker(row scannable) (*model.BreakerState, error) {
	var b model.BreakerState
	var state string
	var openedAt, probeAt, lastFailure *int64
	var updatedAt int64
	if err := row.Scan(&b.Provider, &state, &b.ConsecutiveFailures, &openedAt, &probeAt, &lastFailure, &updatedAt); err != nil {
		return nil, err
	}
	b.State = model.BreakerPhase(state)
	b.OpenedAt = fromMillis(openedAt)
	b.ProbeStartedAt = fromMillis(probeAt)
	b.LastFailureAt = fromMillis(lastFailure)
	b.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &b, nil
}
