package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ingest-cli/internal/db"
	"github.com/sells-group/ingest-cli/internal/model"
)

// PostgresStore implements Store using pgxpool. Read-modify-write cycles
// lock the state row with SELECT ... FOR UPDATE.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var (
	upsertCacheSQL = db.MustUpsertSQL(db.UpsertConfig{
		Table:        "fetch_cache",
		Columns:      []string{"fingerprint", "source_type", "identifier", "provider", "value", "fetched_at", "ttl_ms", "expires_at"},
		ConflictKeys: []string{"fingerprint"},
	})
	upsertBreakerSQL = db.MustUpsertSQL(db.UpsertConfig{
		Table:        "breaker_state",
		Columns:      []string{"provider", "state", "consecutive_failures", "opened_at", "probe_started_at", "last_failure_at", "updated_at"},
		ConflictKeys: []string{"provider"},
	})
	upsertLimiterSQL = db.MustUpsertSQL(db.UpsertConfig{
		Table:        "limiter_state",
		Columns:      []string{"provider", "last_request_at"},
		ConflictKeys: []string{"provider"},
	})
	seedBreakerSQL = db.MustUpsertSQL(db.UpsertConfig{
		Table:        "breaker_state",
		Columns:      []string{"provider"},
		ConflictKeys: []string{"provider"},
	})
	seedLimiterSQL = db.MustUpsertSQL(db.UpsertConfig{
		Table:        "limiter_state",
		Columns:      []string{"provider"},
		ConflictKeys: []string{"provider"},
	})
)

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot fetch path.
var preparedStatements = map[string]string{
	"get_cache_entry": `SELECT fingerprint, source_type, identifier, provider, value, fetched_at, ttl_ms FROM fetch_cache WHERE fingerprint = $1`,
	"put_cache_entry": upsertCacheSQL,
	"get_breaker":     `SELECT ` + breakerColumns + ` FROM breaker_state WHERE provider = $1`,
	"get_limiter":     `SELECT last_request_at FROM limiter_state WHERE provider = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				// Tables may not exist before the first Migrate.
				zap.L().Debug("postgres: skip prepare", zap.String("statement", name), zap.Error(err))
				return nil
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS fetch_cache (
	fingerprint TEXT PRIMARY KEY,
	source_type TEXT NOT NULL,
	identifier  TEXT NOT NULL,
	provider    TEXT NOT NULL,
	value       JSONB NOT NULL,
	fetched_at  TIMESTAMPTZ NOT NULL,
	ttl_ms      BIGINT NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS breaker_state (
	provider             TEXT PRIMARY KEY,
	state                TEXT NOT NULL DEFAULT 'closed',
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	opened_at            TIMESTAMPTZ,
	probe_started_at     TIMESTAMPTZ,
	last_failure_at      TIMESTAMPTZ,
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS limiter_state (
	provider        TEXT PRIMARY KEY,
	last_request_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS fetch_attempts (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	request_id  TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	source_type TEXT NOT NULL,
	provider    TEXT NOT NULL,
	try         INTEGER NOT NULL DEFAULT 0,
	result      TEXT NOT NULL,
	kind        TEXT NOT NULL DEFAULT '',
	skip_reason TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	elapsed_ms  BIGINT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_fetch_cache_expires_at ON fetch_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_fetch_attempts_provider ON fetch_attempts(provider, created_at);
CREATE INDEX IF NOT EXISTS idx_fetch_attempts_request ON fetch_attempts(request_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Cache

func (s *PostgresStore) GetCacheEntry(ctx context.Context, fingerprint string) (*model.CacheEntry, error) {
	var e model.CacheEntry
	var source string
	var value []byte
	var ttlMS int64
	err := s.pool.QueryRow(ctx,
		`SELECT fingerprint, source_type, identifier, provider, value, fetched_at, ttl_ms FROM fetch_cache WHERE fingerprint = $1`,
		fingerprint,
	).Scan(&e.Fingerprint, &source, &e.Identifier, &e.Provider, &value, &e.FetchedAt, &ttlMS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get cache entry")
	}
	if err := json.Unmarshal(value, &e.Value); err != nil {
		return nil, eris.Wrapf(ErrCorruptEntry, "postgres: decode %s: %v", fingerprint, err)
	}
	e.SourceType = model.SourceType(source)
	e.TTL = time.Duration(ttlMS) * time.Millisecond
	return &e, nil
}

func (s *PostgresStore) PutCacheEntry(ctx context.Context, e model.CacheEntry) error {
	value, err := json.Marshal(e.Value)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal cache value")
	}
	_, err = s.pool.Exec(ctx, upsertCacheSQL,
		e.Fingerprint, string(e.SourceType), e.Identifier, e.Provider, value,
		e.FetchedAt, e.TTL.Milliseconds(), e.ExpiresAt(),
	)
	return eris.Wrap(err, "postgres: put cache entry")
}

func (s *PostgresStore) DeleteCacheEntry(ctx context.Context, fingerprint string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM fetch_cache WHERE fingerprint = $1`, fingerprint)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: delete cache entry %s", fingerprint)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ClearCache(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM fetch_cache`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: clear cache")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) PruneCache(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM fetch_cache WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: prune cache")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) CacheStats(ctx context.Context, now time.Time) (*model.CacheStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source_type, COUNT(*), COUNT(*) FILTER (WHERE expires_at > $1)
		 FROM fetch_cache GROUP BY source_type`,
		now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: cache stats")
	}
	defer rows.Close()

	stats := &model.CacheStats{BySource: make(map[string]int)}
	for rows.Next() {
		var source string
		var total, valid int64
		if err := rows.Scan(&source, &total, &valid); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cache stats")
		}
		stats.BySource[source] = int(total)
		stats.Total += int(total)
		stats.Valid += int(valid)
	}
	stats.Expired = stats.Total - stats.Valid
	return stats, eris.Wrap(rows.Err(), "postgres: iterate cache stats")
}

// Breakers

func (s *PostgresStore) GetBreaker(ctx context.Context, provider string) (*model.BreakerState, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+breakerColumns+` FROM breaker_state WHERE provider = $1`, provider)
	b, err := scanPgBreaker(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get breaker %s", provider)
	}
	return b, nil
}

func (s *PostgresStore) UpdateBreaker(ctx context.Context, provider string, fn func(*model.BreakerState) error) (*model.BreakerState, error) {
	var out *model.BreakerState
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, seedBreakerSQL, provider); err != nil {
			return eris.Wrap(err, "postgres: seed breaker")
		}
		row := tx.QueryRow(ctx, `SELECT `+breakerColumns+` FROM breaker_state WHERE provider = $1 FOR UPDATE`, provider)
		b, err := scanPgBreaker(row)
		if err != nil {
			return eris.Wrap(err, "postgres: lock breaker")
		}
		if err := fn(b); err != nil {
			return err
		}
		b.Provider = provider
		b.State = b.Phase()
		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = time.Now().UTC()
		}
		if _, err := tx.Exec(ctx, upsertBreakerSQL,
			b.Provider, string(b.State), b.ConsecutiveFailures,
			b.OpenedAt, b.ProbeStartedAt, b.LastFailureAt, b.UpdatedAt,
		); err != nil {
			return eris.Wrap(err, "postgres: write breaker")
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: update breaker %s", provider)
	}
	return out, nil
}

func (s *PostgresStore) ListBreakers(ctx context.Context) ([]model.BreakerState, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+breakerColumns+` FROM breaker_state ORDER BY provider`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list breakers")
	}
	defer rows.Close()

	var out []model.BreakerState
	for rows.Next() {
		b, err := scanPgBreaker(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan breaker")
		}
		out = append(out, *b)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate breakers")
}

// Limiters

func (s *PostgresStore) GetLimiter(ctx context.Context, provider string) (*model.LimiterState, error) {
	var last *time.Time
	err := s.pool.QueryRow(ctx, `SELECT last_request_at FROM limiter_state WHERE provider = $1`, provider).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get limiter %s", provider)
	}
	return &model.LimiterState{Provider: provider, LastRequestAt: last}, nil
}

func (s *PostgresStore) UpdateLimiter(ctx context.Context, provider string, fn func(*model.LimiterState) error) (*model.LimiterState, error) {
	var out *model.LimiterState
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, seedLimiterSQL, provider); err != nil {
			return eris.Wrap(err, "postgres: seed limiter")
		}
		var last *time.Time
		if err := tx.QueryRow(ctx, `SELECT last_request_at FROM limiter_state WHERE provider = $1 FOR UPDATE`, provider).Scan(&last); err != nil {
			return eris.Wrap(err, "postgres: lock limiter")
		}
		l := &model.LimiterState{Provider: provider, LastRequestAt: last}
		if err := fn(l); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, upsertLimiterSQL, provider, l.LastRequestAt); err != nil {
			return eris.Wrap(err, "postgres: write limiter")
		}
		out = l
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: update limiter %s", provider)
	}
	return out, nil
}

// Attempt log

func (s *PostgresStore) RecordAttempts(ctx context.Context, records []model.AttemptRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range records {
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now().UTC()
		}
		batch.Queue(
			`INSERT INTO fetch_attempts (id, request_id, fingerprint, source_type, provider, try, result, kind, skip_reason, error, elapsed_ms, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			r.ID, r.RequestID, r.Fingerprint, string(r.SourceType), r.Provider, r.Try, string(r.Result),
			r.Kind, r.SkipReason, r.Error, r.Elapsed.Milliseconds(), r.CreatedAt,
		)
	}
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return eris.Wrap(tx.SendBatch(ctx, batch).Close(), "postgres: insert attempts")
	})
}

func (s *PostgresStore) ListAttempts(ctx context.Context, filter AttemptFilter) ([]model.AttemptRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, request_id, fingerprint, source_type, provider, try, result, kind, skip_reason, error, elapsed_ms, created_at
		 FROM fetch_attempts
		 WHERE created_at >= $1 AND ($2 = '' OR provider = $2)
		 ORDER BY created_at DESC, try DESC LIMIT $3`,
		filter.Since, filter.Provider, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list attempts")
	}
	defer rows.Close()

	var out []model.AttemptRecord
	for rows.Next() {
		var r model.AttemptRecord
		var source, result string
		var elapsedMS int64
		if err := rows.Scan(&r.ID, &r.RequestID, &r.Fingerprint, &source, &r.Provider, &r.Try, &result,
			&r.Kind, &r.SkipReason, &r.Error, &elapsedMS, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan attempt")
		}
		r.SourceType = model.SourceType(source)
		r.Result = model.AttemptResult(result)
		r.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate attempts")
}

func (s *PostgresStore) CountFailures(ctx context.Context, provider string, since time.Time) (int, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM fetch_attempts WHERE provider = $1 AND result = $2 AND created_at >= $3`,
		provider, string(model.AttemptFailed), since,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: count failures %s", provider)
	}
	return int(n), nil
}

func scanPgBreaker(row pgx.Row) (*model.BreakerState, error) {
	var b model.BreakerState
	var state string
	if err := row.Scan(&b.Provider, &state, &b.ConsecutiveFailures, &b.OpenedAt, &b.ProbeStartedAt, &b.LastFailureAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.State = model.BreakerPhase(state)
	return &b, nil
}
