package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/civitas-labs/strategist/internal/model"
)

// Pool is the subset of pgxpool.Pool the cache uses, satisfied by
// pgxmock in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresCache implements Cache using pgxpool.
type PostgresCache struct {
	pool Pool

	nowFunc func() time.Time
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS analysis_cache (
	key        TEXT PRIMARY KEY,
	etag       TEXT NOT NULL,
	value      JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analysis_cache_expires_at ON analysis_cache(expires_at);
`

// preparedStatements are prepared on each new connection for the hot
// cache operations.
var preparedStatements = map[string]string{
	"cache_get": `SELECT etag, value, created_at, expires_at FROM analysis_cache WHERE key = $1 AND expires_at > $2`,
	"cache_set": `INSERT INTO analysis_cache (key, etag, value, created_at, expires_at) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE SET etag = EXCLUDED.etag, value = EXCLUDED.value,
		created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at`,
	"cache_invalidate": `DELETE FROM analysis_cache WHERE key LIKE $1`,
	"cache_purge":      `DELETE FROM analysis_cache WHERE expires_at <= $1`,
}

// NewPostgres creates a PostgresCache with a connection pool and runs
// the migration.
func NewPostgres(ctx context.Context, connString string) (*PostgresCache, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "cache: postgres parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "cache: postgres prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "cache: postgres create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "cache: postgres ping")
	}

	c := &PostgresCache{pool: pool, nowFunc: time.Now}
	if err := c.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return c, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests with
// pgxmock.
func NewPostgresFromPool(pool Pool) *PostgresCache {
	return &PostgresCache{pool: pool, nowFunc: time.Now}
}

func (c *PostgresCache) migrate(ctx context.Context) error {
	_, err := c.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "cache: postgres migrate")
}

func (c *PostgresCache) Close() error {
	c.pool.Close()
	return nil
}

func (c *PostgresCache) Get(ctx context.Context, key string) (*Entry, error) {
	now := c.nowFunc().UTC()
	row := c.pool.QueryRow(ctx, "cache_get", key, now)

	var (
		e         Entry
		valueJSON []byte
		expiresAt time.Time
	)
	err := row.Scan(&e.ETag, &valueJSON, &e.CreatedAt, &expiresAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "cache: postgres get %s", key)
	}
	if err := json.Unmarshal(valueJSON, &e.Value); err != nil {
		return nil, eris.Wrapf(err, "cache: postgres unmarshal %s", key)
	}
	e.Key = key
	e.RemainingTTL = expiresAt.Sub(now)
	return &e, nil
}

// Set writes the entry, superseding any prior value for the key.
func (c *PostgresCache) Set(ctx context.Context, key string, value model.ConsensusResult, ttl time.Duration) (string, error) {
	raw, etag, err := marshalValue(value)
	if err != nil {
		return "", eris.Wrapf(err, "cache: postgres marshal %s", key)
	}

	now := c.nowFunc().UTC()
	_, err = c.pool.Exec(ctx, "cache_set", key, etag, raw, now, now.Add(ttl))
	if err != nil {
		return "", eris.Wrapf(err, "cache: postgres set %s", key)
	}
	return etag, nil
}

func (c *PostgresCache) Invalidate(ctx context.Context, pattern string) (int, error) {
	tag, err := c.pool.Exec(ctx, "cache_invalidate", likePattern(pattern))
	if err != nil {
		return 0, eris.Wrapf(err, "cache: postgres invalidate %s", pattern)
	}
	return int(tag.RowsAffected()), nil
}

// PurgeExpired removes entries past their TTL.
func (c *PostgresCache) PurgeExpired(ctx context.Context) (int, error) {
	tag, err := c.pool.Exec(ctx, "cache_purge", c.nowFunc().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "cache: postgres purge expired")
	}
	return int(tag.RowsAffected()), nil
}
