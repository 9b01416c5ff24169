package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/civitas-labs/strategist/internal/model"
)

// SQLiteCache implements Cache using modernc.org/sqlite.
type SQLiteCache struct {
	db *sql.DB

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS analysis_cache (
	key        TEXT PRIMARY KEY,
	etag       TEXT NOT NULL,
	value      TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analysis_cache_expires_at ON analysis_cache(expires_at);
`

// NewSQLite opens a SQLite cache at the given path and configures WAL
// mode.
func NewSQLite(ctx context.Context, dsn string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "cache: sqlite open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "cache: sqlite exec %s", pragma)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteMigration); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "cache: sqlite migrate")
	}
	return &SQLiteCache{db: db, nowFunc: time.Now}, nil
}

func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

func (c *SQLiteCache) Get(ctx context.Context, key string) (*Entry, error) {
	now := c.nowFunc().UTC()
	row := c.db.QueryRowContext(ctx,
		`SELECT etag, value, created_at, expires_at FROM analysis_cache
		 WHERE key = ? AND expires_at > ?`,
		key, now,
	)

	var (
		e         Entry
		valueJSON string
		expiresAt time.Time
	)
	err := row.Scan(&e.ETag, &valueJSON, &e.CreatedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "cache: sqlite get %s", key)
	}
	if err := json.Unmarshal([]byte(valueJSON), &e.Value); err != nil {
		return nil, eris.Wrapf(err, "cache: sqlite unmarshal %s", key)
	}
	e.Key = key
	e.RemainingTTL = expiresAt.Sub(now)
	return &e, nil
}

// Set writes the entry, superseding any prior value for the key.
func (c *SQLiteCache) Set(ctx context.Context, key string, value model.ConsensusResult, ttl time.Duration) (string, error) {
	raw, etag, err := marshalValue(value)
	if err != nil {
		return "", eris.Wrapf(err, "cache: sqlite marshal %s", key)
	}

	now := c.nowFunc().UTC()
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO analysis_cache (key, etag, value, created_at, expires_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET etag = excluded.etag, value = excluded.value,
		     created_at = excluded.created_at, expires_at = excluded.expires_at`,
		key, etag, string(raw), now, now.Add(ttl),
	)
	if err != nil {
		return "", eris.Wrapf(err, "cache: sqlite set %s", key)
	}
	return etag, nil
}

func (c *SQLiteCache) Invalidate(ctx context.Context, pattern string) (int, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM analysis_cache WHERE key LIKE ?`,
		likePattern(pattern),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "cache: sqlite invalidate %s", pattern)
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "cache: sqlite rows affected")
}

// PurgeExpired removes entries past their TTL. Run periodically; Get
// never returns expired entries regardless.
func (c *SQLiteCache) PurgeExpired(ctx context.Context) (int, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM analysis_cache WHERE expires_at <= ?`,
		c.nowFunc().UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "cache: sqlite purge expired")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "cache: sqlite rows affected")
}
