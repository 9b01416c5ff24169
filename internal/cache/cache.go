// Package cache stores completed analyses keyed by (ward, depth,
// context-mode), with a content fingerprint and TTL. Storage loss
// degrades to a permanent miss, never to a failed request.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/civitas-labs/strategist/internal/config"
	"github.com/civitas-labs/strategist/internal/model"
)

// Entry is one cached analysis. Entries are immutable once written; a
// newer analysis for the same key supersedes rather than mutates.
type Entry struct {
	Key          string
	ETag         string
	Value        model.ConsensusResult
	RemainingTTL time.Duration
	CreatedAt    time.Time
}

// Cache is the result cache contract. Get returns (nil, nil) on a
// miss. Invalidate takes a prefix pattern ending in '*' and reports
// how many entries it removed.
type Cache interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, value model.ConsensusResult, ttl time.Duration) (etag string, err error)
	Invalidate(ctx context.Context, pattern string) (int, error)
	Close() error
}

// Key derives the cache key for a request. The ward slug prefix keeps
// per-ward invalidation a cheap prefix match.
func Key(ward string, depth model.Depth, mode model.ContextMode) string {
	sum := sha256.Sum256([]byte(ward + "|" + string(depth) + "|" + string(mode)))
	return "analysis:" + Slug(ward) + ":" + hex.EncodeToString(sum[:8])
}

// WardPattern is the invalidation pattern covering every depth and
// context-mode for one ward.
func WardPattern(ward string) string {
	return "analysis:" + Slug(ward) + ":*"
}

// Slug normalizes a ward name for use inside cache keys.
func Slug(ward string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(ward)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			sb.WriteByte('-')
		}
	}
	return sb.String()
}

// etagFor fingerprints the serialized value.
func etagFor(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:16])
}

func marshalValue(value model.ConsensusResult) ([]byte, string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, "", err
	}
	return raw, etagFor(raw), nil
}

// likePattern converts a trailing-'*' prefix pattern into a SQL LIKE
// pattern. Keys only contain [a-z0-9:-], so no LIKE escaping is needed.
func likePattern(pattern string) string {
	return strings.TrimSuffix(pattern, "*") + "%"
}

// New builds the cache the configuration names. Any storage failure
// at open time degrades to the no-op cache so orchestration proceeds
// uncached.
func New(ctx context.Context, cfg config.CacheConfig) Cache {
	var (
		c   Cache
		err error
	)
	switch cfg.Driver {
	case "sqlite":
		c, err = NewSQLite(ctx, cfg.DatabaseURL)
	case "postgres":
		c, err = NewPostgres(ctx, cfg.DatabaseURL)
	default:
		return Noop{}
	}
	if err != nil {
		zap.L().Warn("result cache unavailable, degrading to uncached operation",
			zap.String("driver", cfg.Driver),
			zap.Error(err),
		)
		return Noop{}
	}
	return WithFallback(c)
}

// Noop is the always-miss cache used when storage is absent.
type Noop struct{}

func (Noop) Get(context.Context, string) (*Entry, error) { return nil, nil }

func (Noop) Set(_ context.Context, _ string, value model.ConsensusResult, _ time.Duration) (string, error) {
	_, etag, err := marshalValue(value)
	return etag, err
}

func (Noop) Invalidate(context.Context, string) (int, error) { return 0, nil }

func (Noop) Close() error { return nil }

// fallback wraps a real cache so runtime storage errors behave as
// misses instead of failing the request.
type fallback struct {
	inner Cache
}

// WithFallback makes every operation on inner non-fatal.
func WithFallback(inner Cache) Cache {
	return &fallback{inner: inner}
}

func (f *fallback) Get(ctx context.Context, key string) (*Entry, error) {
	e, err := f.inner.Get(ctx, key)
	if err != nil {
		zap.L().Warn("cache get failed, treating as miss", zap.String("key", key), zap.Error(err))
		return nil, nil
	}
	return e, nil
}

func (f *fallback) Set(ctx context.Context, key string, value model.ConsensusResult, ttl time.Duration) (string, error) {
	etag, err := f.inner.Set(ctx, key, value, ttl)
	if err != nil {
		zap.L().Warn("cache set failed, result not cached", zap.String("key", key), zap.Error(err))
		return "", nil
	}
	return etag, nil
}

func (f *fallback) Invalidate(ctx context.Context, pattern string) (int, error) {
	n, err := f.inner.Invalidate(ctx, pattern)
	if err != nil {
		zap.L().Warn("cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
		return 0, nil
	}
	return n, nil
}

func (f *fallback) Close() error { return f.inner.Close() }
