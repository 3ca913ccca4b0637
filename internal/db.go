package internal

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// newDB opens a pooled Postgres connection.
func newDB(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 20
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	if err := ensureCacheTable(ctx, pool); err != nil {
		return nil, err
	}
	return pool, nil
}

func ensureCacheTable(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS cache (
			key   text PRIMARY KEY,
			value bytea NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now()
		)
	`)
	return err
}

// dbCache is the durable tier of cache[[]byte]: a flat key/value table in
// Postgres, keyed by a string prefix per kind ('cr%'=cover-refresh-in-flight,
// 're%'=recommend-in-flight).
// It does not honor TTL on its own; expiry is enforced by the in-memory tier
// that wraps it in layeredCache.
type dbCache struct {
	pool *pgxpool.Pool
}

func newDBCache(pool *pgxpool.Pool) *dbCache {
	return &dbCache{pool: pool}
}

func (d *dbCache) Get(ctx context.Context, key string) ([]byte, bool) {
	var v []byte
	err := d.pool.QueryRow(ctx, "SELECT value FROM cache WHERE key = $1", key).Scan(&v)
	if err != nil {
		return nil, false
	}
	return v, true
}

func (d *dbCache) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool) {
	v, ok := d.Get(ctx, key)
	return v, 0, ok
}

func (d *dbCache) Set(ctx context.Context, key string, val []byte, _ time.Duration) {
	_, _ = d.pool.Exec(ctx, `
		INSERT INTO cache (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = now()
	`, key, val)
}

func (d *dbCache) Delete(ctx context.Context, key string) error {
	_, err := d.pool.Exec(ctx, "DELETE FROM cache WHERE key = $1", key)
	return err
}

func (d *dbCache) Expire(ctx context.Context, key string) error {
	return d.Delete(ctx, key)
}

var _ cache[[]byte] = (*dbCache)(nil)

// layeredCache checks the fast in-memory tier first and falls through to the
// durable Postgres tier on a miss, populating the fast tier on the way back
// up. Writes go to both tiers.
type layeredCache struct {
	fast cache[[]byte]
	slow cache[[]byte]
}

func newLayeredCache(fast, slow cache[[]byte]) *layeredCache {
	return &layeredCache{fast: fast, slow: slow}
}

func (l *layeredCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := l.fast.Get(ctx, key); ok {
		return v, true
	}
	v, ok := l.slow.Get(ctx, key)
	if ok {
		l.fast.Set(ctx, key, v, fuzz(time.Hour, 1.5))
	}
	return v, ok
}

func (l *layeredCache) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool) {
	if v, ttl, ok := l.fast.GetWithTTL(ctx, key); ok {
		return v, ttl, true
	}
	v, ok := l.slow.Get(ctx, key)
	if !ok {
		return nil, 0, false
	}
	ttl := fuzz(time.Hour, 1.5)
	l.fast.Set(ctx, key, v, ttl)
	return v, ttl, true
}

func (l *layeredCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	l.fast.Set(ctx, key, val, ttl)
	l.slow.Set(ctx, key, val, ttl)
}

func (l *layeredCache) Delete(ctx context.Context, key string) error {
	_ = l.fast.Delete(ctx, key)
	return l.slow.Delete(ctx, key)
}

func (l *layeredCache) Expire(ctx context.Context, key string) error {
	return l.Delete(ctx, key)
}

var _ cache[[]byte] = (*layeredCache)(nil)

// newCache builds the dual-tier cache[[]byte] used by the resolver: an
// in-memory ristretto tier over a Postgres durable tier.
func newCache(ctx context.Context, dsn string) (cache[[]byte], error) {
	pool, err := newDB(ctx, dsn)
	if err != nil {
		return nil, err
	}
	fast, err := newMemCache[[]byte](100_000)
	if err != nil {
		return nil, err
	}
	return newLayeredCache(fast, newDBCache(pool)), nil
}

// NewCacheForBusting exposes newCache to package main's bust command, which
// needs a cache[[]byte] to hand to NewRefreshPersister without otherwise
// standing up a full App.
func NewCacheForBusting(ctx context.Context, dsn string) (cache[[]byte], error) {
	return newCache(ctx, dsn)
}
