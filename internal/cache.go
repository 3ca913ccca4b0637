package internal

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
	gocache "github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	ristretto_store "github.com/eko/gocache/store/ristretto/v4"
)

// cache is a generic, TTL-aware key-value store backing both the
// in-memory and durable tiers.
type cache[T any] interface {
	Get(ctx context.Context, key string) (T, bool)
	GetWithTTL(ctx context.Context, key string) (T, time.Duration, bool)
	Set(ctx context.Context, key string, val T, ttl time.Duration)
	Delete(ctx context.Context, key string) error
	Expire(ctx context.Context, key string) error
}

// memCache is an in-process, size-capped cache backed by ristretto via
// eko/gocache.
type memCache[T any] struct {
	inner *gocache.Cache[T]
	ttls  *ristretto.Cache // tracks per-key expiry so GetWithTTL can report remaining time
}

// newMemCache creates an in-memory cache[T] with the given approximate
// maximum number of entries.
func newMemCache[T any](maxEntries int64) (*memCache[T], error) {
	rc, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	ristrettoStore := ristretto_store.NewRistretto(rc)
	gc := gocache.New[T](ristrettoStore)

	ttls, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &memCache[T]{inner: gc, ttls: ttls}, nil
}

func (m *memCache[T]) Get(ctx context.Context, key string) (T, bool) {
	v, err := m.inner.Get(ctx, key)
	if err != nil {
		var zero T
		return zero, false
	}
	return v, true
}

func (m *memCache[T]) GetWithTTL(ctx context.Context, key string) (T, time.Duration, bool) {
	v, ok := m.Get(ctx, key)
	if !ok {
		var zero T
		return zero, 0, false
	}
	var ttl time.Duration
	if expAt, ok := m.ttls.Get(key); ok {
		if t, ok := expAt.(time.Time); ok {
			ttl = time.Until(t)
		}
	}
	return v, ttl, true
}

func (m *memCache[T]) Set(ctx context.Context, key string, val T, ttl time.Duration) {
	_ = m.inner.Set(ctx, key, val, store.WithExpiration(ttl))
	m.ttls.SetWithTTL(key, time.Now().Add(ttl), 1, ttl)
}

func (m *memCache[T]) Delete(ctx context.Context, key string) error {
	m.ttls.Del(key)
	return m.inner.Delete(ctx, key)
}

func (m *memCache[T]) Expire(ctx context.Context, key string) error {
	return m.Delete(ctx, key)
}

// newMemoryCache builds a 10,000-entry memCache with string keys and []byte
// values.
func newMemoryCache() cache[[]byte] {
	c, err := newMemCache[[]byte](10_000)
	if err != nil {
		panic(err)
	}
	return c
}
