package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshPersister(t *testing.T) {
	ctx := t.Context()

	dsn := "postgres://postgres@localhost:5432/test"
	cache, err := newCache(ctx, dsn)
	require.NoError(t, err)

	p, err := NewRefreshPersister(ctx, cache, dsn)
	require.NoError(t, err)

	keys, err := p.Persisted(ctx, "cover")
	require.NoError(t, err)
	assert.Empty(t, keys)

	k1, k2, k3 := keyFor(1), keyFor(2), keyFor(3)
	assert.NoError(t, p.Persist(ctx, "cover", k2))
	assert.NoError(t, p.Persist(ctx, "cover", k1))
	assert.NoError(t, p.Persist(ctx, "cover", k1))
	assert.NoError(t, p.Persist(ctx, "cover", k3))

	keys, err = p.Persisted(ctx, "cover")
	require.NoError(t, err)
	assert.ElementsMatch(t, []BookKey{k1, k2, k3}, keys)

	// A different job prefix doesn't see "cover"'s in-flight set.
	recKeys, err := p.Persisted(ctx, "recommend")
	require.NoError(t, err)
	assert.Empty(t, recKeys)

	assert.NoError(t, p.Delete(ctx, "cover", k1))
	assert.NoError(t, p.Delete(ctx, "cover", k2))
	assert.NoError(t, p.Delete(ctx, "cover", k3))
	assert.NoError(t, p.Delete(ctx, "cover", keyFor(10)))
}
