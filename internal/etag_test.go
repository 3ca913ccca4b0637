package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestETagWriterMatchesForIdenticalBytes(t *testing.T) {
	a := newETagWriter()
	b := newETagWriter()

	_, _ = a.Write([]byte(`{"title":"Dune"}`))
	_, _ = b.Write([]byte(`{"title":"Dune"}`))

	assert.Equal(t, a.ETag(), b.ETag())
}

func TestETagWriterDiffersForDifferentBytes(t *testing.T) {
	a := newETagWriter()
	b := newETagWriter()

	_, _ = a.Write([]byte(`{"title":"Dune"}`))
	_, _ = b.Write([]byte(`{"title":"Dune Messiah"}`))

	assert.NotEqual(t, a.ETag(), b.ETag())
}

func TestETagGateUnchanged(t *testing.T) {
	g := newETagGate()

	assert.False(t, g.Unchanged("book-1", "tag-a"), "first observation is never unchanged")
	assert.True(t, g.Unchanged("book-1", "tag-a"), "same tag the second time should report unchanged")
	assert.False(t, g.Unchanged("book-1", "tag-b"), "a new tag should report changed")
	assert.False(t, g.Unchanged("book-2", "tag-a"), "a different key starts fresh")
}

func TestETagOfStableForEquivalentValues(t *testing.T) {
	type payload struct {
		Name string
		N    int
	}

	a, err := etagOf(payload{Name: "x", N: 1})
	assert.NoError(t, err)
	b, err := etagOf(payload{Name: "x", N: 1})
	assert.NoError(t, err)
	c, err := etagOf(payload{Name: "x", N: 2})
	assert.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
