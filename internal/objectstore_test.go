package internal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjectStore struct {
	objects map[string][]byte
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: map[string][]byte{}}
}

func (f *fakeObjectStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	body, ok := f.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return body, nil
}

func (f *fakeObjectStore) PutObject(ctx context.Context, key string, body []byte) error {
	f.objects[key] = body
	return nil
}

func TestObjectStoreCachePutThenFetchRoundTrips(t *testing.T) {
	store := newFakeObjectStore()
	c := NewObjectStoreCache(store, nil)

	require.NoError(t, c.Put(t.Context(), "isbn-1", []byte(`{"title":"Dune"}`)))

	got, err := c.Fetch(t.Context(), "isbn-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Dune"}`, string(got))
}

func TestObjectStoreCacheFetchMissingReturnsNotFound(t *testing.T) {
	c := NewObjectStoreCache(newFakeObjectStore(), nil)

	_, err := c.Fetch(t.Context(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestObjectStoreCacheFetchFallsBackForUncompressedLegacyPayload(t *testing.T) {
	store := newFakeObjectStore()
	store.objects[objectKey("isbn-1")] = []byte(`{"title":"raw, uncompressed"}`)

	c := NewObjectStoreCache(store, nil)
	got, err := c.Fetch(t.Context(), "isbn-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"raw, uncompressed"}`, string(got))
}

func TestObjectStoreCacheUpdateWritesWhenNothingExists(t *testing.T) {
	store := newFakeObjectStore()
	c := NewObjectStoreCache(store, nil)

	require.NoError(t, c.Update(t.Context(), "isbn-1", &Book{Title: "Dune"}))

	got, err := c.Fetch(t.Context(), "isbn-1")
	require.NoError(t, err)
	var b Book
	require.NoError(t, unmarshalJSON(got, &b))
	assert.Equal(t, "Dune", b.Title)
}

func TestObjectStoreCacheUpdateKeepsRicherExisting(t *testing.T) {
	store := newFakeObjectStore()
	c := NewObjectStoreCache(store, nil)

	existing := &Book{Title: "Dune", ISBN10: "0441013597", ISBN13: "9780441013593", Publisher: "Ace"}
	require.NoError(t, c.Update(t.Context(), "isbn-1", existing))

	thinner := &Book{Title: "Dune"}
	require.NoError(t, c.Update(t.Context(), "isbn-1", thinner))

	got, err := c.Fetch(t.Context(), "isbn-1")
	require.NoError(t, err)
	var b Book
	require.NoError(t, unmarshalJSON(got, &b))
	assert.Equal(t, "Ace", b.Publisher, "richer existing payload should survive a thinner update")
}

func TestObjectStoreCacheUpdateReplacesWithRicherIncoming(t *testing.T) {
	store := newFakeObjectStore()
	c := NewObjectStoreCache(store, nil)

	require.NoError(t, c.Update(t.Context(), "isbn-1", &Book{Title: "Dune"}))

	richerIncoming := &Book{Title: "Dune", ISBN10: "0441013597", ISBN13: "9780441013593", Publisher: "Ace", PageCount: 412}
	require.NoError(t, c.Update(t.Context(), "isbn-1", richerIncoming))

	got, err := c.Fetch(t.Context(), "isbn-1")
	require.NoError(t, err)
	var b Book
	require.NoError(t, unmarshalJSON(got, &b))
	assert.Equal(t, "Ace", b.Publisher)
}

func TestNonNullFieldCount(t *testing.T) {
	assert.Equal(t, 0, nonNullFieldCount(&Book{}))
	assert.Equal(t, 3, nonNullFieldCount(&Book{ISBN10: "x", ISBN13: "y", Publisher: "z"}))
}
