//go:generate go run go.uber.org/mock/mockgen -typed -source identity.go -package internal -destination mock_identity_test.go . identityLookup

package internal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeIdentityLookup is a hand-written double rather than the mockgen
// output above: mock_identity_test.go is produced by `go generate` at
// build time and isn't checked in here. These tests exercise resolution
// order, which a hand-written map-backed fake expresses more directly
// than EXPECT() call sequencing would anyway.
type fakeIdentityLookup struct {
	isbn10  map[string]BookKey
	isbn13  map[string]BookKey
	slug    map[string]BookKey
	extID   map[IdentifierScheme]map[string]BookKey
	exists  map[BookKey]bool
}

func newFakeIdentityLookup() *fakeIdentityLookup {
	return &fakeIdentityLookup{
		isbn10: map[string]BookKey{},
		isbn13: map[string]BookKey{},
		slug:   map[string]BookKey{},
		extID:  map[IdentifierScheme]map[string]BookKey{},
		exists: map[BookKey]bool{},
	}
}

func (f *fakeIdentityLookup) KeyByISBN10(_ context.Context, isbn10 string) (BookKey, bool, error) {
	k, ok := f.isbn10[isbn10]
	return k, ok, nil
}

func (f *fakeIdentityLookup) KeyByISBN13(_ context.Context, isbn13 string) (BookKey, bool, error) {
	k, ok := f.isbn13[isbn13]
	return k, ok, nil
}

func (f *fakeIdentityLookup) KeyByExternalID(_ context.Context, scheme IdentifierScheme, value string) (BookKey, bool, error) {
	m, ok := f.extID[scheme]
	if !ok {
		return BookKey{}, false, nil
	}
	k, ok := m[value]
	return k, ok, nil
}

func (f *fakeIdentityLookup) KeyBySlug(_ context.Context, slug string) (BookKey, bool, error) {
	k, ok := f.slug[slug]
	return k, ok, nil
}

func (f *fakeIdentityLookup) Exists(_ context.Context, key BookKey) (bool, error) {
	return f.exists[key], nil
}

func TestIdentityResolveCanonicalKey(t *testing.T) {
	store := newFakeIdentityLookup()
	want := NewBookKey()
	store.exists[want] = true

	r := NewIdentityResolver(store)
	got, err := r.Resolve(t.Context(), want.String())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestIdentityResolveCanonicalKeyNotFound(t *testing.T) {
	store := newFakeIdentityLookup()
	k := NewBookKey()

	r := NewIdentityResolver(store)
	_, err := r.Resolve(t.Context(), k.String())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIdentityResolveISBN13(t *testing.T) {
	store := newFakeIdentityLookup()
	want := NewBookKey()
	store.isbn13["9780134190440"] = want

	r := NewIdentityResolver(store)
	got, err := r.Resolve(t.Context(), "978-0-13-419044-0")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestIdentityResolveISBN10FallsBackToISBN13(t *testing.T) {
	store := newFakeIdentityLookup()
	want := NewBookKey()
	isbn10 := "0134190440"
	store.isbn13[isbn10To13(isbn10)] = want

	r := NewIdentityResolver(store)
	got, err := r.Resolve(t.Context(), isbn10)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestIdentityResolveExternalID(t *testing.T) {
	store := newFakeIdentityLookup()
	want := NewBookKey()
	store.extID[SchemeGoogleBooks] = map[string]BookKey{"abc123": want}

	r := NewIdentityResolver(store)
	got, err := r.Resolve(t.Context(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestIdentityResolveSlug(t *testing.T) {
	store := newFakeIdentityLookup()
	want := NewBookKey()
	store.slug[slugify("The Great Gatsby")] = want

	r := NewIdentityResolver(store)
	got, err := r.Resolve(t.Context(), "The Great Gatsby")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestIdentityResolveNotFound(t *testing.T) {
	store := newFakeIdentityLookup()
	r := NewIdentityResolver(store)
	_, err := r.Resolve(t.Context(), "nothing matches this")
	assert.ErrorIs(t, err, ErrNotFound)
}
