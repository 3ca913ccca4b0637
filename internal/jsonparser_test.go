package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProviderPayloadExtractsCoreFields(t *testing.T) {
	raw := []byte(`{
		"id": "abc123",
		"volumeInfo": {
			"title": "Dune",
			"authors": ["Frank Herbert"],
			"industryIdentifiers": [{"type": "ISBN_13", "identifier": "9780441013593"}],
			"averageRating": 4.5,
			"ratingsCount": 100
		},
		"saleInfo": {"listPrice": {"amount": 9.99, "currencyCode": "USD"}},
		"accessInfo": {"viewability": "PARTIAL"}
	}`)

	books, err := ParseProviderPayload(SchemeGoogleBooks, raw)
	require.NoError(t, err)
	require.Len(t, books, 1)

	b := books[0]
	assert.Equal(t, "Dune", b.Title)
	assert.Equal(t, "9780441013593", b.ISBN13)
	require.Len(t, b.ExternalIDs, 1)

	ext := b.ExternalIDs[0]
	assert.Equal(t, "abc123", ext.Value)
	assert.Equal(t, "9780441013593", ext.ISBN13Echo)
	assert.Equal(t, 4.5, ext.Rating)
	assert.Equal(t, int64(100), ext.RatingCount)
	assert.Equal(t, 9.99, ext.Price)
	assert.Equal(t, "USD", ext.Currency)
	assert.Equal(t, "PARTIAL", ext.Viewability)
}

func TestExtractQualifiersParsesTokensAndFallback(t *testing.T) {
	q := ExtractQualifiers("intitle:dune inauthor:herbert space opera")
	assert.Equal(t, "dune", q.Title)
	assert.Equal(t, "herbert", q.Author)
	assert.Equal(t, "space opera", q.Fallback)
}

func TestQualifierMapOnlyIncludesPresentTags(t *testing.T) {
	q := SearchQualifiers{Title: "dune", ISBN: "9780441013593"}
	m := q.qualifierMap()

	assert.Equal(t, map[string]any{"value": "dune"}, m["intitle"])
	assert.Equal(t, map[string]any{"value": "9780441013593"}, m["isbn"])
	_, hasAuthor := m["inauthor"]
	assert.False(t, hasAuthor)
}

func TestSanitizeDescriptionStripsHTML(t *testing.T) {
	got := sanitizeDescription("<b>Dune</b> &amp; sequels")
	assert.Equal(t, "Dune & sequels", got)
}

func TestNormalizePublishedDateExpandsPartialDates(t *testing.T) {
	assert.Equal(t, "1965-01-01", normalizePublishedDate("1965"))
	assert.Equal(t, "1965-06-01", normalizePublishedDate("1965-06"))
	assert.Equal(t, "1965-06-15", normalizePublishedDate("1965-06-15"))
}
