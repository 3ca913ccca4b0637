package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "j-r-r-tolkien", normalizeName("J.R.R. Tolkien"))
	assert.Equal(t, "gabriel-garcia-marquez", normalizeName("Gabriel García Márquez"))
	assert.Equal(t, "stephen-king", normalizeName("  Stephen   King  "))
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "the-great-gatsby", slugify("The Great Gatsby"))
}

func TestNormalizeISBN(t *testing.T) {
	assert.Equal(t, "0134190440", normalizeISBN("0-13-419044-0"))
	assert.Equal(t, "013419044X", normalizeISBN("0-13-419044-x"))
}

func TestISBN10To13(t *testing.T) {
	assert.Equal(t, "9780134190440", isbn10To13("0134190440"))
	assert.Equal(t, "", isbn10To13("not-isbn"))
}

func TestValidISBN13(t *testing.T) {
	assert.True(t, validISBN13("9780134190440"))
	assert.False(t, validISBN13("9780134190441"))
	assert.False(t, validISBN13("not-13-digits"))
}
