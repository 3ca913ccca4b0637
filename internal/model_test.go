package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookKeyRoundTrip(t *testing.T) {
	k := NewBookKey()

	text, err := k.MarshalText()
	require.NoError(t, err)

	var got BookKey
	require.NoError(t, got.UnmarshalText(text))
	assert.Equal(t, k, got)
}

func TestBookKeyUnmarshalTextRejectsWrongLength(t *testing.T) {
	var k BookKey
	assert.Error(t, k.UnmarshalText([]byte("0123-4567")))
}

func TestNewBookKeyMonotonic(t *testing.T) {
	a := NewBookKey()
	b := NewBookKey()
	assert.NotEqual(t, a, b)
	assert.Less(t, a.String(), b.String())
}

func TestNewShortID(t *testing.T) {
	id := NewShortID()
	assert.Len(t, string(id), 10)

	other := NewShortID()
	assert.NotEqual(t, id, other)

	for _, r := range string(id) {
		assert.Contains(t, shortIDAlphabet, string(r))
	}
}

func TestBookAverageRating(t *testing.T) {
	b := Book{}
	assert.Equal(t, 0.0, b.AverageRating())

	b.RatingSum, b.RatingCount = 9, 2
	assert.Equal(t, 4.5, b.AverageRating())
}
