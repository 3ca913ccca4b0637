package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregateTitlePrecedenceGoogleBooksWinsOverOpenLibrary(t *testing.T) {
	parsed := map[IdentifierScheme]Book{
		SchemeGoogleBooks: {Title: "Dune"},
		SchemeOpenLibrary: {Title: "Dune (Open Library title)"},
	}

	out, sources := Aggregate(parsed)

	assert.Equal(t, "Dune", out.Title)
	assert.Equal(t, []IdentifierScheme{SchemeGoogleBooks, SchemeOpenLibrary}, sources)
}

func TestAggregateFallsThroughPrecedenceWhenHighestIsEmpty(t *testing.T) {
	parsed := map[IdentifierScheme]Book{
		SchemeGoogleBooks: {},
		SchemeOpenLibrary: {Title: "Dune"},
	}

	out, _ := Aggregate(parsed)
	assert.Equal(t, "Dune", out.Title)
}

func TestAggregateRatingsHighestPrecedenceWinsNoAveraging(t *testing.T) {
	parsed := map[IdentifierScheme]Book{
		SchemeGoogleBooks: {RatingSum: 45, RatingCount: 10},
		SchemeOpenLibrary: {RatingSum: 400, RatingCount: 100},
	}

	out, _ := Aggregate(parsed)

	assert.Equal(t, int64(45), out.RatingSum)
	assert.Equal(t, int64(10), out.RatingCount)
}

func TestAggregateRatingsFallBackWhenHigherPrecedenceHasNone(t *testing.T) {
	parsed := map[IdentifierScheme]Book{
		SchemeGoogleBooks: {},
		SchemeOpenLibrary: {RatingSum: 400, RatingCount: 100},
	}

	out, _ := Aggregate(parsed)

	assert.Equal(t, int64(400), out.RatingSum)
	assert.Equal(t, int64(100), out.RatingCount)
}

func TestAggregateLongestDescriptionIgnoresPrecedence(t *testing.T) {
	parsed := map[IdentifierScheme]Book{
		SchemeGoogleBooks: {Description: "short"},
		SchemeOpenLibrary: {Description: "a much longer description of the book"},
	}

	out, _ := Aggregate(parsed)
	assert.Equal(t, "a much longer description of the book", out.Description)
}

func TestAggregateUnionAuthorsDedupesByNormalizedName(t *testing.T) {
	parsed := map[IdentifierScheme]Book{
		SchemeGoogleBooks: {Authors: []Author{{Name: "Frank Herbert", NormalName: "frank-herbert"}}},
		SchemeOpenLibrary: {Authors: []Author{{Name: "Frank Herbert", NormalName: "frank-herbert"}, {Name: "Brian Herbert", NormalName: "brian-herbert"}}},
	}

	out, _ := Aggregate(parsed)

	assert.Len(t, out.Authors, 2)
	assert.Equal(t, "Frank Herbert", out.Authors[0].Name)
	assert.Equal(t, "Brian Herbert", out.Authors[1].Name)
}

func TestAggregateCanonicalISBNsComputesISBN13FromISBN10(t *testing.T) {
	parsed := map[IdentifierScheme]Book{
		SchemeOpenLibrary: {ISBN10: "0134190440"},
	}

	out, _ := Aggregate(parsed)

	assert.Equal(t, "0134190440", out.ISBN10)
	assert.Equal(t, "9780134190440", out.ISBN13)
}

func TestAggregateUnionExternalIDsDedupesBySchemeAndValue(t *testing.T) {
	parsed := map[IdentifierScheme]Book{
		SchemeGoogleBooks: {ExternalIDs: []ExternalID{{Scheme: SchemeGoogleBooks, Value: "abc"}}},
		SchemeOpenLibrary: {ExternalIDs: []ExternalID{{Scheme: SchemeGoogleBooks, Value: "abc"}, {Scheme: SchemeOpenLibrary, Value: "OL123"}}},
	}

	out, _ := Aggregate(parsed)
	assert.Len(t, out.ExternalIDs, 2)
}

func TestAggregateUnionQualifiersMergesByTagUnderPrecedence(t *testing.T) {
	parsed := map[IdentifierScheme]Book{
		SchemeGoogleBooks: {Qualifiers: map[string]map[string]any{"intitle": {"value": "dune"}}},
		SchemeOpenLibrary: {Qualifiers: map[string]map[string]any{
			"intitle": {"value": "should not win"},
			"subject": {"value": "scifi"},
		}},
	}

	out, _ := Aggregate(parsed)
	assert.Equal(t, map[string]any{"value": "dune"}, out.Qualifiers["intitle"])
	assert.Equal(t, map[string]any{"value": "scifi"}, out.Qualifiers["subject"])
}

func TestBuildProvenancePrimaryIsFirstSource(t *testing.T) {
	p := BuildProvenance([]IdentifierScheme{SchemeGoogleBooks, SchemeNYT})
	assert.Equal(t, SchemeGoogleBooks, p.Primary)
	assert.Equal(t, []IdentifierScheme{SchemeGoogleBooks, SchemeNYT}, p.Sources)
}
