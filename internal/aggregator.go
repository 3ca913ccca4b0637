package internal

import "strings"

// providerPrecedence orders sources for fields where only one provider's
// value wins outright (title, numeric fields, ratings).
var providerPrecedence = []IdentifierScheme{SchemeGoogleBooks, SchemeOpenLibrary, SchemeNYT}

// sourceRank returns providerPrecedence's index for source, or len(precedence)
// for anything unranked (sorts last).
func sourceRank(source IdentifierScheme) int {
	for i, s := range providerPrecedence {
		if s == source {
			return i
		}
	}
	return len(providerPrecedence)
}

// Aggregate merges per-provider parses of the same work into one canonical
// Book, field by field, recording which sources contributed.
//
// parsed is keyed by the provider tag each Book was parsed under (see
// ParseProviderPayload's source argument).
func Aggregate(parsed map[IdentifierScheme]Book) (Book, []IdentifierScheme) {
	sources := make([]IdentifierScheme, 0, len(parsed))
	for s := range parsed {
		sources = append(sources, s)
	}
	sortByPrecedence(sources)

	var out Book

	out.Title = firstByPrecedence(sources, parsed, func(b Book) string { return b.Title })
	if out.Title == "" {
		out.Title = firstIdentifier(sources, parsed)
	}

	out.Subtitle = firstByPrecedence(sources, parsed, func(b Book) string { return b.Subtitle })
	out.Description = longestDescription(sources, parsed)
	out.Authors = unionAuthors(sources, parsed)
	out.Genres = unionGenres(sources, parsed)
	out.ISBN10, out.ISBN13 = canonicalISBNs(sources, parsed)
	out.ExternalIDs = unionExternalIDs(sources, parsed)
	out.Qualifiers = unionQualifiers(sources, parsed)

	out.Publisher = firstByPrecedence(sources, parsed, func(b Book) string { return b.Publisher })
	out.PublishedAt = firstByPrecedence(sources, parsed, func(b Book) string { return b.PublishedAt })
	out.Language = firstByPrecedence(sources, parsed, func(b Book) string { return b.Language })
	out.PageCount = firstNonZeroInt(sources, parsed, func(b Book) int64 { return b.PageCount })

	out.RatingSum, out.RatingCount = highestPrecedenceRating(sources, parsed)

	for _, s := range sources {
		b := parsed[s]
		if b.Cover.URL != "" {
			out.Cover = b.Cover
			break
		}
	}

	return out, sources
}

func sortByPrecedence(sources []IdentifierScheme) {
	for i := 1; i < len(sources); i++ {
		for j := i; j > 0 && sourceRank(sources[j]) < sourceRank(sources[j-1]); j-- {
			sources[j], sources[j-1] = sources[j-1], sources[j]
		}
	}
}

func firstByPrecedence(sources []IdentifierScheme, parsed map[IdentifierScheme]Book, field func(Book) string) string {
	for _, s := range sources {
		if v := field(parsed[s]); v != "" {
			return v
		}
	}
	return ""
}

func firstIdentifier(sources []IdentifierScheme, parsed map[IdentifierScheme]Book) string {
	for _, s := range sources {
		b := parsed[s]
		if b.ISBN13 != "" {
			return b.ISBN13
		}
		if b.ISBN10 != "" {
			return b.ISBN10
		}
		if len(b.ExternalIDs) > 0 {
			return b.ExternalIDs[0].Value
		}
	}
	return ""
}

func firstNonZeroInt(sources []IdentifierScheme, parsed map[IdentifierScheme]Book, field func(Book) int64) int64 {
	for _, s := range sources {
		if v := field(parsed[s]); v != 0 {
			return v
		}
	}
	return 0
}

// longestDescription picks the single longest non-empty description across
// sources, independent of provider precedence.
func longestDescription(sources []IdentifierScheme, parsed map[IdentifierScheme]Book) string {
	best := ""
	for _, s := range sources {
		d := parsed[s].Description
		if len(d) > len(best) {
			best = d
		}
	}
	return best
}

// unionAuthors merges author lists across sources, deduping by normalized
// name and preserving first-appearance order under provider precedence.
func unionAuthors(sources []IdentifierScheme, parsed map[IdentifierScheme]Book) []Author {
	seen := map[string]bool{}
	var out []Author
	for _, s := range sources {
		for _, a := range parsed[s].Authors {
			key := a.NormalName
			if key == "" {
				key = normalizeName(a.Name)
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, a)
		}
	}
	return out
}

func unionGenres(sources []IdentifierScheme, parsed map[IdentifierScheme]Book) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range sources {
		for _, g := range parsed[s].Genres {
			key := normalizeName(g)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, g)
		}
	}
	return out
}

func unionExternalIDs(sources []IdentifierScheme, parsed map[IdentifierScheme]Book) []ExternalID {
	seen := map[string]bool{}
	var out []ExternalID
	for _, s := range sources {
		for _, id := range parsed[s].ExternalIDs {
			key := string(id.Scheme) + ":" + id.Value
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, id)
		}
	}
	return out
}

// unionQualifiers merges each source's qualifier map under provider
// precedence: the first source to set a given tag wins that tag outright.
func unionQualifiers(sources []IdentifierScheme, parsed map[IdentifierScheme]Book) map[string]map[string]any {
	var out map[string]map[string]any
	for _, s := range sources {
		for tag, attrs := range parsed[s].Qualifiers {
			if out == nil {
				out = map[string]map[string]any{}
			}
			if _, ok := out[tag]; !ok {
				out[tag] = attrs
			}
		}
	}
	return out
}

// canonicalISBNs collects the unique ISBN-10/13 across sources and prefers
// the ISBN-13 contributed by the highest-precedence source as canonical.
func canonicalISBNs(sources []IdentifierScheme, parsed map[IdentifierScheme]Book) (isbn10, isbn13 string) {
	for _, s := range sources {
		b := parsed[s]
		if isbn13 == "" && b.ISBN13 != "" {
			isbn13 = b.ISBN13
		}
		if isbn10 == "" && b.ISBN10 != "" {
			isbn10 = b.ISBN10
		}
	}
	if isbn13 == "" && isbn10 != "" {
		if computed := isbn10To13(isbn10); validISBN13(computed) {
			isbn13 = computed
		}
	}
	return isbn10, isbn13
}

// highestPrecedenceRating takes the rating from the single highest-precedence
// source that has one -- ratings are never averaged across providers.
func highestPrecedenceRating(sources []IdentifierScheme, parsed map[IdentifierScheme]Book) (sum, count int64) {
	for _, s := range sources {
		b := parsed[s]
		if b.RatingCount > 0 {
			return b.RatingSum, b.RatingCount
		}
	}
	return 0, 0
}

// Provenance summarizes which sources contributed to an aggregated Book, for
// audit and RawPayload bookkeeping.
type Provenance struct {
	Sources []IdentifierScheme
	Primary IdentifierScheme
}

func BuildProvenance(sources []IdentifierScheme) Provenance {
	p := Provenance{Sources: sources}
	if len(sources) > 0 {
		p.Primary = sources[0]
	}
	return p
}

// provenanceLabel renders a short human-readable summary, used in logs.
func provenanceLabel(p Provenance) string {
	tags := make([]string, len(p.Sources))
	for i, s := range p.Sources {
		tags[i] = string(s)
	}
	return strings.Join(tags, "+")
}
