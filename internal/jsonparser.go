package internal

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

var descriptionPolicy = bluemonday.StrictPolicy()

var qualifierRE = regexp.MustCompile(`(intitle|inauthor|subject|isbn):(\S+)`)

// rawGoogleBooksVolume mirrors enough of GoogleBooks' volume JSON shape to
// extract canonical fields; other providers are normalized into the same
// shape before reaching parseOne. saleInfo/accessInfo ride alongside
// volumeInfo in the same envelope and feed the external id's echo and
// enrichment columns rather than the book row itself.
type rawGoogleBooksVolume struct {
	ID         string `json:"id"`
	VolumeInfo struct {
		Title               string   `json:"title"`
		Subtitle            string   `json:"subtitle"`
		Authors             []string `json:"authors"`
		Publisher           string   `json:"publisher"`
		PublishedDate       string   `json:"publishedDate"`
		Description         string   `json:"description"`
		IndustryIdentifiers []struct {
			Type       string `json:"type"`
			Identifier string `json:"identifier"`
		} `json:"industryIdentifiers"`
		PageCount     int64    `json:"pageCount"`
		Categories    []string `json:"categories"`
		Language      string   `json:"language"`
		AverageRating float64  `json:"averageRating"`
		RatingsCount  int64    `json:"ratingsCount"`
		ImageLinks    struct {
			Thumbnail string `json:"thumbnail"`
		} `json:"imageLinks"`
	} `json:"volumeInfo"`
	SaleInfo struct {
		ListPrice struct {
			Amount       float64 `json:"amount"`
			CurrencyCode string  `json:"currencyCode"`
		} `json:"listPrice"`
	} `json:"saleInfo"`
	AccessInfo struct {
		Viewability string `json:"viewability"`
	} `json:"accessInfo"`
}

// ParseProviderPayload turns a raw provider response into zero or more Book
// values, tolerant of the malformations real-world scrapes accumulate:
// leading garbage before the first brace/bracket, embedded control
// characters, concatenated objects, doubly-stringified JSON, and a
// pre-processed `rawJsonResponse` wrapper.
func ParseProviderPayload(source IdentifierScheme, payload []byte) ([]Book, error) {
	cleaned := stripLeadingGarbage(payload)
	cleaned = stripControlChars(cleaned)
	cleaned = unwrapDoubleEncoded(cleaned)

	chunks := splitConcatenatedObjects(cleaned)

	var books []Book
	for _, chunk := range chunks {
		chunk = unwrapRawJSONResponse(chunk)

		b, ok, err := parseOne(source, chunk)
		if err != nil {
			continue // tolerant of individual malformed chunks
		}
		if ok {
			books = append(books, b)
		}
	}

	if len(books) == 0 && len(chunks) > 0 {
		return nil, ErrCorrupt
	}

	return dedupeBooks(books), nil
}

func parseOne(source IdentifierScheme, chunk []byte) (Book, bool, error) {
	var v rawGoogleBooksVolume
	if err := sonic.Unmarshal(chunk, &v); err != nil {
		// Try a search-results envelope: {"items": [...]}
		var envelope struct {
			Items []rawGoogleBooksVolume `json:"items"`
		}
		if err2 := sonic.Unmarshal(chunk, &envelope); err2 == nil && len(envelope.Items) > 0 {
			// Only the first item is surfaced here; callers iterating search
			// results call ParseProviderPayload once per item instead.
			v = envelope.Items[0]
		} else {
			return Book{}, false, err
		}
	}

	if v.VolumeInfo.Title == "" && v.ID == "" {
		return Book{}, false, nil
	}

	b := Book{
		Title:       v.VolumeInfo.Title,
		Subtitle:    v.VolumeInfo.Subtitle,
		Description: sanitizeDescription(v.VolumeInfo.Description),
		Publisher:   v.VolumeInfo.Publisher,
		PublishedAt: normalizePublishedDate(v.VolumeInfo.PublishedDate),
		Language:    v.VolumeInfo.Language,
		PageCount:   v.VolumeInfo.PageCount,
		RatingCount: v.VolumeInfo.RatingsCount,
		Genres:      v.VolumeInfo.Categories,
	}
	if v.VolumeInfo.RatingsCount > 0 {
		b.RatingSum = int64(v.VolumeInfo.AverageRating * float64(v.VolumeInfo.RatingsCount))
	}
	if v.VolumeInfo.ImageLinks.Thumbnail != "" {
		b.Cover = CoverState{URL: v.VolumeInfo.ImageLinks.Thumbnail, Source: CoverSourceTag(source)}
	}
	for _, name := range v.VolumeInfo.Authors {
		b.Authors = append(b.Authors, Author{Name: name, NormalName: normalizeName(name)})
	}
	for _, ident := range v.VolumeInfo.IndustryIdentifiers {
		switch ident.Type {
		case "ISBN_13":
			b.ISBN13 = normalizeISBN(ident.Identifier)
		case "ISBN_10":
			b.ISBN10 = normalizeISBN(ident.Identifier)
		}
	}
	if v.ID != "" {
		b.ExternalIDs = append(b.ExternalIDs, ExternalID{
			Scheme:      source,
			Value:       v.ID,
			ISBN10Echo:  b.ISBN10,
			ISBN13Echo:  b.ISBN13,
			Rating:      v.VolumeInfo.AverageRating,
			RatingCount: v.VolumeInfo.RatingsCount,
			Price:       v.SaleInfo.ListPrice.Amount,
			Currency:    v.SaleInfo.ListPrice.CurrencyCode,
			Viewability: v.AccessInfo.Viewability,
		})
	}

	return b, true, nil
}

// sanitizeDescription strips embedded HTML from a provider description.
func sanitizeDescription(s string) string {
	unescaped := html.UnescapeString(s)
	return strings.TrimSpace(html.UnescapeString(descriptionPolicy.Sanitize(unescaped)))
}

// normalizePublishedDate accepts YYYY, YYYY-MM, or YYYY-MM-DD and expands to
// a full calendar date with 01-01/01 defaulting.
func normalizePublishedDate(s string) string {
	parts := strings.Split(s, "-")
	switch len(parts) {
	case 1:
		if len(parts[0]) == 4 {
			return parts[0] + "-01-01"
		}
	case 2:
		return s + "-01"
	case 3:
		return s
	}
	return s
}

// ExtractQualifiers scans a free-text search query for intitle:/inauthor:/
// subject:/isbn: tokens.
func ExtractQualifiers(query string) SearchQualifiers {
	q := SearchQualifiers{}
	remaining := query

	for _, m := range qualifierRE.FindAllStringSubmatch(query, -1) {
		switch m[1] {
		case "intitle":
			q.Title = m[2]
		case "inauthor":
			q.Author = m[2]
		case "subject":
			q.Subject = m[2]
		case "isbn":
			q.ISBN = m[2]
		}
		remaining = strings.Replace(remaining, m[0], "", 1)
	}
	q.Fallback = strings.TrimSpace(remaining)
	return q
}

// qualifierMap renders extracted search qualifiers as a Book's persisted
// qualifier map (tag key -> structured attributes), one entry per tag that
// was actually present in the query.
func (q SearchQualifiers) qualifierMap() map[string]map[string]any {
	m := map[string]map[string]any{}
	if q.Title != "" {
		m["intitle"] = map[string]any{"value": q.Title}
	}
	if q.Author != "" {
		m["inauthor"] = map[string]any{"value": q.Author}
	}
	if q.Subject != "" {
		m["subject"] = map[string]any{"value": q.Subject}
	}
	if q.ISBN != "" {
		m["isbn"] = map[string]any{"value": q.ISBN}
	}
	return m
}

func stripLeadingGarbage(b []byte) []byte {
	for i, c := range b {
		if c == '{' || c == '[' {
			if i < 100 {
				return b[i:]
			}
			return b
		}
		if i >= 100 {
			break
		}
	}
	return b
}

func stripControlChars(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c == 0 {
			continue
		}
		if c < 0x20 && c != '\t' && c != '\n' && c != '\r' {
			continue
		}
		out = append(out, c)
	}
	return out
}

// unwrapDoubleEncoded detects a JSON payload that is itself a JSON string
// (surrounded by quotes, internally escaped) and unescapes it once.
func unwrapDoubleEncoded(b []byte) []byte {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) < 2 || trimmed[0] != '"' || trimmed[len(trimmed)-1] != '"' {
		return b
	}
	var s string
	if err := sonic.Unmarshal(trimmed, &s); err != nil {
		return b
	}
	return []byte(s)
}

// splitConcatenatedObjects splits a payload of the form `{...}{...}` into
// individual balanced-brace chunks.
func splitConcatenatedObjects(b []byte) [][]byte {
	var chunks [][]byte
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i, c := range b {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			if depth == 0 {
				start = i
			}
			depth++
		case '}', ']':
			depth--
			if depth == 0 && start >= 0 {
				chunks = append(chunks, b[start:i+1])
				start = -1
			}
		}
	}

	if len(chunks) == 0 && len(bytes.TrimSpace(b)) > 0 {
		return [][]byte{b}
	}
	return chunks
}

// unwrapRawJSONResponse unwraps a pre-processed wrapper object of the shape
// `{"rawJsonResponse": "...", "title": "<id>"}` when the title equals the
// wrapper's own identifier -- a heuristic the upstream scraping pipeline's
// intermediate cache layer produces.
func unwrapRawJSONResponse(b []byte) []byte {
	var wrapper struct {
		RawJSONResponse string `json:"rawJsonResponse"`
		Title           string `json:"title"`
		ID              string `json:"id"`
	}
	if err := sonic.Unmarshal(b, &wrapper); err != nil {
		return b
	}
	if wrapper.RawJSONResponse == "" || wrapper.Title != wrapper.ID {
		return b
	}
	return []byte(wrapper.RawJSONResponse)
}

// dedupeBooks collapses duplicate parses by (ISBN-13 -> ISBN-10 ->
// lower(title):lower(first author)).
func dedupeBooks(books []Book) []Book {
	seen := map[string]bool{}
	out := make([]Book, 0, len(books))

	for _, b := range books {
		key := dedupeKey(b)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, b)
	}
	return out
}

func dedupeKey(b Book) string {
	if b.ISBN13 != "" {
		return "isbn13:" + b.ISBN13
	}
	if b.ISBN10 != "" {
		return "isbn10:" + b.ISBN10
	}
	firstAuthor := ""
	if len(b.Authors) > 0 {
		firstAuthor = strings.ToLower(b.Authors[0].Name)
	}
	return "title:" + strconv.Quote(strings.ToLower(b.Title)) + ":" + firstAuthor
}
