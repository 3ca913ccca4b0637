package internal

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	nonAlphanumericRE = regexp.MustCompile(`[^a-z0-9]+`)
	multipleHyphensRE = regexp.MustCompile(`-+`)
	nonISBNDigitRE    = regexp.MustCompile(`[^0-9Xx]`)
)

// normalizeName folds an author name to a comparison key: unicode NFKD
// decomposition strips accents, then the result is lowercased and collapsed
// to alphanumeric-plus-hyphen. Two authors whose normalized names match are
// considered the same person for identity resolution purposes.
func normalizeName(s string) string {
	s = norm.NFKD.String(s)
	s = strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return -1
		}
		return r
	}, s)
	s = strings.ToLower(s)
	s = nonAlphanumericRE.ReplaceAllString(s, "-")
	s = multipleHyphensRE.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// slugify converts a title or collection name to a URL-safe slug, same
// algorithm as normalizeName but kept separate since the two may diverge
// (e.g. title slugs may want to keep numerals spelled differently).
func slugify(s string) string {
	return normalizeName(s)
}

// normalizeISBN strips hyphens/spaces and uppercases the checksum digit.
func normalizeISBN(s string) string {
	s = nonISBNDigitRE.ReplaceAllString(s, "")
	return strings.ToUpper(s)
}

// isbn10To13 converts a 10-digit ISBN to its 13-digit equivalent by
// prepending the "978" prefix and recomputing the checksum. Returns "" if
// isbn doesn't normalize to exactly 10 characters; the ISBN-10 check digit
// is not verified.
func isbn10To13(isbn string) string {
	isbn = normalizeISBN(isbn)
	if len(isbn) != 10 {
		return ""
	}
	core := "978" + isbn[:9]
	sum := 0
	for i, r := range core {
		d := int(r - '0')
		if i%2 == 0 {
			sum += d
		} else {
			sum += d * 3
		}
	}
	check := (10 - sum%10) % 10
	return core + strconv.Itoa(check)
}

// validISBN13 reports whether s is a structurally valid 13-digit ISBN,
// including checksum.
func validISBN13(s string) bool {
	s = normalizeISBN(s)
	if len(s) != 13 {
		return false
	}
	sum := 0
	for i, r := range s {
		if r < '0' || r > '9' {
			return false
		}
		d := int(r - '0')
		if i%2 == 0 {
			sum += d
		} else {
			sum += d * 3
		}
	}
	return sum%10 == 0
}
