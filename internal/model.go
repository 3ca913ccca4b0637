package internal

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// shortIDAlphabet matches the engine's stated base-62 short identifier
// charset.
const shortIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// ShortID is a short, URL-safe public handle for a join-table row (e.g. a
// Collection's share link) that shouldn't expose the internal BookKey.
type ShortID string

// NewShortID mints a 10-character base-62 identifier.
func NewShortID() ShortID {
	id, err := gonanoid.Generate(shortIDAlphabet, 10)
	if err != nil {
		// Only errors on a non-positive length or empty alphabet, neither of
		// which can happen with the constants above.
		panic(err)
	}
	return ShortID(id)
}

// BookKey is a 128-bit, time-ordered identifier for a canonical Book. The
// first 8 bytes are a Unix millisecond timestamp and the next 2 bytes a
// per-millisecond counter, keeping keys sortable by creation order even under
// concurrent minting; the last 6 bytes are random to avoid collisions across
// replicas.
type BookKey [16]byte

var (
	bookKeyMu      sync.Mutex
	bookKeySeq     uint16
	bookKeySeqMsec int64
)

// NewBookKey mints a new time-ordered key.
func NewBookKey() BookKey {
	bookKeyMu.Lock()
	now := time.Now().UnixMilli()
	if now == bookKeySeqMsec {
		bookKeySeq++
	} else {
		bookKeySeqMsec = now
		bookKeySeq = 0
	}
	seq := bookKeySeq
	bookKeyMu.Unlock()

	var k BookKey
	binary.BigEndian.PutUint64(k[0:8], uint64(now))
	binary.BigEndian.PutUint16(k[8:10], seq)
	_, _ = rand.Read(k[10:16])
	return k
}

// String renders the key as 8-4-4-4-12 hex, matching the canonical JSON
// payload shape.
func (k BookKey) String() string {
	h := hex.EncodeToString(k[:])
	return fmt.Sprintf("%s-%s-%s-%s-%s", h[0:8], h[8:12], h[12:16], h[16:20], h[20:32])
}

// MarshalText implements encoding.TextMarshaler so a BookKey serializes as
// its string form in JSON.
func (k BookKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *BookKey) UnmarshalText(text []byte) error {
	s := string(text)
	clean := make([]byte, 0, 32)
	for _, r := range s {
		if r == '-' {
			continue
		}
		clean = append(clean, byte(r))
	}
	b, err := hex.DecodeString(string(clean))
	if err != nil {
		return fmt.Errorf("invalid book key %q: %w", s, err)
	}
	if len(b) != 16 {
		return fmt.Errorf("invalid book key %q: wrong length", s)
	}
	copy(k[:], b)
	return nil
}

// IdentifierScheme enumerates the external identifier namespaces a Book or
// Author can be linked under.
type IdentifierScheme string

const (
	SchemeISBN10      IdentifierScheme = "ISBN10"
	SchemeISBN13      IdentifierScheme = "ISBN13"
	SchemeASIN        IdentifierScheme = "ASIN"
	SchemeGoogleBooks IdentifierScheme = "GOOGLE_BOOKS"
	SchemeOpenLibrary IdentifierScheme = "OPEN_LIBRARY"
	SchemeLongitood   IdentifierScheme = "LONGITOOD"
	SchemeNYT         IdentifierScheme = "NYT"
)

// ExternalID links a canonical Book to a provider-specific identifier,
// carrying whatever provider-side ISBN echo and enrichment (ratings, price,
// viewability) came with it. Created on first successful provider lookup,
// updated on subsequent lookups when new non-null fields appear.
type ExternalID struct {
	Scheme IdentifierScheme `json:"scheme"`
	Value  string           `json:"value"`

	ISBN10Echo string `json:"isbn10Echo,omitempty"`
	ISBN13Echo string `json:"isbn13Echo,omitempty"`

	Rating      float64 `json:"rating,omitempty"`
	RatingCount int64   `json:"ratingCount,omitempty"`
	Price       float64 `json:"price,omitempty"`
	Currency    string  `json:"currency,omitempty"`
	Viewability string  `json:"viewability,omitempty"`
}

// Author is a canonical, deduplicated author record.
type Author struct {
	Key         BookKey      `json:"key"`
	Name        string       `json:"name"`
	NormalName  string       `json:"normalName"`
	Description string       `json:"description,omitempty"`
	ImageURL    string       `json:"imageUrl,omitempty"`
	ExternalIDs []ExternalID `json:"externalIds,omitempty"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// Collection groups related Books, e.g. a series.
type Collection struct {
	Key         BookKey   `json:"key"`
	ShortID     ShortID   `json:"shortId,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	BookKeys    []BookKey `json:"bookKeys,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// RawPayload preserves an unmodified provider response alongside the
// canonical record it contributed to, keyed by source, for audit and
// reprocessing.
type RawPayload struct {
	Source    string          `json:"source"`
	FetchedAt time.Time       `json:"fetchedAt"`
	ETag      string          `json:"etag,omitempty"`
	Body      []byte          `json:"body"`
	Provider  IdentifierScheme `json:"provider,omitempty"`
}

// Recommendation links a Book to related Books with a relevance score.
type Recommendation struct {
	BookKey   BookKey   `json:"bookKey"`
	Score     float64   `json:"score"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Book is the canonical, aggregated record for a single work/edition.
type Book struct {
	Key         BookKey          `json:"key"`
	Title       string           `json:"title"`
	Slug        string           `json:"slug,omitempty"`
	Subtitle    string           `json:"subtitle,omitempty"`
	Description string           `json:"description,omitempty"`
	Authors     []Author         `json:"authors"`
	Collections []Collection     `json:"collections,omitempty"`
	ISBN10      string           `json:"isbn10,omitempty"`
	ISBN13      string           `json:"isbn13,omitempty"`
	ExternalIDs []ExternalID     `json:"externalIds,omitempty"`
	Publisher   string           `json:"publisher,omitempty"`
	PublishedAt string           `json:"publishedAt,omitempty"`
	Language    string           `json:"language,omitempty"`
	PageCount   int64            `json:"pageCount,omitempty"`
	RatingSum   int64            `json:"ratingSum,omitempty"`
	RatingCount int64            `json:"ratingCount,omitempty"`
	Genres      []string         `json:"genres,omitempty"`

	// Qualifiers maps a tag key (e.g. "nytBestseller", or an "intitle"/
	// "inauthor"/"subject"/"isbn" token extracted from a search query) to its
	// structured attributes.
	Qualifiers map[string]map[string]any `json:"qualifiers,omitempty"`

	Cover CoverState `json:"cover"`
	Dims  Dimensions `json:"dimensions,omitempty"`

	Recommendations []Recommendation `json:"recommendations,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// CoverSourceTag enumerates provenance of a Book's selected cover image.
type CoverSourceTag string

const (
	CoverGoogleBooks CoverSourceTag = "GOOGLE_BOOKS"
	CoverOpenLibrary CoverSourceTag = "OPEN_LIBRARY"
	CoverLongitood   CoverSourceTag = "LONGITOOD"
	CoverS3Cache     CoverSourceTag = "S3_CACHE"
	CoverLocalCache  CoverSourceTag = "LOCAL_CACHE"
	CoverNone        CoverSourceTag = "NONE"
	CoverUndefined   CoverSourceTag = "UNDEFINED"
	CoverMock        CoverSourceTag = "MOCK"
)

// CoverState tracks the book's selected cover image and its provenance.
// Provisional → final transitions are monotone: a final cover replaces a
// provisional one, but a provisional cover never overwrites a final one.
type CoverState struct {
	URL         string         `json:"url,omitempty"`
	FallbackURL string         `json:"fallbackUrl,omitempty"`
	Source      CoverSourceTag `json:"source,omitempty"`
	Width       int            `json:"width,omitempty"`
	Height      int            `json:"height,omitempty"`
	HighRes     bool           `json:"highRes,omitempty"`
	ObjectKey   string         `json:"objectKey,omitempty"`
	Final       bool           `json:"final,omitempty"`
}

// Dimensions describes a book's physical dimensions in centimeters.
type Dimensions struct {
	HeightCM    float64 `json:"heightCm,omitempty"`
	WidthCM     float64 `json:"widthCm,omitempty"`
	ThicknessCM float64 `json:"thicknessCm,omitempty"`
}

// AverageRating returns the book's average rating, or 0 if unrated.
func (b *Book) AverageRating() float64 {
	if b.RatingCount == 0 {
		return 0
	}
	return float64(b.RatingSum) / float64(b.RatingCount)
}
