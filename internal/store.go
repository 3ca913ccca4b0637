package internal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the CanonicalStore: the single source of truth for Book records
// and their related authors, collections, and provenance, backed by
// Postgres via pgx.
type Store struct {
	pool *pgxpool.Pool

	// lockStripes stripes a mutex per BookKey so concurrent hydrations of
	// the same book serialize instead of racing each other's coalesce
	// writes. A single global lock would serialize unrelated books; one
	// lock per key would leak memory indefinitely.
	lockStripes [256]sync.Mutex
}

// NewStore opens a Store over an existing pool and ensures its schema.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) lockFor(key BookKey) *sync.Mutex {
	return &s.lockStripes[key[15]]
}

// Exists reports whether key identifies a book already in the store.
func (s *Store) Exists(ctx context.Context, key BookKey) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM books WHERE key = $1)", key[:]).Scan(&exists)
	return exists, err
}

// KeyByISBN10 looks up a canonical key by ISBN-10.
func (s *Store) KeyByISBN10(ctx context.Context, isbn10 string) (BookKey, bool, error) {
	return s.keyByColumn(ctx, "isbn10", isbn10)
}

// KeyByISBN13 looks up a canonical key by ISBN-13.
func (s *Store) KeyByISBN13(ctx context.Context, isbn13 string) (BookKey, bool, error) {
	return s.keyByColumn(ctx, "isbn13", isbn13)
}

// KeyBySlug looks up a canonical key by its slug.
func (s *Store) KeyBySlug(ctx context.Context, slug string) (BookKey, bool, error) {
	return s.keyByColumn(ctx, "slug", slug)
}

func (s *Store) keyByColumn(ctx context.Context, column, value string) (BookKey, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT key FROM books WHERE %s = $1", column), value).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return BookKey{}, false, nil
	}
	if err != nil {
		return BookKey{}, false, err
	}
	var k BookKey
	copy(k[:], raw)
	return k, true, nil
}

// KeyByExternalID looks up a canonical key by a provider-specific identifier.
func (s *Store) KeyByExternalID(ctx context.Context, scheme IdentifierScheme, value string) (BookKey, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		"SELECT book_key FROM external_ids WHERE scheme = $1 AND value = $2", string(scheme), value,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return BookKey{}, false, nil
	}
	if err != nil {
		return BookKey{}, false, err
	}
	var k BookKey
	copy(k[:], raw)
	return k, true, nil
}

// FetchByKey loads the full canonical Book for key, or ErrNotFound.
func (s *Store) FetchByKey(ctx context.Context, key BookKey) (Book, error) {
	var b Book
	b.Key = key
	var genres []string
	var qualifiers []byte
	err := s.pool.QueryRow(ctx, `
		SELECT slug, title, subtitle, description, isbn10, isbn13, publisher,
		       published_at, language, page_count, rating_sum, rating_count, genres,
		       cover_url, cover_fallback_url, cover_source, cover_width, cover_height,
		       cover_high_res, cover_object_key, cover_final,
		       dim_height_cm, dim_width_cm, dim_thickness_cm, qualifiers, created_at, updated_at
		FROM books WHERE key = $1
	`, key[:]).Scan(
		&b.Slug, &b.Title, &b.Subtitle, &b.Description, &b.ISBN10, &b.ISBN13, &b.Publisher,
		&b.PublishedAt, &b.Language, &b.PageCount, &b.RatingSum, &b.RatingCount, &genres,
		&b.Cover.URL, &b.Cover.FallbackURL, &b.Cover.Source, &b.Cover.Width, &b.Cover.Height,
		&b.Cover.HighRes, &b.Cover.ObjectKey, &b.Cover.Final,
		&b.Dims.HeightCM, &b.Dims.WidthCM, &b.Dims.ThicknessCM, &qualifiers, &b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Book{}, fmt.Errorf("book %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return Book{}, err
	}
	b.Genres = genres
	if len(qualifiers) > 0 {
		if err := unmarshalJSON(qualifiers, &b.Qualifiers); err != nil {
			return Book{}, err
		}
	}

	if b.Authors, err = s.loadAuthors(ctx, key); err != nil {
		return Book{}, err
	}
	if b.ExternalIDs, err = s.loadExternalIDs(ctx, key); err != nil {
		return Book{}, err
	}
	if b.Collections, err = s.loadCollections(ctx, key); err != nil {
		return Book{}, err
	}
	return b, nil
}

func (s *Store) loadCollections(ctx context.Context, key BookKey) ([]Collection, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.key, c.title, COALESCE(c.description, ''), c.short_id, c.updated_at
		FROM book_collections bc JOIN collections c ON c.key = bc.collection_key
		WHERE bc.book_key = $1
	`, key[:])
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Collection
	for rows.Next() {
		var c Collection
		var raw []byte
		var shortID string
		if err := rows.Scan(&raw, &c.Title, &c.Description, &shortID, &c.UpdatedAt); err != nil {
			return nil, err
		}
		copy(c.Key[:], raw)
		c.ShortID = ShortID(shortID)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) loadAuthors(ctx context.Context, key BookKey) ([]Author, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.key, a.display_name, a.normal_name, a.description, a.image_url, a.updated_at
		FROM book_authors ba JOIN authors a ON a.key = ba.author_key
		WHERE ba.book_key = $1 ORDER BY ba.position
	`, key[:])
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Author
	for rows.Next() {
		var a Author
		var raw []byte
		if err := rows.Scan(&raw, &a.Name, &a.NormalName, &a.Description, &a.ImageURL, &a.UpdatedAt); err != nil {
			return nil, err
		}
		copy(a.Key[:], raw)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) loadExternalIDs(ctx context.Context, key BookKey) ([]ExternalID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT scheme, value, isbn10_echo, isbn13_echo, rating, rating_count, price, currency, viewability
		FROM external_ids WHERE book_key = $1
	`, key[:])
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExternalID
	for rows.Next() {
		var id ExternalID
		if err := rows.Scan(
			&id.Scheme, &id.Value, &id.ISBN10Echo, &id.ISBN13Echo,
			&id.Rating, &id.RatingCount, &id.Price, &id.Currency, &id.Viewability,
		); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UpsertInput bundles everything the Upsert algorithm coalesces into the
// canonical record in one pass.
type UpsertInput struct {
	Book     Book
	Source   IdentifierScheme
	ExtID    string // the provider id incoming satisfied this hydration under
	RawBody  []byte
	FetchedAt time.Time
	ETag     string
}

// Upsert runs the full canonical coalesce algorithm in one transaction:
// resolve-or-mint the key, generate a unique slug for new books, coalesce
// the books row, upsert the external id link (nulling a conflicting ISBN
// echo), replace the raw payload, replace cover links, coalesce dimensions,
// upsert authors and their positioned join rows, and upsert collections.
// Any failure rolls back the whole transaction.
func (s *Store) Upsert(ctx context.Context, in UpsertInput) (BookKey, error) {
	key, isNew, err := s.resolveOrMintKey(ctx, in)
	if err != nil {
		return BookKey{}, err
	}

	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return BookKey{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	slug := ""
	if isNew {
		slug, err = s.mintSlug(ctx, tx, in.Book)
		if err != nil {
			return BookKey{}, err
		}
	}

	if err := s.coalesceBookRow(ctx, tx, key, slug, isNew, in.Book); err != nil {
		return BookKey{}, err
	}

	for _, id := range mergeExternalIDs(in) {
		if err := s.upsertExternalID(ctx, tx, key, id); err != nil {
			return BookKey{}, err
		}
	}

	if len(in.RawBody) > 0 {
		if err := s.replaceRawPayload(ctx, tx, key, in); err != nil {
			return BookKey{}, err
		}
	}

	if in.Book.Cover.URL != "" {
		if err := s.replaceCoverLink(ctx, tx, key, "primary", in.Book.Cover.URL); err != nil {
			return BookKey{}, err
		}
	}

	if err := s.coalesceDimensions(ctx, tx, key, in.Book.Dims); err != nil {
		return BookKey{}, err
	}

	if err := s.upsertAuthors(ctx, tx, key, in.Book.Authors); err != nil {
		return BookKey{}, err
	}

	if err := s.upsertCollections(ctx, tx, key, in.Book.Collections); err != nil {
		return BookKey{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return BookKey{}, err
	}
	return key, nil
}

// resolveOrMintKey implements upsert step 1: find the existing canonical key
// via (source,id), then ISBN-13, then ISBN-10, minting a new key on a total
// miss.
func (s *Store) resolveOrMintKey(ctx context.Context, in UpsertInput) (BookKey, bool, error) {
	if in.ExtID != "" {
		if k, ok, err := s.KeyByExternalID(ctx, in.Source, in.ExtID); err != nil {
			return BookKey{}, false, err
		} else if ok {
			return k, false, nil
		}
	}
	if in.Book.ISBN13 != "" {
		if k, ok, err := s.KeyByISBN13(ctx, in.Book.ISBN13); err != nil {
			return BookKey{}, false, err
		} else if ok {
			return k, false, nil
		}
	}
	if in.Book.ISBN10 != "" {
		if k, ok, err := s.KeyByISBN10(ctx, in.Book.ISBN10); err != nil {
			return BookKey{}, false, err
		} else if ok {
			return k, false, nil
		}
	}
	return NewBookKey(), true, nil
}

// mintSlug implements upsert step 2: slugify(title)+"-"+slugify(first
// author), truncated to a word boundary at 100 chars, uniqueified with a
// collision-resolving numeric suffix.
func (s *Store) mintSlug(ctx context.Context, tx pgx.Tx, b Book) (string, error) {
	base := slugify(b.Title)
	if len(b.Authors) > 0 {
		base += "-" + slugify(b.Authors[0].Name)
	}
	base = truncateToWordBoundary(base, 100)
	if base == "" {
		base = "untitled"
	}

	candidate := base
	for i := 2; ; i++ {
		var exists bool
		err := tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM books WHERE slug = $1)", candidate).Scan(&exists)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
}

func truncateToWordBoundary(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := strings.LastIndex(s[:max], "-")
	if cut <= 0 {
		return s[:max]
	}
	return s[:cut]
}

// coalesceBookRow implements upsert step 3: field-level coalesce -- a
// non-null incoming value overwrites, a null incoming value never overwrites
// an existing non-null one.
func (s *Store) coalesceBookRow(ctx context.Context, tx pgx.Tx, key BookKey, slug string, isNew bool, b Book) error {
	var qualifiersJSON []byte
	if len(b.Qualifiers) > 0 {
		var err error
		if qualifiersJSON, err = marshalJSON(b.Qualifiers); err != nil {
			return err
		}
	}

	if isNew {
		_, err := tx.Exec(ctx, `
			INSERT INTO books (
				key, slug, title, subtitle, description, isbn10, isbn13, publisher,
				published_at, language, page_count, rating_sum, rating_count, genres,
				cover_url, cover_fallback_url, cover_source, cover_width, cover_height,
				cover_high_res, cover_object_key, cover_final,
				dim_height_cm, dim_width_cm, dim_thickness_cm, qualifiers
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)
		`, key[:], slug, b.Title, nullIfEmpty(b.Subtitle), nullIfEmpty(b.Description),
			nullIfEmpty(b.ISBN10), nullIfEmpty(b.ISBN13), nullIfEmpty(b.Publisher),
			nullIfEmpty(b.PublishedAt), nullIfEmpty(b.Language), nullIfZero(b.PageCount),
			nullIfZero(b.RatingSum), nullIfZero(b.RatingCount), b.Genres,
			nullIfEmpty(string(b.Cover.URL)), nullIfEmpty(b.Cover.FallbackURL), nullIfEmpty(string(b.Cover.Source)),
			nullIfZeroInt(b.Cover.Width), nullIfZeroInt(b.Cover.Height), b.Cover.HighRes, nullIfEmpty(b.Cover.ObjectKey), b.Cover.Final,
			nullIfZeroFloat(b.Dims.HeightCM), nullIfZeroFloat(b.Dims.WidthCM), nullIfZeroFloat(b.Dims.ThicknessCM),
			nilIfEmptyBytes(qualifiersJSON),
		)
		return err
	}

	_, err := tx.Exec(ctx, `
		UPDATE books SET
			title = COALESCE(NULLIF($2::text, ''), title),
			subtitle = COALESCE($3, subtitle),
			description = COALESCE($4, description),
			isbn10 = COALESCE($5, isbn10),
			isbn13 = COALESCE($6, isbn13),
			publisher = COALESCE($7, publisher),
			published_at = COALESCE($8, published_at),
			language = COALESCE($9, language),
			page_count = COALESCE($10, page_count),
			rating_sum = COALESCE($11, rating_sum),
			rating_count = COALESCE($12, rating_count),
			genres = CASE WHEN $13::text[] IS NOT NULL AND array_length($13::text[],1) > 0 THEN $13 ELSE genres END,
			cover_url = CASE WHEN cover_final AND NOT $21 THEN cover_url ELSE COALESCE($14, cover_url) END,
			cover_fallback_url = CASE WHEN cover_final AND NOT $21 THEN cover_fallback_url ELSE COALESCE($15, cover_fallback_url) END,
			cover_source = CASE WHEN cover_final AND NOT $21 THEN cover_source ELSE COALESCE($16, cover_source) END,
			cover_width = CASE WHEN cover_final AND NOT $21 THEN cover_width ELSE COALESCE($17, cover_width) END,
			cover_height = CASE WHEN cover_final AND NOT $21 THEN cover_height ELSE COALESCE($18, cover_height) END,
			cover_high_res = CASE WHEN cover_final AND NOT $21 THEN cover_high_res ELSE COALESCE($19, cover_high_res) END,
			cover_object_key = CASE WHEN cover_final AND NOT $21 THEN cover_object_key ELSE COALESCE($20, cover_object_key) END,
			cover_final = cover_final OR $21,
			dim_height_cm = COALESCE($22, dim_height_cm),
			dim_width_cm = COALESCE($23, dim_width_cm),
			dim_thickness_cm = COALESCE($24, dim_thickness_cm),
			qualifiers = CASE WHEN $25::jsonb IS NOT NULL THEN COALESCE(qualifiers, '{}'::jsonb) || $25::jsonb ELSE qualifiers END,
			updated_at = now()
		WHERE key = $1
	`, key[:], orExistingTitle(b.Title), nullIfEmpty(b.Subtitle), nullIfEmpty(b.Description),
		nullIfEmpty(b.ISBN10), nullIfEmpty(b.ISBN13), nullIfEmpty(b.Publisher),
		nullIfEmpty(b.PublishedAt), nullIfEmpty(b.Language), nullIfZero(b.PageCount),
		nullIfZero(b.RatingSum), nullIfZero(b.RatingCount), b.Genres,
		nullIfEmpty(string(b.Cover.URL)), nullIfEmpty(b.Cover.FallbackURL), nullIfEmpty(string(b.Cover.Source)),
		nullIfZeroInt(b.Cover.Width), nullIfZeroInt(b.Cover.Height), b.Cover.HighRes, nullIfEmpty(b.Cover.ObjectKey), b.Cover.Final,
		nullIfZeroFloat(b.Dims.HeightCM), nullIfZeroFloat(b.Dims.WidthCM), nullIfZeroFloat(b.Dims.ThicknessCM),
		nilIfEmptyBytes(qualifiersJSON),
	)
	return err
}

// nilIfEmptyBytes converts an empty byte slice to an untyped nil so pgx binds
// SQL NULL instead of an empty jsonb value.
func nilIfEmptyBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// orExistingTitle passes title through unchanged; the UPDATE wraps it in
// NULLIF/COALESCE, so an empty incoming title leaves the prior value of the
// NOT NULL title column in place.
func orExistingTitle(title string) string { return title }

// mergeExternalIDs combines in.ExtID (the provider id the hydration was
// keyed under) with in.Book.ExternalIDs into one deduplicated set, so a
// provider id surfaced both ways doesn't upsert twice.
func mergeExternalIDs(in UpsertInput) []ExternalID {
	out := make([]ExternalID, 0, len(in.Book.ExternalIDs)+1)
	out = append(out, in.Book.ExternalIDs...)
	if in.ExtID == "" {
		return out
	}
	for _, id := range out {
		if id.Scheme == in.Source && id.Value == in.ExtID {
			return out
		}
	}
	return append(out, ExternalID{Scheme: in.Source, Value: in.ExtID})
}

// upsertExternalID implements upsert step 4: upsert the (scheme,value) row
// with whatever echo/enrichment fields came with it, coalescing enrichment
// columns on conflict rather than overwriting with nulls. A (scheme,value)
// pair already linked to a *different* book is a genuine identity conflict
// and surfaces as ErrDataIntegrity rather than silently reassigning the row.
// If the incoming provider-side ISBN echo is already recorded against a
// different external id, that echo is nulled instead -- the canonical ISBN
// on the books row retains the linkage.
func (s *Store) upsertExternalID(ctx context.Context, tx pgx.Tx, key BookKey, id ExternalID) error {
	var existingKey []byte
	err := tx.QueryRow(ctx, "SELECT book_key FROM external_ids WHERE scheme = $1 AND value = $2", string(id.Scheme), id.Value).Scan(&existingKey)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	if err == nil && string(existingKey) != string(key[:]) {
		return fmt.Errorf("external id %s:%s already linked to a different book: %w", id.Scheme, id.Value, ErrDataIntegrity)
	}

	isbn10Echo, isbn13Echo := id.ISBN10Echo, id.ISBN13Echo
	if isbn13Echo != "" {
		if linked, err := s.echoLinkedElsewhere(ctx, tx, "isbn13_echo", isbn13Echo, id.Scheme, id.Value); err != nil {
			return err
		} else if linked {
			isbn13Echo = ""
		}
	}
	if isbn10Echo != "" {
		if linked, err := s.echoLinkedElsewhere(ctx, tx, "isbn10_echo", isbn10Echo, id.Scheme, id.Value); err != nil {
			return err
		} else if linked {
			isbn10Echo = ""
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO external_ids (book_key, scheme, value, isbn10_echo, isbn13_echo, rating, rating_count, price, currency, viewability, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
		ON CONFLICT (scheme, value) DO UPDATE SET
			book_key     = excluded.book_key,
			isbn10_echo  = COALESCE(excluded.isbn10_echo, external_ids.isbn10_echo),
			isbn13_echo  = COALESCE(excluded.isbn13_echo, external_ids.isbn13_echo),
			rating       = COALESCE(excluded.rating, external_ids.rating),
			rating_count = COALESCE(excluded.rating_count, external_ids.rating_count),
			price        = COALESCE(excluded.price, external_ids.price),
			currency     = COALESCE(excluded.currency, external_ids.currency),
			viewability  = COALESCE(excluded.viewability, external_ids.viewability),
			updated_at   = now()
	`, key[:], string(id.Scheme), id.Value,
		nullIfEmpty(isbn10Echo), nullIfEmpty(isbn13Echo),
		nullIfZeroFloat(id.Rating), nullIfZero(id.RatingCount), nullIfZeroFloat(id.Price),
		nullIfEmpty(id.Currency), nullIfEmpty(id.Viewability),
	)
	return err
}

// echoLinkedElsewhere reports whether echo is already recorded in column on
// some external_ids row other than (scheme,value).
func (s *Store) echoLinkedElsewhere(ctx context.Context, tx pgx.Tx, column, echo string, scheme IdentifierScheme, value string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT EXISTS(SELECT 1 FROM external_ids WHERE %s = $1 AND NOT (scheme = $2 AND value = $3))
	`, column), echo, string(scheme), value).Scan(&exists)
	return exists, err
}

// MergeQualifier attaches or replaces a single tag's structured attributes in
// a book's qualifier map without disturbing other tags, e.g. NYT bestseller
// ingestion recording "nytBestseller" alongside a prior search's "intitle"/
// "inauthor" tokens.
func (s *Store) MergeQualifier(ctx context.Context, key BookKey, tag string, attrs map[string]any) error {
	body, err := marshalJSON(attrs)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE books SET qualifiers = COALESCE(qualifiers, '{}'::jsonb) || jsonb_build_object($2::text, $3::jsonb), updated_at = now()
		WHERE key = $1
	`, key[:], tag, body)
	return err
}

// replaceRawPayload implements upsert step 5: replace the (book,source) raw
// payload row with a freshly fetched one.
func (s *Store) replaceRawPayload(ctx context.Context, tx pgx.Tx, key BookKey, in UpsertInput) error {
	fetchedAt := in.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO raw_payloads (book_key, source, fetched_at, etag, body) VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (book_key, source) DO UPDATE SET fetched_at = excluded.fetched_at, etag = excluded.etag, body = excluded.body
	`, key[:], string(in.Source), fetchedAt, nullIfEmpty(in.ETag), in.RawBody)
	return err
}

// replaceCoverLink implements upsert step 6: replace the (book,image_type)
// cover link additively -- other image types for the same book are
// untouched.
func (s *Store) replaceCoverLink(ctx context.Context, tx pgx.Tx, key BookKey, imageType, url string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO cover_links (book_key, image_type, url, updated_at) VALUES ($1,$2,$3,now())
		ON CONFLICT (book_key, image_type) DO UPDATE SET url = excluded.url, updated_at = now()
	`, key[:], imageType, url)
	return err
}

// coalesceDimensions implements upsert step 7, folded into coalesceBookRow's
// column-level COALESCE; kept as a distinct no-op call site so the steps in
// Upsert read in the same order the algorithm specifies.
func (s *Store) coalesceDimensions(context.Context, pgx.Tx, BookKey, Dimensions) error {
	return nil
}

// upsertAuthors implements upsert step 8: upsert each author by unique
// display name, then replace this book's positioned join rows.
func (s *Store) upsertAuthors(ctx context.Context, tx pgx.Tx, key BookKey, authors []Author) error {
	if _, err := tx.Exec(ctx, "DELETE FROM book_authors WHERE book_key = $1", key[:]); err != nil {
		return err
	}

	for i, a := range authors {
		normal := a.NormalName
		if normal == "" {
			normal = normalizeName(a.Name)
		}

		var authorKey []byte
		err := tx.QueryRow(ctx, `
			INSERT INTO authors (key, display_name, normal_name, description, image_url, updated_at)
			VALUES ($1, $2, $3, $4, $5, now())
			ON CONFLICT (display_name) DO UPDATE SET
				description = COALESCE(excluded.description, authors.description),
				image_url = COALESCE(excluded.image_url, authors.image_url),
				updated_at = now()
			RETURNING key
		`, NewBookKey().bytesOrNil(), a.Name, normal, nullIfEmpty(a.Description), nullIfEmpty(a.ImageURL)).Scan(&authorKey)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO book_authors (book_key, author_key, position) VALUES ($1, $2, $3)
			ON CONFLICT (book_key, author_key) DO UPDATE SET position = excluded.position
		`, key[:], authorKey, i); err != nil {
			return err
		}
	}
	return nil
}

// bytesOrNil renders a BookKey's bytes, used to feed a candidate key into
// the authors, collections, and bestseller-list upserts' INSERT -- on
// conflict the existing row's key is returned instead via RETURNING, so the
// candidate is discarded.
func (k BookKey) bytesOrNil() []byte { return k[:] }

// upsertCollections implements upsert step 9: upsert collections by
// (type,source,normalized_name) -- with a partial uniqueness constraint on
// CATEGORY type enforced at the schema level -- then join rows to the book.
func (s *Store) upsertCollections(ctx context.Context, tx pgx.Tx, key BookKey, collections []Collection) error {
	if len(collections) == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, "DELETE FROM book_collections WHERE book_key = $1", key[:]); err != nil {
		return err
	}

	for _, c := range collections {
		normal := normalizeName(c.Title)

		var collectionKey []byte
		err := tx.QueryRow(ctx, `
			INSERT INTO collections (key, type, source, normalized_name, title, description, short_id, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			ON CONFLICT (type, source, normalized_name) DO UPDATE SET
				title = excluded.title,
				description = COALESCE(excluded.description, collections.description),
				updated_at = now()
			RETURNING key
		`, c.Key.bytesOrNil(), "CATEGORY", "aggregate", normal, c.Title, nullIfEmpty(c.Description), string(NewShortID())).Scan(&collectionKey)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO book_collections (book_key, collection_key) VALUES ($1, $2)
			ON CONFLICT (book_key, collection_key) DO NOTHING
		`, key[:], collectionKey); err != nil {
			return err
		}
	}
	return nil
}

// SitemapEntry is one row of the sitemap snapshot: a book's public slug and
// its last modification time.
type SitemapEntry struct {
	Slug      string    `json:"slug"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RecentlyViewed returns the keys of the most recently touched books, a
// proxy for "recently viewed" since request-level view logging lives
// outside the store. Used by Scheduler's cache-warming job.
func (s *Store) RecentlyViewed(ctx context.Context, limit int) ([]BookKey, error) {
	rows, err := s.pool.Query(ctx, "SELECT key FROM books ORDER BY updated_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BookKey
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var k BookKey
		copy(k[:], raw)
		out = append(out, k)
	}
	return out, rows.Err()
}

// RecordBestseller upserts a BESTSELLER_LIST collection membership for book,
// with the given list name, rank, and weeks-on-list, used by Scheduler's
// weekly NYT ingestion job.
func (s *Store) RecordBestseller(ctx context.Context, book BookKey, listName string, rank, weeksOnList int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	normal := normalizeName(listName)
	var collectionKey []byte
	err = tx.QueryRow(ctx, `
		INSERT INTO collections (key, type, source, normalized_name, title, updated_at)
		VALUES ($1, 'BESTSELLER_LIST', 'nyt', $2, $3, now())
		ON CONFLICT (type, source, normalized_name) DO UPDATE SET title = excluded.title, updated_at = now()
		RETURNING key
	`, NewBookKey().bytesOrNil(), normal, listName).Scan(&collectionKey)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO book_collections (book_key, collection_key, rank, weeks_on_list) VALUES ($1, $2, $3, $4)
		ON CONFLICT (book_key, collection_key) DO UPDATE SET rank = excluded.rank, weeks_on_list = excluded.weeks_on_list
	`, book[:], collectionKey, rank, weeksOnList); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// SitemapSnapshot returns the (slug, updated-at) pair for every book, for
// Scheduler's hourly sitemap job.
func (s *Store) SitemapSnapshot(ctx context.Context) ([]SitemapEntry, error) {
	rows, err := s.pool.Query(ctx, "SELECT slug, updated_at FROM books ORDER BY updated_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SitemapEntry
	for rows.Next() {
		var e SitemapEntry
		if err := rows.Scan(&e.Slug, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// BooksByAuthor returns the keys of every book linked to authorKey, used by
// RecommendationEngine's author-match strategy.
func (s *Store) BooksByAuthor(ctx context.Context, authorKey BookKey) ([]BookKey, error) {
	rows, err := s.pool.Query(ctx, "SELECT book_key FROM book_authors WHERE author_key = $1", authorKey[:])
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BookKey
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var k BookKey
		copy(k[:], raw)
		out = append(out, k)
	}
	return out, rows.Err()
}

// BooksByAnyGenre returns every book sharing at least one of genres, used by
// RecommendationEngine's category-overlap strategy.
func (s *Store) BooksByAnyGenre(ctx context.Context, genres []string) ([]Book, error) {
	rows, err := s.pool.Query(ctx, "SELECT key FROM books WHERE genres && $1", genres)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []BookKey
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var k BookKey
		copy(k[:], raw)
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Book, 0, len(keys))
	for _, k := range keys {
		b, err := s.FetchByKey(ctx, k)
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// ReplaceRecommendations deletes prior recommendation rows for source and
// upserts the given set, matching RecommendationEngine's
// compute-then-replace persistence contract.
func (s *Store) ReplaceRecommendations(ctx context.Context, source BookKey, recs []Recommendation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "DELETE FROM recommendations WHERE book_key = $1", source[:]); err != nil {
		return err
	}
	for _, r := range recs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO recommendations (book_key, recommended_key, score, reason, updated_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (book_key, recommended_key) DO UPDATE SET
				score = excluded.score, reason = excluded.reason, updated_at = now()
		`, source[:], r.BookKey[:], r.Score, nullIfEmpty(r.Reason)); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// UpdateCover writes CoverOrchestrator's selected cover fields directly onto
// an already-canonicalized book, bypassing the identity-resolution steps of
// Upsert since the key is already known with certainty. provenance records
// every attempt the selection pipeline made, for audit; it is attached to
// the book row rather than raw_payloads since a cover isn't sourced from any
// single provider's payload.
func (s *Store) UpdateCover(ctx context.Context, key BookKey, cover CoverState, provenance []coverAttempt) error {
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	provenanceJSON, err := marshalJSON(provenance)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE books SET
			cover_url = $2, cover_fallback_url = $3, cover_source = $4,
			cover_width = $5, cover_height = $6, cover_high_res = $7,
			cover_object_key = $8, cover_final = cover_final OR $9,
			cover_provenance = $10,
			updated_at = now()
		WHERE key = $1
	`, key[:], nullIfEmpty(cover.URL), nullIfEmpty(cover.FallbackURL), nullIfEmpty(string(cover.Source)),
		nullIfZeroInt(cover.Width), nullIfZeroInt(cover.Height), cover.HighRes,
		nullIfEmpty(cover.ObjectKey), cover.Final, provenanceJSON,
	)
	return err
}

// SearchFullText runs the database-supplied full-text search function: a
// plain-language query ranked against title and description. Promotes the
// highest-scoring rows first, matching the engine's search precedence.
func (s *Store) SearchFullText(ctx context.Context, query string, limit int) ([]Book, error) {
	if limit <= 0 || limit > 200 {
		limit = 40
	}

	rows, err := s.pool.Query(ctx, `
		SELECT key, ts_rank(doc, plainto_tsquery('english', $1)) AS rank
		FROM book_search_view
		WHERE doc @@ plainto_tsquery('english', $1)
		ORDER BY rank DESC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []BookKey
	for rows.Next() {
		var raw []byte
		var rank float64
		if err := rows.Scan(&raw, &rank); err != nil {
			return nil, err
		}
		var k BookKey
		copy(k[:], raw)
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Book, 0, len(keys))
	for _, k := range keys {
		b, err := s.FetchByKey(ctx, k)
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// RefreshSearchIndex invokes the database-supplied search view refresh
// function. Called after batch-modifying operations (bestseller ingestion,
// bulk reindex) complete, not on a fixed ticker.
func (s *Store) RefreshSearchIndex(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `SELECT refresh_book_search_view()`)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}

func nullIfZeroInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func nullIfZeroFloat(f float64) any {
	if f == 0 {
		return nil
	}
	return f
}

var _ identityLookup = (*Store)(nil)
