package internal

import (
	"context"
	"fmt"
	"regexp"
)

var bookKeyFormatRE = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// identityLookup abstracts the CanonicalStore lookups IdentityResolver needs.
// Satisfied by Store (store.go).
type identityLookup interface {
	KeyByISBN10(ctx context.Context, isbn10 string) (BookKey, bool, error)
	KeyByISBN13(ctx context.Context, isbn13 string) (BookKey, bool, error)
	KeyByExternalID(ctx context.Context, scheme IdentifierScheme, value string) (BookKey, bool, error)
	KeyBySlug(ctx context.Context, slug string) (BookKey, bool, error)
	Exists(ctx context.Context, key BookKey) (bool, error)
}

// IdentityResolver maps any inbound identifier (canonical key, ISBN-10/13,
// external provider ID, or slug) to a canonical BookKey.
type IdentityResolver struct {
	store identityLookup
}

// NewIdentityResolver creates a resolver backed by store.
func NewIdentityResolver(store identityLookup) *IdentityResolver {
	return &IdentityResolver{store: store}
}

// Resolve maps identifier to a canonical BookKey, trying tiers in the order
// the engine specifies: canonical key format, then ISBN, then external
// provider ID, then slug. Returns ErrNotFound if nothing matches.
func (r *IdentityResolver) Resolve(ctx context.Context, identifier string) (BookKey, error) {
	if bookKeyFormatRE.MatchString(identifier) {
		var k BookKey
		if err := k.UnmarshalText([]byte(identifier)); err == nil {
			ok, err := r.store.Exists(ctx, k)
			if err != nil {
				return BookKey{}, err
			}
			if ok {
				return k, nil
			}
		}
		return BookKey{}, fmt.Errorf("canonical key %q: %w", identifier, ErrNotFound)
	}

	if isbn := normalizeISBN(identifier); validISBN13(isbn) {
		if k, ok, err := r.store.KeyByISBN13(ctx, isbn); err != nil {
			return BookKey{}, err
		} else if ok {
			return k, nil
		}
	} else if len(isbn) == 10 {
		if k, ok, err := r.store.KeyByISBN10(ctx, isbn); err != nil {
			return BookKey{}, err
		} else if ok {
			return k, nil
		}
		// Fall back to the canonical ISBN-13 column by converting to
		// ISBN-13 and trying again, since some providers only persist the
		// 13-digit form even when we received a 10-digit request. The
		// provider-side ISBN echoes on external ids are not consulted.
		if isbn13 := isbn10To13(isbn); isbn13 != "" {
			if k, ok, err := r.store.KeyByISBN13(ctx, isbn13); err != nil {
				return BookKey{}, err
			} else if ok {
				return k, nil
			}
		}
	}

	for _, scheme := range []IdentifierScheme{
		SchemeGoogleBooks, SchemeOpenLibrary, SchemeLongitood, SchemeNYT, SchemeASIN,
	} {
		if k, ok, err := r.store.KeyByExternalID(ctx, scheme, identifier); err != nil {
			return BookKey{}, err
		} else if ok {
			return k, nil
		}
	}

	slug := slugify(identifier)
	if k, ok, err := r.store.KeyBySlug(ctx, slug); err != nil {
		return BookKey{}, err
	} else if ok {
		return k, nil
	}

	return BookKey{}, fmt.Errorf("identifier %q: %w", identifier, ErrNotFound)
}
