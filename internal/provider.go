package internal

import (
	"context"
	"iter"
)

// SearchQualifiers are the structured tokens JsonParser extracts from a
// free-text search query (intitle:, inauthor:, subject:, isbn:).
type SearchQualifiers struct {
	Title    string
	Author   string
	Subject  string
	ISBN     string
	Fallback string // remaining free text once qualifiers are stripped
}

// Paging bounds a provider search.
type Paging struct {
	PageSize int
	MaxItems int
}

// DefaultPaging matches the engine's stated page-size-40/max-200 search
// streaming default.
func DefaultPaging() Paging {
	return Paging{PageSize: 40, MaxItems: 200}
}

// ProviderClient is the per-provider HTTP client interface (C6). Each
// implementation wraps its calls through resilientTransport (RateLimiter +
// CircuitBreaker + RetryPolicy).
type ProviderClient interface {
	// Source identifies this provider for Aggregator provenance tracking.
	Source() IdentifierScheme

	// FetchByID fetches a single record by the provider's native ID.
	FetchByID(ctx context.Context, id string) ([]byte, error)

	// FetchByISBN fetches a single record by ISBN-10 or ISBN-13.
	FetchByISBN(ctx context.Context, isbn string) ([]byte, error)

	// SearchByQuery performs a natural-language search. Implementations that
	// support paged streaming return a finite lazy sequence of raw payloads;
	// implementations without native search (Longitood, NYT) return
	// ErrPermanent.
	SearchByQuery(ctx context.Context, q SearchQualifiers, paging Paging) iter.Seq2[[]byte, error]
}
