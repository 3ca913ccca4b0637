package internal

import (
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
)

// OpenLibraryClient implements ProviderClient against OpenLibrary's public,
// unauthenticated JSON API.
type OpenLibraryClient struct {
	transport *resilientTransport
	baseURL   string
}

// OpenLibraryConfig configures the client.
type OpenLibraryConfig struct {
	BaseURL string // default "https://openlibrary.org"
	Limiter *RateLimiter
	Breaker *CircuitBreaker
	Metrics *providerMetrics
}

// NewOpenLibraryClient builds an OpenLibrary provider client.
func NewOpenLibraryClient(cfg OpenLibraryConfig) *OpenLibraryClient {
	base := cfg.BaseURL
	if base == "" {
		base = "https://openlibrary.org"
	}
	host, _ := url.Parse(base)

	return &OpenLibraryClient{
		transport: newResilientTransport("openlibrary", host.Host, cfg.Limiter, cfg.Breaker, "", "", cfg.Metrics),
		baseURL:   base,
	}
}

func (c *OpenLibraryClient) Source() IdentifierScheme { return SchemeOpenLibrary }

func (c *OpenLibraryClient) FetchByID(ctx context.Context, id string) ([]byte, error) {
	u := fmt.Sprintf("%s/works/%s.json", c.baseURL, url.PathEscape(id))
	return c.get(ctx, u)
}

func (c *OpenLibraryClient) FetchByISBN(ctx context.Context, isbn string) ([]byte, error) {
	u := fmt.Sprintf("%s/isbn/%s.json", c.baseURL, url.PathEscape(isbn))
	return c.get(ctx, u)
}

// SearchByQuery is a single-page search: OpenLibrary's search.json endpoint
// doesn't offer the kind of cursor GoogleBooks does, so this yields exactly
// one page capped at paging.MaxItems results by the server's own limit
// parameter.
func (c *OpenLibraryClient) SearchByQuery(ctx context.Context, q SearchQualifiers, paging Paging) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		limit := paging.MaxItems
		if limit <= 0 || limit > 200 {
			limit = 200
		}
		u := fmt.Sprintf("%s/search.json?title=%s&limit=%d", c.baseURL, url.QueryEscape(buildQuery(q)), limit)

		body, err := c.get(ctx, u)
		yield(body, err)
	}
}

// CoverURL builds the direct cover image URL OpenLibrary serves for isbn,
// used by CoverOrchestrator.
func (c *OpenLibraryClient) CoverURL(isbn string) string {
	return fmt.Sprintf("%s/b/isbn/%s-L.jpg", c.baseURL, url.PathEscape(isbn))
}

func (c *OpenLibraryClient) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.transport.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	return io.ReadAll(io.LimitReader(resp.Body, 16<<20))
}

var _ ProviderClient = (*OpenLibraryClient)(nil)
