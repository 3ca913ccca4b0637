package internal

import (
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"

	"context"
)

// GoogleBooksClient implements ProviderClient against the GoogleBooks
// volumes API. It supports an authenticated (API-key) and unauthenticated
// variant; TieredResolver falls back to the latter on rate-limit or empty
// results per the engine's fetch precedence.
type GoogleBooksClient struct {
	transport  *resilientTransport
	baseURL    string
	apiKey     string // empty selects the unauthenticated variant
	maxResults int
}

// GoogleBooksConfig configures the client: API key, base URL, page size, and
// the shared resilience collaborators. It reads no environment variables.
type GoogleBooksConfig struct {
	APIKey     string
	BaseURL    string // default "https://www.googleapis.com"
	MaxResults int    // default 40, capped at 40
	Limiter    *RateLimiter
	Breaker    *CircuitBreaker
	Metrics    *providerMetrics
}

// NewGoogleBooksClient builds a GoogleBooks provider client.
func NewGoogleBooksClient(cfg GoogleBooksConfig) *GoogleBooksClient {
	base := cfg.BaseURL
	if base == "" {
		base = "https://www.googleapis.com"
	}
	host, _ := url.Parse(base)

	max := cfg.MaxResults
	if max <= 0 || max > 40 {
		max = 40
	}

	return &GoogleBooksClient{
		transport:  newResilientTransport("googlebooks", host.Host, cfg.Limiter, cfg.Breaker, "", "", cfg.Metrics),
		baseURL:    base,
		apiKey:     cfg.APIKey,
		maxResults: max,
	}
}

func (c *GoogleBooksClient) Source() IdentifierScheme { return SchemeGoogleBooks }

func (c *GoogleBooksClient) FetchByID(ctx context.Context, id string) ([]byte, error) {
	u := fmt.Sprintf("%s/books/v1/volumes/%s", c.baseURL, url.PathEscape(id))
	return c.get(ctx, c.withKey(u))
}

func (c *GoogleBooksClient) FetchByISBN(ctx context.Context, isbn string) ([]byte, error) {
	u := fmt.Sprintf("%s/books/v1/volumes?q=isbn:%s", c.baseURL, url.QueryEscape(isbn))
	return c.get(ctx, c.withKey(u))
}

// SearchByQuery streams results page by page, halting on an empty page,
// provider error, or the paging.MaxItems bound. No prefetch happens: the
// next page is only requested once the consumer asks for more.
func (c *GoogleBooksClient) SearchByQuery(ctx context.Context, q SearchQualifiers, paging Paging) iter.Seq2[[]byte, error] {
	if paging.PageSize <= 0 || paging.PageSize > 40 {
		paging.PageSize = 40
	}
	if paging.MaxItems <= 0 {
		paging.MaxItems = 200
	}

	return func(yield func([]byte, error) bool) {
		fetched := 0
		for start := 0; fetched < paging.MaxItems; start += paging.PageSize {
			u := fmt.Sprintf("%s/books/v1/volumes?q=%s&startIndex=%d&maxResults=%d",
				c.baseURL, url.QueryEscape(buildQuery(q)), start, paging.PageSize)

			body, err := c.get(ctx, c.withKey(u))
			if err != nil {
				yield(nil, err)
				return
			}
			var page struct {
				Items []struct{} `json:"items"`
			}
			if len(body) == 0 || (unmarshalJSON(body, &page) == nil && len(page.Items) == 0) {
				return
			}
			fetched += paging.PageSize
			if !yield(body, nil) {
				return
			}
		}
	}
}

func (c *GoogleBooksClient) withKey(u string) string {
	if c.apiKey == "" {
		return u
	}
	sep := "?"
	if u[len(u)-1] != '?' && containsQuery(u) {
		sep = "&"
	}
	return u + sep + "key=" + url.QueryEscape(c.apiKey)
}

func containsQuery(u string) bool {
	for _, r := range u {
		if r == '?' {
			return true
		}
	}
	return false
}

func (c *GoogleBooksClient) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.transport.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	return io.ReadAll(io.LimitReader(resp.Body, 16<<20)) // 16 MB response buffer, per engine config.
}

// buildQuery re-assembles GoogleBooks' intitle:/inauthor:/subject:/isbn:
// qualifier syntax from the parsed SearchQualifiers.
func buildQuery(q SearchQualifiers) string {
	s := ""
	if q.Title != "" {
		s += "intitle:" + q.Title + " "
	}
	if q.Author != "" {
		s += "inauthor:" + q.Author + " "
	}
	if q.Subject != "" {
		s += "subject:" + q.Subject + " "
	}
	if q.ISBN != "" {
		s += "isbn:" + q.ISBN + " "
	}
	s += q.Fallback
	return s
}

var _ ProviderClient = (*GoogleBooksClient)(nil)
