package internal

import (
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
)

// NYTClient implements ProviderClient against the New York Times Books API,
// used by Scheduler's weekly bestseller ingestion. Like Longitood it has no
// by-ID or free-text search surface in this engine's usage.
type NYTClient struct {
	transport *resilientTransport
	baseURL   string
	apiKey    string
}

// NYTConfig configures the client; it reads no environment variables.
type NYTConfig struct {
	APIKey  string
	BaseURL string // default "https://api.nytimes.com/svc/books/v3"
	Limiter *RateLimiter
	Breaker *CircuitBreaker
	Metrics *providerMetrics
}

// NewNYTClient builds an NYT provider client.
func NewNYTClient(cfg NYTConfig) *NYTClient {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.nytimes.com/svc/books/v3"
	}
	host, _ := url.Parse(base)

	return &NYTClient{
		transport: newResilientTransport("nyt", host.Host, cfg.Limiter, cfg.Breaker, "", "", cfg.Metrics),
		baseURL:   base,
		apiKey:    cfg.APIKey,
	}
}

func (c *NYTClient) Source() IdentifierScheme { return SchemeNYT }

func (c *NYTClient) FetchByID(_ context.Context, _ string) ([]byte, error) {
	return nil, fmt.Errorf("nyt: fetch by id unsupported: %w", ErrPermanent)
}

func (c *NYTClient) FetchByISBN(_ context.Context, _ string) ([]byte, error) {
	return nil, fmt.Errorf("nyt: fetch by isbn unsupported: %w", ErrPermanent)
}

func (c *NYTClient) SearchByQuery(_ context.Context, _ SearchQualifiers, _ Paging) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		yield(nil, fmt.Errorf("nyt: search unsupported: %w", ErrPermanent))
	}
}

// FullOverview fetches every current bestseller list in one call, used by
// Scheduler's weekly ingestion job.
func (c *NYTClient) FullOverview(ctx context.Context) ([]byte, error) {
	u := fmt.Sprintf("%s/lists/full-overview.json?api-key=%s", c.baseURL, url.QueryEscape(c.apiKey))

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

var _ ProviderClient = (*NYTClient)(nil)
