package internal

import (
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
)

// LongitoodClient implements ProviderClient against Longitood's covers-only
// API. It has no ID or free-text search surface, so FetchByID and
// SearchByQuery report ErrPermanent; only FetchByISBN (used by
// CoverOrchestrator) does real work.
type LongitoodClient struct {
	transport *resilientTransport
	baseURL   string
}

// LongitoodConfig configures the client.
type LongitoodConfig struct {
	BaseURL string // default "https://bookcover.longitood.com"
	Limiter *RateLimiter
	Breaker *CircuitBreaker
	Metrics *providerMetrics
}

// NewLongitoodClient builds a Longitood provider client.
func NewLongitoodClient(cfg LongitoodConfig) *LongitoodClient {
	base := cfg.BaseURL
	if base == "" {
		base = "https://bookcover.longitood.com"
	}
	host, _ := url.Parse(base)

	return &LongitoodClient{
		transport: newResilientTransport("longitood", host.Host, cfg.Limiter, cfg.Breaker, "", "", cfg.Metrics),
		baseURL:   base,
	}
}

func (c *LongitoodClient) Source() IdentifierScheme { return SchemeLongitood }

func (c *LongitoodClient) FetchByID(_ context.Context, _ string) ([]byte, error) {
	return nil, fmt.Errorf("longitood: fetch by id unsupported: %w", ErrPermanent)
}

func (c *LongitoodClient) SearchByQuery(_ context.Context, _ SearchQualifiers, _ Paging) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		yield(nil, fmt.Errorf("longitood: search unsupported: %w", ErrPermanent))
	}
}

// FetchByISBN returns `{"url": "..."}` for the cover matching isbn.
func (c *LongitoodClient) FetchByISBN(ctx context.Context, isbn string) ([]byte, error) {
	u := fmt.Sprintf("%s/cover?isbn=%s", c.baseURL, url.QueryEscape(isbn))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.transport.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

var _ ProviderClient = (*LongitoodClient)(nil)
