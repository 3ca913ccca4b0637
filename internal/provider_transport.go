package internal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// providerScopedTransport restricts requests to a particular provider host.
type providerScopedTransport struct {
	Host string
	http.RoundTripper
}

// RoundTrip forces the request to stick to the given host, so redirects
// can't send us elsewhere. Helps ensure provider credentials don't leak to
// other domains.
func (t providerScopedTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r.URL.Scheme = "https"
	r.URL.Host = t.Host
	return t.RoundTripper.RoundTrip(r)
}

// providerHeaderTransport adds a static header (typically an API key) to
// every request. Best used layered over a providerScopedTransport.
type providerHeaderTransport struct {
	Key   string
	Value string
	http.RoundTripper
}

// RoundTrip always sets the header on the request.
func (t *providerHeaderTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r.Header.Add(t.Key, t.Value)
	return t.RoundTripper.RoundTrip(r)
}

// providerErrorTransport returns a non-nil statusErr for all response codes
// 400 and above so callers can classify provider failures without
// inspecting *http.Response directly.
type providerErrorTransport struct {
	http.RoundTripper
}

// RoundTrip wraps upstream 4XX and 5XX responses as a statusErr.
func (t providerErrorTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	resp, err := t.RoundTripper.RoundTrip(r)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, statusErr(resp.StatusCode)
	}
	return resp, nil
}

// resilientTransport composes RateLimiter + CircuitBreaker + RetryPolicy
// around a ProviderClient's HTTP calls as explicit, named wrapper types
// layered over providerScopedTransport/providerErrorTransport/
// providerHeaderTransport, so each provider doesn't reimplement the
// plumbing.
type resilientTransport struct {
	name    string
	limiter *RateLimiter
	breaker *CircuitBreaker
	retry   RetryConfig
	http    *http.Client
	metrics *providerMetrics
}

// newResilientTransport builds a resilientTransport scoped to host, wiring
// together a providerScopedTransport (pin scheme+host), a
// providerErrorTransport (upstream 4xx/5xx become statusErr), and an
// optional providerHeaderTransport for static auth headers.
func newResilientTransport(name, host string, limiter *RateLimiter, breaker *CircuitBreaker, authHeader, authValue string, metrics *providerMetrics) *resilientTransport {
	var rt http.RoundTripper = providerErrorTransport{http.DefaultTransport}
	rt = providerScopedTransport{Host: host, RoundTripper: rt}
	if authHeader != "" {
		rt = &providerHeaderTransport{Key: authHeader, Value: authValue, RoundTripper: rt}
	}

	return &resilientTransport{
		name:    name,
		limiter: limiter,
		breaker: breaker,
		retry:   DefaultRetryConfig(),
		http:    &http.Client{Transport: rt, Timeout: 5 * time.Second},
		metrics: metrics,
	}
}

// do executes req through the rate limiter, circuit breaker, and retry
// policy, classifying the result into the error taxonomy and feeding the
// breaker accordingly.
func (t *resilientTransport) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if !t.breaker.Allow() {
		return nil, fmt.Errorf("%s: circuit open: %w", t.name, ErrTransient)
	}

	if !t.limiter.Acquire(ctx, 5*time.Second) {
		t.breaker.RecordRateLimitFailure()
		return nil, fmt.Errorf("%s: %w", t.name, ErrRateLimited)
	}

	var resp *http.Response
	err := Retry(ctx, t.retry, func(attempt int, attemptErr error) {
		if t.metrics == nil {
			return
		}
		t.metrics.requestsSentInc()
		if attempt > 1 {
			t.metrics.retriesAdd(1)
		}
	}, func(ctx context.Context) error {
		var doErr error
		resp, doErr = t.http.Do(req.WithContext(ctx))
		if doErr != nil {
			var se statusErr
			if errors.As(doErr, &se) {
				return fmt.Errorf("%s: %w", t.name, classify(int(se)))
			}
			return fmt.Errorf("%s: %w", t.name, ErrTransient)
		}

		if resp.StatusCode >= 400 {
			return classify(resp.StatusCode)
		}
		return nil
	})

	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			t.breaker.RecordRateLimitFailure()
		} else if errors.Is(err, ErrTransient) || errors.Is(err, ErrPermanent) {
			t.breaker.RecordGeneralFailure()
		}
		return nil, err
	}

	t.breaker.RecordSuccess()
	return resp, nil
}

func classify(status int) error {
	if status == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	return classifyHTTPStatus(status)
}
