package internal

import (
	"errors"
	"fmt"
	"net/http"
)

// statusErr carries an upstream HTTP status code so handlers can reflect it
// without string matching.
type statusErr int

func (e statusErr) Error() string {
	return fmt.Sprintf("upstream responded %d %s", int(e), http.StatusText(int(e)))
}

// Status returns the HTTP status this error represents.
func (e statusErr) Status() int {
	return int(e)
}

// Error taxonomy, per the engine's error propagation policy: every failure
// a component returns collapses into one of these six sentinels so callers
// can branch with errors.Is instead of inspecting provider-specific errors.
var (
	// ErrNotFound means the identifier is well-formed but no record exists
	// upstream or locally. Terminal; never retried.
	ErrNotFound = errors.New("not found")

	// ErrRateLimited means the caller should back off and retry later. Retry
	// treats it as retriable with its usual backoff; no Retry-After header is
	// consulted.
	ErrRateLimited = errors.New("rate limited")

	// ErrTransient means the failure is likely to succeed on retry (network
	// blip, 5xx, timeout).
	ErrTransient = errors.New("transient failure")

	// ErrPermanent means retrying will not help (4xx other than 404/429,
	// malformed request).
	ErrPermanent = errors.New("permanent failure")

	// ErrDataIntegrity means a write would violate an invariant (e.g. an
	// external id already linked to a different book) and was rejected.
	ErrDataIntegrity = errors.New("data integrity violation")

	// ErrCorrupt means stored or fetched bytes could not be parsed at all.
	ErrCorrupt = errors.New("corrupt payload")
)

// errBadRequest and errMissingIDs are handler-level sentinels for
// malformed HTTP input.
var (
	errBadRequest = fmt.Errorf("bad request: %w", ErrPermanent)
	errMissingIDs = fmt.Errorf("missing ids: %w", ErrPermanent)
)

// classifyHTTPStatus maps an upstream HTTP status code onto the taxonomy.
// Used by provider clients and the retry policy to decide whether to retry.
func classifyHTTPStatus(code int) error {
	switch {
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == http.StatusRequestTimeout, code >= 500:
		return ErrTransient
	case code >= 400:
		return ErrPermanent
	default:
		return nil
	}
}
