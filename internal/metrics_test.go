package internal

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestInstrument(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()

	mux := http.NewServeMux()
	mux.HandleFunc("/book/{key}", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.Handle("/debug/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	ts := httptest.NewServer(instrument(reg, mux))
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/book/abc123")
	assert.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestControllerMetrics(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()

	cm := newControllerMetrics(reg)

	// Simulate denorm flow
	cm.denormWaitingAdd(2)
	cm.denormWaitingAdd(-2)

	// Simulate refresh flow
	cm.refreshWaitingAdd(3)
	cm.refreshWaitingAdd(-3)

	// ETag matches/mismatches
	cm.etagMatchesInc()
	cm.etagMismatchesInc()

	assert.Equal(t, 0.0, testutil.ToFloat64(cm.totals.WithLabelValues("denormalization")))
	assert.Equal(t, 0.0, testutil.ToFloat64(cm.totals.WithLabelValues("refresh")))
	assert.Equal(t, 1.0, testutil.ToFloat64(cm.totals.WithLabelValues("etag_matches")))
	assert.Equal(t, 1.0, testutil.ToFloat64(cm.totals.WithLabelValues("etag_mismatches")))
}

func TestCacheMetrics(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	cm := newCacheMetrics(reg)

	cm.cacheHitInc()
	cm.cacheMissInc()

	assert.Equal(t, 1.0, testutil.ToFloat64(cm.totals.WithLabelValues("hits")))
	assert.Equal(t, 1.0, testutil.ToFloat64(cm.totals.WithLabelValues("misses")))
	assert.Equal(t, 0.5, cm.cacheHitRatioGet())
}

func TestNormalizePattern(t *testing.T) {
	assert.Equal(t, "/author", normalizePattern("/author/{foreignAuthorID}"))
	assert.Equal(t, "/book/bulk", normalizePattern("/book/bulk/"))
}
