package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusExporter_CountsRequestsAndErrors(t *testing.T) {
	e := NewPrometheusExporter()

	e.Observe(Record{Path: "/api/gemini", UpstreamStatus: 200, UpstreamDurationMs: 80, TotalDurationMs: 90})
	e.Observe(Record{Path: "/api/gemini", UpstreamStatus: 429, UpstreamDurationMs: 30, TotalDurationMs: 31})
	e.Observe(Record{Path: "/api/gemini", UpstreamStatus: 0, UpstreamDurationMs: 5, TotalDurationMs: 6})

	assert.Equal(t, 3.0, testutil.ToFloat64(e.requests.WithLabelValues("/api/gemini")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.errors.WithLabelValues("/api/gemini", "429")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.errors.WithLabelValues("/api/gemini", "0")))
	assert.Equal(t, 2, testutil.CollectAndCount(e.errors))
	assert.Equal(t, 3, testutil.CollectAndCount(e.upstreamDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(e.totalDuration))
}

func TestPrometheusExporter_Handler(t *testing.T) {
	e := NewPrometheusExporter()
	e.Observe(Record{Path: "/api/gemini", UpstreamStatus: 200, UpstreamDurationMs: 80, TotalDurationMs: 90})

	rr := httptest.NewRecorder()
	e.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `proxy_requests_total{path="/api/gemini"} 1`)
	assert.Contains(t, body, `proxy_upstream_duration_ms_bucket{path="/api/gemini",status="200",le="100"} 1`)
	assert.Contains(t, body, "go_goroutines")
	assert.True(t, e.Enabled())
}

func TestNoopExporter_Handler501(t *testing.T) {
	var e Exporter = NoopExporter{}
	e.Observe(Record{Path: "/api/gemini"})

	rr := httptest.NewRecorder()
	e.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	assert.Equal(t, http.StatusNotImplemented, rr.Code)
	assert.Contains(t, rr.Body.String(), "not enabled")
	assert.False(t, e.Enabled())
}
