package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ngoyal88/pricedash/pkg/cache"
	"github.com/ngoyal88/pricedash/pkg/config"
	"github.com/ngoyal88/pricedash/pkg/metrics"
	"github.com/ngoyal88/pricedash/pkg/storage"
)

func newRouter(t *testing.T, env, secret string, exporter metrics.Exporter, store storage.Store) (http.Handler, *metrics.Collector) {
	t.Helper()
	cfg := config.NewStore(&config.Config{
		Server:  config.ServerConfig{Port: "3001", Env: env},
		Metrics: config.MetricsConfig{Secret: secret},
	})
	collector := metrics.NewCollector(3, zap.NewNop())
	if exporter != nil {
		collector.WithExporter(exporter)
	}

	r := chi.NewRouter()
	NewMetricsAPI(cfg, collector, store).RegisterRoutes(r)
	return r, collector
}

func record(i int) metrics.Record {
	return metrics.Record{
		ID:             fmt.Sprintf("req-%d", i),
		Path:           "/api/gemini",
		PromptLength:   i,
		UpstreamStatus: http.StatusOK,
		Timestamp:      int64(1700000000000 + i),
	}
}

func get(h http.Handler, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestSnapshot_Empty(t *testing.T) {
	h, _ := newRouter(t, "development", "", nil, nil)

	rr := get(h, "/api/metrics", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"count":0,"metrics":[]}`, rr.Body.String())
}

func TestSnapshot_ReturnsBoundedHistory(t *testing.T) {
	h, collector := newRouter(t, "development", "", nil, nil)
	for i := 1; i <= 5; i++ {
		collector.Push(record(i))
	}

	rr := get(h, "/api/metrics", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	var body snapshotResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Count)
	require.Len(t, body.Metrics, 3)
	assert.Equal(t, "req-3", body.Metrics[0].ID)
	assert.Equal(t, "req-5", body.Metrics[2].ID)
}

func TestPrometheusEndpoint(t *testing.T) {
	h, collector := newRouter(t, "development", "", metrics.NewPrometheusExporter(), nil)
	collector.Push(record(1))

	rr := get(h, "/metrics", nil)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `proxy_requests_total{path="/api/gemini"} 1`)
}

func TestPrometheusEndpoint_Disabled(t *testing.T) {
	h, _ := newRouter(t, "development", "", nil, nil)

	rr := get(h, "/metrics", nil)

	assert.Equal(t, http.StatusNotImplemented, rr.Code)
	assert.Equal(t, "# Prometheus metrics not enabled\n", rr.Body.String())
}

func TestProductionGate(t *testing.T) {
	h, _ := newRouter(t, "production", "s3cret", metrics.NewPrometheusExporter(), nil)

	for _, path := range []string{"/api/metrics", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			assert.Equal(t, http.StatusForbidden, get(h, path, nil).Code)
			assert.Equal(t, http.StatusForbidden, get(h, path+"?secret=wrong", nil).Code)

			assert.Equal(t, http.StatusOK, get(h, path+"?secret=s3cret", nil).Code)
			assert.Equal(t, http.StatusOK, get(h, path, map[string]string{"X-Metrics-Secret": "s3cret"}).Code)
			assert.Equal(t, http.StatusOK, get(h, path, map[string]string{"Authorization": "Bearer s3cret"}).Code)
		})
	}

	assert.Equal(t, http.StatusOK, get(h, "/health", nil).Code)
}

func TestHistory_NotEnabled(t *testing.T) {
	h, _ := newRouter(t, "development", "", nil, nil)

	assert.Equal(t, http.StatusNotFound, get(h, "/api/metrics/history", nil).Code)
}

func TestHistory_FromRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := cache.NewRedis(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	store := storage.NewRedisStore(rdb, "", 10)
	for i := 1; i <= 4; i++ {
		require.NoError(t, store.SaveRecord(context.Background(), record(i)))
	}
	h, _ := newRouter(t, "development", "", nil, store)

	rr := get(h, "/api/metrics/history?limit=2", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var body snapshotResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)
	assert.Equal(t, "req-3", body.Metrics[0].ID)
	assert.Equal(t, "req-4", body.Metrics[1].ID)

	assert.Equal(t, http.StatusBadRequest, get(h, "/api/metrics/history?limit=abc", nil).Code)
}

func TestHealth(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := cache.NewRedis(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	h, _ := newRouter(t, "development", "", nil, storage.NewRedisStore(rdb, "", 10))

	rr := get(h, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "healthy", body["storage"])

	mr.Close()
	time.Sleep(10 * time.Millisecond)

	rr = get(h, "/health", nil)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
}
