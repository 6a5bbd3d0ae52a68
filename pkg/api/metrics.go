package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ngoyal88/pricedash/pkg/config"
	"github.com/ngoyal88/pricedash/pkg/logger"
	"github.com/ngoyal88/pricedash/pkg/metrics"
	"github.com/ngoyal88/pricedash/pkg/middleware"
	"github.com/ngoyal88/pricedash/pkg/storage"
)

const maxHistoryLimit = 1000

// MetricsAPI exposes the collected call metrics and the health check.
type MetricsAPI struct {
	cfg       *config.Store
	collector *metrics.Collector
	store     storage.Store // optional Redis history
}

// NewMetricsAPI creates the metrics endpoints. store may be nil.
func NewMetricsAPI(cfg *config.Store, collector *metrics.Collector, store storage.Store) *MetricsAPI {
	return &MetricsAPI{
		cfg:       cfg,
		collector: collector,
		store:     store,
	}
}

// RegisterRoutes mounts /health and the gated metrics endpoints.
func (api *MetricsAPI) RegisterRoutes(r chi.Router) {
	r.Get("/health", api.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(middleware.MetricsGate(api.cfg))
		r.Get("/api/metrics", api.handleSnapshot)
		r.Get("/api/metrics/history", api.handleHistory)
		r.Method(http.MethodGet, "/metrics", api.collector.Handler())
	})
}

type snapshotResponse struct {
	Count   int              `json:"count"`
	Metrics []metrics.Record `json:"metrics"`
}

// handleSnapshot returns the in-memory history, oldest first.
func (api *MetricsAPI) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	recs := api.collector.Snapshot()
	if recs == nil {
		recs = []metrics.Record{}
	}
	respondJSON(w, http.StatusOK, snapshotResponse{Count: len(recs), Metrics: recs})
}

// handleHistory returns records mirrored to Redis, which survive restarts.
func (api *MetricsAPI) handleHistory(w http.ResponseWriter, r *http.Request) {
	if api.store == nil {
		respondError(w, http.StatusNotFound, "Metrics history not enabled")
		return
	}

	limit := api.collector.Capacity()
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	recs, err := api.store.Recent(ctx, limit)
	if err != nil {
		logger.From(r.Context()).Error("failed to read metrics history", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to read metrics history")
		return
	}
	if recs == nil {
		recs = []metrics.Record{}
	}
	respondJSON(w, http.StatusOK, snapshotResponse{Count: len(recs), Metrics: recs})
}

// handleHealth returns system health
func (api *MetricsAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := api.collector.WriterStats()
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
		"metrics": map[string]interface{}{
			"buffered":   len(api.collector.Snapshot()),
			"capacity":   api.collector.Capacity(),
			"prometheus": api.collector.ExporterEnabled(),
			"written":    stats.Written,
			"failed":     stats.Failed,
			"dropped":    stats.Dropped,
		},
	}

	if api.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := api.store.Ping(ctx); err != nil {
			health["storage"] = "unhealthy"
			health["status"] = "degraded"
		} else {
			health["storage"] = "healthy"
		}
	}

	respondJSON(w, http.StatusOK, health)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
