package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink receives every pushed record.
type Sink interface {
	Observe(rec Record)
}

// Exporter is a Sink that also serves a scrape endpoint.
type Exporter interface {
	Sink
	Enabled() bool
	Handler() http.Handler
}

// durationBuckets are in milliseconds.
var durationBuckets = []float64{50, 100, 250, 500, 1000, 2000, 5000}

// PrometheusExporter mirrors records into counters and histograms on its own registry.
type PrometheusExporter struct {
	registry         *prometheus.Registry
	requests         *prometheus.CounterVec
	errors           *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	totalDuration    *prometheus.HistogramVec
}

func NewPrometheusExporter() *PrometheusExporter {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &PrometheusExporter{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "proxy_requests_total",
			Help: "Total number of proxy requests",
		}, []string{"path"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "proxy_errors_total",
			Help: "Total number of proxy errors",
		}, []string{"path", "status"}),
		upstreamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "proxy_upstream_duration_ms",
			Help:    "Upstream request duration in milliseconds",
			Buckets: durationBuckets,
		}, []string{"path", "status"}),
		totalDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "proxy_total_duration_ms",
			Help:    "Total proxy request duration in milliseconds",
			Buckets: durationBuckets,
		}, []string{"path"}),
	}
}

func (e *PrometheusExporter) Observe(rec Record) {
	status := strconv.Itoa(rec.UpstreamStatus)
	e.requests.WithLabelValues(rec.Path).Inc()
	e.upstreamDuration.WithLabelValues(rec.Path, status).Observe(rec.UpstreamDurationMs)
	e.totalDuration.WithLabelValues(rec.Path).Observe(rec.TotalDurationMs)
	if rec.Failed() {
		e.errors.WithLabelValues(rec.Path, status).Inc()
	}
}

func (e *PrometheusExporter) Enabled() bool { return true }

func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{Registry: e.registry})
}

// Registry exposes the underlying registry, e.g. for extra collectors.
func (e *PrometheusExporter) Registry() *prometheus.Registry { return e.registry }

// NoopExporter discards records; its handler answers 501.
type NoopExporter struct{}

func (NoopExporter) Observe(Record) {}

func (NoopExporter) Enabled() bool { return false }

func (NoopExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotImplemented)
		_, _ = w.Write([]byte("# Prometheus metrics not enabled\n"))
	})
}
