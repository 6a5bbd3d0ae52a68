package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/ngoyal88/pricedash/pkg/ai"
	"github.com/ngoyal88/pricedash/pkg/api"
	"github.com/ngoyal88/pricedash/pkg/cache"
	"github.com/ngoyal88/pricedash/pkg/config"
	"github.com/ngoyal88/pricedash/pkg/logger"
	"github.com/ngoyal88/pricedash/pkg/metrics"
	"github.com/ngoyal88/pricedash/pkg/middleware"
	"github.com/ngoyal88/pricedash/pkg/proxy"
	"github.com/ngoyal88/pricedash/pkg/static"
	"github.com/ngoyal88/pricedash/pkg/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pricedash: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config once to build the logger, then again with hot reload
	boot, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(logger.Options{
		Production: boot.IsProduction(),
		Level:      boot.Logging.Level,
		File:       boot.Logging.File,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	cfgStore, err := config.LoadAndWatch(log.Named("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := cfgStore.Get()
	if cfg.Upstream.APIKey == "" {
		log.Warn("GEMINI_API_KEY is not set; /api/gemini will answer 500")
	}
	if cfg.IsProduction() && cfg.Metrics.Secret == "" {
		log.Warn("METRICS_SECRET is not set; metrics endpoints are closed in production")
	}

	// 2. Redis (if enabled) backs the metrics history and the shared rate limiter
	var rdb *cache.Client
	if cfg.Redis.Enabled {
		rdb, err = cache.NewRedis(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		log.Info("connected to redis", zap.String("address", cfg.Redis.Address))
	}

	// 3. Metrics collector: ring buffer, JSONL file, exporter, optional history
	collector := metrics.NewCollector(cfg.Metrics.Capacity, log.Named("metrics"))
	if cfg.Metrics.File != "" {
		collector.WithFileWriter(metrics.NewFileWriter(cfg.Metrics.File, cfg.Metrics.QueueSize, log.Named("metrics")))
	}
	if cfg.Metrics.Prometheus {
		collector.WithExporter(metrics.NewPrometheusExporter())
	}

	var history storage.Store
	if rdb != nil {
		redisStore := storage.NewRedisStore(rdb, cfg.Redis.HistoryKey, cfg.Metrics.Capacity)
		collector.WithSink(storage.NewHistorySink(redisStore, 2*time.Second, log.Named("history")))
		history = redisStore
	}

	// 4. Upstream gateway
	opts := []proxy.Option{proxy.WithTimeout(cfg.Upstream.Timeout)}
	if cfg.Upstream.Breaker.Enabled {
		opts = append(opts, proxy.WithBreaker(cfg.Upstream.Breaker.Failures, cfg.Upstream.Breaker.OpenTimeout))
	}
	gw, err := proxy.New(cfg.Upstream.BaseURL, cfg.Upstream.Model, opts...)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	prompts := proxy.NewHandler(cfgStore, gw, collector, log)
	if cfg.Tokens.Enabled {
		prompts.WithTokenCounter(ai.NewTokenCounter(cfg.Tokens.Model))
	}

	// 5. Router and middleware (outer-most first)
	r := chi.NewRouter()
	if cfg.Server.TrustProxy {
		// Rewrites RemoteAddr, which keys the rate limiter.
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.RequestID(log))
	r.Use(middleware.RequestLogger)
	r.Use(middleware.Recoverer(cfgStore))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{middleware.RequestIDHeader},
	}))

	promptRoute := r.With()
	if cfg.RateLimit.Enabled {
		promptRoute = r.With(middleware.RateLimit(newLimiter(cfg, rdb)))
		log.Info("rate limiting enabled",
			zap.Float64("rps", cfg.RateLimit.RPS),
			zap.Int("burst", cfg.RateLimit.Burst),
			zap.Bool("distributed", rdb != nil),
		)
	}
	promptRoute.Method(http.MethodPost, "/api/gemini", prompts)

	api.NewMetricsAPI(cfgStore, collector, history).RegisterRoutes(r)

	if assets, err := static.New(cfg.Static.Dir); err == nil {
		r.NotFound(assets.ServeHTTP)
		log.Info("serving static bundle", zap.String("dir", cfg.Static.Dir))
	} else {
		log.Info("static bundle not served", zap.Error(err))
	}

	// 6. Serve until SIGINT/SIGTERM, then drain
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.Bool("production", cfg.IsProduction()),
			zap.String("model", cfg.Upstream.Model),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}
	if err := collector.Close(shutdownCtx); err != nil {
		log.Error("metrics drain incomplete", zap.Error(err))
	}
	stats := collector.WriterStats()
	log.Info("metrics writer closed",
		zap.Int64("written", stats.Written),
		zap.Int64("failed", stats.Failed),
		zap.Int64("dropped", stats.Dropped),
	)
	return nil
}

func newLimiter(cfg *config.Config, rdb *cache.Client) middleware.Limiter {
	if rdb != nil {
		return middleware.NewRedisLimiter(rdb.Redis(), cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}
	return middleware.NewLocalLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
}
