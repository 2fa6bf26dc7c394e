package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kalash/swarm-cdn/internal/cache"
	"github.com/kalash/swarm-cdn/internal/config"
	"github.com/kalash/swarm-cdn/internal/logging"
	"github.com/kalash/swarm-cdn/internal/origin"
	"github.com/kalash/swarm-cdn/internal/seeder"
	"github.com/kalash/swarm-cdn/internal/supervisor"
	"github.com/kalash/swarm-cdn/pkg/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("load config")
	}
	logging.Init(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Seeder.CachePath, 0o755); err != nil {
		logging.Fatal().Err(err).Str("path", cfg.Seeder.CachePath).Msg("create cache dir")
	}

	rdb, err := config.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logging.Fatal().Err(err).Msg("redis unavailable")
	}
	defer rdb.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics()
	if err := m.Register(registry); err != nil {
		logging.Fatal().Err(err).Msg("register metrics")
	}

	manager := seeder.NewManager(rdb, cache.NewScanner(cfg.Seeder.CachePath), cfg.Seeder.Manager(), m)
	scheduler := seeder.NewScheduler(manager, cfg.Seeder.Scheduler())

	var fetcher *origin.Fetcher
	if cfg.Origin.Enabled {
		store, err := origin.NewMinioStore(cfg.Origin.Minio())
		if err != nil {
			logging.Fatal().Err(err).Str("endpoint", cfg.Origin.Endpoint).Msg("origin store")
		}
		fetcher = origin.NewFetcher(cfg.Origin.Fetcher(), store, cache.NewWriter(cfg.Seeder.CachePath), manager, m)
	}
	segments := seeder.NewHandler(cache.NewLocator(cfg.Seeder.CachePath), fetcher, m)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Seeder.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"Range", "Accept", "Origin"},
		ExposedHeaders: []string{"Content-Length", "Content-Type", "Last-Modified"},
		MaxAge:         300,
	}))
	r.Use(m.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := rdb.Ping(req.Context()).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})
	r.Handle(cfg.Metrics.Path, metrics.Handler(registry))
	r.Mount(cfg.Seeder.RoutePrefix, segments.Routes())

	server := &http.Server{
		Addr:              cfg.Seeder.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sup := supervisor.New("seeder", supervisor.DefaultTreeConfig())
	sup.Add(supervisor.NewHTTPServerService("seeder-http", server, 10*time.Second))
	sup.Add(scheduler)

	logging.Info().
		Str("addr", cfg.Seeder.Addr).
		Str("cache", cfg.Seeder.CachePath).
		Bool("origin", fetcher.Enabled()).
		Msg("seeder listening")
	if err := sup.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("supervisor stopped")
	}
	logging.Info().Msg("seeder stopped")
}
