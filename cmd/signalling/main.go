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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kalash/swarm-cdn/internal/config"
	"github.com/kalash/swarm-cdn/internal/logging"
	"github.com/kalash/swarm-cdn/internal/peerstats"
	"github.com/kalash/swarm-cdn/internal/signalling"
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

	stats := peerstats.NewService(rdb, cfg.Signalling.PeerStats())
	svc := signalling.NewService(rdb, stats, cfg.Signalling.Service())
	sessions := signalling.NewSessions()
	relay := signalling.NewRelay(rdb, sessions, cfg.Signalling.RelayChannel)
	ws := signalling.NewHandler(svc, sessions, relay, m, cfg.Signalling.Handler())
	defer ws.Close()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(m.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := rdb.Ping(req.Context()).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})
	r.Handle(cfg.Metrics.Path, metrics.Handler(registry))
	r.Handle("/ws", ws)
	r.Handle("/", ws)

	server := &http.Server{
		Addr:              cfg.Signalling.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sup := supervisor.New("signalling", supervisor.DefaultTreeConfig())
	sup.Add(supervisor.NewHTTPServerService("signalling-http", server, 10*time.Second))
	sup.Add(relay)

	logging.Info().Str("addr", cfg.Signalling.Addr).Str("relay", cfg.Signalling.RelayChannel).Msg("signalling server listening")
	if err := sup.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("supervisor stopped")
	}
	logging.Info().Msg("signalling server stopped")
}
