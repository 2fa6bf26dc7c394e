package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kalash/swarm-cdn/internal/logging"
	"github.com/kalash/swarm-cdn/internal/swarmsim"
)

func main() {
	var cfg swarmsim.Config
	flag.StringVar(&cfg.SignalURL, "signal", "ws://localhost:7080/ws", "Signalling websocket URL")
	flag.StringVar(&cfg.SeederURL, "seeder", "http://localhost:8081/api/v1/streams/movies", "Seeder segment endpoint")
	flag.StringVar(&cfg.MovieID, "movie", "", "Movie id to watch")
	flag.StringVar(&cfg.QualityID, "quality", "720p", "Quality to watch")
	flag.IntVar(&cfg.Viewers, "viewers", 10, "Number of simulated viewers")
	flag.IntVar(&cfg.Segments, "segments", 20, "Media segments per viewer")
	flag.IntVar(&cfg.CacheCapacity, "cache", 16, "Media segments each viewer keeps")
	flag.DurationVar(&cfg.Link, "link", 20*time.Millisecond, "Simulated peer link delay")
	flag.DurationVar(&cfg.Stagger, "stagger", 500*time.Millisecond, "Delay between viewer starts")
	level := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logging.Init(logging.Config{Level: *level, Format: "console"})
	if cfg.MovieID == "" {
		logging.Fatal().Msg("-movie is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	total, err := swarmsim.Run(ctx, cfg)
	if err != nil {
		logging.Error().Err(err).Msg("simulation aborted")
		os.Exit(1)
	}
	served := total.Peer + total.Origin
	if served > 0 {
		logging.Info().
			Float64("peer_ratio", float64(total.Peer)/float64(served)).
			Msg("offload")
	}
}
