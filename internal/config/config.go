// Package config loads the settings shared by the signalling and seeder
// binaries.
//
// Values are layered, later layers winning:
//  1. built-in defaults
//  2. an optional YAML file named by SWARM_CONFIG
//  3. environment variables, including those from a .env file
package config

import (
	"time"

	"github.com/kalash/swarm-cdn/internal/logging"
	"github.com/kalash/swarm-cdn/internal/origin"
	"github.com/kalash/swarm-cdn/internal/peerstats"
	"github.com/kalash/swarm-cdn/internal/seeder"
	"github.com/kalash/swarm-cdn/internal/signalling"
)

type Config struct {
	Logging    logging.Config   `koanf:"logging"`
	Redis      RedisConfig      `koanf:"redis"`
	Signalling SignallingConfig `koanf:"signalling"`
	Seeder     SeederConfig     `koanf:"seeder"`
	Origin     OriginConfig     `koanf:"origin"`
	Metrics    MetricsConfig    `koanf:"metrics"`
}

type RedisConfig struct {
	Addr         string        `koanf:"addr" validate:"required,hostname_port"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db" validate:"gte=0"`
	DialTimeout  time.Duration `koanf:"dial_timeout" validate:"gt=0"`
	ReadTimeout  time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"gt=0"`
	PoolSize     int           `koanf:"pool_size" validate:"gte=0"`
}

type SignallingConfig struct {
	Addr         string        `koanf:"addr" validate:"required"`
	SegmentTTL   time.Duration `koanf:"segment_ttl" validate:"gt=0"`
	LastSeenTTL  time.Duration `koanf:"last_seen_ttl" validate:"gt=0"`
	MetricsTTL   time.Duration `koanf:"metrics_ttl" validate:"gt=0"`
	MessageRate  float64       `koanf:"message_rate" validate:"gt=0"`
	MessageBurst int           `koanf:"message_burst" validate:"gt=0"`
	RelayChannel string        `koanf:"relay_channel" validate:"required"`
}

type SeederConfig struct {
	Addr                string        `koanf:"addr" validate:"required"`
	CachePath           string        `koanf:"cache_path" validate:"required"`
	CacheTTL            time.Duration `koanf:"cache_ttl" validate:"gt=0"`
	CacheWindow         time.Duration `koanf:"cache_window" validate:"gt=0"`
	MaintenanceInterval time.Duration `koanf:"maintenance_interval" validate:"gt=0"`
	MaintenanceEnabled  bool          `koanf:"maintenance_enabled"`
	StartupSync         bool          `koanf:"startup_sync"`
	RoutePrefix         string        `koanf:"route_prefix" validate:"required,startswith=/"`
	CORSOrigins         []string      `koanf:"cors_origins"`
}

type OriginConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Endpoint        string        `koanf:"endpoint" validate:"required_if=Enabled true"`
	AccessKey       string        `koanf:"access_key"`
	SecretKey       string        `koanf:"secret_key"`
	Bucket          string        `koanf:"bucket" validate:"required_if=Enabled true"`
	UseSSL          bool          `koanf:"use_ssl"`
	ObjectPrefix    string        `koanf:"object_prefix"`
	AttemptTimeout  time.Duration `koanf:"attempt_timeout" validate:"gt=0"`
	BreakerFailures uint32        `koanf:"breaker_failures" validate:"gt=0"`
	BreakerCooldown time.Duration `koanf:"breaker_cooldown" validate:"gt=0"`
}

type MetricsConfig struct {
	Path string `koanf:"path" validate:"required,startswith=/"`
}

func defaultConfig() *Config {
	return &Config{
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Signalling: SignallingConfig{
			Addr:         ":7080",
			SegmentTTL:   90 * time.Second,
			LastSeenTTL:  peerstats.DefaultLastSeenTTL,
			MetricsTTL:   peerstats.DefaultTTL,
			MessageRate:  50,
			MessageBurst: 100,
			RelayChannel: "default",
		},
		Seeder: SeederConfig{
			Addr:                ":8081",
			CachePath:           "cache",
			CacheTTL:            90 * time.Second,
			CacheWindow:         4 * time.Minute,
			MaintenanceInterval: 30 * time.Second,
			MaintenanceEnabled:  true,
			StartupSync:         true,
			RoutePrefix:         "/api/v1/streams/movies",
			CORSOrigins:         []string{"*"},
		},
		Origin: OriginConfig{
			Enabled:         false,
			Endpoint:        "localhost:9000",
			Bucket:          "hls",
			ObjectPrefix:    "movies",
			AttemptTimeout:  5 * time.Second,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
	}
}

func (c SignallingConfig) Service() signalling.Config {
	return signalling.Config{SegmentTTL: c.SegmentTTL}
}

func (c SignallingConfig) Handler() signalling.HandlerConfig {
	return signalling.HandlerConfig{MessageRate: c.MessageRate, MessageBurst: c.MessageBurst}
}

func (c SignallingConfig) PeerStats() peerstats.Config {
	return peerstats.Config{TTL: c.MetricsTTL, LastSeenTTL: c.LastSeenTTL}
}

func (c SeederConfig) Manager() seeder.Config {
	return seeder.Config{CacheTTL: c.CacheTTL, CacheWindow: c.CacheWindow}
}

func (c SeederConfig) Scheduler() seeder.SchedulerConfig {
	return seeder.SchedulerConfig{
		Enabled:     c.MaintenanceEnabled,
		StartupSync: c.StartupSync,
		Interval:    c.MaintenanceInterval,
	}
}

func (c OriginConfig) Fetcher() origin.Config {
	return origin.Config{
		Enabled:         c.Enabled,
		ObjectPrefix:    c.ObjectPrefix,
		AttemptTimeout:  c.AttemptTimeout,
		BreakerFailures: c.BreakerFailures,
		BreakerCooldown: c.BreakerCooldown,
	}
}

func (c OriginConfig) Minio() origin.MinioConfig {
	return origin.MinioConfig{
		Endpoint:  c.Endpoint,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Bucket:    c.Bucket,
		UseSSL:    c.UseSSL,
	}
}
