package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// PathEnvVar names the optional YAML config file.
const PathEnvVar = "SWARM_CONFIG"

var envMappings = map[string]string{
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"redis_addr":          "redis.addr",
	"redis_password":      "redis.password",
	"redis_db":            "redis.db",
	"redis_dial_timeout":  "redis.dial_timeout",
	"redis_read_timeout":  "redis.read_timeout",
	"redis_write_timeout": "redis.write_timeout",
	"redis_pool_size":     "redis.pool_size",

	"signal_addr":          "signalling.addr",
	"segment_ttl":          "signalling.segment_ttl",
	"peer_last_seen_ttl":   "signalling.last_seen_ttl",
	"peer_metrics_ttl":     "signalling.metrics_ttl",
	"signal_message_rate":  "signalling.message_rate",
	"signal_message_burst": "signalling.message_burst",
	"relay_channel":        "signalling.relay_channel",

	"seeder_addr":          "seeder.addr",
	"cache_path":           "seeder.cache_path",
	"cache_ttl":            "seeder.cache_ttl",
	"cache_window":         "seeder.cache_window",
	"maintenance_interval": "seeder.maintenance_interval",
	"maintenance_enabled":  "seeder.maintenance_enabled",
	"startup_sync":         "seeder.startup_sync",
	"seeder_route_prefix":  "seeder.route_prefix",
	"cors_origins":         "seeder.cors_origins",

	"origin_enabled":          "origin.enabled",
	"minio_endpoint":          "origin.endpoint",
	"minio_access_key":        "origin.access_key",
	"minio_secret_key":        "origin.secret_key",
	"minio_bucket":            "origin.bucket",
	"minio_use_ssl":           "origin.use_ssl",
	"origin_object_prefix":    "origin.object_prefix",
	"origin_attempt_timeout":  "origin.attempt_timeout",
	"origin_breaker_failures": "origin.breaker_failures",
	"origin_breaker_cooldown": "origin.breaker_cooldown",

	"metrics_path": "metrics.path",
}

// envTransform maps REDIS_ADDR style names to koanf paths. Unknown
// variables map to "" and are dropped.
func envTransform(key string) string {
	return envMappings[strings.ToLower(key)]
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load builds the configuration from defaults, the optional YAML file and
// the environment. envFiles are loaded into the environment first; missing
// ones are ignored.
func Load(envFiles ...string) (*Config, error) {
	if err := loadDotEnv(envFiles...); err != nil {
		return nil, err
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := os.Getenv(PathEnvVar); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if err := splitList(k, "seeder.cors_origins"); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func loadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// splitList turns a comma separated env value into a list.
func splitList(k *koanf.Koanf, path string) error {
	raw, ok := k.Get(path).(string)
	if !ok {
		return nil
	}
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if err := k.Set(path, items); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return nil
}
