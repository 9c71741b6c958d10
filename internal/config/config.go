// Package config reads server settings from the environment. A .env file in
// the working directory is loaded first when present.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const Prefix = "MUDSNAKE_"

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreMySQL  = "mysql"
	StoreRedis  = "redis"
)

type Config struct {
	Store      string `env:"STORE" envDefault:"memory"`
	MySQLDSN   string `env:"MYSQL_DSN" envDefault:"root:root@tcp(localhost:3306)/mudsnake?parseTime=true"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"mudsnake.db"`
	RedisAddr  string `env:"REDIS_ADDR"`

	HTTPAddr   string `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr   string `env:"GRPC_ADDR" envDefault:":50051"`
	SchemaPath string `env:"SCHEMA_PATH" envDefault:"schemas/default.yaml"`

	LockTimeout    time.Duration `env:"LOCK_TIMEOUT" envDefault:"2s"`
	EventQueueSize int           `env:"EVENT_QUEUE_SIZE" envDefault:"1024"`
	EventWorkers   int           `env:"EVENT_WORKERS" envDefault:"1"`
	EventTimeout   time.Duration `env:"EVENT_TIMEOUT" envDefault:"5s"`
	CacheSize      int           `env:"CACHE_SIZE" envDefault:"100000"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	MaxRetries     uint          `env:"MAX_RETRIES" envDefault:"5"`

	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat    string `env:"LOG_FORMAT" envDefault:"text"`
	OTelEndpoint string `env:"OTEL_ENDPOINT"`
}

// Load reads .env, if any, then the MUDSNAKE_ environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(nil)
}

// FromEnv parses the process environment, or vars when it is non-nil.
func FromEnv(vars map[string]string) (*Config, error) {
	cfg := &Config{}
	opts := env.Options{Prefix: Prefix}
	if vars != nil {
		opts.Environment = vars
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Store {
	case StoreMemory, StoreSQLite, StoreMySQL:
	case StoreRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis store needs MUDSNAKE_REDIS_ADDR"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if c.Store == StoreMySQL && c.MySQLDSN == "" {
		errs = append(errs, errors.New("mysql store needs MUDSNAKE_MYSQL_DSN"))
	}
	if c.LockTimeout <= 0 {
		errs = append(errs, fmt.Errorf("lock timeout must be positive, got %s", c.LockTimeout))
	}
	if c.EventQueueSize < 1 {
		errs = append(errs, fmt.Errorf("event queue size must be at least 1, got %d", c.EventQueueSize))
	}
	// Events must reach listeners in commit order.
	if c.EventWorkers != 1 {
		errs = append(errs, fmt.Errorf("event workers must be 1, got %d", c.EventWorkers))
	}
	if c.EventTimeout <= 0 {
		errs = append(errs, fmt.Errorf("event timeout must be positive, got %s", c.EventTimeout))
	}
	if c.CacheSize < 1 {
		errs = append(errs, fmt.Errorf("cache size must be at least 1, got %d", c.CacheSize))
	}
	if c.IdempotencyTTL <= 0 {
		errs = append(errs, fmt.Errorf("idempotency ttl must be positive, got %s", c.IdempotencyTTL))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
