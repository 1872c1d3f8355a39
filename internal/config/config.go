// Package config loads server settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"loan_manager/internal/domain"

	"github.com/caarlos0/env/v11"
)

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

type Config struct {
	HTTPAddr            string                   `env:"HTTP_ADDR" envDefault:":8080"`
	MetricsAddr         string                   `env:"METRICS_ADDR" envDefault:":9090"`
	StorageDriver       string                   `env:"STORAGE_DRIVER" envDefault:"memory"`
	SQLitePath          string                   `env:"SQLITE_PATH" envDefault:"loan_manager.db"`
	TxMaxRetries        uint                     `env:"TX_MAX_RETRIES" envDefault:"5"`
	RedisAddr           string                   `env:"REDIS_ADDR"`
	RedisTTL            time.Duration            `env:"REDIS_TTL" envDefault:"10m"`
	TokenSecret         string                   `env:"TOKEN_SECRET,required,notEmpty"`
	TokenTTL            time.Duration            `env:"TOKEN_TTL" envDefault:"12h"`
	OverPaymentPolicy   domain.OverPaymentPolicy `env:"OVERPAYMENT_POLICY" envDefault:"reject"`
	NotificationWorkers int                      `env:"NOTIFICATION_WORKERS" envDefault:"3"`
	RequestTimeout      time.Duration            `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	RateLimitCapacity   int                      `env:"RATE_LIMIT_CAPACITY" envDefault:"60"`
	RateLimitWindow     time.Duration            `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
	LogLevel            slog.Level               `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads settings from vars instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.StorageDriver {
	case DriverMemory:
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.NotificationWorkers < 1 {
		return fmt.Errorf("NOTIFICATION_WORKERS must be at least 1")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	if c.RateLimitCapacity < 1 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_CAPACITY and RATE_LIMIT_WINDOW must be positive")
	}
	return nil
}
