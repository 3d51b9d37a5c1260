package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv        string `env:"APP_ENV" envDefault:"production"`
	Port          string `env:"PORT" envDefault:"8080"`
	AllowedOrigin string `env:"ALLOWED_ORIGIN" envDefault:"http://127.0.0.1:3000"`
	DatabaseURL   string `env:"DATABASE_URL"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	AuthSecret            string `env:"AUTH_SECRET"`
	AccessTokenTTLMinutes int    `env:"ACCESS_TOKEN_TTL_MINUTES" envDefault:"480"`

	// PaymobHMACSecret has no default: an unset secret rejects every webhook.
	PaymobHMACSecret     string        `env:"PAYMOB_HMAC_SECRET"`
	RevenueLedgerURL     string        `env:"REVENUE_LEDGER_URL"`
	ProcessedEventTTL    time.Duration `env:"PROCESSED_EVENT_CACHE_TTL" envDefault:"72h"`
	IntentTTL            time.Duration `env:"INTENT_TTL" envDefault:"15m"`
	IntentSweepInterval  time.Duration `env:"INTENT_SWEEP_INTERVAL" envDefault:"1m"`
	AmountToleranceCents int64         `env:"AMOUNT_TOLERANCE_CENTS" envDefault:"1"`

	DefaultMinStock               int   `env:"DEFAULT_MIN_STOCK" envDefault:"5"`
	CashDiscrepancyThresholdCents int64 `env:"CASH_DISCREPANCY_THRESHOLD_CENTS" envDefault:"5000"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.PaymobHMACSecret = strings.TrimSpace(cfg.PaymobHMACSecret)
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	if cfg.IntentTTL <= 0 {
		cfg.IntentTTL = 15 * time.Minute
	}
	if cfg.AmountToleranceCents < 0 {
		cfg.AmountToleranceCents = 1
	}
	if cfg.DefaultMinStock < 0 {
		cfg.DefaultMinStock = 5
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) Development() bool {
	return strings.EqualFold(c.AppEnv, "development")
}
