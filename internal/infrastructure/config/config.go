package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config carries everything main needs to wire the process. Values come from
// the environment, optionally seeded from a .env file.
type Config struct {
	Addr            string
	Env             string
	RetryAttempts   int
	TaxRate         decimal.Decimal
	FlatShipping    decimal.Decimal
	RedisAddr       string
	PromoCacheTTL   time.Duration
	ShutdownTimeout time.Duration
}

// Load reads the optional .env file and then the environment. A missing .env
// is fine; a malformed value is not.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:            getenv("ADDR", ":8080"),
		Env:             getenv("APP_ENV", "development"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RetryAttempts:   5,
		TaxRate:         decimal.Zero,
		FlatShipping:    decimal.Zero,
		PromoCacheTTL:   30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}

	if raw := os.Getenv("RETRY_ATTEMPTS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("config: RETRY_ATTEMPTS %q: must be a positive integer", raw)
		}
		cfg.RetryAttempts = n
	}
	if raw := os.Getenv("TAX_RATE"); raw != "" {
		rate, err := decimal.NewFromString(raw)
		if err != nil || rate.IsNegative() {
			return nil, fmt.Errorf("config: TAX_RATE %q: must be a non-negative decimal", raw)
		}
		cfg.TaxRate = rate
	}
	if raw := os.Getenv("FLAT_SHIPPING"); raw != "" {
		cost, err := decimal.NewFromString(raw)
		if err != nil || cost.IsNegative() {
			return nil, fmt.Errorf("config: FLAT_SHIPPING %q: must be a non-negative decimal", raw)
		}
		cfg.FlatShipping = cost
	}
	if raw := os.Getenv("PROMO_CACHE_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil || ttl <= 0 {
			return nil, fmt.Errorf("config: PROMO_CACHE_TTL %q: must be a positive duration", raw)
		}
		cfg.PromoCacheTTL = ttl
	}
	if raw := os.Getenv("SHUTDOWN_TIMEOUT"); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil || timeout <= 0 {
			return nil, fmt.Errorf("config: SHUTDOWN_TIMEOUT %q: must be a positive duration", raw)
		}
		cfg.ShutdownTimeout = timeout
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
