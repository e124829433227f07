// Package config loads service configuration from environment variables
// and the engine bootstrap (currencies, pools, classes, seed prices) from a
// JSON file, falling back to a built-in default.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all service configuration loaded from environment variables.
type Config struct {
	Port string

	// Infrastructure. Empty URLs disable the component.
	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration
	NATSURL     string

	// BootstrapPath points at a JSON bootstrap; empty uses the default.
	BootstrapPath string

	// Exposure limits in base-currency notional. Zero disables a limit.
	MaxClassNotional decimal.Decimal
	MaxPairNotional  decimal.Decimal
}

// Load reads configuration from the process environment.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom reads configuration through getenv with sensible defaults.
func LoadFrom(getenv func(string) string) (*Config, error) {
	env := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}

	cfg := &Config{
		Port:          env("PORT", "8080"),
		DatabaseURL:   env("DATABASE_URL", ""),
		RedisURL:      env("REDIS_URL", ""),
		NATSURL:       env("NATS_URL", ""),
		BootstrapPath: env("MARGIN_CONFIG", ""),
	}

	ttl, err := time.ParseDuration(env("CACHE_TTL", "30s"))
	if err != nil || ttl <= 0 {
		return nil, fmt.Errorf("config: CACHE_TTL must be a positive duration: %q", getenv("CACHE_TTL"))
	}
	cfg.CacheTTL = ttl

	if cfg.MaxClassNotional, err = notional(env("MAX_ACCOUNT_NOTIONAL", "0"), "MAX_ACCOUNT_NOTIONAL"); err != nil {
		return nil, err
	}
	if cfg.MaxPairNotional, err = notional(env("MAX_PAIR_NOTIONAL", "0"), "MAX_PAIR_NOTIONAL"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LimitsEnabled reports whether any exposure limit is configured.
func (c *Config) LimitsEnabled() bool {
	return c.MaxClassNotional.IsPositive() || c.MaxPairNotional.IsPositive()
}

func notional(v, key string) (decimal.Decimal, error) {
	n, err := decimal.NewFromString(v)
	if err != nil || n.IsNegative() {
		return decimal.Zero, fmt.Errorf("config: %s must be a non-negative decimal: %q", key, v)
	}
	return n, nil
}
