package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all configuration for a tollbooth operator process.
//
// The trust gate (AuthorityPublicKey) is deliberately not validated at load
// time: a missing key refuses purchases at operation time instead of
// crashing the host on startup.
type Config struct {
	Env string

	// BTCPay Server connection
	BTCPayHost    string
	BTCPayStoreID string
	BTCPayAPIKey  string

	// Tier configuration, kept as raw JSON strings. Malformed JSON
	// degrades to the default tier at resolution time.
	BTCPayTierConfig string
	BTCPayUserTiers  string

	// Starter balance applied once per user via the seed_balance_v1 sentinel.
	SeedBalanceSats int64

	// Royalty side-payout. Empty address disables payouts.
	RoyaltyAddress string
	RoyaltyPercent float64
	RoyaltyMinSats int64

	// Authority trust chain
	AuthorityPublicKey string
	AuthorityURL       string

	// Durable store selection for the CLI: "redis" or "postgres"
	VaultBackend  string
	RedisURL      string
	RedisPassword string
	DatabaseURL   string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Env:                getEnv("ENV", "development"),
		BTCPayHost:         getEnv("BTCPAY_HOST", ""),
		BTCPayStoreID:      getEnv("BTCPAY_STORE_ID", ""),
		BTCPayAPIKey:       getEnv("BTCPAY_API_KEY", ""),
		BTCPayTierConfig:   getEnv("BTCPAY_TIER_CONFIG", ""),
		BTCPayUserTiers:    getEnv("BTCPAY_USER_TIERS", ""),
		RoyaltyAddress:     getEnv("TOLLBOOTH_ROYALTY_ADDRESS", ""),
		AuthorityPublicKey: getEnv("AUTHORITY_PUBLIC_KEY", ""),
		AuthorityURL:       getEnv("AUTHORITY_URL", ""),
		VaultBackend:       getEnv("TOLLBOOTH_VAULT", "redis"),
		RedisURL:           getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
	}

	var err error
	if cfg.SeedBalanceSats, err = getEnvInt64("SEED_BALANCE_SATS", 0); err != nil {
		return nil, err
	}
	if cfg.RoyaltyPercent, err = getEnvFloat("TOLLBOOTH_ROYALTY_PERCENT", 0.02); err != nil {
		return nil, err
	}
	if cfg.RoyaltyMinSats, err = getEnvInt64("TOLLBOOTH_ROYALTY_MIN_SATS", 10); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration consistency. Connection settings may be
// absent (the status report handles that); values that are present must
// be sane.
func (c *Config) Validate() error {
	if c.SeedBalanceSats < 0 {
		return fmt.Errorf("SEED_BALANCE_SATS must be non-negative, got %d", c.SeedBalanceSats)
	}
	if c.RoyaltyPercent < 0 || c.RoyaltyPercent > 1 {
		return fmt.Errorf("TOLLBOOTH_ROYALTY_PERCENT must be in [0, 1], got %g", c.RoyaltyPercent)
	}
	if c.RoyaltyMinSats < 0 {
		return fmt.Errorf("TOLLBOOTH_ROYALTY_MIN_SATS must be non-negative, got %d", c.RoyaltyMinSats)
	}
	switch c.VaultBackend {
	case "redis", "postgres":
	default:
		return fmt.Errorf("TOLLBOOTH_VAULT must be \"redis\" or \"postgres\", got %q", c.VaultBackend)
	}
	return nil
}

// BTCPayConfigured reports whether all three provider connection settings
// are present.
func (c *Config) BTCPayConfigured() bool {
	return c.BTCPayHost != "" && c.BTCPayStoreID != "" && c.BTCPayAPIKey != ""
}

// RoyaltyEnabled reports whether the royalty side-payout is configured.
func (c *Config) RoyaltyEnabled() bool {
	return c.RoyaltyAddress != ""
}

// getEnv gets an environment variable with a fallback default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return v, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return v, nil
}
