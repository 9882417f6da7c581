package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, int64(0), cfg.SeedBalanceSats)
	assert.Equal(t, 0.02, cfg.RoyaltyPercent)
	assert.Equal(t, int64(10), cfg.RoyaltyMinSats)
	assert.Equal(t, "redis", cfg.VaultBackend)
	assert.False(t, cfg.BTCPayConfigured())
	assert.False(t, cfg.RoyaltyEnabled())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("BTCPAY_HOST", "https://pay.example.com")
	t.Setenv("BTCPAY_STORE_ID", "store-1")
	t.Setenv("BTCPAY_API_KEY", "key")
	t.Setenv("SEED_BALANCE_SATS", "50")
	t.Setenv("TOLLBOOTH_ROYALTY_ADDRESS", "dev@ln.example")
	t.Setenv("TOLLBOOTH_ROYALTY_PERCENT", "0.05")
	t.Setenv("TOLLBOOTH_VAULT", "postgres")

	cfg, err := Load()

	require.NoError(t, err)
	assert.True(t, cfg.BTCPayConfigured())
	assert.True(t, cfg.RoyaltyEnabled())
	assert.Equal(t, int64(50), cfg.SeedBalanceSats)
	assert.Equal(t, 0.05, cfg.RoyaltyPercent)
	assert.Equal(t, "postgres", cfg.VaultBackend)
}

func TestLoad_RejectsMalformedNumbers(t *testing.T) {
	t.Setenv("SEED_BALANCE_SATS", "lots")

	_, err := Load()

	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid zero config", func(c *Config) {}, false},
		{"negative seed", func(c *Config) { c.SeedBalanceSats = -1 }, true},
		{"royalty percent above one", func(c *Config) { c.RoyaltyPercent = 1.5 }, true},
		{"negative royalty minimum", func(c *Config) { c.RoyaltyMinSats = -1 }, true},
		{"unknown vault backend", func(c *Config) { c.VaultBackend = "scrolls" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{VaultBackend: "redis"}
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
