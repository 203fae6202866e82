package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Checkout.LinkCacheTTL)
	assert.Equal(t, 30*time.Minute, cfg.Checkout.SessionTTL)
	assert.Equal(t, 5*time.Second, cfg.Checkout.PollInterval)
	assert.Equal(t, 20*time.Minute, cfg.Checkout.PollCeiling)
	assert.Equal(t, 8*time.Second, cfg.Checkout.NotifyTimeout)
	assert.Equal(t, 3, cfg.Checkout.FetchAttempts)
	assert.Equal(t, 2, cfg.Checkout.VerifyAttempts)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("CHAINPAYE_API_BASE_URL", "https://api.example.com/")
	t.Setenv("CHAINPAYE_POLL_INTERVAL", "2s")
	t.Setenv("CHAINPAYE_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("TORONET_ADMIN", "ops")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.Backend.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.Checkout.PollInterval)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "ops", cfg.Backend.Admin)
}

func TestLoadConfig_RejectsZeroAttempts(t *testing.T) {
	t.Setenv("CHAINPAYE_FETCH_ATTEMPTS", "0")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestObservabilityConfig_GetLogLevel(t *testing.T) {
	c := &ObservabilityConfig{Environment: "production"}
	assert.Equal(t, "info", c.GetLogLevel())

	c.Environment = "development"
	assert.Equal(t, "debug", c.GetLogLevel())

	c.Logging.Level = "warn"
	assert.Equal(t, "warn", c.GetLogLevel())
}
