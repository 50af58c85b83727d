package config

import (
	"testing"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions() aconfig.Config {
	return aconfig.Config{
		EnvPrefix: "BOOKING",
		SkipFiles: true,
		SkipFlags: true,
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(testOptions())
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "booking.db", cfg.Database.DSN)
	assert.Equal(t, 24*time.Hour, cfg.JWT.TTL)
	assert.Equal(t, "0 2 * * *", cfg.Settlement.Schedule)
	assert.Equal(t, "America/Chicago", cfg.Settlement.TimeZone)
	assert.Equal(t, "booking.events", cfg.Broker.Exchange)
	assert.Equal(t, 5*time.Second, cfg.Graceful.ShutdownTimeout)
	assert.True(t, cfg.Seed)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BOOKING_ADDR", "127.0.0.1:9090")
	t.Setenv("BOOKING_DATABASE_DRIVER", "postgres")
	t.Setenv("BOOKING_DATABASE_DSN", "postgres://localhost/booking")

	cfg, err := load(testOptions())
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Addr)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/booking", cfg.Database.DSN)
}

func TestLoadPlatformPort(t *testing.T) {
	t.Setenv("PORT", "3000")

	cfg, err := load(testOptions())
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:3000", cfg.Addr)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database:   DatabaseConfig{Driver: "sqlite", DSN: ":memory:"},
			JWT:        JWTConfig{Secret: "s"},
			Settlement: SettlementConfig{TimeZone: "UTC"},
			Events:     EventsConfig{Workers: 1, QueueSize: 1},
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }},
		{"empty secret", func(c *Config) { c.JWT.Secret = "" }},
		{"failure rate above one", func(c *Config) { c.Settlement.FailureRate = 1.5 }},
		{"bad zone", func(c *Config) { c.Settlement.TimeZone = "Mars/Olympus" }},
		{"no workers", func(c *Config) { c.Events.Workers = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLocation(t *testing.T) {
	cfg := &Config{Settlement: SettlementConfig{TimeZone: "America/Chicago"}}
	assert.Equal(t, "America/Chicago", cfg.Location().String())
}
