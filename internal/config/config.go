package config

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (BOOKING_ prefix), flags, or YAML config files.
type Config struct {
	Addr       string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Env        string `default:"development" usage:"Deployment environment (production disables console logging)"`
	Debug      bool   `default:"false" usage:"Enable debug logging"`
	Seed       bool   `default:"true" usage:"Seed demo users, provider, service and slots on startup"`
	Database   DatabaseConfig
	JWT        JWTConfig
	RateLimit  RateLimitConfig
	Settlement SettlementConfig
	Events     EventsConfig
	Broker     BrokerConfig
	Tracing    TracingConfig
	Graceful   GracefulConfig
}

// DatabaseConfig selects the GORM dialect.
type DatabaseConfig struct {
	Driver string `default:"sqlite" usage:"Database driver: sqlite or postgres"`
	DSN    string `default:"booking.db" usage:"Database DSN or SQLite file path"`
}

// JWTConfig controls token signing.
type JWTConfig struct {
	Secret string        `default:"booking-secret-key" usage:"HMAC secret for issued tokens"`
	TTL    time.Duration `default:"24h" usage:"Token lifetime"`
}

// RateLimitConfig sets per-client request budgets per route group.
type RateLimitConfig struct {
	AuthPerMinute   int `default:"10" usage:"Token requests per minute per client"`
	OrdersPerMinute int `default:"100" usage:"Order requests per minute per client"`
	ReadsPerMinute  int `default:"1000" usage:"Read requests per minute per client"`
}

// SettlementConfig controls the daily payout batch.
type SettlementConfig struct {
	Schedule    string  `default:"0 2 * * *" usage:"Cron schedule for the settlement batch"`
	TimeZone    string  `default:"America/Chicago" usage:"Time zone for the schedule and batch ids"`
	FailureRate float64 `default:"0" usage:"Simulated payout failure rate (0..1)"`
	Disabled    bool    `default:"false" usage:"Disable the scheduled batch"`
}

// EventsConfig sizes the after-commit dispatcher.
type EventsConfig struct {
	Workers   int `default:"4" usage:"Async side-effect workers"`
	QueueSize int `default:"256" usage:"Async side-effect queue size"`
}

// BrokerConfig enables publishing audit events to RabbitMQ.
type BrokerConfig struct {
	URL      string `default:"" usage:"AMQP URL; empty disables publishing"`
	Exchange string `default:"booking.events" usage:"Topic exchange for audit events"`
}

// TracingConfig enables OTLP trace export.
type TracingConfig struct {
	Endpoint    string `default:"" usage:"OTLP gRPC endpoint; empty disables tracing"`
	ServiceName string `default:"booking-api" usage:"Service name reported to the collector"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ShutdownTimeout time.Duration `default:"5s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// Load loads configuration from defaults, YAML config files, environment
// variables and flags, then applies platform defaults.
func Load() (*Config, error) {
	return load(aconfig.Config{
		EnvPrefix:          "BOOKING",
		AllowUnknownFlags:  true,
		AllowUnknownEnvs:   true,
		AllowUnknownFields: true,
		Files:              []string{"config.yaml", "/etc/booking/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
}

func load(opts aconfig.Config) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, opts)
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return errors.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database DSN is required")
	}
	if c.JWT.Secret == "" {
		return errors.New("jwt secret is required")
	}
	if c.Settlement.FailureRate < 0 || c.Settlement.FailureRate > 1 {
		return errors.Errorf("settlement failure rate %v out of range", c.Settlement.FailureRate)
	}
	if _, err := time.LoadLocation(c.Settlement.TimeZone); err != nil {
		return errors.Wrapf(err, "settlement time zone %q", c.Settlement.TimeZone)
	}
	if c.Events.Workers <= 0 || c.Events.QueueSize <= 0 {
		return errors.New("events workers and queue size must be positive")
	}
	return nil
}

// Location returns the settlement time zone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Settlement.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsProduction reports whether console logging should be disabled.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// applyPlatformDefaults honours the conventional PORT, DATABASE_URL, ENV and
// DEBUG variables on top of the BOOKING_-prefixed ones.
func (c *Config) applyPlatformDefaults() {
	if v := os.Getenv("DATABASE_URL"); v != "" && c.Database.Driver == "postgres" && c.Database.DSN == "booking.db" {
		c.Database.DSN = v
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
	if os.Getenv("ENV") == "production" {
		c.Env = "production"
	}
	if os.Getenv("DEBUG") == "true" {
		c.Debug = true
	}
}
