package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (ORDERFLOW_ prefix), flags, or YAML config files.
type Config struct {
	Addr          string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL   string `usage:"PostgreSQL connection URL (ORDERFLOW_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Providers     ProvidersConfig
	Courier       CourierConfig
	Delivery      DeliveryConfig
	Notifications NotificationsConfig
	RateLimit     RateLimitConfig
	CORS          CORSConfig
	Graceful      GracefulConfig
}

// ProvidersConfig points at the outbound email and SMS providers. An empty
// base URL selects a simulated sender that logs and succeeds.
type ProvidersConfig struct {
	EmailBaseURL string        `usage:"Email provider base URL (empty = simulated)" flag:"email-url"`
	SMSBaseURL   string        `usage:"SMS provider base URL (empty = simulated)" flag:"sms-url"`
	SendTimeout  time.Duration `default:"10s" usage:"Per-send timeout for each channel"`
}

// CourierConfig controls the delivery booking adapter.
type CourierConfig struct {
	TrackingPrefix string        `default:"DZ" usage:"Prefix of simulated tracking ids"`
	Latency        time.Duration `default:"1s" usage:"Simulated booking round trip"`
	BookingTimeout time.Duration `default:"15s" usage:"Deadline for each booking call"`
}

// DeliveryConfig holds fulfilment eligibility rules.
type DeliveryConfig struct {
	// InstantCities lists cities eligible for instant delivery. Empty
	// accepts instant orders from any city.
	InstantCities []string `usage:"Cities eligible for instant delivery" flag:"instant-cities"`
}

// NotificationsConfig tunes the failed-send retry queue.
type NotificationsConfig struct {
	RetryInterval time.Duration `default:"30s" usage:"Queue sweep interval"`
	RetryBackoff  time.Duration `default:"1m"  usage:"Base retry backoff, doubled per attempt"`
	MaxAttempts   int           `default:"5"   usage:"Send attempts before a message is abandoned"`
	RetryBatch    int           `default:"50"  usage:"Max messages per sweep"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "ORDERFLOW",
		Files:     []string{"config.yaml", "/etc/orderflow/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set ORDERFLOW_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) that use standard names like DATABASE_URL and
// PORT to the ORDERFLOW_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
