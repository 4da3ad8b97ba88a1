// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full runtime configuration.
type Config struct {
	Port     string
	Env      string // development, staging, production
	LogLevel string
	BaseURL  string // public base URL used to build Paystack callback URLs

	// DatabaseURL selects Postgres; empty means in-memory stores.
	DatabaseURL string

	// PaystackSecretKey doubles as the API bearer token and the webhook
	// signature key, matching how Paystack issues credentials.
	PaystackSecretKey string
	PaystackBaseURL   string
	GatewayTimeout    time.Duration

	// AmountExpected is the course access price in kobo, fixed per
	// deployment.
	AmountExpected int64

	SessionTTL time.Duration

	// Bootstrap admin, created at startup when both are set.
	AdminEmail    string
	AdminPassword string

	RateLimitRPM int

	OTLPEndpoint string
}

const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultPaystackBaseURL = "https://api.paystack.co"
	DefaultAmountExpected  = 10000 // kobo
	DefaultRateLimit       = 60
	DefaultGatewayTimeout  = 15 * time.Second
	DefaultSessionTTL      = 24 * time.Hour
)

// Load reads configuration from the environment, first merging in a .env
// file when one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              envOr("PORT", DefaultPort),
		Env:               envOr("ENV", DefaultEnv),
		LogLevel:          envOr("LOG_LEVEL", DefaultLogLevel),
		BaseURL:           envOr("BASE_URL", "http://localhost:"+envOr("PORT", DefaultPort)),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		PaystackSecretKey: os.Getenv("PAYSTACK_SECRET_KEY"),
		PaystackBaseURL:   envOr("PAYSTACK_BASE_URL", DefaultPaystackBaseURL),
		GatewayTimeout:    envDur("GATEWAY_TIMEOUT", DefaultGatewayTimeout),
		AmountExpected:    envInt64("AMOUNT_EXPECTED", DefaultAmountExpected),
		SessionTTL:        envDur("SESSION_TTL", DefaultSessionTTL),
		AdminEmail:        os.Getenv("ADMIN_EMAIL"),
		AdminPassword:     os.Getenv("ADMIN_PASSWORD"),
		RateLimitRPM:      int(envInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.PaystackSecretKey == "" {
		return fmt.Errorf("PAYSTACK_SECRET_KEY is required")
	}
	if c.AmountExpected <= 0 {
		return fmt.Errorf("AMOUNT_EXPECTED must be a positive amount in kobo")
	}
	if c.PaystackBaseURL == "" {
		return fmt.Errorf("PAYSTACK_BASE_URL must not be empty")
	}
	return nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool { return c.Env == "development" }

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool { return c.Env == "production" }

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envDur(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
