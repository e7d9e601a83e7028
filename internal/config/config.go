package config

import (
	"fmt"
	"net/url"
	"os"
	"time"
)

// Config captures runtime configuration values used by the backend service.
type Config struct {
	// ServerAddress is the host:port pair the HTTP server listens on. Defaults to ":18111".
	ServerAddress string

	// DatabaseURL is the Postgres DSN used by database/sql. Webhook persistence
	// and the subscription read endpoint are disabled when it is empty.
	DatabaseURL string

	// RedisURL enables the webhook replay guard when set (e.g. "redis://localhost:6379/0").
	RedisURL string

	// ProxyBackendURL is the origin that /uploads, /api/pdf and /api/docx are forwarded to.
	ProxyBackendURL string

	LemonSqueezy LemonSqueezyConfig
	Checkout     CheckoutConfig
	Log          LogConfig
}

// LemonSqueezyConfig holds the hosted checkout provider settings.
type LemonSqueezyConfig struct {
	APIKey        string
	StoreID       string
	VariantID     string
	WebhookSecret string
	BaseURL       string
	Timeout       time.Duration
}

// CheckoutConfig holds the customer identity used when the frontend does not
// forward one with the request, and the secret the frontend signs forwarded
// identities with.
type CheckoutConfig struct {
	DefaultEmail  string
	DefaultUserID string

	// IdentitySecret verifies X-User-Signature. Forwarded identity headers
	// are ignored when it is empty.
	IdentitySecret string
}

type LogConfig struct {
	Level  string
	Format string
}

const (
	defaultServerAddress   = ":18111"
	defaultVariantID       = "758320"
	defaultLemonSqueezyURL = "https://api.lemonsqueezy.com/v1"
	defaultTimeout         = 15 * time.Second
	defaultProxyBackendURL = "http://localhost:5000"
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"

	envServerAddress   = "BACKEND_ADDR"
	envDatabaseURL     = "DATABASE_URL"
	envRedisURL        = "REDIS_URL"
	envProxyBackendURL = "PROXY_BACKEND_URL"
	envAPIKey          = "LEMONSQUEEZY_API_KEY"
	envStoreID         = "LEMONSQUEEZY_STORE_ID"
	envVariantID       = "LEMONSQUEEZY_VARIANT_ID"
	envWebhookSecret   = "LEMONSQUEEZY_WEBHOOK_SECRET"
	envLemonSqueezyURL = "LEMONSQUEEZY_API_URL"
	envTimeout         = "LEMONSQUEEZY_TIMEOUT"
	envDefaultEmail    = "CHECKOUT_DEFAULT_EMAIL"
	envDefaultUserID   = "CHECKOUT_DEFAULT_USER_ID"
	envIdentitySecret  = "CHECKOUT_IDENTITY_SECRET"
	envLogLevel        = "LOG_LEVEL"
	envLogFormat       = "LOG_FORMAT"
)

// Load reads configuration from environment variables, applies defaults, and returns
// a Config structure. Required values return an error when missing.
func Load() (Config, error) {
	cfg := Config{
		ServerAddress:   firstNonEmpty(os.Getenv(envServerAddress), defaultServerAddress),
		DatabaseURL:     os.Getenv(envDatabaseURL),
		RedisURL:        os.Getenv(envRedisURL),
		ProxyBackendURL: firstNonEmpty(os.Getenv(envProxyBackendURL), defaultProxyBackendURL),
		LemonSqueezy: LemonSqueezyConfig{
			APIKey:        os.Getenv(envAPIKey),
			StoreID:       os.Getenv(envStoreID),
			VariantID:     firstNonEmpty(os.Getenv(envVariantID), defaultVariantID),
			WebhookSecret: os.Getenv(envWebhookSecret),
			BaseURL:       firstNonEmpty(os.Getenv(envLemonSqueezyURL), defaultLemonSqueezyURL),
			Timeout:       defaultTimeout,
		},
		Checkout: CheckoutConfig{
			DefaultEmail:   os.Getenv(envDefaultEmail),
			DefaultUserID:  os.Getenv(envDefaultUserID),
			IdentitySecret: os.Getenv(envIdentitySecret),
		},
		Log: LogConfig{
			Level:  firstNonEmpty(os.Getenv(envLogLevel), defaultLogLevel),
			Format: firstNonEmpty(os.Getenv(envLogFormat), defaultLogFormat),
		},
	}

	if cfg.LemonSqueezy.StoreID == "" {
		return Config{}, fmt.Errorf("%s is required", envStoreID)
	}

	if value := os.Getenv(envTimeout); value != "" {
		d, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envTimeout, err)
		}
		if d <= 0 {
			return Config{}, fmt.Errorf("invalid %s: must be positive", envTimeout)
		}
		cfg.LemonSqueezy.Timeout = d
	}

	if err := validateURL(cfg.ProxyBackendURL); err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", envProxyBackendURL, err)
	}
	if err := validateURL(cfg.LemonSqueezy.BaseURL); err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", envLemonSqueezyURL, err)
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
