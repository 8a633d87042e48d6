// Package config loads server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv              string
	Port                string
	DatabaseURL         string
	RedisURL            string
	StripeAPIKey        string
	StripeWebhookSecret string
	StripePriceID       string
	CheckoutSuccessURL  string
	CheckoutCancelURL   string
	MetricsNamespace    string
	LogLevel            string
	ShutdownTimeout     time.Duration
}

// Load reads configuration from environment variables and an optional .env
// file. The webhook secret is deliberately not required here: the server
// starts without it and the webhook endpoint answers 500 until it is set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:              valueOrDefault(k.String("APP_ENV"), "development"),
		Port:                valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:         k.String("DATABASE_URL"),
		RedisURL:            strings.TrimSpace(k.String("REDIS_URL")),
		StripeAPIKey:        strings.TrimSpace(k.String("STRIPE_API_KEY")),
		StripeWebhookSecret: strings.TrimSpace(k.String("STRIPE_WEBHOOK_SECRET")),
		StripePriceID:       strings.TrimSpace(k.String("STRIPE_PRICE_ID")),
		CheckoutSuccessURL:  strings.TrimSpace(k.String("CHECKOUT_SUCCESS_URL")),
		CheckoutCancelURL:   strings.TrimSpace(k.String("CHECKOUT_CANCEL_URL")),
		MetricsNamespace:    valueOrDefault(k.String("METRICS_NAMESPACE"), "betledger"),
		LogLevel:            valueOrDefault(k.String("LOG_LEVEL"), "info"),
		ShutdownTimeout:     parseDuration(k.String("SHUTDOWN_TIMEOUT"), "15s"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.StripeAPIKey == "" {
		return nil, errors.New("STRIPE_API_KEY is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

// LoadForTests overrides environment variables for the duration of a Load
// call, restoring the previous values afterwards.
func LoadForTests(vars map[string]string) (*Config, error) {
	original := make(map[string]string, len(vars))
	for key, value := range vars {
		original[key] = os.Getenv(key)
		if err := os.Setenv(key, value); err != nil {
			return nil, err
		}
	}
	defer func() {
		for key, value := range original {
			if value == "" {
				os.Unsetenv(key)
			} else {
				os.Setenv(key, value)
			}
		}
	}()

	return Load()
}
