package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds runtime configuration for the checkout binaries.
type Config struct {
	HTTPAddr        string
	PostgresURL     string
	DBSchema        string
	KafkaBrokers    []string
	EmailServiceURL string
	AllowedOrigin   string
	OTLPEndpoint    string
	StatusPolicy    string
	ProviderTimeout time.Duration
	ShutdownTimeout time.Duration

	Stripe StripeConfig
	PayPal PayPalConfig
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	APIURL        string
	MaxRetries    int64
}

type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	APIURL       string
}

const (
	StatusPolicyStrict     = "strict"
	StatusPolicyPermissive = "permissive"
)

// Load reads defaults, then the optional YAML file named by CHECKOUT_CONFIG, then the
// environment. Environment variables win.
func Load() (Config, error) {
	v := viper.New()
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DB_SCHEMA", "checkout")
	v.SetDefault("ALLOWED_ORIGIN", "*")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("STATUS_POLICY", StatusPolicyStrict)
	v.SetDefault("PROVIDER_TIMEOUT", 15*time.Second)
	v.SetDefault("SHUTDOWN_TIMEOUT", 10*time.Second)
	v.SetDefault("STRIPE_MAX_RETRIES", 1)

	if path := os.Getenv("CHECKOUT_CONFIG"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	v.AutomaticEnv()

	cfg := Config{
		HTTPAddr:        v.GetString("HTTP_ADDR"),
		PostgresURL:     v.GetString("POSTGRES_URL"),
		DBSchema:        v.GetString("DB_SCHEMA"),
		KafkaBrokers:    splitList(v.GetString("KAFKA_BROKERS")),
		EmailServiceURL: v.GetString("EMAIL_SERVICE_URL"),
		AllowedOrigin:   v.GetString("ALLOWED_ORIGIN"),
		OTLPEndpoint:    v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		StatusPolicy:    strings.ToLower(v.GetString("STATUS_POLICY")),
		ProviderTimeout: v.GetDuration("PROVIDER_TIMEOUT"),
		ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
		Stripe: StripeConfig{
			SecretKey:     v.GetString("STRIPE_SECRET_KEY"),
			WebhookSecret: v.GetString("STRIPE_WEBHOOK_SECRET"),
			APIURL:        v.GetString("STRIPE_API_URL"),
			MaxRetries:    v.GetInt64("STRIPE_MAX_RETRIES"),
		},
		PayPal: PayPalConfig{
			ClientID:     v.GetString("PAYPAL_CLIENT_ID"),
			ClientSecret: v.GetString("PAYPAL_CLIENT_SECRET"),
			APIURL:       v.GetString("PAYPAL_API_URL"),
		},
	}

	if cfg.StatusPolicy != StatusPolicyStrict && cfg.StatusPolicy != StatusPolicyPermissive {
		return Config{}, fmt.Errorf("STATUS_POLICY must be %q or %q, got %q", StatusPolicyStrict, StatusPolicyPermissive, cfg.StatusPolicy)
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
