package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CHECKOUT_CONFIG", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("expected default addr :8080, got %s", cfg.HTTPAddr)
	}
	if cfg.ProviderTimeout != 15*time.Second {
		t.Errorf("expected provider timeout 15s, got %s", cfg.ProviderTimeout)
	}
	if cfg.StatusPolicy != StatusPolicyStrict {
		t.Errorf("expected strict policy, got %s", cfg.StatusPolicy)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkout.yaml")
	content := "http_addr: \":9000\"\nstripe_secret_key: sk_test_file\nkafka_brokers: \"a:9092, b:9092\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CHECKOUT_CONFIG", path)
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_env")
	t.Setenv("PROVIDER_TIMEOUT", "20s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPAddr != ":9000" {
		t.Errorf("expected addr from file, got %s", cfg.HTTPAddr)
	}
	if cfg.Stripe.SecretKey != "sk_test_env" {
		t.Errorf("expected env to win, got %s", cfg.Stripe.SecretKey)
	}
	if cfg.ProviderTimeout != 20*time.Second {
		t.Errorf("expected 20s, got %s", cfg.ProviderTimeout)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:9092" {
		t.Errorf("unexpected brokers %v", cfg.KafkaBrokers)
	}
}

func TestLoad_RejectsUnknownStatusPolicy(t *testing.T) {
	t.Setenv("CHECKOUT_CONFIG", "")
	t.Setenv("STATUS_POLICY", "loose")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown status policy")
	}
}
