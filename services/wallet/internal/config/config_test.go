package config

import (
	"path/filepath"
	"testing"
	"time"
)

func setConfigPath(t *testing.T) {
	t.Helper()
	t.Setenv("INVEST_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	setConfigPath(t)
	t.Setenv("INVEST_JWT_SECRET", "")
	t.Setenv("JWT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error without jwt secret")
	}
}

func TestLoadDefaults(t *testing.T) {
	setConfigPath(t)
	t.Setenv("INVEST_JWT_SECRET", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DB.DSN() != "" {
		t.Fatalf("expected empty dsn without db host, got %s", cfg.DB.DSN())
	}
	if len(cfg.Kafka.Brokers) != 0 {
		t.Fatalf("expected no brokers, got %v", cfg.Kafka.Brokers)
	}
	if cfg.Scheduler.ReconcileSpec != "@every 1m" || cfg.Scheduler.MatureSpec != "@every 5m" {
		t.Fatalf("unexpected schedules: %s, %s", cfg.Scheduler.ReconcileSpec, cfg.Scheduler.MatureSpec)
	}
	if cfg.Investment.MinLockDays != 7 || cfg.Investment.CancellationFeeRate != "0.01" {
		t.Fatalf("unexpected investment config: %+v", cfg.Investment)
	}
	if cfg.Collaborator.CallTimeout != 5*time.Second {
		t.Fatalf("expected 5s call timeout, got %s", cfg.Collaborator.CallTimeout)
	}
}

func TestLoadFromEnv(t *testing.T) {
	setConfigPath(t)
	t.Setenv("JWT_SECRET", "plain-secret")
	t.Setenv("INVEST_DB_HOST", "db")
	t.Setenv("INVEST_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("INVEST_RATE_WINDOW", "30s")
	t.Setenv("INVEST_PRICE_SHARED_CACHE", "false")
	t.Setenv("INVEST_WEBHOOK_API_KEYS", "gw_dev_abc.s1,gw_dev_def.s2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.JWTSecret != "plain-secret" {
		t.Fatalf("expected unprefixed fallback, got %s", cfg.JWTSecret)
	}
	if cfg.DB.DSN() != "postgres://invest:invest@db:5432/goinvest?sslmode=disable" {
		t.Fatalf("unexpected dsn %s", cfg.DB.DSN())
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if cfg.RateLimit.Window != 30*time.Second {
		t.Fatalf("expected 30s window, got %s", cfg.RateLimit.Window)
	}
	if cfg.Pricing.SharedCache {
		t.Fatalf("expected shared cache disabled")
	}
	if len(cfg.Webhook.APIKeys) != 2 {
		t.Fatalf("expected 2 webhook keys, got %v", cfg.Webhook.APIKeys)
	}
}

func TestValidateRejectsBadSchedule(t *testing.T) {
	setConfigPath(t)
	t.Setenv("INVEST_JWT_SECRET", "secret")
	t.Setenv("INVEST_MATURE_SCHEDULE", "every so often")

	if _, err := Load(); err == nil {
		t.Fatalf("expected schedule error")
	}
}

func TestValidateRejectsBadFeeRate(t *testing.T) {
	setConfigPath(t)
	t.Setenv("INVEST_JWT_SECRET", "secret")
	t.Setenv("INVEST_INVESTMENT_CANCEL_FEE_RATE", "1.5")

	if _, err := Load(); err == nil {
		t.Fatalf("expected fee rate error")
	}
}
