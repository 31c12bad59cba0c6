package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	base "github.com/AfshinJalili/goinvest/libs/config"
	"github.com/AfshinJalili/goinvest/libs/kafka"
	"github.com/robfig/cron/v3"
)

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
	// Migrate applies the embedded schema on startup.
	Migrate bool
}

// DSN returns the connection string, or "" when no host is configured.
func (c DBConfig) DSN() string {
	if c.Host == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaTopics struct {
	PaymentsConfirmed string
	DeadLetter        string
}

type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	MaxAttempts   int
	Topics        KafkaTopics
}

type RateLimitConfig struct {
	Limit   int
	Window  time.Duration
	MaxKeys int
}

type SchedulerConfig struct {
	ReconcileSpec  string
	MatureSpec     string
	PlansSpec      string
	JobTimeout     time.Duration
	StaleAfter     time.Duration
	BatchSize      int
	WorkerPoll     time.Duration
	WorkerAttempts int
}

type PricingConfig struct {
	BaseURL          string
	APIKey           string
	CacheTTL         time.Duration
	CacheSize        int
	FetchTimeout     time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
	SharedCache      bool
}

type InvestmentConfig struct {
	MinLockDays         int
	CancellationFeeRate string
}

type CollaboratorConfig struct {
	CallTimeout time.Duration
	CheckDelay  time.Duration
}

type WebhookConfig struct {
	// APIKeys holds full gateway keys (gw_<env>_<prefix>.<secret>) accepted
	// on the payment webhook.
	APIKeys []string
	// AllowedIPs restricts webhook callers when non-empty.
	AllowedIPs []string
}

type Config struct {
	App          base.AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	RateLimit    RateLimitConfig
	Scheduler    SchedulerConfig
	Pricing      PricingConfig
	Investment   InvestmentConfig
	Collaborator CollaboratorConfig
	Webhook      WebhookConfig
	JWTSecret    string
}

func Load() (*Config, error) {
	if err := base.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	path := os.Getenv(base.EnvPrefix + "_CONFIG")

	appCfg, err := base.Load(path)
	if err != nil {
		return nil, err
	}

	v, err := base.NewViper(path)
	if err != nil {
		return nil, err
	}

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.consumer_group", "wallet-engine")
	v.SetDefault("kafka.max_attempts", 3)
	v.SetDefault("kafka.topics.payments_confirmed", kafka.TopicPaymentsConfirmed)
	v.SetDefault("kafka.topics.dead_letter", kafka.TopicDeadLetter)
	v.SetDefault("scheduler.reconcile", "@every 1m")
	v.SetDefault("scheduler.mature", "@every 5m")
	v.SetDefault("scheduler.plans", "@every 10m")
	v.SetDefault("jwt_secret", "")

	cfg := &Config{
		App: *appCfg,
		DB: DBConfig{
			Host:     envString("DB_HOST", envString("POSTGRES_HOST", "")),
			Port:     envInt("DB_PORT", envInt("POSTGRES_PORT", 5432)),
			Name:     envString("DB_NAME", envString("POSTGRES_DB", "goinvest")),
			User:     envString("DB_USER", envString("POSTGRES_USER", "invest")),
			Password: envString("DB_PASSWORD", envString("POSTGRES_PASSWORD", "invest")),
			SSLMode:  envString("DB_SSLMODE", envString("POSTGRES_SSLMODE", "disable")),
			Migrate:  envBool("DB_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     envString("REDIS_ADDR", ""),
			Password: envString("REDIS_PASSWORD", ""),
			DB:       envInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:       envCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			ConsumerGroup: envString("KAFKA_CONSUMER_GROUP", v.GetString("kafka.consumer_group")),
			MaxAttempts:   envInt("KAFKA_MAX_ATTEMPTS", v.GetInt("kafka.max_attempts")),
			Topics: KafkaTopics{
				PaymentsConfirmed: envString("KAFKA_PAYMENTS_TOPIC", v.GetString("kafka.topics.payments_confirmed")),
				DeadLetter:        envString("KAFKA_DLQ_TOPIC", v.GetString("kafka.topics.dead_letter")),
			},
		},
		RateLimit: RateLimitConfig{
			Limit:   envInt("RATE_LIMIT", 30),
			Window:  envDuration("RATE_WINDOW", time.Minute),
			MaxKeys: envInt("RATE_MAX_KEYS", 10000),
		},
		Scheduler: SchedulerConfig{
			ReconcileSpec:  envString("RECONCILE_SCHEDULE", v.GetString("scheduler.reconcile")),
			MatureSpec:     envString("MATURE_SCHEDULE", v.GetString("scheduler.mature")),
			PlansSpec:      envString("PLANS_SCHEDULE", v.GetString("scheduler.plans")),
			JobTimeout:     envDuration("JOB_TIMEOUT", 30*time.Second),
			StaleAfter:     envDuration("RECONCILE_STALE_AFTER", 10*time.Minute),
			BatchSize:      envInt("JOB_BATCH_SIZE", 100),
			WorkerPoll:     envDuration("WORKER_POLL_INTERVAL", time.Second),
			WorkerAttempts: envInt("WORKER_MAX_ATTEMPTS", 10),
		},
		Pricing: PricingConfig{
			BaseURL:          envString("PRICE_API_URL", ""),
			APIKey:           envString("PRICE_API_KEY", ""),
			CacheTTL:         envDuration("PRICE_CACHE_TTL", time.Minute),
			CacheSize:        envInt("PRICE_CACHE_SIZE", 256),
			FetchTimeout:     envDuration("PRICE_FETCH_TIMEOUT", 3*time.Second),
			BreakerThreshold: envInt("PRICE_BREAKER_THRESHOLD", 5),
			BreakerCooldown:  envDuration("PRICE_BREAKER_COOLDOWN", 30*time.Second),
			SharedCache:      envBool("PRICE_SHARED_CACHE", true),
		},
		Investment: InvestmentConfig{
			MinLockDays:         envInt("INVESTMENT_MIN_LOCK_DAYS", 7),
			CancellationFeeRate: envString("INVESTMENT_CANCEL_FEE_RATE", "0.01"),
		},
		Collaborator: CollaboratorConfig{
			CallTimeout: envDuration("COLLABORATOR_TIMEOUT", 5*time.Second),
			CheckDelay:  envDuration("SETTLEMENT_CHECK_DELAY", 30*time.Second),
		},
		Webhook: WebhookConfig{
			APIKeys:    envCSV("WEBHOOK_API_KEYS", nil),
			AllowedIPs: envCSV("WEBHOOK_ALLOWED_IPS", nil),
		},
		JWTSecret: envString("JWT_SECRET", v.GetString("jwt_secret")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt secret required")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.ConsumerGroup == "" {
		return fmt.Errorf("kafka consumer group required")
	}
	if c.Kafka.Topics.PaymentsConfirmed == "" || c.Kafka.Topics.DeadLetter == "" {
		return fmt.Errorf("kafka topics required")
	}
	if c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit and window must be positive")
	}
	for name, spec := range map[string]string{
		"reconcile": c.Scheduler.ReconcileSpec,
		"mature":    c.Scheduler.MatureSpec,
		"plans":     c.Scheduler.PlansSpec,
	} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%s schedule %q: %w", name, spec, err)
		}
	}
	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("job batch size must be positive")
	}
	if c.Investment.MinLockDays < 0 {
		return fmt.Errorf("investment min lock days must be non-negative")
	}
	if rate, err := strconv.ParseFloat(c.Investment.CancellationFeeRate, 64); err != nil || rate < 0 || rate >= 1 {
		return fmt.Errorf("investment cancellation fee rate must be in [0, 1)")
	}
	if c.Collaborator.CallTimeout <= 0 {
		return fmt.Errorf("collaborator timeout must be positive")
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(base.EnvPrefix + "_" + key); v != "" {
		return v
	}
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := envString(key, ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := envString(key, ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := envString(key, ""); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envCSV(key string, def []string) []string {
	if v := envString(key, ""); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
