package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"checkout-service/gateways"
	awspkg "checkout-service/pkg/aws"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Secrets Manager entries read when AWS_USE_SECRETS=true.
const (
	DBSecretName      = "checkout/DB_CREDENTIALS"
	GatewaySecretName = "checkout/GATEWAY_CREDENTIALS"
)

// Config holds all configuration for the checkout service.
type Config struct {
	Port string
	Env  string

	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	PostgresTimeZone string

	RedisURL      string
	PublicBaseURL string
	JWTSecret     string

	AllowedOrigins []string

	// Pricing
	OrderNumberPrefix     string
	FreeShippingThreshold decimal.Decimal
	FlatShippingFee       decimal.Decimal
	TaxRate               decimal.Decimal

	// Gateways
	EnabledGateways      []string
	GatewayTimeout       time.Duration
	PayFastMerchantID    string
	PayFastMerchantKey   string
	PayFastPassphrase    string
	PayflexAPIKey        string
	PayflexAPISecret     string
	PayflexMerchantID    string
	PayJustNowAPIKey     string
	PayJustNowAPISecret  string
	PayJustNowMerchantID string

	// AWS
	UseSecrets               bool
	OrderSNSTopicARN         string
	PaymentVerifyQueueURL    string
	PaymentVerifyDelay       time.Duration
	PaymentVerifyMaxAttempts int
	MetricsEnabled           bool
	MetricsNamespace         string
	CloudWatchEnabled        bool
	CloudWatchLogGroup       string

	IdempotencyTTL   time.Duration
	WebhookReplayTTL time.Duration
	RequestTimeout   time.Duration
	RateLimitRPS     float64
	RateLimitBurst   int
}

// SecretSource is satisfied by *aws.SecretsClient.
type SecretSource interface {
	GetSecretMap(ctx context.Context, name string) (map[string]string, error)
}

// LoadConfig reads configuration from the environment (and .env when present)
// with an optional Secrets Manager override, then validates it.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}

	if cfg.UseSecrets {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		awsCfg, err := awspkg.LoadAWSConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		cfg.ApplySecrets(ctx, awspkg.NewSecretsClient(awsCfg))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables without validating it.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8090"),
		Env:              getEnv("APP_ENV", "development"),
		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     os.Getenv("POSTGRES_HOST"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone: getEnv("POSTGRES_TIMEZONE", "Africa/Johannesburg"),

		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
		PublicBaseURL: strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),
		JWTSecret:     os.Getenv("JWT_SECRET"),

		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),

		OrderNumberPrefix: getEnv("ORDER_NUMBER_PREFIX", "KMB"),

		EnabledGateways:      splitList(getEnv("ENABLED_GATEWAYS", "payfast,payflex,payjustnow")),
		PayFastMerchantID:    os.Getenv("PAYFAST_MERCHANT_ID"),
		PayFastMerchantKey:   os.Getenv("PAYFAST_MERCHANT_KEY"),
		PayFastPassphrase:    os.Getenv("PAYFAST_PASSPHRASE"),
		PayflexAPIKey:        os.Getenv("PAYFLEX_API_KEY"),
		PayflexAPISecret:     os.Getenv("PAYFLEX_API_SECRET"),
		PayflexMerchantID:    os.Getenv("PAYFLEX_MERCHANT_ID"),
		PayJustNowAPIKey:     os.Getenv("PAYJUSTNOW_API_KEY"),
		PayJustNowAPISecret:  os.Getenv("PAYJUSTNOW_API_SECRET"),
		PayJustNowMerchantID: os.Getenv("PAYJUSTNOW_MERCHANT_ID"),

		UseSecrets:            os.Getenv("AWS_USE_SECRETS") == "true",
		OrderSNSTopicARN:      os.Getenv("ORDER_SNS_TOPIC_ARN"),
		PaymentVerifyQueueURL: os.Getenv("PAYMENT_VERIFY_QUEUE_URL"),
		MetricsEnabled:        os.Getenv("METRICS_ENABLED") == "true",
		MetricsNamespace:      getEnv("METRICS_NAMESPACE", "Checkout"),
		CloudWatchEnabled:     os.Getenv("CLOUDWATCH_ENABLED") == "true",
		CloudWatchLogGroup:    getEnv("CLOUDWATCH_LOG_GROUP", "/checkout/service"),
	}

	var err error
	if cfg.FreeShippingThreshold, err = getDecimal("FREE_SHIPPING_THRESHOLD", "500"); err != nil {
		return nil, err
	}
	if cfg.FlatShippingFee, err = getDecimal("FLAT_SHIPPING_FEE", "99"); err != nil {
		return nil, err
	}
	if cfg.TaxRate, err = getDecimal("TAX_RATE", "0.15"); err != nil {
		return nil, err
	}

	durations := []struct {
		dst      *time.Duration
		key, def string
	}{
		{&cfg.GatewayTimeout, "GATEWAY_TIMEOUT", "15s"},
		{&cfg.PaymentVerifyDelay, "PAYMENT_VERIFY_DELAY", "5m"},
		{&cfg.IdempotencyTTL, "IDEMPOTENCY_TTL", "24h"},
		{&cfg.WebhookReplayTTL, "WEBHOOK_REPLAY_TTL", "72h"},
		{&cfg.RequestTimeout, "REQUEST_TIMEOUT", "30s"},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(getEnv(d.key, d.def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if cfg.PaymentVerifyMaxAttempts, err = strconv.Atoi(getEnv("PAYMENT_VERIFY_MAX_ATTEMPTS", "5")); err != nil {
		return nil, fmt.Errorf("invalid PAYMENT_VERIFY_MAX_ATTEMPTS: %w", err)
	}
	if cfg.RateLimitRPS, err = strconv.ParseFloat(getEnv("RATE_LIMIT_RPS", "10"), 64); err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
	}
	if cfg.RateLimitBurst, err = strconv.Atoi(getEnv("RATE_LIMIT_BURST", "20")); err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BURST: %w", err)
	}

	return cfg, nil
}

// ApplySecrets overrides database and gateway credentials with values from
// Secrets Manager. Missing secrets leave the environment values in place.
func (c *Config) ApplySecrets(ctx context.Context, src SecretSource) {
	if m, err := src.GetSecretMap(ctx, DBSecretName); err == nil {
		override(&c.PostgresUser, m, "POSTGRES_USER")
		override(&c.PostgresPassword, m, "POSTGRES_PASSWORD")
		override(&c.PostgresDB, m, "POSTGRES_DB")
		override(&c.PostgresHost, m, "POSTGRES_HOST")
		override(&c.PostgresPort, m, "POSTGRES_PORT")
	}
	if m, err := src.GetSecretMap(ctx, GatewaySecretName); err == nil {
		override(&c.PayFastMerchantID, m, "PAYFAST_MERCHANT_ID")
		override(&c.PayFastMerchantKey, m, "PAYFAST_MERCHANT_KEY")
		override(&c.PayFastPassphrase, m, "PAYFAST_PASSPHRASE")
		override(&c.PayflexAPIKey, m, "PAYFLEX_API_KEY")
		override(&c.PayflexAPISecret, m, "PAYFLEX_API_SECRET")
		override(&c.PayflexMerchantID, m, "PAYFLEX_MERCHANT_ID")
		override(&c.PayJustNowAPIKey, m, "PAYJUSTNOW_API_KEY")
		override(&c.PayJustNowAPISecret, m, "PAYJUSTNOW_API_SECRET")
		override(&c.PayJustNowMerchantID, m, "PAYJUSTNOW_MERCHANT_ID")
		override(&c.JWTSecret, m, "JWT_SECRET")
	}
}

// Validate reports the first missing or out-of-range setting. Gateway
// credentials are checked when the gateway registry is built.
func (c *Config) Validate() error {
	if c.PostgresUser == "" || c.PostgresPassword == "" || c.PostgresDB == "" || c.PostgresHost == "" {
		return fmt.Errorf("database config incomplete")
	}
	if c.PublicBaseURL == "" {
		return fmt.Errorf("PUBLIC_BASE_URL not set")
	}
	if len(c.EnabledGateways) == 0 {
		return fmt.Errorf("ENABLED_GATEWAYS not set")
	}
	if c.TaxRate.IsNegative() || c.FlatShippingFee.IsNegative() || c.FreeShippingThreshold.IsNegative() {
		return fmt.Errorf("pricing settings must not be negative")
	}
	if c.PaymentVerifyMaxAttempts < 1 {
		return fmt.Errorf("PAYMENT_VERIFY_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.PostgresHost, c.PostgresUser, c.PostgresPassword, c.PostgresDB,
		c.PostgresPort, c.PostgresSSLMode, c.PostgresTimeZone,
	)
}

// GatewaySettings maps the flat credentials onto the gateway registry input.
func (c *Config) GatewaySettings() gateways.Settings {
	return gateways.Settings{
		Production: c.IsProduction(),
		Timeout:    c.GatewayTimeout,
		PayFast: gateways.PayFastConfig{
			MerchantID:  c.PayFastMerchantID,
			MerchantKey: c.PayFastMerchantKey,
			Passphrase:  c.PayFastPassphrase,
		},
		Payflex: gateways.PayflexConfig{
			APIKey:     c.PayflexAPIKey,
			APISecret:  c.PayflexAPISecret,
			MerchantID: c.PayflexMerchantID,
		},
		PayJustNow: gateways.PayJustNowConfig{
			APIKey:     c.PayJustNowAPIKey,
			APISecret:  c.PayJustNowAPISecret,
			MerchantID: c.PayJustNowMerchantID,
		},
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getDecimal(key, fallback string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(getEnv(key, fallback))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func override(dst *string, m map[string]string, key string) {
	if v, ok := m[key]; ok && v != "" {
		*dst = v
	}
}
