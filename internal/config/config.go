package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Gateway  GatewayConfig
	Payment  PaymentConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type RedisConfig struct {
	Addr string
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
	Topics  TopicConfig
	Enabled bool
}

type DatabaseConfig struct {
	Host           string
	Port           string
	Username       string
	Password       string
	Database       string
	SSLMode        string
	MaxOpenConns   int
	MaxIdleConns   int
	MaxLifetime    time.Duration
	AutoMigrate    bool
	MigrationsPath string
}

// DSN returns the postgres connection string for database/sql and the
// migration runner.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

type TopicConfig struct {
	PaymentEvents   string
	PaymentSuccess  string
	PaymentFailed   string
	PaymentRefunded string
}

// All returns every topic the service publishes to, for startup bootstrap.
func (t TopicConfig) All() []string {
	return []string{t.PaymentEvents, t.PaymentSuccess, t.PaymentFailed, t.PaymentRefunded}
}

type AuthConfig struct {
	Issuer   string
	ClientID string
	Disabled bool
}

// GatewayConfig selects the settlement gateway wiring. Mode "simulated"
// settles in-process; "stripe" routes card charges through Stripe.
type GatewayConfig struct {
	Mode            string
	StripeSecretKey string
	BankAsync       bool
}

type PaymentConfig struct {
	DefaultCurrency    string
	LockTTL            time.Duration
	ReceiptSecret      string
	WebhookSecret      string
	BatchRefundWorkers int
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", "localhost:6379"),
		},
		Database: DatabaseConfig{
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnv("DB_PORT", "5432"),
			Username:       getEnv("DB_USERNAME", "payment_user"),
			Password:       getEnv("DB_PASSWORD", "payment_pass"),
			Database:       getEnv("DB_NAME", "payment_gateway"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:   getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:   getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:    time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
			AutoMigrate:    getEnvBool("DB_AUTO_MIGRATE", true),
			MigrationsPath: getEnv("DB_MIGRATIONS_PATH", "migrations"),
		},
		Kafka: KafkaConfig{
			Brokers: []string{getEnv("KAFKA_BROKERS", "localhost:9092")},
			GroupID: getEnv("KAFKA_GROUP_ID", "payment-gateway-group"),
			Enabled: getEnvBool("KAFKA_ENABLED", true),
			Topics: TopicConfig{
				PaymentEvents:   getEnv("KAFKA_TOPIC_EVENTS", "payment-events"),
				PaymentSuccess:  getEnv("KAFKA_TOPIC_SUCCESS", "payment-success"),
				PaymentFailed:   getEnv("KAFKA_TOPIC_FAILED", "payment-failed"),
				PaymentRefunded: getEnv("KAFKA_TOPIC_REFUNDED", "payment-refunded"),
			},
		},
		Auth: AuthConfig{
			Issuer:   getEnv("OIDC_ISSUER", "http://localhost:8089/realms/commerce"),
			ClientID: getEnv("OIDC_CLIENT_ID", "commerce-api"),
			Disabled: getEnvBool("AUTH_DISABLED", false),
		},
		Gateway: GatewayConfig{
			Mode:            getEnv("GATEWAY_MODE", "simulated"),
			StripeSecretKey: getEnv("STRIPE_SECRET_KEY", ""),
			BankAsync:       getEnvBool("GATEWAY_BANK_ASYNC", false),
		},
		Payment: PaymentConfig{
			DefaultCurrency:    getEnv("PAYMENT_DEFAULT_CURRENCY", "usd"),
			LockTTL:            time.Duration(getEnvInt("PAYMENT_LOCK_TTL_SECONDS", 30)) * time.Second,
			ReceiptSecret:      getEnv("RECEIPT_SECRET", "dev-receipt-secret-32-bytes-long!"),
			WebhookSecret:      getEnv("SETTLEMENT_WEBHOOK_SECRET", ""),
			BatchRefundWorkers: getEnvInt("BATCH_REFUND_WORKERS", 4),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
