package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Stripe   StripeConfig
	Payout   PayoutConfig
	Email    EmailConfig
	QR       QRConfig
	Auth     AuthConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// TicketURLBase is prefixed to the payment id in confirmation emails.
	TicketURLBase string
}

type DatabaseConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	ConnectTries int
	// MigrationsDir overrides the embedded migrations when set.
	MigrationsDir string
	AutoMigrate   bool
}

type RedisConfig struct {
	Addr    string
	Enabled bool
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
	Topics  TopicConfig
	Enabled bool
}

type TopicConfig struct {
	BookingNotifications string
	PayoutTransferred    string
	PayoutReverted       string
}

type StripeConfig struct {
	SecretKey      string
	WebhookSecret  string
	Currency       string
	RequestTimeout time.Duration
}

type PayoutConfig struct {
	LeaseTTL             time.Duration
	MaxTransferAttempts  int
	BatchSize            int
	ReconcileConcurrency int
	SweepInterval        time.Duration
	ReconcileInterval    time.Duration
	RunLockTTL           time.Duration
	OutboxInterval       time.Duration
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	From         string
}

type QRConfig struct {
	Secret string
}

type AuthConfig struct {
	// OIDCIssuer enables bearer-token checks on operator routes when set.
	OIDCIssuer string
}

type LogConfig struct {
	Dir    string
	Prefix string
	Level  string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", ":8085"),
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
			TicketURLBase:   getEnv("TICKET_URL_BASE", "http://localhost:5173/qr-ticket/"),
		},
		Database: DatabaseConfig{
			DSN:           getEnv("POSTGRES_DSN", ""),
			MaxOpenConns:  getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:   time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
			ConnectTries:  getEnvInt("DB_CONNECT_RETRIES", 5),
			MigrationsDir: getEnv("MIGRATIONS_DIR", ""),
			AutoMigrate:   getEnvBool("AUTO_MIGRATE", false),
		},
		Redis: RedisConfig{
			Addr:    getEnv("REDIS_ADDR", "localhost:6379"),
			Enabled: getEnvBool("REDIS_ENABLED", true),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			GroupID: getEnv("KAFKA_GROUP_ID", "payout-service-group"),
			Enabled: getEnvBool("KAFKA_ENABLED", true),
			Topics: TopicConfig{
				BookingNotifications: getEnv("KAFKA_TOPIC_BOOKING", "ticketing.notifications.booking"),
				PayoutTransferred:    getEnv("KAFKA_TOPIC_TRANSFERRED", "ticketing.payouts.transferred"),
				PayoutReverted:       getEnv("KAFKA_TOPIC_REVERTED", "ticketing.payouts.reverted"),
			},
		},
		Stripe: StripeConfig{
			SecretKey:      getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret:  getEnv("STRIPE_WEBHOOK_SECRET", ""),
			Currency:       strings.ToLower(getEnv("STRIPE_CURRENCY", "usd")),
			RequestTimeout: getEnvDuration("STRIPE_REQUEST_TIMEOUT", 15*time.Second),
		},
		Payout: PayoutConfig{
			LeaseTTL:             getEnvDuration("PAYOUT_LEASE_TTL", 2*time.Minute),
			MaxTransferAttempts:  getEnvInt("PAYOUT_MAX_TRANSFER_ATTEMPTS", 0),
			BatchSize:            getEnvInt("PAYOUT_BATCH_SIZE", 500),
			ReconcileConcurrency: getEnvInt("RECONCILE_CONCURRENCY", 4),
			SweepInterval:        getEnvDuration("SWEEP_INTERVAL", 0),
			ReconcileInterval:    getEnvDuration("RECONCILE_INTERVAL", 0),
			RunLockTTL:           getEnvDuration("RUN_LOCK_TTL", 10*time.Minute),
			OutboxInterval:       getEnvDuration("OUTBOX_INTERVAL", 5*time.Second),
		},
		Email: EmailConfig{
			SMTPHost:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			SMTPPort:     getEnv("SMTP_PORT", "587"),
			SMTPUsername: getEnv("SMTP_USERNAME", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
			From:         getEnv("SMTP_FROM", "no-reply@evently.local"),
		},
		QR: QRConfig{
			Secret: getEnv("QR_SECRET_KEY", ""),
		},
		Auth: AuthConfig{
			OIDCIssuer: getEnv("OIDC_ISSUER", ""),
		},
		Log: LogConfig{
			Dir:    getEnv("LOG_DIR", "logs"),
			Prefix: getEnv("LOG_PREFIX", "payout-service"),
			Level:  getEnv("LOG_LEVEL", "INFO"),
		},
	}
}

// Validate reports every missing mandatory setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("POSTGRES_DSN not set"))
	}
	if c.Stripe.SecretKey == "" {
		errs = append(errs, errors.New("STRIPE_SECRET_KEY not set"))
	}
	if c.Stripe.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("STRIPE_REQUEST_TIMEOUT must be positive, got %s", c.Stripe.RequestTimeout))
	}
	if c.Payout.LeaseTTL <= c.Stripe.RequestTimeout {
		errs = append(errs, fmt.Errorf("PAYOUT_LEASE_TTL (%s) must exceed STRIPE_REQUEST_TIMEOUT (%s)", c.Payout.LeaseTTL, c.Stripe.RequestTimeout))
	}
	if c.Payout.MaxTransferAttempts < 0 {
		errs = append(errs, errors.New("PAYOUT_MAX_TRANSFER_ATTEMPTS cannot be negative"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS not set"))
	}
	return errors.Join(errs...)
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
