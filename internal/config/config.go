// Package config loads the fulfillment service configuration from the
// environment and validates it before anything is started.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL / LOG_FORMAT / LOG_FILE: see internal/common/logging
//
// Database Configuration:
//   - DATABASE_TYPE: "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./storefront.db)
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER, POSTGRES_PASSWORD, POSTGRES_SSL_MODE
//
// Redis Configuration (optional, enables distributed locks and a shared tracking cache):
//   - REDIS_ADDRESS: Redis server address, empty disables Redis (default: empty)
//   - REDIS_PASSWORD, REDIS_DB (0-15), REDIS_POOL_SIZE
//
// Payment Provider:
//   - PAYMENT_API_URL (default: https://api.razorpay.com/v1)
//   - PAYMENT_KEY_ID: key id used for payment lookups
//   - PAYMENT_KEY_SECRET: signs client-relayed confirmations (required)
//   - PAYMENT_WEBHOOK_SECRET: signs webhook bodies (required)
//
// Shipping Provider:
//   - SHIPPING_API_URL (default: https://apiv2.shiprocket.in/v1/external)
//   - SHIPPING_EMAIL, SHIPPING_PASSWORD: login credentials
//   - SHIPPING_PICKUP_LOCATION (default: Home)
//   - SHIPPING_TOKEN_TTL (default: 24h)
//   - SHIPPING_RETRY_MAX_ATTEMPTS: attempts per call, 1 disables retry (default: 1)
//   - SHIPPING_RETRY_INITIAL_DELAY (default: 1s)
//
// Documents and Mail:
//   - INVOICE_SERVICE_URL: internal invoice renderer base URL
//   - SMTP_ENABLED, SMTP_HOST, SMTP_PORT, SMTP_USERNAME, SMTP_PASSWORD, SMTP_FROM, SMTP_FROM_NAME, SMTP_USE_SSL
//
// Timeouts:
//   - PAYMENT_FETCH_TIMEOUT (10s), SHIPMENT_TIMEOUT (80s), DOCUMENT_TIMEOUT (15s), MAIL_TIMEOUT (20s)
//
// Fulfillment:
//   - FULFILLMENT_DISPATCH: "inprocess" or "amqp" (default: inprocess)
//   - RABBITMQ_URL, FULFILLMENT_QUEUE (default: order_fulfillment)
//   - STALE_SWEEP_SCHEDULE: cron spec for the stalled-order sweep (default: @every 10m)
//   - STALE_AFTER: age after which an unfinished pipeline is reported (default: 30m)
//
// Security and Limits:
//   - ADMIN_JWT_SECRET: signs operator tokens (required, minimum 32 characters)
//   - RATE_LIMIT_ENABLED (true), RATE_LIMIT_RPS (5), RATE_LIMIT_BURST (20)
//   - TRACKING_CACHE_TTL (default: 5m)
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DispatchInProcess = "inprocess"
	DispatchAMQP      = "amqp"
)

// Config holds all configuration values for the service.
// Load it with Load() and check it with Validate() before use.
type Config struct {
	Port string

	DatabaseType     string
	DatabasePath     string
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	RedisAddress  string
	RedisPassword string
	RedisDB       string
	RedisPoolSize string

	PaymentAPIURL        string
	PaymentKeyID         string
	PaymentKeySecret     string
	PaymentWebhookSecret string

	ShippingAPIURL            string
	ShippingEmail             string
	ShippingPassword          string
	ShippingPickupLocation    string
	ShippingTokenTTL          time.Duration
	ShippingRetryMaxAttempts  int
	ShippingRetryInitialDelay time.Duration

	InvoiceServiceURL string

	SMTPEnabled  bool
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	SMTPUseSSL   bool

	PaymentFetchTimeout time.Duration
	ShipmentTimeout     time.Duration
	DocumentTimeout     time.Duration
	MailTimeout         time.Duration

	FulfillmentDispatch string
	RabbitMQURL         string
	FulfillmentQueue    string
	StaleSweepSchedule  string
	StaleAfter          time.Duration

	AdminJWTSecret string

	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	TrackingCacheTTL time.Duration

	// invalid collects variables that were set but could not be parsed
	invalid []string
}

// Load creates a Config from environment variables, falling back to defaults.
// It does not validate; call Validate on the result.
func Load() *Config {
	c := &Config{
		Port: getEnv("PORT", "8080"),

		DatabaseType:     strings.ToLower(getEnv("DATABASE_TYPE", "sqlite")),
		DatabasePath:     getEnv("DATABASE_PATH", "./storefront.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "storefront"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),

		PaymentAPIURL:        getEnv("PAYMENT_API_URL", "https://api.razorpay.com/v1"),
		PaymentKeyID:         getEnv("PAYMENT_KEY_ID", ""),
		PaymentKeySecret:     getEnv("PAYMENT_KEY_SECRET", ""),
		PaymentWebhookSecret: getEnv("PAYMENT_WEBHOOK_SECRET", ""),

		ShippingAPIURL:         getEnv("SHIPPING_API_URL", "https://apiv2.shiprocket.in/v1/external"),
		ShippingEmail:          getEnv("SHIPPING_EMAIL", ""),
		ShippingPassword:       getEnv("SHIPPING_PASSWORD", ""),
		ShippingPickupLocation: getEnv("SHIPPING_PICKUP_LOCATION", "Home"),

		InvoiceServiceURL: getEnv("INVOICE_SERVICE_URL", ""),

		SMTPEnabled:  getBoolEnv("SMTP_ENABLED", true),
		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnv("SMTP_PORT", "587"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", ""),
		SMTPFromName: getEnv("SMTP_FROM_NAME", "SAMAA by Siblings"),
		SMTPUseSSL:   getBoolEnv("SMTP_USE_SSL", false),

		FulfillmentDispatch: strings.ToLower(getEnv("FULFILLMENT_DISPATCH", DispatchInProcess)),
		RabbitMQURL:         getEnv("RABBITMQ_URL", ""),
		FulfillmentQueue:    getEnv("FULFILLMENT_QUEUE", "order_fulfillment"),
		StaleSweepSchedule:  getEnv("STALE_SWEEP_SCHEDULE", "@every 10m"),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		RateLimitEnabled: getBoolEnv("RATE_LIMIT_ENABLED", true),
	}

	c.ShippingTokenTTL = c.getDurationEnv("SHIPPING_TOKEN_TTL", 24*time.Hour)
	c.ShippingRetryMaxAttempts = c.getIntEnv("SHIPPING_RETRY_MAX_ATTEMPTS", 1)
	c.ShippingRetryInitialDelay = c.getDurationEnv("SHIPPING_RETRY_INITIAL_DELAY", time.Second)
	c.PaymentFetchTimeout = c.getDurationEnv("PAYMENT_FETCH_TIMEOUT", 10*time.Second)
	c.ShipmentTimeout = c.getDurationEnv("SHIPMENT_TIMEOUT", 80*time.Second)
	c.DocumentTimeout = c.getDurationEnv("DOCUMENT_TIMEOUT", 15*time.Second)
	c.MailTimeout = c.getDurationEnv("MAIL_TIMEOUT", 20*time.Second)
	c.StaleAfter = c.getDurationEnv("STALE_AFTER", 30*time.Minute)
	c.TrackingCacheTTL = c.getDurationEnv("TRACKING_CACHE_TTL", 5*time.Minute)
	c.RateLimitRPS = c.getFloatEnv("RATE_LIMIT_RPS", 5)
	c.RateLimitBurst = c.getIntEnv("RATE_LIMIT_BURST", 20)

	return c
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv accepts the strconv.ParseBool spellings; anything else yields defaultValue.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func (c *Config) getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		c.invalid = append(c.invalid, key)
		return defaultValue
	}
	return d
}

func (c *Config) getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		c.invalid = append(c.invalid, key)
		return defaultValue
	}
	return n
}

func (c *Config) getFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		c.invalid = append(c.invalid, key)
		return defaultValue
	}
	return f
}

// IsPostgres reports whether the postgres backend is selected
func (c *Config) IsPostgres() bool {
	return c.DatabaseType == "postgres" || c.DatabaseType == "postgresql"
}

// RedisEnabled reports whether a Redis address was configured
func (c *Config) RedisEnabled() bool {
	return c.RedisAddress != ""
}

// PostgresDSN builds a libpq style connection string
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresSSLMode)
}

// Validate checks required fields, formats and cross-field dependencies.
func (c *Config) Validate() error {
	if len(c.invalid) > 0 {
		return fmt.Errorf("invalid value for %s", strings.Join(c.invalid, ", "))
	}

	if c.PaymentKeySecret == "" {
		return fmt.Errorf("PAYMENT_KEY_SECRET environment variable is required")
	}
	if c.PaymentWebhookSecret == "" {
		return fmt.Errorf("PAYMENT_WEBHOOK_SECRET environment variable is required")
	}

	if c.AdminJWTSecret == "" {
		return fmt.Errorf("ADMIN_JWT_SECRET environment variable is required")
	}
	if len(c.AdminJWTSecret) < 32 {
		return fmt.Errorf("ADMIN_JWT_SECRET must be at least 32 characters long")
	}

	if !validPort(c.Port) {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	switch {
	case c.DatabaseType == "sqlite":
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH is required when using SQLite")
		}
	case c.IsPostgres():
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if !validPort(c.PostgresPort) {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite' or 'postgres'")
	}

	if c.RedisEnabled() {
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
	}

	for name, raw := range map[string]string{
		"PAYMENT_API_URL":  c.PaymentAPIURL,
		"SHIPPING_API_URL": c.ShippingAPIURL,
	} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL", name)
		}
	}
	if c.InvoiceServiceURL != "" {
		if u, err := url.Parse(c.InvoiceServiceURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("INVOICE_SERVICE_URL must be an absolute URL")
		}
	}

	if c.ShippingRetryMaxAttempts < 1 || c.ShippingRetryMaxAttempts > 10 {
		return fmt.Errorf("SHIPPING_RETRY_MAX_ATTEMPTS must be between 1 and 10")
	}
	if c.ShippingTokenTTL <= 0 {
		return fmt.Errorf("SHIPPING_TOKEN_TTL must be positive")
	}

	for name, d := range map[string]time.Duration{
		"PAYMENT_FETCH_TIMEOUT": c.PaymentFetchTimeout,
		"SHIPMENT_TIMEOUT":      c.ShipmentTimeout,
		"DOCUMENT_TIMEOUT":      c.DocumentTimeout,
		"MAIL_TIMEOUT":          c.MailTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if c.SMTPEnabled {
		if c.SMTPHost == "" || c.SMTPFrom == "" {
			return fmt.Errorf("SMTP_HOST and SMTP_FROM are required when SMTP_ENABLED is true")
		}
		if !validPort(c.SMTPPort) {
			return fmt.Errorf("SMTP_PORT must be a valid port number")
		}
	}

	switch c.FulfillmentDispatch {
	case DispatchInProcess:
	case DispatchAMQP:
		if c.RabbitMQURL == "" {
			return fmt.Errorf("RABBITMQ_URL is required when FULFILLMENT_DISPATCH is amqp")
		}
		if c.FulfillmentQueue == "" {
			return fmt.Errorf("FULFILLMENT_QUEUE must not be empty")
		}
	default:
		return fmt.Errorf("FULFILLMENT_DISPATCH must be 'inprocess' or 'amqp'")
	}

	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst < 1) {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}

	return nil
}

func validPort(raw string) bool {
	port, err := strconv.Atoi(raw)
	return err == nil && port >= 1 && port <= 65535
}
