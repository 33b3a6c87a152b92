// Package config provides configuration management for the application.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all configuration values for the application.
type Config struct {
	// AWS
	AWSRegion     string
	ReportsBucket string

	// Database
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string

	// Kafka
	KafkaBrokers []string
	KafkaTopic   string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Payment gateway
	StripeSecretKey string
	Currency        string

	// SES
	SESSenderEmail string

	// Metrics
	PushgatewayURL string

	// Engine
	BalanceTolerance   decimal.Decimal
	NPLThresholdDays   int
	SweepConcurrency   int
	SweepPageSize      int
	PendingRecoveryAge time.Duration
	ScoringCacheTTL    time.Duration

	// Application
	Stage    string
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	_ = godotenv.Load()

	tolerance, err := decimal.NewFromString(getEnv("BALANCE_TOLERANCE", "0.01"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		// AWS
		AWSRegion:     getEnv("AWS_REGION", "us-east-1"),
		ReportsBucket: getEnv("REPORTS_BUCKET", ""),

		// Database
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnvInt("DB_PORT", 5432),
		DBName:     getEnv("DB_NAME", "microlend"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),

		// Kafka
		KafkaBrokers: getEnvList("KAFKA_BROKERS"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "loan-events"),

		// Redis
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		// Payment gateway
		StripeSecretKey: getEnv("STRIPE_SECRET_KEY", ""),
		Currency:        strings.ToLower(getEnv("CURRENCY", "usd")),

		// SES
		SESSenderEmail: getEnv("SES_SENDER_EMAIL", ""),

		// Metrics
		PushgatewayURL: getEnv("PUSHGATEWAY_URL", ""),

		// Engine
		BalanceTolerance:   tolerance,
		NPLThresholdDays:   getEnvInt("NPL_THRESHOLD_DAYS", 30),
		SweepConcurrency:   getEnvInt("SWEEP_CONCURRENCY", 8),
		SweepPageSize:      getEnvInt("SWEEP_PAGE_SIZE", 500),
		PendingRecoveryAge: getEnvDuration("PENDING_RECOVERY_AGE", 15*time.Minute),
		ScoringCacheTTL:    getEnvDuration("SCORING_CACHE_TTL", 5*time.Minute),

		// Application
		Stage:    getEnv("STAGE", "dev"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// DatabaseURL returns the PostgreSQL connection string.
func (c *Config) DatabaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	sslMode := "require"
	if c.DBHost == "localhost" || c.DBHost == "127.0.0.1" {
		sslMode = "disable" // Disable SSL for local development
	}
	return "postgres://" + c.DBUser + ":" + c.DBPassword + "@" + c.DBHost + ":" + strconv.Itoa(c.DBPort) + "/" + c.DBName + "?sslmode=" + sslMode
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as int or returns a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration retrieves an environment variable as a duration (e.g. "10m").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated environment variable.
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
