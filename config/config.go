package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Port        string
	LogLevel    string
	StoreDriver string // mysql or memory

	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string

	JWTSecret     string
	TokenTTL      time.Duration
	StaffPassword string
	AdminPassword string

	RabbitMQURL     string
	OrderExchange   string
	OrderQueue      string
	DeadLetterQueue string
	DelayExchange   string
	MaxPriority     int

	Timezone            string
	PaymentTimeout      time.Duration
	ExpiryCheckInterval time.Duration
	MaxKioskQuantity    int
	MaxPOSQuantity      int
}

// LoadConfig reads .env when present, then the environment.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("no .env file found, using environment variables")
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		StoreDriver: getEnv("STORE_DRIVER", "mysql"),

		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: getEnvFromFile("DB_PASSWORD_FILE", "DB_PASSWORD", ""),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBName:     getEnv("DB_NAME", "booth_pos"),

		JWTSecret:     getEnvFromFile("JWT_SECRET_FILE", "JWT_SECRET", ""),
		TokenTTL:      getEnvDuration("TOKEN_TTL", 12*time.Hour),
		StaffPassword: getEnvFromFile("STAFF_PASSWORD_FILE", "STAFF_PASSWORD", ""),
		AdminPassword: getEnvFromFile("ADMIN_PASSWORD_FILE", "ADMIN_PASSWORD", ""),

		RabbitMQURL:     getEnv("RABBITMQ_URL", ""),
		OrderExchange:   getEnv("ORDER_EXCHANGE", "orders_exchange"),
		OrderQueue:      getEnv("ORDER_QUEUE", "orders_queue"),
		DeadLetterQueue: getEnv("DEAD_LETTER_QUEUE", "dead_letter_queue"),
		DelayExchange:   getEnv("DELAY_EXCHANGE", "delay_exchange"),
		MaxPriority:     10,

		Timezone:            getEnv("BOOTH_TIMEZONE", "Asia/Bangkok"),
		PaymentTimeout:      getEnvDuration("PAYMENT_TIMEOUT", 15*time.Minute),
		ExpiryCheckInterval: getEnvDuration("EXPIRY_CHECK_INTERVAL", time.Minute),
		MaxKioskQuantity:    getEnvInt("MAX_KIOSK_QUANTITY", 10),
		MaxPOSQuantity:      getEnvInt("MAX_POS_QUANTITY", 30),
	}
}

// Location falls back to UTC when the configured zone is unknown.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		logrus.WithError(err).WithField("timezone", c.Timezone).Warn("unknown timezone, using UTC")
		return time.UTC
	}
	return loc
}

func (c *Config) MySQLDSN() string {
	return c.DBUser + ":" + c.DBPassword + "@tcp(" + c.DBHost + ":" + c.DBPort + ")/" + c.DBName +
		"?parseTime=true&loc=UTC&multiStatements=true"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFromFile(fileKey, envKey, defaultValue string) string {
	if filePath := os.Getenv(fileKey); filePath != "" {
		if content, err := os.ReadFile(filePath); err == nil {
			return strings.TrimSpace(string(content))
		}
	}
	return getEnv(envKey, defaultValue)
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		logrus.WithField("key", key).Warn("invalid integer, using default")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		logrus.WithField("key", key).Warn("invalid duration, using default")
	}
	return defaultValue
}
