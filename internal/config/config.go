// Package config provides configuration management for the lending dashboard
// service. It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	Pnl       PnlConfig
	Refresh   RefreshConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// CacheConfig holds report cache configuration
type CacheConfig struct {
	TTL time.Duration
}

// PnlConfig holds P&L computation policy knobs
type PnlConfig struct {
	// InterestSanityDailyRate is the ceiling on plausible daily interest
	// relative to average debt. Period interest above it is zeroed and
	// flagged. Heuristic threshold, tunable; not protocol-derived.
	InterestSanityDailyRate float64
	// DefaultTimezone applies when a request omits tz
	DefaultTimezone string
	// MaxRangeDays caps a single report window
	MaxRangeDays int
	// DefaultRangeDays is the window used when a request names no range
	DefaultRangeDays int
	// DailyBarThresholdDays is the widest window still charted with daily bars
	DailyBarThresholdDays int
	// RewardTokenAddress is the protocol emission token claims are paid in
	RewardTokenAddress string
}

// RefreshConfig holds daily-rates refresh coordination settings
type RefreshConfig struct {
	Schedule string        // cron expression for the worker
	LockTTL  time.Duration // refresh lock expiry; bounds a crashed refresher
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	FreeTier    int
	PremiumTier int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env file is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "lending_dashboard"),
				User:           getEnv("POSTGRES_USER", "dashboard"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "lending_dashboard"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Cache: CacheConfig{
			TTL: getEnvAsDuration("CACHE_TTL", 60*time.Second),
		},
		Pnl: PnlConfig{
			InterestSanityDailyRate: getEnvAsFloat("INTEREST_SANITY_DAILY_RATE", 0.01),
			DefaultTimezone:         getEnv("DEFAULT_TIMEZONE", "UTC"),
			MaxRangeDays:            getEnvAsInt("MAX_RANGE_DAYS", 1825),
			DefaultRangeDays:        getEnvAsInt("DEFAULT_RANGE_DAYS", 30),
			DailyBarThresholdDays:   getEnvAsInt("DAILY_BAR_THRESHOLD_DAYS", 31),
			RewardTokenAddress:      getEnv("REWARD_TOKEN_ADDRESS", ""),
		},
		Refresh: RefreshConfig{
			Schedule: getEnv("RATES_REFRESH_SCHEDULE", "15 0 * * *"),
			LockTTL:  getEnvAsDuration("RATES_REFRESH_LOCK_TTL", 10*time.Minute),
		},
		RateLimit: RateLimitConfig{
			FreeTier:    getEnvAsInt("RATE_LIMIT_FREE_TIER", 100),
			PremiumTier: getEnvAsInt("RATE_LIMIT_PREMIUM_TIER", 1000),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
