package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds all settings, read from the environment by Load.
type Config struct {
	StoreDriver string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	ServerPort string

	StoreTimeout  time.Duration
	MaxRetries    int
	RunMigrations bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration
}

// Load reads configuration from environment variables, falling back to
// defaults suitable for local development.
func Load() *Config {
	return &Config{
		StoreDriver:   strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "password"),
		DBName:        getEnv("DB_NAME", "safebank"),
		DBSSLMode:     getEnv("DB_SSLMODE", "disable"),
		ServerPort:    getEnv("SERVER_PORT", "8080"),
		StoreTimeout:  getDuration("STORE_TIMEOUT", 5*time.Second),
		MaxRetries:    getInt("MAX_RETRIES", 5),
		RunMigrations: getBool("RUN_MIGRATIONS", true),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),
		CacheTTL:      getDuration("CACHE_TTL", 30*time.Second),
	}
}

// GetDBConnectionString returns a lib/pq keyword/value DSN.
func (c *Config) GetDBConnectionString() string {
	sslMode := c.DBSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, sslMode)
}

func (c *Config) CacheEnabled() bool {
	return c.RedisAddr != ""
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
