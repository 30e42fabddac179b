package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	ServerPort     string
	ServerHost     string
	AllowedOrigins []string

	// Auth
	JWTSecret string
	TokenTTL  time.Duration

	// Collaboration core
	DebounceWindow  time.Duration
	StoreTimeout    time.Duration
	SendBuffer      int
	IdleTimeout     time.Duration
	FlushOnShutdown bool

	// Cross-process relay. Empty RedisAddr disables it.
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RedisChannelPrefix string

	// Observability
	JaegerEndpoint string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "codoc"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		ServerPort:     getEnv("SERVER_PORT", "4000"),
		ServerHost:     getEnv("SERVER_HOST", "localhost"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS"),

		JWTSecret: getEnv("JWT_SECRET", ""),
		TokenTTL:  getEnvDuration("TOKEN_TTL", 24*time.Hour),

		DebounceWindow:  getEnvDuration("DEBOUNCE_WINDOW", 3*time.Second),
		StoreTimeout:    getEnvDuration("STORE_TIMEOUT", 10*time.Second),
		SendBuffer:      getEnvInt("SEND_BUFFER", 256),
		IdleTimeout:     getEnvDuration("IDLE_TIMEOUT", 5*time.Minute),
		FlushOnShutdown: getEnvBool("FLUSH_ON_SHUTDOWN", true),

		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		RedisChannelPrefix: getEnv("REDIS_CHANNEL_PREFIX", "codoc:"),

		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.DebounceWindow <= 0 {
		return nil, fmt.Errorf("DEBOUNCE_WINDOW must be positive, got %s", cfg.DebounceWindow)
	}
	if cfg.SendBuffer <= 0 {
		return nil, fmt.Errorf("SEND_BUFFER must be positive, got %d", cfg.SendBuffer)
	}

	return cfg, nil
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// BackplaneEnabled reports whether edits are also fanned out through Redis.
func (c *Config) BackplaneEnabled() bool {
	return c.RedisAddr != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.ParseBool(value); err == nil {
			return result
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("3s", "250ms").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if result, err := time.ParseDuration(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
