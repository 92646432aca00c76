package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries the engine's tunables and the demo host's wiring. Defaults
// follow the documented contract: 10s lock timeout, 15m reservation timeout,
// 3 optimistic retries.
type Config struct {
	HTTPPort      string
	Backend       string // "mysql" or "mongo"
	MySQLDSN      string
	MongoURI      string
	MongoDatabase string
	RedisAddr     string // empty disables the shared duplicate filter

	LockTimeout          time.Duration
	ReservationTimeout   time.Duration
	OptimisticRetryLimit int

	ReaperInterval  time.Duration
	ReaperBatchSize int
	DedupeTTL       time.Duration
}

// Load reads .env if present, then the environment, falling back to
// defaults. Existing environment variables win over the file.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	return &Config{
		HTTPPort:      getEnv("HTTP_PORT", ":8080"),
		Backend:       getEnv("STORAGE_BACKEND", "mysql"),
		MySQLDSN:      getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/stockreserve?parseTime=true"),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGO_DATABASE", "stockreserve"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),

		LockTimeout:          getDuration("LOCK_TIMEOUT", 10*time.Second),
		ReservationTimeout:   getDuration("RESERVATION_TIMEOUT", 15*time.Minute),
		OptimisticRetryLimit: getInt("OPTIMISTIC_RETRY_LIMIT", 3),

		ReaperInterval:  getDuration("REAPER_INTERVAL", 60*time.Second),
		ReaperBatchSize: getInt("REAPER_BATCH_SIZE", 100),
		DedupeTTL:       getDuration("DEDUPE_TTL", 24*time.Hour),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("invalid duration, using default", "key", key, "value", value, "default", fallback)
		return fallback
	}
	return d
}

func getInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("invalid integer, using default", "key", key, "value", value, "default", fallback)
		return fallback
	}
	return n
}
