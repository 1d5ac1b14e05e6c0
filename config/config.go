// Package config loads process configuration from .env and the
// environment into a typed Config, per SPEC_FULL.md §6.3.
package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// defaultServiceRegistry matches original_source/server/main.py's
// services dict, for zero-config local runs.
var defaultServiceRegistry = map[string][]string{
	"light": {"http://localhost:9001", "http://localhost:9002"},
	"heavy": {"http://localhost:9101", "http://localhost:9102"},
}

// Config holds every environment-derived setting the process needs.
type Config struct {
	Port string

	RedisHost string
	RedisPort string

	JWTSecret string
	JWTExpiry string

	DatabaseURL  string
	AuditEnabled bool

	MetricsArchiveInterval time.Duration
	MetricsArchiveDir      string

	StorageBackend string
	S3Bucket       string
	AWSRegion      string

	ServiceRegistry map[string][]string

	AuthRateLimit     int
	AuthRateWindow    int
	GenericRateLimit  int
	GenericRateWindow int
}

// Load reads .env (if present, logging but not failing when absent) and
// the environment into a Config.
func Load() (Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("config: no .env file loaded: %v", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		log.Fatal("$PORT must be set")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = os.Getenv("SECRET_KEY")
	}

	cfg := Config{
		Port: port,

		RedisHost: getEnv("REDIS_HOST", "localhost"),
		RedisPort: getEnv("REDIS_PORT", "6379"),

		JWTSecret: jwtSecret,
		JWTExpiry: getEnv("JWT_EXPIRY", "1h"),

		DatabaseURL:  os.Getenv("DATABASE_URL"),
		AuditEnabled: getEnvAsBool("AUDIT_ENABLED", true),

		MetricsArchiveInterval: getEnvAsDuration("METRICS_ARCHIVE_INTERVAL", 5*time.Minute),
		MetricsArchiveDir:      getEnv("METRICS_ARCHIVE_DIR", "metrics-archive"),

		StorageBackend: getEnv("STORAGE_BACKEND", "local"),
		S3Bucket:       os.Getenv("S3_BUCKET"),
		AWSRegion:      os.Getenv("AWS_REGION"),

		AuthRateLimit:     getEnvAsInt("AUTH_RATE_LIMIT", 3),
		AuthRateWindow:    getEnvAsInt("AUTH_RATE_WINDOW", 60),
		GenericRateLimit:  getEnvAsInt("GENERIC_RATE_LIMIT", 30),
		GenericRateWindow: getEnvAsInt("GENERIC_RATE_WINDOW", 60),
	}

	registry, err := loadServiceRegistry()
	if err != nil {
		return Config{}, err
	}
	cfg.ServiceRegistry = registry

	return cfg, nil
}

// loadServiceRegistry reads SERVICE_REGISTRY_FILE if set, else the
// inlined SERVICE_REGISTRY env var, else falls back to the compiled-in
// default (light/heavy), matching SPEC_FULL.md §6.3.
func loadServiceRegistry() (map[string][]string, error) {
	if path := os.Getenv("SERVICE_REGISTRY_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var registry map[string][]string
		if err := json.Unmarshal(raw, &registry); err != nil {
			return nil, err
		}
		return registry, nil
	}

	if raw := os.Getenv("SERVICE_REGISTRY"); raw != "" {
		var registry map[string][]string
		if err := json.Unmarshal([]byte(raw), &registry); err != nil {
			return nil, err
		}
		return registry, nil
	}

	return defaultServiceRegistry, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvAsInt mirrors main.go's original getEnvAsInt helper.
func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Printf("invalid value for %s: %s, using fallback: %d", key, value, fallback)
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
		log.Printf("invalid value for %s: %s, using fallback: %t", key, value, fallback)
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
		log.Printf("invalid value for %s: %s, using fallback: %s", key, value, fallback)
	}
	return fallback
}
