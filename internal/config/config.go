package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Database connection
	DBAdapter          string
	DBConnectionString string

	// Optional collaborators (empty disables)
	NatsURL   string
	RedisAddr string
	RedisPass string
	RedisDB   int

	// HTTP admin surface
	HTTPPort string

	// Supervision settings
	LeakThreshold       time.Duration
	ScanInterval        time.Duration
	HealthCheckInterval time.Duration
	MaxActiveOperations int
	StaleOperationAge   time.Duration
}

func Load() (*Config, error) {
	// Try multiple .env locations
	envPaths := []string{
		".env",
		"../.env",
		"/app/.env", // Docker
	}

	envLoaded := false
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			log.Printf("Loaded config from: %s", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		log.Printf("No .env file found, using environment variables")
	}

	config := &Config{
		DBAdapter:          os.Getenv("DB_ADAPTER"),
		DBConnectionString: os.Getenv("DB_CONNECTION_STRING"),

		NatsURL:   getEnvOrDefault("NATS_URL", "nats://localhost:4222"),
		RedisAddr: os.Getenv("REDIS_ADDR"),
		RedisPass: os.Getenv("REDIS_PASSWORD"),

		HTTPPort: getEnvOrDefault("HTTP_PORT", "8080"),
	}

	redisDB, err := strconv.Atoi(getEnvOrDefault("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	config.RedisDB = redisDB

	maxOps, err := strconv.Atoi(getEnvOrDefault("MAX_ACTIVE_OPERATIONS", "50"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_ACTIVE_OPERATIONS: %w", err)
	}
	config.MaxActiveOperations = maxOps

	durations := []struct {
		name     string
		fallback string
		target   *time.Duration
	}{
		{"LEAK_THRESHOLD", "60s", &config.LeakThreshold},
		{"SCAN_INTERVAL", "30s", &config.ScanInterval},
		{"HEALTH_CHECK_INTERVAL", "60s", &config.HealthCheckInterval},
		{"STALE_OPERATION_AGE", "5m", &config.StaleOperationAge},
	}
	for _, d := range durations {
		value, err := time.ParseDuration(getEnvOrDefault(d.name, d.fallback))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.target = value
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	required := map[string]string{
		"DB_ADAPTER":           c.DBAdapter,
		"DB_CONNECTION_STRING": c.DBConnectionString,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	intervals := map[string]time.Duration{
		"LEAK_THRESHOLD":        c.LeakThreshold,
		"SCAN_INTERVAL":         c.ScanInterval,
		"HEALTH_CHECK_INTERVAL": c.HealthCheckInterval,
		"STALE_OPERATION_AGE":   c.StaleOperationAge,
	}
	for name, value := range intervals {
		if value < time.Second {
			return fmt.Errorf("%s must be at least 1 second", name)
		}
	}

	if c.MaxActiveOperations < 1 {
		return fmt.Errorf("MAX_ACTIVE_OPERATIONS must be at least 1")
	}

	return nil
}

// Helper function for defaults
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
