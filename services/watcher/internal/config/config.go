package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all watcher settings, loaded from the environment.
type Config struct {
	Port string

	RegistryURL    string
	PageSize       int
	RequestTimeout time.Duration
	RetryAttempts  int
	RetryDelay     time.Duration

	PollInterval time.Duration

	DatabaseURL string

	KafkaBrokers []string
	KafkaTopic   string
}

const (
	defaultPageSize       = 100
	defaultRequestTimeout = 30 * time.Second
	defaultRetryAttempts  = 3
	defaultRetryDelay     = 5 * time.Second
	defaultPollInterval   = 5 * time.Minute
)

// Load reads the watcher configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("WATCHER_PORT", "8080"),
		RegistryURL:    os.Getenv("REGISTRY_URL"),
		PageSize:       getEnvInt("REGISTRY_PAGE_SIZE", defaultPageSize),
		RequestTimeout: getEnvDuration("REGISTRY_TIMEOUT", defaultRequestTimeout),
		RetryAttempts:  getEnvInt("REGISTRY_RETRY_ATTEMPTS", defaultRetryAttempts),
		RetryDelay:     getEnvDuration("REGISTRY_RETRY_DELAY", defaultRetryDelay),
		PollInterval:   getEnvDuration("POLL_INTERVAL", defaultPollInterval),
		DatabaseURL:    os.Getenv("WATCHER_DB_URL"),
		KafkaTopic:     getEnv("KAFKA_CHANGE_TOPIC", "registry.changes"),
	}

	if cfg.RegistryURL == "" {
		return nil, fmt.Errorf("REGISTRY_URL is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("WATCHER_DB_URL is required")
	}

	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		return nil, fmt.Errorf("KAFKA_BROKERS is required")
	}
	cfg.KafkaBrokers = splitAndTrim(brokers)

	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("REGISTRY_PAGE_SIZE must be positive, got %d", cfg.PageSize)
	}

	return cfg, nil
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
