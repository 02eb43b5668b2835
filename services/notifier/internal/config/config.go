package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all notifier settings, loaded from the environment.
type Config struct {
	Port string

	DatabaseURL string

	KafkaBrokers       []string
	KafkaTopic         string
	KafkaConsumerGroup string

	WorkerLimit    int
	WorkerInterval time.Duration

	// AbandonOnPause marks pending notifications of a paused subscription
	// failed at their next attempt instead of retrying to completion.
	AbandonOnPause bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SMTPHost string
	SMTPPort string
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	DigestInterval time.Duration

	SubscriptionsFile string
}

const (
	defaultWorkerLimit    = 10
	defaultWorkerInterval = 15 * time.Second
	defaultDigestInterval = time.Minute
)

// Load reads the notifier configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:               getEnv("NOTIFIER_PORT", "8081"),
		DatabaseURL:        os.Getenv("NOTIFIER_DB_URL"),
		KafkaTopic:         getEnv("KAFKA_CHANGE_TOPIC", "registry.changes"),
		KafkaConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "mcpwatch-notifier"),
		WorkerLimit:        getEnvInt("NOTIFIER_WORKER_LIMIT", defaultWorkerLimit),
		WorkerInterval:     getEnvDuration("NOTIFIER_WORKER_INTERVAL", defaultWorkerInterval),
		AbandonOnPause:     getEnvBool("NOTIFIER_ABANDON_ON_PAUSE", false),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		SMTPHost:           os.Getenv("SMTP_HOST"),
		SMTPPort:           getEnv("SMTP_PORT", "587"),
		SMTPUser:           os.Getenv("SMTP_USER"),
		SMTPPass:           os.Getenv("SMTP_PASS"),
		SMTPFrom:           getEnv("SMTP_FROM", "mcpwatch@localhost"),
		DigestInterval:     getEnvDuration("DIGEST_INTERVAL", defaultDigestInterval),
		SubscriptionsFile:  os.Getenv("SUBSCRIPTIONS_FILE"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("NOTIFIER_DB_URL is required")
	}

	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		return nil, fmt.Errorf("KAFKA_BROKERS is required")
	}
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
		}
	}

	if cfg.WorkerLimit <= 0 {
		return nil, fmt.Errorf("NOTIFIER_WORKER_LIMIT must be positive, got %d", cfg.WorkerLimit)
	}

	return cfg, nil
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

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
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
