package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	DatabasePath string
	NATSURL      string
	HTTPAddr     string
	LogLevel     string
	LogFormat    string

	ShutdownTimeout time.Duration

	// STAC source settings.
	STACTimeout time.Duration
	WindowDays  int

	// Task retry policy.
	TaskMaxAttempts int
	TaskBaseBackoff time.Duration
	TaskMaxBackoff  time.Duration
	TaskTimeout     time.Duration

	// Kafka alert publishing. Disabled when no brokers are configured.
	KafkaBrokers    []string
	KafkaAlertTopic string
	AlertsEnabled   bool

	ConnectorsFile string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	stacTimeout, err := parseDuration("STAC_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}

	windowDays, err := parseInt("WINDOW_DAYS", 15)
	if err != nil {
		return nil, err
	}

	maxAttempts, err := parseInt("TASK_MAX_ATTEMPTS", 3)
	if err != nil {
		return nil, err
	}

	baseBackoff, err := parseDuration("TASK_BASE_BACKOFF", "5s")
	if err != nil {
		return nil, err
	}

	maxBackoff, err := parseDuration("TASK_MAX_BACKOFF", "1m")
	if err != nil {
		return nil, err
	}

	taskTimeout, err := parseDuration("TASK_TIMEOUT", "10m")
	if err != nil {
		return nil, err
	}

	brokers := parseBrokers(os.Getenv("KAFKA_BROKERS"))
	alertsEnabled := len(brokers) > 0
	if v := os.Getenv("ALERTS_ENABLED"); v != "" {
		alertsEnabled = v == "true"
	}

	cfg := &Config{
		DatabasePath:    envOrDefault("DATABASE_PATH", "disaster-ingest.db"),
		NATSURL:         envOrDefault("NATS_URL", "nats://localhost:4222"),
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		STACTimeout:     stacTimeout,
		WindowDays:      windowDays,
		TaskMaxAttempts: maxAttempts,
		TaskBaseBackoff: baseBackoff,
		TaskMaxBackoff:  maxBackoff,
		TaskTimeout:     taskTimeout,
		KafkaBrokers:    brokers,
		KafkaAlertTopic: envOrDefault("KAFKA_ALERT_TOPIC", "disaster-alerts"),
		AlertsEnabled:   alertsEnabled,
		ConnectorsFile:  envOrDefault("CONNECTORS_FILE", "connectors.yaml"),
	}

	if cfg.WindowDays <= 0 {
		return nil, errors.New("WINDOW_DAYS must be positive")
	}
	if cfg.TaskMaxAttempts <= 0 {
		return nil, errors.New("TASK_MAX_ATTEMPTS must be positive")
	}
	if cfg.AlertsEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("ALERTS_ENABLED is true but KAFKA_BROKERS is not set")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseInt(key string, fallback int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func parseBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
