package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL string
	Port        string
	LogLevel    slog.Level

	RateProvider    string
	ProviderURL     string
	ProviderAPIKey  string
	ProviderTimeout time.Duration
	// ConstrainedRuntime applies ProviderTimeout to every provider call.
	// Set automatically on serverless platforms.
	ConstrainedRuntime bool
	DispatchBatchSize  int

	PersistChunkSize int
	PlaceholderCity  string
	PlaceholderState string
	PostalLookup     bool

	KafkaBroker string
	CRMTopic    string
	CRMTopN     int

	BookingWebhookSecret string
	DummyWebhookSecret   string
	AdminToken           string
}

func Load() (Config, error) {
	cfg := Config{
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		Port:                 getEnvOrDefault("PORT", "8080"),
		RateProvider:         getEnvOrDefault("RATE_PROVIDER", "dummy"),
		ProviderURL:          os.Getenv("PROVIDER_URL"),
		ProviderAPIKey:       os.Getenv("PROVIDER_API_KEY"),
		ProviderTimeout:      getDurationOrDefault("PROVIDER_TIMEOUT", 28*time.Second),
		ConstrainedRuntime:   getBoolOrDefault("CONSTRAINED_RUNTIME", serverless()),
		DispatchBatchSize:    getIntOrDefault("DISPATCH_BATCH_SIZE", 3),
		PersistChunkSize:     getIntOrDefault("PERSIST_CHUNK_SIZE", 50),
		PlaceholderCity:      getEnvOrDefault("PLACEHOLDER_CITY", "UNKNOWN"),
		PlaceholderState:     getEnvOrDefault("PLACEHOLDER_STATE", "XX"),
		PostalLookup:         getBoolOrDefault("POSTAL_LOOKUP", false),
		KafkaBroker:          os.Getenv("KAFKA_BROKER"),
		CRMTopic:             getEnvOrDefault("CRM_TOPIC", "quotes.crm"),
		CRMTopN:              getIntOrDefault("CRM_TOP_N", 3),
		BookingWebhookSecret: os.Getenv("BOOKING_WEBHOOK_SECRET"),
		DummyWebhookSecret:   os.Getenv("DUMMY_WEBHOOK_SECRET"),
		AdminToken:           os.Getenv("ADMIN_TOKEN"),
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(getEnvOrDefault("LOG_LEVEL", "info"))); err != nil {
		return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the provider settings are usable.
func (c Config) Validate() error {
	switch strings.ToLower(c.RateProvider) {
	case "http", "freight":
		if strings.TrimSpace(c.ProviderURL) == "" {
			return fmt.Errorf("PROVIDER_URL is required when RATE_PROVIDER=%s", c.RateProvider)
		}
	}
	if c.DispatchBatchSize < 1 {
		return fmt.Errorf("DISPATCH_BATCH_SIZE must be at least 1")
	}
	if c.PersistChunkSize < 1 {
		return fmt.Errorf("PERSIST_CHUNK_SIZE must be at least 1")
	}
	return nil
}

// CallTimeout is the per-call provider deadline, zero when unbounded.
func (c Config) CallTimeout() time.Duration {
	if !c.ConstrainedRuntime {
		return 0
	}
	return c.ProviderTimeout
}

func serverless() bool {
	return os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" || os.Getenv("VERCEL") != ""
}

// getEnvOrDefault returns the value of an environment variable or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getDurationOrDefault accepts Go durations ("28s") or whole seconds ("28").
func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
