// Package config loads process configuration from environment variables,
// the same LookupEnv-with-fallback style the teacher used inline in
// main.go, gathered here into one typed struct so every dependency main.go
// wires up is configured from a single place.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every environment-driven setting the workflow service needs
// to wire up its dependencies.
type Config struct {
	// HTTPAddr is the address the API server listens on.
	HTTPAddr string

	// DatabaseURL is the Postgres connection string (teacher: DATABASE_URL).
	DatabaseURL string

	// RedisAddr selects the handle-store backend: empty means the
	// in-process map is used instead of Redis.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TriggerEnabled toggles whether compute tasks dispatch to the real
	// runners (OpenAI, media worker) or to the deterministic local
	// fallback. Mirrors the teacher's "no external services in dev"
	// posture for StubClient.
	TriggerEnabled bool

	// OpenAIAPIKey and OpenAIModel configure the llm-execute runner.
	// OpenAIBaseURL is read from OPENAI_BASE_URL but is not passed to the
	// runner, which always uses the library's default endpoint.
	OpenAIBaseURL    string
	OpenAIAPIKey     string
	OpenAIModel      string
	MediaTaskBaseURL string

	// CloudinaryCloudName/APIKey/APISecret configure the durable asset
	// provider (pkg/clients/durable).
	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string

	// MetricsAddr is the Prometheus /metrics listener address; empty
	// disables it (the default in tests).
	MetricsAddr string

	// PollInterval and TaskTimeout override the remote task client's
	// defaults (1s / 120s).
	PollInterval time.Duration
	TaskTimeout  time.Duration
}

// Load reads Config from the process environment, applying the same
// defaults the teacher's main.go applied inline.
func Load() (Config, error) {
	dbURL, ok := os.LookupEnv("DATABASE_URL")
	if !ok || dbURL == "" {
		return Config{}, fmt.Errorf("config: DATABASE_URL is required")
	}

	cfg := Config{
		HTTPAddr:            envOr("HTTP_ADDR", ":8080"),
		DatabaseURL:         dbURL,
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		TriggerEnabled:      envBool("TRIGGER_ENABLED", true),
		OpenAIBaseURL:       os.Getenv("OPENAI_BASE_URL"),
		OpenAIAPIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:         envOr("OPENAI_MODEL", "gpt-4o-mini"),
		MediaTaskBaseURL:    os.Getenv("MEDIA_TASK_BASE_URL"),
		CloudinaryCloudName: os.Getenv("CLOUDINARY_CLOUD_NAME"),
		CloudinaryAPIKey:    os.Getenv("CLOUDINARY_API_KEY"),
		CloudinaryAPISecret: os.Getenv("CLOUDINARY_API_SECRET"),
		MetricsAddr:         os.Getenv("METRICS_ADDR"),
		PollInterval:        envDuration("TASK_POLL_INTERVAL", time.Second),
		TaskTimeout:         envDuration("TASK_TIMEOUT", 120*time.Second),
	}

	redisDB, err := envInt("REDIS_DB", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.RedisDB = redisDB

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer: %w", key, err)
	}
	return parsed, nil
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}
