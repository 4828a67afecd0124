// Package config builds the harvester configuration from environment
// variables so main stays lean.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full runtime configuration of the harvester.
type Config struct {
	// APIBaseURL is the declaration registry base URL.
	APIBaseURL string

	// DatabaseURL is the Postgres connection string.
	DatabaseURL string

	// RedisAddr is the host:port of the dedup cache.
	RedisAddr string

	// RedisPassword is optional.
	RedisPassword string

	// MigrationsPath points at the schema migration files.
	MigrationsPath string

	// MetricsAddr is the listen address of the metrics and health endpoint.
	MetricsAddr string

	// Workers is the number of concurrent page-range workers.
	Workers int

	// PageStart and PageEnd bound the harvested page range, inclusive.
	PageStart int
	PageEnd   int

	// RequestsPerSecond paces outbound API requests across all attempts.
	RequestsPerSecond float64

	// FetchConcurrency bounds concurrent detail fetches per worker page.
	FetchConcurrency int

	// RequestTimeout is the per-attempt HTTP timeout.
	RequestTimeout time.Duration

	// Query narrows the search; empty harvests everything listed.
	Query string

	// DeclarationYear narrows the search to one reporting year; zero means
	// unfiltered.
	DeclarationYear int

	// LogLevel and LogPretty configure logging output.
	LogLevel  string
	LogPretty bool
}

// FromEnv builds the configuration from environment variables, falling back
// to development defaults for everything but the database URL.
func FromEnv() (Config, error) {
	cfg := Config{
		APIBaseURL:        getEnv("HARVESTER_API_BASE_URL", "https://public-api.nazk.gov.ua/v2"),
		DatabaseURL:       os.Getenv("HARVESTER_DATABASE_URL"),
		RedisAddr:         getEnv("HARVESTER_REDIS_ADDR", "localhost:6379"),
		RedisPassword:     os.Getenv("HARVESTER_REDIS_PASSWORD"),
		MigrationsPath:    getEnv("HARVESTER_MIGRATIONS_PATH", "migrations"),
		MetricsAddr:       getEnv("HARVESTER_METRICS_ADDR", ":9090"),
		Workers:           getEnvInt("HARVESTER_WORKERS", 4),
		PageStart:         getEnvInt("HARVESTER_PAGE_START", 1),
		PageEnd:           getEnvInt("HARVESTER_PAGE_END", 100),
		RequestsPerSecond: getEnvFloat("HARVESTER_REQUESTS_PER_SECOND", 0.5),
		FetchConcurrency:  getEnvInt("HARVESTER_FETCH_CONCURRENCY", 4),
		RequestTimeout:    getEnvDuration("HARVESTER_REQUEST_TIMEOUT", 30*time.Second),
		Query:             os.Getenv("HARVESTER_QUERY"),
		DeclarationYear:   getEnvInt("HARVESTER_DECLARATION_YEAR", 0),
		LogLevel:          getEnv("HARVESTER_LOG_LEVEL", "info"),
		LogPretty:         os.Getenv("HARVESTER_LOG_PRETTY") == "true",
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("HARVESTER_DATABASE_URL is required")
	}
	if cfg.Workers <= 0 {
		return Config{}, fmt.Errorf("HARVESTER_WORKERS must be positive, got %d", cfg.Workers)
	}
	if cfg.PageStart < 1 || cfg.PageEnd < cfg.PageStart {
		return Config{}, fmt.Errorf("invalid page range [%d, %d]", cfg.PageStart, cfg.PageEnd)
	}
	if cfg.RequestsPerSecond <= 0 {
		return Config{}, fmt.Errorf("HARVESTER_REQUESTS_PER_SECOND must be positive, got %g", cfg.RequestsPerSecond)
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

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
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
