// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// HTTP
	CORSAllowedOrigins string // comma-separated; empty allows any origin
	RateLimitRPM       int    // per-client requests per minute; 0 disables
	RateLimitBurst     int

	// Tracing
	OTLPEndpoint     string  // OTLP gRPC collector; tracing is disabled when empty
	TraceSampleRatio float64 // fraction of root spans sampled

	// Risk model
	RiskModelFile   string        // YAML category weights and scenario library (optional)
	StalenessWindow time.Duration // metric age at which recency reaches zero

	// Engine thresholds
	AlertHysteresis int     // clean assessments before an alert clears
	TrendDeadZone   float64 // |slope| below which a trend is stable
	TrendWindow     int     // points classified by default
	MinTailHistory  int     // points required for VaR/ES

	// Data source
	FetchTimeout     time.Duration // per-entity metric fetch bound
	BatchConcurrency int           // parallel entity assessments in a batch
	ReassessInterval time.Duration // background reassessment period; 0 disables

	// Per-entity circuit breaker on the data source
	CircuitThreshold    int           // consecutive failed refreshes before opening; 0 disables
	CircuitOpenDuration time.Duration // how long an open circuit skips the source
}

const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
	DefaultStalenessWindow  = 30 * 24 * time.Hour
	DefaultAlertHysteresis  = 3
	DefaultTrendDeadZone    = 0.005
	DefaultTrendWindow      = 10
	DefaultMinTailHistory   = 8
	DefaultFetchTimeout     = 5 * time.Second
	DefaultBatchConcurrency = 8
	DefaultReassessInterval = 15 * time.Minute
	DefaultRateLimitRPM     = 120
	DefaultRateLimitBurst   = 20
	DefaultCircuitThreshold = 5
	DefaultCircuitOpen      = 5 * time.Minute
	DefaultTraceSampleRatio = 1.0
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:        getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRatio: getEnvFloat("OTEL_TRACES_SAMPLER_ARG", DefaultTraceSampleRatio),
		RiskModelFile:    os.Getenv("RISK_MODEL_FILE"),
		StalenessWindow:  getEnvDuration("STALENESS_WINDOW", DefaultStalenessWindow),
		AlertHysteresis:  int(getEnvInt64("ALERT_HYSTERESIS", DefaultAlertHysteresis)),
		TrendDeadZone:    getEnvFloat("TREND_DEAD_ZONE", DefaultTrendDeadZone),
		TrendWindow:      int(getEnvInt64("TREND_WINDOW", DefaultTrendWindow)),
		MinTailHistory:   int(getEnvInt64("MIN_TAIL_HISTORY", DefaultMinTailHistory)),
		FetchTimeout:     getEnvDuration("FETCH_TIMEOUT", DefaultFetchTimeout),
		BatchConcurrency: int(getEnvInt64("BATCH_CONCURRENCY", DefaultBatchConcurrency)),
		ReassessInterval: getEnvDuration("REASSESS_INTERVAL", DefaultReassessInterval),

		CORSAllowedOrigins:  os.Getenv("CORS_ALLOWED_ORIGINS"),
		RateLimitRPM:        int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		RateLimitBurst:      int(getEnvInt64("RATE_LIMIT_BURST", DefaultRateLimitBurst)),
		CircuitThreshold:    int(getEnvInt64("CIRCUIT_THRESHOLD", DefaultCircuitThreshold)),
		CircuitOpenDuration: getEnvDuration("CIRCUIT_OPEN_DURATION", DefaultCircuitOpen),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configuration values are usable
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.StalenessWindow <= 0 {
		return fmt.Errorf("STALENESS_WINDOW must be positive")
	}
	if c.AlertHysteresis < 1 {
		return fmt.Errorf("ALERT_HYSTERESIS must be at least 1")
	}
	if c.TrendDeadZone < 0 {
		return fmt.Errorf("TREND_DEAD_ZONE must not be negative")
	}
	if c.TrendWindow < 2 {
		return fmt.Errorf("TREND_WINDOW must be at least 2")
	}
	if c.MinTailHistory < 2 {
		return fmt.Errorf("MIN_TAIL_HISTORY must be at least 2")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive")
	}
	if c.BatchConcurrency < 1 {
		return fmt.Errorf("BATCH_CONCURRENCY must be at least 1")
	}
	if c.ReassessInterval < 0 {
		return fmt.Errorf("REASSESS_INTERVAL must not be negative")
	}
	if c.RateLimitRPM < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPM and RATE_LIMIT_BURST must not be negative")
	}
	if c.CircuitThreshold < 0 {
		return fmt.Errorf("CIRCUIT_THRESHOLD must not be negative")
	}
	if c.CircuitThreshold > 0 && c.CircuitOpenDuration <= 0 {
		return fmt.Errorf("CIRCUIT_OPEN_DURATION must be positive when the circuit breaker is enabled")
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLER_ARG must be between 0 and 1")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
