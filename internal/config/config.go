package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the chat service.
// Environment variables are automatically parsed from the SERENEMIND_ prefix.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// HTTP Configuration
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Storage
	DBDriver    string `envconfig:"DB_DRIVER" default:"sqlite"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"data/serenemind.db"`

	// Generative provider
	ProviderBaseURL     string  `envconfig:"PROVIDER_BASE_URL" default:"http://localhost:11434"`
	ProviderModel       string  `envconfig:"PROVIDER_MODEL" default:"gemma2"`
	ProviderTemperature float64 `envconfig:"PROVIDER_TEMPERATURE" default:"0.7"`
	ProviderTopP        float64 `envconfig:"PROVIDER_TOP_P" default:"0.9"`
	ProviderTimeoutMS   int     `envconfig:"PROVIDER_TIMEOUT_MS" default:"30000"`

	// Context assembly budgets
	HistoryMaxTokens   int `envconfig:"HISTORY_MAX_TOKENS" default:"2000"`
	HistoryMaxMessages int `envconfig:"HISTORY_MAX_MESSAGES" default:"20"`

	// Memory cache
	CacheTTLSeconds    int `envconfig:"CACHE_TTL_SECONDS" default:"300"`
	CacheCapacity      int `envconfig:"CACHE_CAPACITY" default:"500"`
	CacheSweepSeconds  int `envconfig:"CACHE_SWEEP_SECONDS" default:"60"`

	// Rate limiting (sliding fixed windows)
	UserWindowLimit     int `envconfig:"USER_WINDOW_LIMIT" default:"10"`
	GlobalWindowLimit   int `envconfig:"GLOBAL_WINDOW_LIMIT" default:"100"`
	RateWindowSeconds   int `envconfig:"RATE_WINDOW_SECONDS" default:"60"`

	// Request queue
	QueueDepth            int `envconfig:"QUEUE_DEPTH" default:"64"`
	QueueTimeoutMS        int `envconfig:"QUEUE_TIMEOUT_MS" default:"45000"`
	InterRequestDelayMS   int `envconfig:"INTER_REQUEST_DELAY_MS" default:"250"`
	MaxRetries            int `envconfig:"MAX_RETRIES" default:"3"`
	RetryInitialDelayMS   int `envconfig:"RETRY_INITIAL_DELAY_MS" default:"1000"`
	RetryMaxDelayMS       int `envconfig:"RETRY_MAX_DELAY_MS" default:"16000"`

	// Long-term memory
	FactCapPerUser int `envconfig:"FACT_CAP_PER_USER" default:"100"`

	// Profile delta caps
	MaxGoals            int `envconfig:"MAX_GOALS" default:"10"`
	MaxChallenges       int `envconfig:"MAX_CHALLENGES" default:"10"`
	MaxProfileFieldLen  int `envconfig:"MAX_PROFILE_FIELD_LEN" default:"200"`
	MaxBioLen           int `envconfig:"MAX_BIO_LEN" default:"1000"`

	// Health checking
	HealthIntervalSeconds     int `envconfig:"HEALTH_INTERVAL_SECONDS" default:"30"`
	HealthProbeTimeoutSeconds int `envconfig:"HEALTH_PROBE_TIMEOUT_SECONDS" default:"5"`
}

// New creates a new Config by parsing environment variables.
// Environment variables should be prefixed with SERENEMIND_
// Example: SERENEMIND_HTTP_PORT, SERENEMIND_CACHE_TTL_SECONDS
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("SERENEMIND", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_driver", cfg.DBDriver).
		Int("port", cfg.HTTPPort).
		Str("provider_model", cfg.ProviderModel).
		Int("history_max_tokens", cfg.HistoryMaxTokens).
		Int("user_window_limit", cfg.UserWindowLimit).
		Int("global_window_limit", cfg.GlobalWindowLimit).
		Msg("Configuration loaded")

	return &cfg, nil
}

// Validate checks driver selection and rejects non-positive budgets.
func (c *Config) Validate() error {
	allowedDB := map[string]bool{"sqlite": true, "postgres": true}
	if !allowedDB[c.DBDriver] {
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}
	if c.DBDriver == "postgres" && c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required when DB_DRIVER=postgres")
	}
	if c.HistoryMaxTokens <= 0 || c.HistoryMaxMessages <= 0 {
		return fmt.Errorf("history budgets must be positive")
	}
	if c.UserWindowLimit <= 0 || c.GlobalWindowLimit <= 0 || c.RateWindowSeconds <= 0 {
		return fmt.Errorf("rate limit windows must be positive")
	}
	if c.QueueDepth <= 0 || c.MaxRetries < 0 {
		return fmt.Errorf("queue configuration invalid")
	}
	return nil
}

// NewForTesting creates a config specifically for testing
func NewForTesting() *Config {
	cfg := &Config{
		Environment: EnvTesting,
		HTTPPort:    8080,
		DBDriver:    "sqlite",
		SQLitePath:  "file::memory:",

		ProviderBaseURL:     "http://localhost:11434",
		ProviderModel:       "test-model",
		ProviderTemperature: 0.7,
		ProviderTopP:        0.9,
		ProviderTimeoutMS:   1000,

		HistoryMaxTokens:   2000,
		HistoryMaxMessages: 20,

		CacheTTLSeconds:   300,
		CacheCapacity:     500,
		CacheSweepSeconds: 60,

		UserWindowLimit:   10,
		GlobalWindowLimit: 100,
		RateWindowSeconds: 60,

		QueueDepth:          64,
		QueueTimeoutMS:      45000,
		InterRequestDelayMS: 0,
		MaxRetries:          3,
		RetryInitialDelayMS: 1,
		RetryMaxDelayMS:     10,

		FactCapPerUser: 100,

		MaxGoals:           10,
		MaxChallenges:      10,
		MaxProfileFieldLen: 200,
		MaxBioLen:          1000,

		HealthIntervalSeconds:     30,
		HealthProbeTimeoutSeconds: 5,
	}
	return cfg
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool {
	return c.Environment == EnvTesting
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// CacheTTL returns the cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// CacheSweepInterval returns the background eviction sweep interval.
func (c *Config) CacheSweepInterval() time.Duration {
	return time.Duration(c.CacheSweepSeconds) * time.Second
}

// RateWindow returns the admission window length.
func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.RateWindowSeconds) * time.Second
}

// QueueTimeout returns the queue-residency budget.
func (c *Config) QueueTimeout() time.Duration {
	return time.Duration(c.QueueTimeoutMS) * time.Millisecond
}

// InterRequestDelay returns the pacing delay between worker dequeues.
func (c *Config) InterRequestDelay() time.Duration {
	return time.Duration(c.InterRequestDelayMS) * time.Millisecond
}

// RetryInitialDelay returns the first backoff interval.
func (c *Config) RetryInitialDelay() time.Duration {
	return time.Duration(c.RetryInitialDelayMS) * time.Millisecond
}

// RetryMaxDelay returns the backoff ceiling.
func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelayMS) * time.Millisecond
}

// ProviderTimeout returns the per-attempt provider call timeout.
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutMS) * time.Millisecond
}
