// Package config loads the fabric runtime configuration from file and
// environment variables.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Log configuration
	Log LogConfig `mapstructure:"log"`

	// EventBus configuration
	EventBus EventBusConfig `mapstructure:"event_bus"`

	// Embedding configuration
	Embedding EmbeddingConfig `mapstructure:"embedding"`

	// VectorIndex configuration
	VectorIndex VectorIndexConfig `mapstructure:"vector_index"`

	// CircuitBreaker configuration
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`

	// Alert configuration
	Alert AlertConfig `mapstructure:"alert"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// TelemetryDir, when set, additionally captures error logs as Parquet
	// files in the given directory.
	TelemetryDir string `mapstructure:"telemetry_dir"`
}

// EventBusConfig holds event bus configuration
type EventBusConfig struct {
	MaxQueueSize  int `mapstructure:"max_queue_size"`
	WorkerThreads int `mapstructure:"worker_threads"`
	RetryAttempts int `mapstructure:"retry_attempts"`
}

// EmbeddingConfig holds embedding pipeline configuration
type EmbeddingConfig struct {
	Provider string `mapstructure:"provider"` // openai, embedeverything
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`

	BatchSize int `mapstructure:"batch_size"`
	// IdleWaitMs is how long the embedding worker sleeps when no work is pending.
	IdleWaitMs int `mapstructure:"idle_wait_ms"`
	// ErrorBackoffMs is how long the worker backs off after a failed batch.
	ErrorBackoffMs int `mapstructure:"error_backoff_ms"`
}

// VectorIndexConfig holds configuration for an optional external vector index
type VectorIndexConfig struct {
	Driver    string `mapstructure:"driver"` // none, memory, neo4j
	URI       string `mapstructure:"uri"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	Database  string `mapstructure:"database"`
	IndexName string `mapstructure:"index_name"`
}

// CircuitBreakerConfig holds configuration for circuit breaking around the
// embedding provider
type CircuitBreakerConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	MaxRequests      uint32  `mapstructure:"max_requests"`
	Interval         int     `mapstructure:"interval"` // in seconds
	Timeout          int     `mapstructure:"timeout"`  // in seconds
	ReadyToTripRatio float64 `mapstructure:"ready_to_trip_ratio"`
}

// AlertConfig holds email alerting configuration
type AlertConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	SMTPHost string   `mapstructure:"smtp_host"`
	SMTPPort int      `mapstructure:"smtp_port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	// Set defaults
	setDefaults()

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Override with environment variables if present
	overrideWithEnv(config)

	return config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	// Event bus defaults
	viper.SetDefault("event_bus.max_queue_size", 1000)
	viper.SetDefault("event_bus.worker_threads", 4)
	viper.SetDefault("event_bus.retry_attempts", 3)

	// Embedding defaults
	viper.SetDefault("embedding.provider", "embedeverything")
	viper.SetDefault("embedding.model", "all-MiniLM-L6-v2")
	viper.SetDefault("embedding.batch_size", 16)
	viper.SetDefault("embedding.idle_wait_ms", 1000)
	viper.SetDefault("embedding.error_backoff_ms", 5000)

	// Vector index defaults: in-memory search inside the fabric itself
	viper.SetDefault("vector_index.driver", "none")
	viper.SetDefault("vector_index.index_name", "fabric_nodes")
	viper.SetDefault("vector_index.database", "neo4j")

	// Alert defaults
	viper.SetDefault("alert.enabled", false)
	viper.SetDefault("alert.smtp_port", 587)

	// Circuit breaker defaults
	viper.SetDefault("circuit_breaker.enabled", false)
	viper.SetDefault("circuit_breaker.max_requests", 1)
	viper.SetDefault("circuit_breaker.interval", 60)
	viper.SetDefault("circuit_breaker.timeout", 30)
	viper.SetDefault("circuit_breaker.ready_to_trip_ratio", 0.5)
}

// overrideWithEnv overrides config with environment variables
func overrideWithEnv(config *Config) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" && config.Embedding.APIKey == "" {
		config.Embedding.APIKey = apiKey
	}
	if baseURL := os.Getenv("EMBEDDING_BASE_URL"); baseURL != "" {
		config.Embedding.BaseURL = baseURL
	}
	if model := os.Getenv("EMBEDDING_MODEL"); model != "" {
		config.Embedding.Model = model
	}

	// Vector index credentials
	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		config.VectorIndex.URI = uri
	}
	if user := os.Getenv("NEO4J_USER"); user != "" {
		config.VectorIndex.Username = user
	}
	if pass := os.Getenv("NEO4J_PASSWORD"); pass != "" {
		config.VectorIndex.Password = pass
	}
}
