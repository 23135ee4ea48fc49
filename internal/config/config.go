package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the Contraq server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	DocAI    DocAIConfig
	Queue    QueueConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// DocAIConfig configures the external document extraction service.
type DocAIConfig struct {
	BaseURL string
	APIKey  string
	// Timeout bounds a single extraction round trip. The service can take
	// minutes per document, so this is deliberately generous.
	Timeout    time.Duration
	MaxRetries int
}

// QueueConfig holds queue processing tunables.
type QueueConfig struct {
	// DefaultConcurrency is the number of documents in flight at once when
	// the process request does not specify one.
	DefaultConcurrency int
	// DefaultBatchSize is the number of queued entries pulled per process
	// invocation when the request does not specify one.
	DefaultBatchSize int
	// MaxDocsPerContract caps per-contract fan-out during population so a
	// single contract with dozens of attachments cannot starve the queue.
	MaxDocsPerContract int
	// StuckThreshold is how long an entry may sit in processing before the
	// reconciler considers it abandoned.
	StuckThreshold time.Duration
	// ReconcileInterval is how often the background reconciler runs.
	// Zero disables the background loop; stuck entries can still be reset
	// through the admin endpoints.
	ReconcileInterval time.Duration
}

// Load reads configuration from environment variables and returns a
// validated Config. Returns a descriptive error if any required value is
// missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("CONTRAQ_PORT", 8080),
			Env:  envString("CONTRAQ_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		DocAI: DocAIConfig{
			BaseURL:    os.Getenv("DOCAI_BASE_URL"),
			APIKey:     os.Getenv("DOCAI_API_KEY"),
			Timeout:    envDuration("DOCAI_TIMEOUT", 10*time.Minute),
			MaxRetries: envInt("DOCAI_MAX_RETRIES", 3),
		},
		Queue: QueueConfig{
			DefaultConcurrency: envInt("QUEUE_CONCURRENCY", 5),
			DefaultBatchSize:   envInt("QUEUE_BATCH_SIZE", 20),
			MaxDocsPerContract: envInt("QUEUE_MAX_DOCS_PER_CONTRACT", 3),
			StuckThreshold:     envDuration("QUEUE_STUCK_THRESHOLD", 20*time.Minute),
			ReconcileInterval:  envDuration("QUEUE_RECONCILE_INTERVAL", 0),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.DocAI.BaseURL == "" {
		return fmt.Errorf("DOCAI_BASE_URL is required")
	}
	if !strings.HasPrefix(c.DocAI.BaseURL, "http://") && !strings.HasPrefix(c.DocAI.BaseURL, "https://") {
		return fmt.Errorf("DOCAI_BASE_URL must start with http:// or https://, got %q", c.DocAI.BaseURL)
	}
	if c.DocAI.APIKey == "" {
		return fmt.Errorf("DOCAI_API_KEY is required")
	}

	if c.Queue.DefaultConcurrency < 1 {
		return fmt.Errorf("QUEUE_CONCURRENCY must be at least 1, got %d", c.Queue.DefaultConcurrency)
	}
	if c.Queue.DefaultBatchSize < 1 {
		return fmt.Errorf("QUEUE_BATCH_SIZE must be at least 1, got %d", c.Queue.DefaultBatchSize)
	}
	if c.Queue.MaxDocsPerContract < 1 {
		return fmt.Errorf("QUEUE_MAX_DOCS_PER_CONTRACT must be at least 1, got %d", c.Queue.MaxDocsPerContract)
	}
	if c.Queue.StuckThreshold < time.Minute {
		return fmt.Errorf("QUEUE_STUCK_THRESHOLD must be at least 1m, got %s", c.Queue.StuckThreshold)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
