// Package config provides configuration for the knowledge-graph server.
// Settings load from an optional YAML file, then environment variables with
// the MEMENTO_ prefix override file values, then defaults fill the rest.
// The resulting Config is treated as immutable after Load.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all settings for the server.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Queue     QueueConfig     `yaml:"queue"`
	Search    SearchConfig    `yaml:"search"`
	Decay     DecayConfig     `yaml:"decay"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	// Engine is "sqlite" or "postgres" (default: sqlite).
	Engine string `yaml:"engine"`

	// SQLitePath is the database file path (default: ./data/memento.db).
	SQLitePath string `yaml:"sqlite_path"`

	// PostgresDSN is the connection string when Engine is postgres.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is openai, azure, ollama, or mock; empty auto-detects.
	Provider string `yaml:"provider"`

	APIKey          string `yaml:"api_key"`
	Model           string `yaml:"model"`
	BaseURL         string `yaml:"base_url"`
	AzureEndpoint   string `yaml:"azure_endpoint"`
	AzureAPIVersion string `yaml:"azure_api_version"`

	// Dimensions must match the provider model (default: 1536; the mock
	// provider accepts any value).
	Dimensions int `yaml:"dimensions"`

	// CacheSize is the embedding LRU entry count (default: 1024; negative
	// disables).
	CacheSize int `yaml:"cache_size"`

	// RequestsPerMinute caps provider calls (default: 60).
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// Burst is the rate limiter burst capacity (default: 10).
	Burst int `yaml:"burst"`

	// RateLimitWait bounds how long a worker blocks for a permit
	// (default: 30s).
	RateLimitWait time.Duration `yaml:"rate_limit_wait"`
}

// QueueConfig tunes the background embedding job queue.
type QueueConfig struct {
	// Workers is the number of embedding workers (default: 2).
	Workers int `yaml:"workers"`

	// MaxAttempts before a job is marked failed (default: 5).
	MaxAttempts int `yaml:"max_attempts"`

	// BackoffBase is the first retry delay; each attempt doubles it
	// (default: 1s).
	BackoffBase time.Duration `yaml:"backoff_base"`

	// BackoffCap bounds the retry delay (default: 5m).
	BackoffCap time.Duration `yaml:"backoff_cap"`
}

// SearchConfig tunes hybrid search.
type SearchConfig struct {
	// SemanticWeight is the vector score share in hybrid ranking; keyword
	// matches carry 1 - SemanticWeight (default: 0.6).
	SemanticWeight float64 `yaml:"semantic_weight"`

	// DefaultLimit bounds result counts when the caller passes none
	// (default: 10).
	DefaultLimit int `yaml:"default_limit"`

	// PreprocessingDisabled turns adaptive query analysis off; the
	// similarity threshold then applies verbatim, the legacy behavior.
	PreprocessingDisabled bool `yaml:"preprocessing_disabled"`
}

// DecayConfig tunes time-based confidence decay of relations.
type DecayConfig struct {
	// Disabled turns decayed reads off.
	Disabled bool `yaml:"disabled"`

	// HalfLife is the age at which confidence halves (default: 720h).
	HalfLife time.Duration `yaml:"half_life"`

	// MinConfidence is the floor decay never crosses (default: 0.1).
	MinConfidence float64 `yaml:"min_confidence"`
}

// Load builds the configuration. When MEMENTO_CONFIG_FILE is set (or a path
// is passed explicitly) the YAML file is read first; environment variables
// override file values; defaults fill whatever remains.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		path = os.Getenv("MEMENTO_CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Storage.Engine, "MEMENTO_STORAGE_ENGINE")
	setString(&cfg.Storage.SQLitePath, "MEMENTO_SQLITE_PATH")
	setString(&cfg.Storage.PostgresDSN, "MEMENTO_POSTGRES_DSN")

	setString(&cfg.Embedding.Provider, "MEMENTO_EMBEDDING_PROVIDER")
	setString(&cfg.Embedding.APIKey, "MEMENTO_EMBEDDING_API_KEY")
	setString(&cfg.Embedding.Model, "MEMENTO_EMBEDDING_MODEL")
	setString(&cfg.Embedding.BaseURL, "MEMENTO_EMBEDDING_BASE_URL")
	setString(&cfg.Embedding.AzureEndpoint, "MEMENTO_AZURE_ENDPOINT")
	setString(&cfg.Embedding.AzureAPIVersion, "MEMENTO_AZURE_API_VERSION")
	setInt(&cfg.Embedding.Dimensions, "MEMENTO_EMBEDDING_DIMENSIONS")
	setInt(&cfg.Embedding.CacheSize, "MEMENTO_EMBEDDING_CACHE_SIZE")
	setInt(&cfg.Embedding.RequestsPerMinute, "MEMENTO_EMBEDDING_RPM")
	setInt(&cfg.Embedding.Burst, "MEMENTO_EMBEDDING_BURST")
	setDuration(&cfg.Embedding.RateLimitWait, "MEMENTO_EMBEDDING_RATE_WAIT")

	setInt(&cfg.Queue.Workers, "MEMENTO_QUEUE_WORKERS")
	setInt(&cfg.Queue.MaxAttempts, "MEMENTO_QUEUE_MAX_ATTEMPTS")
	setDuration(&cfg.Queue.BackoffBase, "MEMENTO_QUEUE_BACKOFF_BASE")
	setDuration(&cfg.Queue.BackoffCap, "MEMENTO_QUEUE_BACKOFF_CAP")

	setFloat(&cfg.Search.SemanticWeight, "MEMENTO_SEARCH_SEMANTIC_WEIGHT")
	setInt(&cfg.Search.DefaultLimit, "MEMENTO_SEARCH_DEFAULT_LIMIT")
	setBool(&cfg.Search.PreprocessingDisabled, "MEMENTO_SEARCH_PREPROCESSING_DISABLED")

	setBool(&cfg.Decay.Disabled, "MEMENTO_DECAY_DISABLED")
	setDuration(&cfg.Decay.HalfLife, "MEMENTO_DECAY_HALF_LIFE")
	setFloat(&cfg.Decay.MinConfidence, "MEMENTO_DECAY_MIN_CONFIDENCE")
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Engine == "" {
		cfg.Storage.Engine = "sqlite"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "./data/memento.db"
	}

	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1536
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1024
	}
	if cfg.Embedding.RequestsPerMinute == 0 {
		cfg.Embedding.RequestsPerMinute = 60
	}
	if cfg.Embedding.Burst == 0 {
		cfg.Embedding.Burst = 10
	}
	if cfg.Embedding.RateLimitWait == 0 {
		cfg.Embedding.RateLimitWait = 30 * time.Second
	}

	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = 2
	}
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = 5
	}
	if cfg.Queue.BackoffBase == 0 {
		cfg.Queue.BackoffBase = time.Second
	}
	if cfg.Queue.BackoffCap == 0 {
		cfg.Queue.BackoffCap = 5 * time.Minute
	}

	if cfg.Search.SemanticWeight == 0 {
		cfg.Search.SemanticWeight = 0.6
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 10
	}

	if cfg.Decay.HalfLife == 0 {
		cfg.Decay.HalfLife = 720 * time.Hour
	}
	if cfg.Decay.MinConfidence == 0 {
		cfg.Decay.MinConfidence = 0.1
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("postgres engine requires MEMENTO_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unsupported storage engine: %q", c.Storage.Engine)
	}

	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Search.SemanticWeight < 0 || c.Search.SemanticWeight > 1 {
		return fmt.Errorf("semantic weight %v outside [0,1]", c.Search.SemanticWeight)
	}
	if c.Decay.MinConfidence < 0 || c.Decay.MinConfidence > 1 {
		return fmt.Errorf("min confidence %v outside [0,1]", c.Decay.MinConfidence)
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue workers must be at least 1, got %d", c.Queue.Workers)
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
