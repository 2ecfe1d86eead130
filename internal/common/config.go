package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Queue       QueueConfig     `toml:"queue"`
	Jobs        JobsConfig      `toml:"jobs"`
	Providers   ProvidersConfig `toml:"providers"`
	Linking     LinkingConfig   `toml:"linking"`
	Watcher     WatcherConfig   `toml:"watcher"`
	Sources     SourcesConfig   `toml:"sources"`
	Logging     LoggingConfig   `toml:"logging"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port" validate:"gt=0,lte=65535"`
}

type StorageConfig struct {
	Badger    BadgerConfig `toml:"badger"`
	Artifacts string       `toml:"artifacts"` // Directory for export fragments and combined artifacts
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`      // e.g., "1s" - how often workers poll for messages
	Concurrency       int    `toml:"concurrency"`        // Number of concurrent workers
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g., "5m" - message visibility timeout for redelivery
	MaxReceive        int    `toml:"max_receive"`        // Max times a message can be received before it is dropped
	QueueName         string `toml:"queue_name"`         // Queue name prefix in Badger
}

// JobsConfig holds chunking and retry policy for the job pipeline
type JobsConfig struct {
	ImportChunkSize     int    `toml:"import_chunk_size"`
	ExportChunkSize     int    `toml:"export_chunk_size"`
	LinkChunkSize       int    `toml:"link_chunk_size"`
	EnrichmentChunkSize int    `toml:"enrichment_chunk_size"`
	MaxRetries          int    `toml:"max_retries"`
	ChunkStaleAfter     string `toml:"chunk_stale_after"` // Staleness threshold for interactive chunks, e.g. "5m"
	MediaStaleAfter     string `toml:"media_stale_after"` // Staleness threshold for media generation tasks, e.g. "30m"
}

type ProvidersConfig struct {
	Claude      ClaudeConfig      `toml:"claude"`
	Gemini      GeminiConfig      `toml:"gemini"`
	Marketplace MarketplaceConfig `toml:"marketplace"`
	// Provider order per capability; first entry is tried first.
	AnalysisOrder []string `toml:"analysis_order"`
	MediaOrder    []string `toml:"media_order"`
}

type ClaudeConfig struct {
	APIKey            string  `toml:"api_key"`
	Model             string  `toml:"model"`
	MaxTokens         int     `toml:"max_tokens"`
	Temperature       float32 `toml:"temperature"`
	Timeout           string  `toml:"timeout"`
	RequestsPerSecond int     `toml:"requests_per_second"`
}

type GeminiConfig struct {
	APIKey            string `toml:"api_key"`
	Model             string `toml:"model"`
	ImageModel        string `toml:"image_model"`
	Timeout           string `toml:"timeout"`
	RequestsPerSecond int    `toml:"requests_per_second"`
}

type MarketplaceConfig struct {
	BaseURL           string `toml:"base_url"`
	RequestsPerSecond int    `toml:"requests_per_second"`
	Timeout           string `toml:"timeout"`
}

// LinkingConfig holds the fuzzy-match thresholds.
// These are empirically tuned policy, not fixed law - keep them configurable.
type LinkingConfig struct {
	AutoThreshold    float64 `toml:"auto_threshold" validate:"gte=0,lte=1"`
	SuggestThreshold float64 `toml:"suggest_threshold" validate:"gte=0,lte=1"`
	CandidateLimit   int     `toml:"candidate_limit"`
}

type WatcherConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"` // Cron schedule for the stuck-job sweep
}

type SourcesConfig struct {
	IMAP IMAPConfig `toml:"imap"`
}

type IMAPConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	UseTLS   bool   `toml:"use_tls"`
	Mailbox  string `toml:"mailbox"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "localhost",
			Port: 8085,
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/badger",
			},
			Artifacts: "./data/artifacts",
		},
		Queue: QueueConfig{
			PollInterval:      "1s",
			Concurrency:       4,
			VisibilityTimeout: "5m",
			MaxReceive:        3,
			QueueName:         "catena",
		},
		Jobs: JobsConfig{
			ImportChunkSize:     500,
			ExportChunkSize:     1000,
			LinkChunkSize:       200,
			EnrichmentChunkSize: 100,
			MaxRetries:          3,
			ChunkStaleAfter:     "5m",
			MediaStaleAfter:     "30m",
		},
		Providers: ProvidersConfig{
			Claude: ClaudeConfig{
				Model:             "claude-sonnet-4-20250514",
				MaxTokens:         8192,
				Timeout:           "60s",
				RequestsPerSecond: 2,
			},
			Gemini: GeminiConfig{
				Model:             "gemini-2.5-flash",
				ImageModel:        "gemini-2.5-flash-image",
				Timeout:           "60s",
				RequestsPerSecond: 2,
			},
			Marketplace: MarketplaceConfig{
				RequestsPerSecond: 2,
				Timeout:           "30s",
			},
			AnalysisOrder: []string{"claude", "gemini"},
			MediaOrder:    []string{"gemini"},
		},
		Linking: LinkingConfig{
			AutoThreshold:    0.95,
			SuggestThreshold: 0.75,
			CandidateLimit:   50,
		},
		Watcher: WatcherConfig{
			Enabled:  true,
			Schedule: "*/1 * * * *",
		},
		Sources: SourcesConfig{
			IMAP: IMAPConfig{
				Port:    993,
				UseTLS:  true,
				Mailbox: "INBOX",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadConfig loads configuration from defaults, then overlays each config
// file in order, then environment variables.
func LoadConfig(paths ...string) (*Config, error) {
	config := DefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks structural constraints and cross-field invariants
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Linking.SuggestThreshold > c.Linking.AutoThreshold {
		return fmt.Errorf("invalid configuration: linking suggest_threshold (%.2f) exceeds auto_threshold (%.2f)",
			c.Linking.SuggestThreshold, c.Linking.AutoThreshold)
	}

	for _, d := range []struct {
		name  string
		value string
	}{
		{"queue.poll_interval", c.Queue.PollInterval},
		{"queue.visibility_timeout", c.Queue.VisibilityTimeout},
		{"jobs.chunk_stale_after", c.Jobs.ChunkStaleAfter},
		{"jobs.media_stale_after", c.Jobs.MediaStaleAfter},
	} {
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("invalid configuration: %s %q is not a duration: %w", d.name, d.value, err)
		}
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("CATENA_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("CATENA_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("CATENA_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if badgerPath := os.Getenv("CATENA_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if artifacts := os.Getenv("CATENA_ARTIFACTS_PATH"); artifacts != "" {
		config.Storage.Artifacts = artifacts
	}

	if pollInterval := os.Getenv("CATENA_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if concurrency := os.Getenv("CATENA_QUEUE_CONCURRENCY"); concurrency != "" {
		if n, err := strconv.Atoi(concurrency); err == nil {
			config.Queue.Concurrency = n
		}
	}
	if visibilityTimeout := os.Getenv("CATENA_QUEUE_VISIBILITY_TIMEOUT"); visibilityTimeout != "" {
		config.Queue.VisibilityTimeout = visibilityTimeout
	}
	if maxReceive := os.Getenv("CATENA_QUEUE_MAX_RECEIVE"); maxReceive != "" {
		if n, err := strconv.Atoi(maxReceive); err == nil {
			config.Queue.MaxReceive = n
		}
	}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		config.Providers.Claude.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		config.Providers.Gemini.APIKey = key
	}

	if level := os.Getenv("CATENA_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// PollIntervalDuration returns the parsed queue poll interval
func (c *QueueConfig) PollIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil {
		return time.Second
	}
	return d
}

// VisibilityTimeoutDuration returns the parsed queue visibility timeout
func (c *QueueConfig) VisibilityTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.VisibilityTimeout)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// ChunkStaleAfterDuration returns the staleness threshold for interactive chunks
func (c *JobsConfig) ChunkStaleAfterDuration() time.Duration {
	d, err := time.ParseDuration(c.ChunkStaleAfter)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// MediaStaleAfterDuration returns the staleness threshold for media generation work
func (c *JobsConfig) MediaStaleAfterDuration() time.Duration {
	d, err := time.ParseDuration(c.MediaStaleAfter)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}
