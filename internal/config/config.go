package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/text/language"
)

// Config holds all application configuration.
// Values come from environment variables with sensible defaults.
//
// Environment Variables:
// Data:
// - DATA_DIR: directory for the SQLite database (default: ./data)
//
// Queue:
// - QUEUE_POLL_INTERVAL: scheduler poll interval (default: 1s)
// - QUEUE_MAX_CONCURRENT_JOBS: executors running at once (default: 2)
// - QUEUE_MAX_RETRIES: default job-level retry budget (default: 3)
// - QUEUE_RETRY_BACKOFF: base delay before a RETRYING job is eligible again (default: 5s)
//
// Batch execution:
// - BATCH_CHUNK_WORKERS: parallel chunk calls per job (default: 4)
// - BATCH_CHUNK_TIMEOUT: per-chunk-attempt timeout (default: 60s)
// - BATCH_CHUNK_ATTEMPTS: attempts per chunk including the first (default: 3)
// - BATCH_CHUNK_BACKOFF: base backoff between chunk attempts (default: 1s)
// - BATCH_CHECKPOINT_INTERVAL: checkpoint every K completed chunks (default: 5)
// - BATCH_JOB_TIMEOUT: per-job wall-clock limit (default: 30m)
// - BATCH_PROGRESS_FLUSH_INTERVAL: minimum gap between progress writes (default: 2s)
//
// Retention:
// - CACHE_TTL: advisory chunk-cache entry lifetime (default: 720h)
// - JOB_RETENTION: terminal jobs older than this are swept (default: 168h)
// - CLEANUP_CRON_EXPR: retention sweep schedule (default: "0 3 * * *")
//
// LLM:
// - LLM_API_KEY: API key for the LLM provider (required)
// - LLM_API_URL: API endpoint URL (default: https://openrouter.ai/api/v1)
// - LLM_MODEL: model name (default: openai/gpt-4o-mini)
// - LLM_MAX_TOKENS: maximum response tokens (default: 8000)
// - LLM_TEMPERATURE: sampling temperature (default: 0.3)
// - LLM_TIMEOUT: request timeout in seconds (default: 60)
//
// Translate:
// - TARGET_LANG: BCP 47 target language (default: vi)
// - TRANSLATE_MODE: pipeline mode label folded into cache keys (default: standard)
// - MAX_CHUNK_CHARS: paragraph packing limit for the text chunker (default: 4000)

type Config struct {
	Data      DataConfig      `json:"data"`
	Queue     QueueConfig     `json:"queue"`
	Batch     BatchConfig     `json:"batch"`
	Retention RetentionConfig `json:"retention"`
	LLM       LLMConfig       `json:"llm"`
	Translate TranslateConfig `json:"translate"`
}

type DataConfig struct {
	Dir string `json:"dir"`
}

// DBPath is the location of the SQLite database inside the data directory.
func (c DataConfig) DBPath() string {
	return filepath.Join(c.Dir, "pipeline.db")
}

type QueueConfig struct {
	PollInterval      time.Duration `json:"poll_interval"`
	MaxConcurrentJobs int           `json:"max_concurrent_jobs"`
	MaxRetries        int           `json:"max_retries"`
	RetryBackoff      time.Duration `json:"retry_backoff"`
}

type BatchConfig struct {
	ChunkWorkers          int           `json:"chunk_workers"`
	ChunkTimeout          time.Duration `json:"chunk_timeout"`
	ChunkAttempts         uint          `json:"chunk_attempts"`
	ChunkBackoff          time.Duration `json:"chunk_backoff"`
	CheckpointInterval    int           `json:"checkpoint_interval"`
	JobTimeout            time.Duration `json:"job_timeout"`
	ProgressFlushInterval time.Duration `json:"progress_flush_interval"`
}

type RetentionConfig struct {
	CacheTTL     time.Duration `json:"cache_ttl"`
	JobRetention time.Duration `json:"job_retention"`
	CronExpr     string        `json:"cron_expr"`
}

// LLMConfig holds the configuration for the LLM-backed worker.
// Supports any OpenAI-compatible provider.
type LLMConfig struct {
	APIKey      string  `json:"api_key"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
}

type TranslateConfig struct {
	TargetLanguage language.Tag `json:"target_language"`
	Mode           string       `json:"mode"`
	MaxChunkChars  int          `json:"max_chunk_chars"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment
// variables and options.
func NewFromEnv(opts ...Option) (*Config, error) {
	targetLang, err := language.Parse(getEnvString("TARGET_LANG", "vi"))
	if err != nil {
		return nil, fmt.Errorf("invalid TARGET_LANG: %w", err)
	}

	config := &Config{
		Data: DataConfig{
			Dir: getEnvString("DATA_DIR", "./data"),
		},
		Queue: QueueConfig{
			PollInterval:      getEnvDuration("QUEUE_POLL_INTERVAL", time.Second),
			MaxConcurrentJobs: getEnvInt("QUEUE_MAX_CONCURRENT_JOBS", 2),
			MaxRetries:        getEnvInt("QUEUE_MAX_RETRIES", 3),
			RetryBackoff:      getEnvDuration("QUEUE_RETRY_BACKOFF", 5*time.Second),
		},
		Batch: BatchConfig{
			ChunkWorkers:          getEnvInt("BATCH_CHUNK_WORKERS", 4),
			ChunkTimeout:          getEnvDuration("BATCH_CHUNK_TIMEOUT", 60*time.Second),
			ChunkAttempts:         uint(getEnvInt("BATCH_CHUNK_ATTEMPTS", 3)),
			ChunkBackoff:          getEnvDuration("BATCH_CHUNK_BACKOFF", time.Second),
			CheckpointInterval:    getEnvInt("BATCH_CHECKPOINT_INTERVAL", 5),
			JobTimeout:            getEnvDuration("BATCH_JOB_TIMEOUT", 30*time.Minute),
			ProgressFlushInterval: getEnvDuration("BATCH_PROGRESS_FLUSH_INTERVAL", 2*time.Second),
		},
		Retention: RetentionConfig{
			CacheTTL:     getEnvDuration("CACHE_TTL", 720*time.Hour),
			JobRetention: getEnvDuration("JOB_RETENTION", 168*time.Hour),
			CronExpr:     getEnvString("CLEANUP_CRON_EXPR", "0 3 * * *"),
		},
		LLM: LLMConfig{
			APIKey:      getEnvString("LLM_API_KEY", ""),
			APIURL:      getEnvString("LLM_API_URL", "https://openrouter.ai/api/v1"),
			Model:       getEnvString("LLM_MODEL", "openai/gpt-4o-mini"),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 8000),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.3),
			Timeout:     getEnvInt("LLM_TIMEOUT", 60),
		},
		Translate: TranslateConfig{
			TargetLanguage: targetLang,
			Mode:           getEnvString("TRANSLATE_MODE", "standard"),
			MaxChunkChars:  getEnvInt("MAX_CHUNK_CHARS", 4000),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.Queue.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("QUEUE_MAX_CONCURRENT_JOBS must be positive")
	}
	if c.Batch.ChunkWorkers <= 0 {
		return fmt.Errorf("BATCH_CHUNK_WORKERS must be positive")
	}
	if c.Batch.CheckpointInterval <= 0 {
		return fmt.Errorf("BATCH_CHECKPOINT_INTERVAL must be positive")
	}
	if c.Batch.ChunkAttempts == 0 {
		return fmt.Errorf("BATCH_CHUNK_ATTEMPTS must be positive")
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration value from environment variables with default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
