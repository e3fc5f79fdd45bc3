package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestNewFromEnvDefaults(t *testing.T) {
	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.Queue.PollInterval)
	assert.Equal(t, 2, cfg.Queue.MaxConcurrentJobs)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, 4, cfg.Batch.ChunkWorkers)
	assert.Equal(t, uint(3), cfg.Batch.ChunkAttempts)
	assert.Equal(t, 5, cfg.Batch.CheckpointInterval)
	assert.Equal(t, 30*time.Minute, cfg.Batch.JobTimeout)
	assert.Equal(t, 720*time.Hour, cfg.Retention.CacheTTL)
	assert.Equal(t, "0 3 * * *", cfg.Retention.CronExpr)
	assert.Equal(t, language.Vietnamese, cfg.Translate.TargetLanguage)
	assert.Equal(t, "standard", cfg.Translate.Mode)
}

func TestNewFromEnvOverrides(t *testing.T) {
	t.Setenv("QUEUE_MAX_CONCURRENT_JOBS", "8")
	t.Setenv("QUEUE_POLL_INTERVAL", "250ms")
	t.Setenv("BATCH_CHUNK_ATTEMPTS", "5")
	t.Setenv("CACHE_TTL", "24h")
	t.Setenv("TARGET_LANG", "ja")
	t.Setenv("LLM_TEMPERATURE", "0.7")

	cfg, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Queue.MaxConcurrentJobs)
	assert.Equal(t, 250*time.Millisecond, cfg.Queue.PollInterval)
	assert.Equal(t, uint(5), cfg.Batch.ChunkAttempts)
	assert.Equal(t, 24*time.Hour, cfg.Retention.CacheTTL)
	assert.Equal(t, language.Japanese, cfg.Translate.TargetLanguage)
	assert.Equal(t, 0.7, cfg.LLM.Temperature)
}

func TestNewFromEnvInvalidTargetLang(t *testing.T) {
	t.Setenv("TARGET_LANG", "not a language !!")
	_, err := NewFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TARGET_LANG")
}

func TestNewFromEnvValidation(t *testing.T) {
	t.Setenv("QUEUE_MAX_CONCURRENT_JOBS", "0")
	_, err := NewFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QUEUE_MAX_CONCURRENT_JOBS")
}

func TestNewFromEnvOptions(t *testing.T) {
	cfg, err := NewFromEnv(func(c *Config) {
		c.Data.Dir = "/tmp/custom"
		c.Queue.MaxConcurrentJobs = 1
	})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom", cfg.Data.Dir)
	assert.Equal(t, 1, cfg.Queue.MaxConcurrentJobs)
	assert.Equal(t, filepath.Join("/tmp/custom", "pipeline.db"), cfg.Data.DBPath())
}

func TestNewFromEnvIgnoresMalformedValues(t *testing.T) {
	t.Setenv("QUEUE_MAX_RETRIES", "many")
	t.Setenv("QUEUE_POLL_INTERVAL", "soon")

	cfg, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Queue.MaxRetries, "malformed values fall back to defaults")
	assert.Equal(t, time.Second, cfg.Queue.PollInterval)
}
