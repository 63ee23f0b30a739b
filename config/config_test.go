package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "ENVIRONMENT", "NATSURL", "NATS_MAX_INFLIGHT", "RATE_LIMIT_WINDOW_MS", "RATE_LIMIT_MAX_REQUESTS",
		"DEFAULT_TIMEOUT", "MAX_TIMEOUT", "MAX_MEMORY_USAGE", "MAX_OUTPUT_SIZE", "MAX_QUEUE_SIZE",
		"QUEUE_JOB_MAX_AGE_MS", "QUEUE_CLEANUP_INTERVAL_MS", "BLOCKED_PATTERNS", "ALLOWED_ORIGINS",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "5000", cfg.Port)
	assert.Equal(t, 60*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, 10, cfg.RateLimitMaxRequests)
	assert.Equal(t, 5*time.Second, cfg.DefaultTimeout)
	assert.Equal(t, 10*time.Second, cfg.MaxTimeout)
	assert.Equal(t, int64(134217728), cfg.MaxMemoryBytes)
	assert.Equal(t, 1048576, cfg.MaxOutputSize)
	assert.Equal(t, 100, cfg.MaxQueueSize)
	assert.Equal(t, 5*time.Minute, cfg.QueueJobMaxAge)
	assert.Equal(t, time.Minute, cfg.CleanupInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.InterJobDelay)
	assert.Equal(t, DefaultBlockedPatterns, cfg.BlockedPatterns)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Empty(t, cfg.NatsURL)
	assert.Equal(t, 4, cfg.NatsMaxInFlight)
	assert.False(t, cfg.IsDevelopment())
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("MAX_TIMEOUT", "20000")
	t.Setenv("MAX_QUEUE_SIZE", "3")
	t.Setenv("BLOCKED_PATTERNS", `foo\s*\( ;; bar`)
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 20*time.Second, cfg.MaxTimeout)
	assert.Equal(t, 3, cfg.MaxQueueSize)
	assert.Equal(t, []string{`foo\s*\(`, "bar"}, cfg.BlockedPatterns)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
}

func TestFromEnvRejectsMalformedNumbers(t *testing.T) {
	t.Setenv("MAX_OUTPUT_SIZE", "lots")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_OUTPUT_SIZE")
}

func TestValidateTimeoutOrdering(t *testing.T) {
	t.Setenv("DEFAULT_TIMEOUT", "8000")
	t.Setenv("MAX_TIMEOUT", "4000")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_TIMEOUT")
}

func TestValidateNatsInFlight(t *testing.T) {
	clearEnv(t)
	t.Setenv("NATS_MAX_INFLIGHT", "0")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NATS_MAX_INFLIGHT")
}
