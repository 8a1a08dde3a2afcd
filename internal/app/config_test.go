package app

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"APP_ENV", "GL_POSTING_MODE", "GL_WORKER_CONCURRENCY", "GL_REPORT_CACHE_TTL", "GL_IDEMPOTENCY_TTL", "GL_INTEGRITY_SCHEDULE", "GL_PROCESSING_TIMEOUT", "GL_RECOVERY_INTERVAL"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, PostingModeAsynq, cfg.PostingMode)
	require.Equal(t, 8, cfg.WorkerConcurrency)
	require.Equal(t, 5*time.Minute, cfg.ReportCacheTTL)
	require.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	require.Equal(t, 15*time.Minute, cfg.ProcessingTimeout)
	require.Equal(t, 5*time.Minute, cfg.RecoveryInterval)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("GL_POSTING_MODE", "inline")
	t.Setenv("GL_RATE_LIMIT", "0")
	t.Setenv("GL_BATCH_LOCK_TTL", "90s")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	require.Equal(t, PostingModeInline, cfg.PostingMode)
	require.Zero(t, cfg.RateLimit)
	require.Equal(t, 90*time.Second, cfg.BatchLockTTL)
}

func TestLoadConfigIntegritySchedule(t *testing.T) {
	t.Setenv("GL_INTEGRITY_SCHEDULE", "@daily")
	t.Setenv("GL_INTEGRITY_LEDGERS", "1,4")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "@daily", cfg.IntegritySchedule)
	require.Equal(t, []int64{1, 4}, cfg.IntegrityLedgers)

	t.Setenv("GL_INTEGRITY_LEDGERS", "")
	_, err = LoadConfig()
	require.ErrorContains(t, err, "GL_INTEGRITY_LEDGERS")
}

func TestConfigValidate(t *testing.T) {
	valid := Config{PostingMode: PostingModeAsynq, WorkerConcurrency: 1, BatchLockTTL: time.Minute, PGDSN: "postgres://x",
		ProcessingTimeout: 15 * time.Minute, RecoveryInterval: time.Minute}
	require.NoError(t, valid.Validate())

	cases := map[string]func(*Config){
		"posting mode": func(c *Config) { c.PostingMode = "kafka" },
		"concurrency":  func(c *Config) { c.WorkerConcurrency = 0 },
		"lock ttl":     func(c *Config) { c.BatchLockTTL = 0 },
		"rate limit":   func(c *Config) { c.RateLimit = -1 },
		"dsn":          func(c *Config) { c.PGDSN = "" },
		"schedule":     func(c *Config) { c.IntegritySchedule = "@hourly" },
		"recovery":     func(c *Config) { c.ProcessingTimeout = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
	var nilCfg *Config
	require.Error(t, nilCfg.Validate())
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, "DEBUG", parseLevel(&Config{LogLevel: "debug"}).String())
	require.Equal(t, "WARN", parseLevel(&Config{LogLevel: "Warning"}).String())
	require.Equal(t, "INFO", parseLevel(&Config{LogLevel: "loud"}).String())
	require.Equal(t, "INFO", parseLevel(nil).String())
}
