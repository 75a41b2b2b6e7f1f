package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config holds every tunable named in the scheduling and delivery pipeline's
// configuration contract. It is loaded once at process start and passed by
// reference to every long-lived component — there is no process-global
// config singleton.
type Config struct {
	Env      string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`
	RedisAddr   string `env:"REDIS_ADDR" envDefault:"localhost:6379"`

	DBMaxConns            int `env:"DB_MAX_CONNS" envDefault:"25" validate:"min=1"`
	DBMinConns            int `env:"DB_MIN_CONNS" envDefault:"5" validate:"min=0"`
	DBMaxConnLifetimeMs   int `env:"DB_MAX_CONN_LIFETIME_MS" envDefault:"3600000" validate:"min=1000"`
	DBMaxConnIdleTimeMs   int `env:"DB_MAX_CONN_IDLE_TIME_MS" envDefault:"1800000" validate:"min=1000"`
	DBHealthCheckPeriodMs int `env:"DB_HEALTH_CHECK_PERIOD_MS" envDefault:"30000" validate:"min=1000"`
	DBConnectTimeoutMs    int `env:"DB_CONNECT_TIMEOUT_MS" envDefault:"5000" validate:"min=1"`

	VendorURL    string `env:"VENDOR_URL" validate:"required_unless=Env local"`
	VendorAPIKey string `env:"VENDOR_API_KEY"`

	WorkersCount int `env:"WORKERS_COUNT" envDefault:"5" validate:"min=1,max=100"`

	QueuePrefetch   int `env:"QUEUE_PREFETCH" envDefault:"5" validate:"min=1"`
	QueueMaxRetries int `env:"QUEUE_MAX_RETRIES" envDefault:"5" validate:"min=0"`

	SenderAttemptTimeoutMs int `env:"SENDER_ATTEMPT_TIMEOUT_MS" envDefault:"10000" validate:"min=1"`
	SenderRetryAttempts    int `env:"SENDER_RETRY_ATTEMPTS" envDefault:"3" validate:"min=1"`
	SenderBackoffBaseMs    int `env:"SENDER_BACKOFF_BASE_MS" envDefault:"1000" validate:"min=1"`
	SenderBackoffFactor    int `env:"SENDER_BACKOFF_FACTOR" envDefault:"2" validate:"min=1"`
	SenderBackoffCapMs     int `env:"SENDER_BACKOFF_CAP_MS" envDefault:"60000" validate:"min=1"`

	BreakerErrorPct        int `env:"BREAKER_ERROR_PCT" envDefault:"50" validate:"min=1,max=100"`
	BreakerRollingWindow   int `env:"BREAKER_ROLLING_WINDOW" envDefault:"20" validate:"min=1"`
	BreakerOpenMs          int `env:"BREAKER_OPEN_MS" envDefault:"30000" validate:"min=1"`
	BreakerHalfOpenProbes  int `env:"BREAKER_HALF_OPEN_PROBES" envDefault:"1" validate:"min=1"`

	// SchedulerDailyCron is a 5-field cron expression; default fires at
	// :05 past every 6th hour UTC (see SPEC_FULL.md §3.1).
	SchedulerDailyCron          string `env:"SCHEDULER_DAILY_CRON" envDefault:"5 0,6,12,18 * * *"`
	SchedulerEnqueueIntervalMs  int    `env:"SCHEDULER_ENQUEUE_INTERVAL_MS" envDefault:"60000" validate:"min=1000"`
	SchedulerRecoveryIntervalMs int    `env:"SCHEDULER_RECOVERY_INTERVAL_MS" envDefault:"600000" validate:"min=1000"`
	SchedulerEnqueueLookaheadMs int    `env:"SCHEDULER_ENQUEUE_LOOKAHEAD_MS" envDefault:"3900000" validate:"min=60000"`
	SchedulerRecoveryGraceMs    int    `env:"SCHEDULER_RECOVERY_GRACE_MS" envDefault:"600000" validate:"min=1000"`

	// BackpressureMemoryWatermarkPct pauses intake once process heap usage
	// crosses this share of GOMEMLIMIT-derived budget (see internal/backpressure).
	BackpressureMemoryWatermarkPct int `env:"BACKPRESSURE_MEMORY_WATERMARK_PCT" envDefault:"90" validate:"min=1,max=100"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts the LOG_LEVEL string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) SenderAttemptTimeout() time.Duration {
	return time.Duration(c.SenderAttemptTimeoutMs) * time.Millisecond
}

func (c *Config) SenderBackoffBase() time.Duration {
	return time.Duration(c.SenderBackoffBaseMs) * time.Millisecond
}

func (c *Config) SenderBackoffCap() time.Duration {
	return time.Duration(c.SenderBackoffCapMs) * time.Millisecond
}

func (c *Config) BreakerOpenDuration() time.Duration {
	return time.Duration(c.BreakerOpenMs) * time.Millisecond
}

func (c *Config) SchedulerEnqueueInterval() time.Duration {
	return time.Duration(c.SchedulerEnqueueIntervalMs) * time.Millisecond
}

func (c *Config) SchedulerRecoveryInterval() time.Duration {
	return time.Duration(c.SchedulerRecoveryIntervalMs) * time.Millisecond
}

func (c *Config) SchedulerEnqueueLookahead() time.Duration {
	return time.Duration(c.SchedulerEnqueueLookaheadMs) * time.Millisecond
}

func (c *Config) SchedulerRecoveryGrace() time.Duration {
	return time.Duration(c.SchedulerRecoveryGraceMs) * time.Millisecond
}

func (c *Config) DBMaxConnLifetime() time.Duration {
	return time.Duration(c.DBMaxConnLifetimeMs) * time.Millisecond
}

func (c *Config) DBMaxConnIdleTime() time.Duration {
	return time.Duration(c.DBMaxConnIdleTimeMs) * time.Millisecond
}

func (c *Config) DBHealthCheckPeriod() time.Duration {
	return time.Duration(c.DBHealthCheckPeriodMs) * time.Millisecond
}

func (c *Config) DBConnectTimeout() time.Duration {
	return time.Duration(c.DBConnectTimeoutMs) * time.Millisecond
}

// SchedulerSendingStaleThreshold implements spec §4.7's rule for when a
// SENDING record is presumed orphaned: 2x the worst case a single send
// attempt could legitimately still be in flight (every retry's timeout
// plus its backoff wait).
func (c *Config) SchedulerSendingStaleThreshold() time.Duration {
	perAttempt := c.SenderAttemptTimeout() + c.SenderBackoffCap()
	worstCase := perAttempt * time.Duration(c.SenderRetryAttempts)
	return 2 * worstCase
}
