package main

import (
	"context"
	"log"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/greetingsvc/scheduler/config"
	"github.com/greetingsvc/scheduler/internal/backpressure"
	"github.com/greetingsvc/scheduler/internal/breaker"
	"github.com/greetingsvc/scheduler/internal/domain"
	"github.com/greetingsvc/scheduler/internal/health"
	"github.com/greetingsvc/scheduler/internal/idempotency"
	"github.com/greetingsvc/scheduler/internal/infrastructure/postgres"
	ctxlog "github.com/greetingsvc/scheduler/internal/log"
	"github.com/greetingsvc/scheduler/internal/metrics"
	"github.com/greetingsvc/scheduler/internal/queue"
	"github.com/greetingsvc/scheduler/internal/reschedule"
	"github.com/greetingsvc/scheduler/internal/scheduler"
	"github.com/greetingsvc/scheduler/internal/vendor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	poolCfg := postgres.PoolConfig{
		MaxConns:          int32(cfg.DBMaxConns),
		MinConns:          int32(cfg.DBMinConns),
		MaxConnLifetime:   cfg.DBMaxConnLifetime(),
		MaxConnIdleTime:   cfg.DBMaxConnIdleTime(),
		HealthCheckPeriod: cfg.DBHealthCheckPeriod(),
		ConnectTimeout:    cfg.DBConnectTimeout(),
	}
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, poolCfg)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()
	logger.Info("db connected")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() { _ = redisClient.Close() }()

	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	messages := postgres.NewMessageRepository(pool)
	users := postgres.NewUserRepository(pool)

	peek := idempotency.NewPeekCache(redisClient, 24*time.Hour)
	gate := backpressure.NewGate(redisClient)

	var sender vendor.Sender
	if cfg.Env == "local" {
		sender = vendor.NewLogSender(logger)
	} else {
		sender = vendor.NewHTTPSender(vendor.HTTPSenderConfig{
			URL:            cfg.VendorURL,
			APIKey:         cfg.VendorAPIKey,
			AttemptTimeout: cfg.SenderAttemptTimeout(),
			MaxAttempts:    cfg.SenderRetryAttempts,
			BackoffBase:    cfg.SenderBackoffBase(),
			BackoffFactor:  float64(cfg.SenderBackoffFactor),
			BackoffCap:     cfg.SenderBackoffCap(),
		}, logger)
	}

	breakerCfg := breaker.Config{
		MinSamples:     uint32(cfg.BreakerRollingWindow),
		ErrorRateTrip:  float64(cfg.BreakerErrorPct) / 100,
		OpenDuration:   cfg.BreakerOpenDuration(),
		HalfOpenProbes: uint32(cfg.BreakerHalfOpenProbes),
	}
	guardedSender := breaker.NewSender(sender, "vendor", breakerCfg, logger)

	queues := map[domain.MessageType]queue.Queue{
		domain.MessageTypeBirthday:    queue.NewPostgresOutbox(pool, "queue_jobs_birthday", "birthday"),
		domain.MessageTypeAnniversary: queue.NewPostgresOutbox(pool, "queue_jobs_anniversary", "anniversary"),
	}

	// The queue is a transactional outbox on the same pool as everything
	// else, so its connectivity monitor pings the same pool under its own
	// dependency name rather than a second physical connection.
	postgresMonitor := health.NewConnectivityMonitor("postgres", pool, logger)
	queueMonitor := health.NewConnectivityMonitor("queue", pool, logger)

	daily, err := scheduler.NewDailyMaterializer(users, messages, peek, cfg.SchedulerDailyCron, logger)
	if err != nil {
		log.Fatalf("daily materializer: %v", err)
	}

	enqueuer := scheduler.NewMinuteEnqueuer(messages, queues, gate, queueMonitor, cfg.SchedulerEnqueueInterval(), cfg.SchedulerEnqueueLookahead(), logger)

	sweeper := scheduler.NewRecoverySweeper(messages, cfg.SchedulerRecoveryInterval(), cfg.SchedulerRecoveryGrace(), cfg.SchedulerSendingStaleThreshold(), cfg.QueueMaxRetries, logger)

	workerPool := scheduler.NewWorkerPool(messages, users, queues, guardedSender, queueMonitor, cfg.WorkersCount, cfg.QueuePrefetch, cfg.QueueMaxRetries, logger)

	rescheduleService := reschedule.NewService(users, messages, logger)
	rescheduleListener := reschedule.NewListener(pool, rescheduleService, logger)

	supervisor := scheduler.NewSupervisor(daily, enqueuer, sweeper, workerPool, rescheduleListener, postgresMonitor, queueMonitor, logger)

	monitor := backpressure.NewMonitor(gate, memoryLimitBytes(), cfg.BackpressureMemoryWatermarkPct, 15*time.Second, logger)
	go monitor.Start(ctx)

	supervisor.Run(ctx)

	logger.Info("scheduler shut down")
}

// memoryLimitBytes reads the process's GOMEMLIMIT-derived soft memory
// limit; when none is configured it falls back to a conservative default
// so the backpressure monitor's watermark percentage still means something.
func memoryLimitBytes() uint64 {
	limit := debug.SetMemoryLimit(-1)
	if limit <= 0 || limit == math.MaxInt64 {
		return 512 << 20
	}
	return uint64(limit)
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
