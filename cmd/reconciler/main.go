// Command reconciler runs ingestion cycles. It consumes sandbox trigger
// events from Kafka, loads the named raw capture and reconciles it into the
// sandbox bucket. Cycles can also be started and inspected over HTTP:
//
//	POST /api/v1/cycles       run a cycle for a registered feed
//	GET  /api/v1/cycles       recent cycles, newest first
//	GET  /api/v1/cycles/{id}  one cycle
//
// Usage:
//
//	go run ./cmd/reconciler [-config configs/config.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/ingest/handler"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/logstore"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/runlog"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/tracing"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	tracing.Configure(cfg.Tracing)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	slog.Info("starting reconciler", "port", cfg.Server.Port, "storage", cfg.Storage.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := logstore.Open(ctx, cfg.Storage)
	if err != nil {
		slog.Error("failed to open object store", "error", err)
		os.Exit(1)
	}
	sandbox := backend.Bucket(cfg.Storage.SandboxBucket)
	checker := health.NewChecker()
	checker.Register("sandbox_store", health.PingCheck(sandbox, false))

	var (
		locker ingest.Locker
		tail   logstore.TailIndex
	)
	if cfg.Redis.Enabled {
		rdb, err := redis.NewClient(cfg.Redis)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		locker = ingest.NewRedisLocker(rdb, cfg.Redis.LockTTL)
		tail = logstore.NewRedisTailIndex(rdb, cfg.Storage.SandboxBucket, cfg.Redis.TailTTL)
		checker.Register("redis", health.PingCheck(rdb, false))
		slog.Info("connected to redis", "addr", cfg.Redis.Addr)
	}

	var ledger runlog.Ledger = runlog.NewMemory(0)
	if cfg.Postgres.Enabled {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		store := runlog.NewStore(db)
		if err := store.Migrate(ctx); err != nil {
			slog.Error("failed to migrate cycle ledger", "error", err)
			os.Exit(1)
		}
		ledger = store
		checker.Register("postgres", health.PingCheck(db, true))
		slog.Info("connected to postgres")
	}

	m := metrics.New()
	runner := ingest.NewRunner(ingest.Options{
		Store:       logstore.New(sandbox, tail),
		Locker:      locker,
		Metrics:     m,
		Ledger:      ledger,
		Parallelism: cfg.Ingest.Parallelism,
		Timeout:     cfg.Ingest.CycleTimeout,
	})

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topics.SandboxTrigger != "" {
		intake := ingest.NewIntake(runner, backend)
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.SandboxTrigger, intake.Handle)
		defer consumer.Close()
		go func() {
			if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
				slog.Error("trigger consumer stopped", "error", err)
				stop()
			}
		}()
		slog.Info("consuming sandbox triggers", "topic", cfg.Kafka.Topics.SandboxTrigger)
	}

	var limiter *ratelimit.Limiter
	if cfg.Server.CycleRateLimit > 0 {
		limiter = ratelimit.New(cfg.Server.CycleRateLimit, time.Minute)
		defer limiter.Close()
	}
	h := handler.New(handler.Config{
		Runner:    runner,
		Registry:  cfg,
		Raw:       backend,
		RawBucket: cfg.Storage.RawBucket,
		Ledger:    ledger,
		Limiter:   limiter,
	})
	api := http.NewServeMux()
	h.Register(api)

	mux := http.NewServeMux()
	mux.Handle("/api/", middleware.Chain(api,
		middleware.Recover,
		middleware.Logging,
		middleware.Metrics(m),
		middleware.Timeout(cfg.Ingest.CycleTimeout+cfg.Server.ShutdownTimeout),
	))
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	if cfg.Metrics.Enabled && cfg.Metrics.Port != cfg.Server.Port {
		status := metrics.StartServer(cfg.Metrics.Port, nil)
		defer status.Shutdown(context.Background())
	} else {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()
	slog.Info("reconciler listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("reconciler stopped")
}
