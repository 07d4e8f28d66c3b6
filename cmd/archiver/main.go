// Command archiver captures every registered WZDx feed on an interval into
// the raw bucket and triggers the downstream stages each feed is piped to.
//
// Usage:
//
//	go run ./cmd/archiver [-config configs/config.yaml] [-once]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/archive"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/logstore"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/trigger"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/tracing"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	once := flag.Bool("once", false, "capture every feed once and exit")
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := logstore.Open(ctx, cfg.Storage)
	if err != nil {
		slog.Error("failed to open object store", "error", err)
		os.Exit(1)
	}
	raw := backend.Bucket(cfg.Storage.RawBucket)

	trig, err := trigger.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to set up triggers", "error", err)
		os.Exit(1)
	}
	defer trig.Close()

	m := metrics.New()
	fetcher := archive.NewHTTPFetcher(cfg.Archive, m)
	a := archive.New(archive.Options{
		Fetcher:     fetcher,
		Raw:         raw,
		RawBucket:   cfg.Storage.RawBucket,
		Trigger:     trig,
		Metrics:     m,
		Parallelism: cfg.Ingest.Parallelism,
	})

	if *once {
		failed := 0
		for _, c := range a.CaptureAll(ctx, cfg.Feeds) {
			if c.Err != nil {
				failed++
			}
		}
		if failed > 0 {
			slog.Error("capture pass finished with failures", "failed", failed, "feeds", len(cfg.Feeds))
			os.Exit(1)
		}
		return
	}

	checker := health.NewChecker()
	checker.Register("raw_store", health.PingCheck(raw, false))
	checker.Register("publishers", func(context.Context) health.ComponentHealth {
		if open := fetcher.OpenCircuits(); len(open) > 0 {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "open: " + strings.Join(open, ", ")}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	status := metrics.StartServer(cfg.Server.Port, map[string]http.Handler{
		"GET /health/live":  checker.LiveHandler(),
		"GET /health/ready": checker.ReadyHandler(),
	})
	go func() {
		if err := <-status.Err(); err != nil {
			stop()
		}
	}()

	a.Run(ctx, cfg.Feeds, cfg.Archive.Interval)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := status.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	slog.Info("archiver stopped")
}
