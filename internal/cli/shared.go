package cli

import (
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/logstore"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/redis"
)

// runnerOptions wires the store the way the reconciler service does. When
// Redis is enabled the CLI takes the same per-feed lock and keeps the same
// tail index, so its writes cannot race a service cycle or leave a stale
// digest behind. Memory-backed dry runs never touch Redis.
func runnerOptions(cfg *config.Config, backend logstore.Backend) (ingest.Options, func(), error) {
	opts := ingest.Options{
		Parallelism: cfg.Ingest.Parallelism,
		Timeout:     cfg.Ingest.CycleTimeout,
	}
	bucket := backend.Bucket(cfg.Storage.SandboxBucket)
	if !cfg.Redis.Enabled || cfg.Storage.Backend == config.BackendMemory {
		opts.Store = logstore.New(bucket, nil)
		return opts, func() {}, nil
	}
	rdb, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return ingest.Options{}, nil, fmt.Errorf("redis is enabled but unreachable, refusing to write without the feed lock: %w", err)
	}
	opts.Store = logstore.New(bucket, logstore.NewRedisTailIndex(rdb, cfg.Storage.SandboxBucket, cfg.Redis.TailTTL))
	opts.Locker = ingest.NewRedisLocker(rdb, cfg.Redis.LockTTL)
	return opts, func() { rdb.Close() }, nil
}
