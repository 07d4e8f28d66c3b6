package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/redis"
)

// Locker guarantees at most one in-flight cycle per feed. Acquire fails with
// apperrors.ErrCycleInProgress when the feed is already held.
type Locker interface {
	Acquire(ctx context.Context, feedID string) (release func(), err error)
}

// LocalLocker serializes cycles within one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) Acquire(_ context.Context, feedID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[feedID]; ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrCycleInProgress, feedID)
	}
	l.held[feedID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, feedID)
			l.mu.Unlock()
		})
	}, nil
}

// RedisLocker holds a SET NX PX lease per feed so that replicas of the
// reconciler exclude each other. The TTL bounds how long a crashed holder
// blocks the feed and must exceed the cycle timeout.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		logger: slog.Default().With("component", "redis-locker"),
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, feedID string) (func(), error) {
	key := "wz:lock:" + feedID
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("%w: acquiring lock for %s: %w", apperrors.ErrStoreUnavailable, feedID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrCycleInProgress, feedID)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			// the cycle context may already be cancelled
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			released, err := l.client.CompareAndDelete(ctx, key, token)
			if err != nil {
				l.logger.Warn("lock release failed", "feed", feedID, "error", err)
				return
			}
			if !released {
				l.logger.Warn("lock expired before release", "feed", feedID, "ttl", l.ttl)
			}
		})
	}, nil
}
