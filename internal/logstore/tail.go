package logstore

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/redis"
)

// TailIndex remembers the digest of the last record written under each key.
type TailIndex interface {
	Digest(ctx context.Context, key string) (string, bool, error)
	Remember(ctx context.Context, key, digest string) error
	Forget(ctx context.Context, key string) error
}

const tailPrefix = "wz:tail:"

// RedisTailIndex keeps digests in Redis with a TTL longer than the monthly
// partition lifetime.
type RedisTailIndex struct {
	client *redis.Client
	bucket string
	ttl    time.Duration
}

// NewRedisTailIndex scopes digests to bucket so that two buckets sharing one
// Redis never collide.
func NewRedisTailIndex(client *redis.Client, bucket string, ttl time.Duration) *RedisTailIndex {
	return &RedisTailIndex{client: client, bucket: bucket, ttl: ttl}
}

func (t *RedisTailIndex) redisKey(key string) string {
	return tailPrefix + t.bucket + ":" + key
}

func (t *RedisTailIndex) Digest(ctx context.Context, key string) (string, bool, error) {
	v, err := t.client.Get(ctx, t.redisKey(key))
	if redis.IsNilError(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (t *RedisTailIndex) Remember(ctx context.Context, key, digest string) error {
	return t.client.Set(ctx, t.redisKey(key), digest, t.ttl)
}

func (t *RedisTailIndex) Forget(ctx context.Context, key string) error {
	return t.client.Del(ctx, t.redisKey(key))
}
