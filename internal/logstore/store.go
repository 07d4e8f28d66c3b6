// Package logstore persists work-zone logs as newline-delimited JSON objects
// in an object store. The store has no append primitive: every write replaces
// the whole object.
package logstore

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/config"
)

// ObjectStore is one bucket of an object store. Get returns an error
// matching apperrors.ErrNotFound when the key does not exist; any other
// failure matches apperrors.ErrStoreUnavailable.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, body []byte) error
	Ping(ctx context.Context) error
}

// Versioner reports an opaque token that changes on every write to key,
// without reading the object. The tail shortcut is only taken on stores that
// implement it.
type Versioner interface {
	Version(ctx context.Context, key string) (string, error)
}

// Backend hands out buckets of one store.
type Backend interface {
	Bucket(name string) ObjectStore
}

// Open builds the backend named in the storage config.
func Open(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return NewMemoryBackend(), nil
	case config.BackendFile:
		return NewFileBackend(cfg.Root), nil
	case config.BackendS3:
		return NewS3Backend(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
