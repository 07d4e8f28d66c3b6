package logstore

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	apperrors "github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/errors"
)

// MemoryBackend keeps objects in process memory. Used by tests and by the
// CLI for dry runs.
type MemoryBackend struct {
	mu      sync.Mutex
	buckets map[string]*MemoryStore
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{buckets: make(map[string]*MemoryStore)}
}

func (b *MemoryBackend) Bucket(name string) ObjectStore {
	return b.MemoryBucket(name)
}

// MemoryBucket is Bucket with the concrete type, for tests that inspect it.
func (b *MemoryBackend) MemoryBucket(name string) *MemoryStore {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.buckets[name]
	if !ok {
		s = NewMemoryStore()
		b.buckets[name] = s
	}
	return s
}

type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	gens    map[string]int
	puts    int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte), gens: make(map[string]int)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrNotFound, key)
	}
	return append([]byte(nil), body...), nil
}

func (s *MemoryStore) Put(_ context.Context, key string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), body...)
	s.gens[key]++
	s.puts++
	return nil
}

// Version is the number of writes made to key.
func (s *MemoryStore) Version(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.objects[key]; !ok {
		return "", fmt.Errorf("%w: %s", apperrors.ErrNotFound, key)
	}
	return strconv.Itoa(s.gens[key]), nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// Keys lists stored keys in no particular order.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	return keys
}

// Puts counts successful writes.
func (s *MemoryStore) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}
