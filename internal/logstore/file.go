package logstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/errors"
)

// FileBackend maps buckets to directories under root and keys to relative
// paths inside them.
type FileBackend struct {
	root string
}

func NewFileBackend(root string) *FileBackend {
	return &FileBackend{root: root}
}

func (b *FileBackend) Bucket(name string) ObjectStore {
	return &FileStore{dir: filepath.Join(b.root, name)}
}

type FileStore struct {
	dir string
}

func (s *FileStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: key %q escapes bucket", apperrors.ErrInvalidInput, key)
	}
	return filepath.Join(s.dir, clean), nil
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	body, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", apperrors.ErrStoreUnavailable, key, err)
	}
	return body, nil
}

// Put writes to a temp file in the target directory and renames it into
// place so readers never see a partial object.
func (s *FileStore) Put(_ context.Context, key string, body []byte) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("%w: creating directory for %s: %w", apperrors.ErrStoreUnavailable, key, err)
	}
	f, err := os.CreateTemp(filepath.Dir(p), ".put-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: creating temp file for %s: %w", apperrors.ErrStoreUnavailable, key, err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(body); err != nil {
		f.Close()
		return fmt.Errorf("%w: writing %s: %w", apperrors.ErrStoreUnavailable, key, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("%w: syncing %s: %w", apperrors.ErrStoreUnavailable, key, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: closing %s: %w", apperrors.ErrStoreUnavailable, key, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("%w: renaming %s: %w", apperrors.ErrStoreUnavailable, key, err)
	}
	return nil
}

// Version is a digest of the stored bytes. Modification times are too coarse
// on some filesystems to tell two quick writes apart, and local reads are
// cheap.
func (s *FileStore) Version(ctx context.Context, key string) (string, error) {
	body, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}

// Ping creates the bucket directory if needed and checks it is writable.
func (s *FileStore) Ping(context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrStoreUnavailable, err)
	}
	f, err := os.CreateTemp(s.dir, ".ping-*")
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrStoreUnavailable, err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
