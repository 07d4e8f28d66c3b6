package logstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/schema"
	apperrors "github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/errors"
)

// MalformedLogLineError describes a stored line that could not be parsed.
// The line is dropped from the working sequence, so the next write for the
// key loses it for good.
type MalformedLogLineError struct {
	Key  string
	Line int
	Err  error
}

func (e *MalformedLogLineError) Error() string {
	return fmt.Sprintf("%s line %d: malformed record: %v", e.Key, e.Line, e.Err)
}

func (e *MalformedLogLineError) Unwrap() error { return e.Err }

func (e *MalformedLogLineError) Is(target error) bool { return target == apperrors.ErrMalformedLogLine }

// Log is the working view of one stored log.
type Log struct {
	Records []schema.Record
	Exists  bool
	Dropped []*MalformedLogLineError
}

// LogStore reads and writes work-zone logs in one bucket.
type LogStore struct {
	store  ObjectStore
	tail   TailIndex
	logger *slog.Logger
}

// New returns a LogStore over store. tail may be nil, which disables the
// tail-digest shortcut.
func New(store ObjectStore, tail TailIndex) *LogStore {
	return &LogStore{
		store:  store,
		tail:   tail,
		logger: slog.Default().With("component", "logstore"),
	}
}

// Read loads the log under key. A missing object yields an empty Log with
// Exists false; malformed lines are dropped and reported in Dropped.
func (s *LogStore) Read(ctx context.Context, key string) (Log, error) {
	body, err := s.store.Get(ctx, key)
	if errors.Is(err, apperrors.ErrNotFound) {
		return Log{}, nil
	}
	if err != nil {
		return Log{}, err
	}
	recs, dropped := DecodeLines(key, body)
	for _, d := range dropped {
		s.logger.Warn("dropping malformed log line", "key", key, "line", d.Line, "error", d.Err)
	}
	return Log{Records: recs, Exists: true, Dropped: dropped}, nil
}

// Write replaces the object under key with recs. The tail digest is cleared
// before the put and refreshed after it, so a failed put never leaves a
// digest for content that is not stored.
func (s *LogStore) Write(ctx context.Context, key string, recs []schema.Record) error {
	body, err := Encode(recs)
	if err != nil {
		return err
	}
	if s.tail != nil {
		if err := s.tail.Forget(ctx, key); err != nil {
			return fmt.Errorf("%w: clearing tail digest for %s: %w", apperrors.ErrStoreUnavailable, key, err)
		}
	}
	if err := s.store.Put(ctx, key, body); err != nil {
		return err
	}
	if len(recs) > 0 {
		s.rememberTail(ctx, key, recs[len(recs)-1])
	}
	return nil
}

// rememberTail stores the digest of rec together with the object version it
// was written as, so that a later write by anyone else invalidates it.
func (s *LogStore) rememberTail(ctx context.Context, key string, rec schema.Record) {
	v, ok := s.store.(Versioner)
	if s.tail == nil || !ok {
		return
	}
	digest, err := schema.Digest(rec)
	if err != nil {
		s.logger.Warn("tail digest not stored", "key", key, "error", err)
		return
	}
	version, err := v.Version(ctx, key)
	if err == nil {
		err = s.tail.Remember(ctx, key, tailEntry(version, digest))
	}
	if err != nil {
		s.logger.Warn("tail digest not stored", "key", key, "error", err)
	}
}

// TailMatches reports whether rec is known to equal the last stored record
// under key without reading the object. The remembered digest only counts
// while the object is still at the version it was recorded against; index
// or version errors count as a miss.
func (s *LogStore) TailMatches(ctx context.Context, key string, rec schema.Record) bool {
	v, ok := s.store.(Versioner)
	if s.tail == nil || !ok {
		return false
	}
	stored, ok, err := s.tail.Digest(ctx, key)
	if err != nil {
		s.logger.Warn("tail digest lookup failed", "key", key, "error", err)
		return false
	}
	if !ok {
		return false
	}
	i := strings.LastIndexByte(stored, ' ')
	if i < 0 {
		return false
	}
	version, digest := stored[:i], stored[i+1:]
	current, err := v.Version(ctx, key)
	if err != nil || current != version {
		return false
	}
	want, err := schema.Digest(rec)
	if err != nil {
		return false
	}
	return want == digest
}

// tailEntry joins an object version and a record digest. Digests are hex,
// so the last space always separates the two.
func tailEntry(version, digest string) string {
	return version + " " + digest
}

// Encode serializes records one JSON object per line, newline-separated,
// with no trailing newline. Nil or empty records are left out.
func Encode(recs []schema.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range recs {
		if len(rec) == 0 {
			continue
		}
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("encoding record %d: %w", i, err)
		}
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// DecodeLines parses an NDJSON body. Blank lines are ignored; lines that do
// not hold a JSON object are returned as errors and left out.
func DecodeLines(key string, body []byte) ([]schema.Record, []*MalformedLogLineError) {
	var (
		recs    []schema.Record
		dropped []*MalformedLogLineError
	)
	for i, line := range bytes.Split(body, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		rec, err := schema.UnmarshalRecord(line)
		if err != nil {
			dropped = append(dropped, &MalformedLogLineError{Key: key, Line: i + 1, Err: err})
			continue
		}
		recs = append(recs, rec)
	}
	return recs, dropped
}
