// Package runlog keeps the ledger of finished ingestion cycles so operators
// can see what each cycle did without scraping logs.
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/ingest"
	apperrors "github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/postgres"
)

// DefaultLimit bounds Recent when the caller passes no limit.
const DefaultLimit = 50

// Ledger is a queryable cycle ledger.
type Ledger interface {
	ingest.Ledger
	Recent(ctx context.Context, feedName string, limit int) ([]ingest.Result, error)
	Get(ctx context.Context, cycleID string) (ingest.Result, error)
}

// Schema holds the statements Migrate runs, in order, in one transaction.
var Schema = []string{`CREATE TABLE IF NOT EXISTS ingest_cycles (
    cycle_id    UUID PRIMARY KEY,
    state       TEXT NOT NULL,
    feed_name   TEXT NOT NULL,
    version     TEXT NOT NULL,
    source      TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    summary     JSONB NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS ingest_cycles_feed_started ON ingest_cycles (feed_name, started_at DESC)`,
}

// Store persists cycle results in PostgreSQL.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "runlog"),
	}
}

// Migrate creates the ledger table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range Schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("creating ingest_cycles: %w", err)
			}
		}
		return nil
	})
}

// Record inserts r. Recording the same cycle twice keeps the first row.
func (s *Store) Record(ctx context.Context, r ingest.Result) error {
	summary, err := json.Marshal(r.Summary)
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	_, err = s.db.DB.ExecContext(ctx,
		`INSERT INTO ingest_cycles
			(cycle_id, state, feed_name, version, source, status, error, summary, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (cycle_id) DO NOTHING`,
		r.CycleID, r.State, r.FeedName, r.Version, r.Source, r.Status, r.Error, summary, r.StartedAt.UTC(), r.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording cycle %s: %w", r.CycleID, err)
	}
	return nil
}

const selectCycles = `SELECT cycle_id, state, feed_name, version, source, status, error, summary, started_at, finished_at
	FROM ingest_cycles`

// Recent returns the newest cycles first, optionally for one feed.
func (s *Store) Recent(ctx context.Context, feedName string, limit int) ([]ingest.Result, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.DB.QueryContext(ctx,
		selectCycles+` WHERE ($1 = '' OR feed_name = $1) ORDER BY started_at DESC LIMIT $2`,
		feedName, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing cycles: %w", err)
	}
	defer rows.Close()

	var out []ingest.Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			s.logger.Warn("skipping unreadable cycle row", "error", err)
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get loads one cycle by ID.
func (s *Store) Get(ctx context.Context, cycleID string) (ingest.Result, error) {
	row := s.db.DB.QueryRowContext(ctx, selectCycles+` WHERE cycle_id = $1`, cycleID)
	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ingest.Result{}, fmt.Errorf("%w: cycle %s", apperrors.ErrNotFound, cycleID)
	}
	if err != nil {
		return ingest.Result{}, fmt.Errorf("loading cycle %s: %w", cycleID, err)
	}
	return r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(row scanner) (ingest.Result, error) {
	var (
		r       ingest.Result
		summary []byte
	)
	if err := row.Scan(&r.CycleID, &r.State, &r.FeedName, &r.Version, &r.Source, &r.Status, &r.Error, &summary, &r.StartedAt, &r.FinishedAt); err != nil {
		return ingest.Result{}, err
	}
	if err := json.Unmarshal(summary, &r.Summary); err != nil {
		return ingest.Result{}, fmt.Errorf("unmarshaling summary of %s: %w", r.CycleID, err)
	}
	return r, nil
}

// Memory is an in-process ledger bounded to the newest capacity cycles. It
// backs the reconciler when PostgreSQL is disabled.
type Memory struct {
	mu       sync.RWMutex
	capacity int
	results  []ingest.Result
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Memory{capacity: capacity}
}

func (m *Memory) Record(_ context.Context, r ingest.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
	if over := len(m.results) - m.capacity; over > 0 {
		m.results = append(m.results[:0:0], m.results[over:]...)
	}
	return nil
}

func (m *Memory) Recent(_ context.Context, feedName string, limit int) ([]ingest.Result, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ingest.Result
	for _, r := range m.results {
		if feedName == "" || r.FeedName == feedName {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Get(_ context.Context, cycleID string) (ingest.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.results {
		if r.CycleID == cycleID {
			return r, nil
		}
	}
	return ingest.Result{}, fmt.Errorf("%w: cycle %s", apperrors.ErrNotFound, cycleID)
}
