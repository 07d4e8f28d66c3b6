package runlog

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/postgres"
)

var base = time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)

func result(feedName string, offset time.Duration) ingest.Result {
	return ingest.Result{
		CycleID:    uuid.NewString(),
		State:      "IA",
		FeedName:   feedName,
		Version:    "4",
		Source:     "wzdx-raw/" + feedName,
		Status:     ingest.StatusOK,
		Summary:    ingest.Summary{Activities: 3, New: 1, Skipped: 2},
		StartedAt:  base.Add(offset),
		FinishedAt: base.Add(offset + time.Second),
	}
}

func exerciseLedger(t *testing.T, l Ledger) {
	t.Helper()
	ctx := context.Background()
	older := result("iowa", 0)
	newer := result("iowa", time.Hour)
	other := result("ohio", 30*time.Minute)
	for _, r := range []ingest.Result{older, newer, other} {
		require.NoError(t, l.Record(ctx, r))
	}

	got, err := l.Recent(ctx, "iowa", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, newer.CycleID, got[0].CycleID)
	assert.Equal(t, older.Summary, got[1].Summary)

	got, err = l.Recent(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{newer.CycleID, other.CycleID}, []string{got[0].CycleID, got[1].CycleID})

	one, err := l.Get(ctx, other.CycleID)
	require.NoError(t, err)
	assert.Equal(t, "ohio", one.FeedName)
	assert.True(t, other.StartedAt.Equal(one.StartedAt))

	_, err = l.Get(ctx, uuid.NewString())
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestMemoryLedger(t *testing.T) {
	exerciseLedger(t, NewMemory(10))
}

func TestMemoryLedgerEvictsOldest(t *testing.T) {
	m := NewMemory(2)
	first := result("iowa", 0)
	require.NoError(t, m.Record(context.Background(), first))
	require.NoError(t, m.Record(context.Background(), result("iowa", time.Minute)))
	require.NoError(t, m.Record(context.Background(), result("iowa", 2*time.Minute)))

	_, err := m.Get(context.Background(), first.CycleID)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	got, _ := m.Recent(context.Background(), "", 0)
	assert.Len(t, got, 2)
}

// skipIfNoPostgres skips the test when PostgreSQL is unavailable.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	db, err := postgres.New(config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "wzdx_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "wzdx"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		t.Skipf("skipping: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func TestPostgresLedger(t *testing.T) {
	db := skipIfNoPostgres(t)
	ctx := context.Background()
	store := NewStore(db)
	require.NoError(t, store.Migrate(ctx))
	_, err := db.DB.ExecContext(ctx, `TRUNCATE ingest_cycles`)
	require.NoError(t, err)

	exerciseLedger(t, store)
}
